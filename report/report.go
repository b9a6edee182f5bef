// Package report turns attendance snapshots into date records, chart counts and export rows.
//
// Every function here is a pure function of its inputs and is safe to recompute on each
// snapshot delivery.
package report

import (
	"sort"
	"strings"
	"time"
)

// DateLayout is the layout of attendance date keys.
const DateLayout = "2006-01-02"

// ChartLayout labels dates on the attendance chart.
const ChartLayout = "Jan 02"

// DefaultWindowDays is the number of calendar days before today in the default report range.
const DefaultWindowDays = 30

// DayRecord lists the students present in a course on one date.
type DayRecord struct {
	Date            string   `json:"date"`
	PresentStudents []string `json:"presentStudents"`
}

// Count returns the number of present students.
func (r DayRecord) Count() int {
	return len(r.PresentStudents)
}

// Range is an inclusive range of calendar days. A zero bound is open.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DefaultRange covers the trailing 30 days through today.
func DefaultRange(now time.Time) Range {
	return Range{Start: now.AddDate(0, 0, -DefaultWindowDays), End: now}
}

// ParseRange parses optional yyyy-MM-dd bounds. Missing bounds fall back to DefaultRange.
func ParseRange(start, end string, now time.Time) (Range, error) {
	rng := DefaultRange(now)
	if start != "" {
		t, err := time.Parse(DateLayout, start)
		if err != nil {
			return Range{}, err
		}
		rng.Start = t
	}
	if end != "" {
		t, err := time.Parse(DateLayout, end)
		if err != nil {
			return Range{}, err
		}
		rng.End = t
	}
	return rng, nil
}

// Contains reports whether the calendar day of t lies within the range.
func (r Range) Contains(t time.Time) bool {
	d := day(t)
	if !r.Start.IsZero() && d.Before(day(r.Start)) {
		return false
	}
	if !r.End.IsZero() && d.After(day(r.End)) {
		return false
	}
	return true
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Flatten produces one record per date, sorted by date, students sorted within each date.
func Flatten(days map[string][]string) []DayRecord {
	records := make([]DayRecord, 0, len(days))
	for date, students := range days {
		present := append([]string(nil), students...)
		sort.Strings(present)
		records = append(records, DayRecord{Date: date, PresentStudents: present})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date < records[j].Date })
	return records
}

// Filter keeps the records whose date falls within rng. Dates that do not parse are dropped.
func Filter(records []DayRecord, rng Range) []DayRecord {
	out := make([]DayRecord, 0, len(records))
	for _, r := range records {
		t, err := time.Parse(DateLayout, r.Date)
		if err != nil {
			continue
		}
		if rng.Contains(t) {
			out = append(out, r)
		}
	}
	return out
}

// DayCount is one bar of the attendance chart.
type DayCount struct {
	Date  string `json:"date"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Counts derives the chart series from records.
func Counts(records []DayRecord) []DayCount {
	out := make([]DayCount, 0, len(records))
	for _, r := range records {
		label := r.Date
		if t, err := time.Parse(DateLayout, r.Date); err == nil {
			label = t.Format(ChartLayout)
		}
		out = append(out, DayCount{Date: r.Date, Label: label, Count: r.Count()})
	}
	return out
}

// ExportRow is one line of the exported report table.
type ExportRow struct {
	Date            string `json:"date"`
	PresentStudents string `json:"presentStudents"`
	Count           int    `json:"count"`
}

// ExportRows flattens records into the export table.
func ExportRows(records []DayRecord) []ExportRow {
	out := make([]ExportRow, 0, len(records))
	for _, r := range records {
		out = append(out, ExportRow{
			Date:            r.Date,
			PresentStudents: strings.Join(r.PresentStudents, ", "),
			Count:           r.Count(),
		})
	}
	return out
}

// Report is the aggregated view of one course's attendance over a range.
type Report struct {
	Range   Range       `json:"range"`
	Records []DayRecord `json:"records"`
	Counts  []DayCount  `json:"counts"`
	Rows    []ExportRow `json:"rows"`
}

// Build flattens, filters and derives every output for days within rng.
func Build(days map[string][]string, rng Range) Report {
	records := Filter(Flatten(days), rng)
	return Report{
		Range:   rng,
		Records: records,
		Counts:  Counts(records),
		Rows:    ExportRows(records),
	}
}
