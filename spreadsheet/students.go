// Package spreadsheet reads student imports from and writes attendance reports to Excel files.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"attendance-console-go/models"
)

// ErrImportFormat is returned for files that cannot be read as a student sheet.
var ErrImportFormat = errors.New("unreadable spreadsheet")

// StudentHeaders are the import column names, matched by name on the first row.
var StudentHeaders = []string{"Name", "Email", "Mobile", "Cohort", "Campus", "School", "Major"}

// ReadStudents reads one student input per non-blank row of the first sheet.
// Columns are located by header name; a missing header leaves that field empty.
func ReadStudents(r io.Reader, log *zap.Logger) ([]models.StudentInput, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportFormat, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warn("closing excel file", zap.Error(err))
		}
	}()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("%w: no sheets", ErrImportFormat)
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %s: %v", ErrImportFormat, sheetName, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %s has no header row", ErrImportFormat, sheetName)
	}

	columns := map[string]int{}
	for i, h := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	cell := func(row []string, header string) string {
		i, ok := columns[strings.ToLower(header)]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	inputs := []models.StudentInput{}
	for i, row := range rows[1:] {
		in := models.StudentInput{
			Name:   cell(row, "Name"),
			Email:  cell(row, "Email"),
			Mobile: cell(row, "Mobile"),
			Cohort: cell(row, "Cohort"),
			Campus: cell(row, "Campus"),
			School: cell(row, "School"),
			Major:  cell(row, "Major"),
		}
		if in == (models.StudentInput{}) {
			log.Debug("skipping blank row", zap.Int("row", i+2))
			continue
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}
