package spreadsheet

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"attendance-console-go/report"
)

// ReportSheet is the sheet name of exported attendance reports.
const ReportSheet = "Attendance Report"

// ReportHeaders is the header row of exported attendance reports.
var ReportHeaders = []any{"Date", "Present Students", "Attendance Count"}

// ReportFilename names the download for a course's report.
func ReportFilename(courseID string) string {
	return fmt.Sprintf("attendance_report_%s.xlsx", courseID)
}

// WriteReport writes rows as a single-sheet workbook to w.
func WriteReport(w io.Writer, sheet string, rows []report.ExportRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("failed to name sheet %q: %w", sheet, err)
	}
	if err := f.SetSheetRow(sheet, "A1", &ReportHeaders); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "C1", bold); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "B", "B", 40); err != nil {
		return err
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{r.Date, r.PresentStudents, r.Count}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
