package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/dkarpov/omrscore/internal/model"
)

// writeExcel renders the batch as a workbook: a Scores sheet with one row
// per answer sheet and an Overview sheet with batch totals.
func writeExcel(path string, rep model.BatchReport) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const scores = "Scores"
	if err := f.SetSheetName(f.GetSheetName(0), scores); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headers := []string{"filename", "correct", "incorrect", "blank", "points", "percentage", "result"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(scores, cell, h)
	}
	for i, s := range rep.Sheets {
		row := i + 2
		values := []any{
			s.Filename,
			s.Correct,
			s.Incorrect,
			s.Blank,
			s.Points,
			s.Percentage,
			resultWord(s.Passed),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(scores, cell, v)
		}
	}
	_ = f.SetColWidth(scores, "A", "A", 32)
	_ = f.SetColWidth(scores, "B", "G", 12)

	const overview = "Overview"
	if _, err := f.NewSheet(overview); err != nil {
		return fmt.Errorf("add overview sheet: %w", err)
	}
	lines := [][2]any{
		{"exam", rep.ExamName},
		{"date", rep.ExamDate},
		{"questions", rep.TotalQuestions},
		{"passing_score", rep.PassingScore},
		{"scored", rep.ScoredCount},
		{"skipped", rep.SkippedCount},
		{"passed", rep.PassedCount},
		{"failed", rep.FailedCount},
		{"pass_rate", rep.PassRate},
		{"mean_percentage", rep.MeanPercentage},
		{"created_at", rep.CreatedAt},
	}
	for i, kv := range lines {
		keyCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valCell, _ := excelize.CoordinatesToCellName(2, i+1)
		_ = f.SetCellValue(overview, keyCell, kv[0])
		_ = f.SetCellValue(overview, valCell, kv[1])
	}
	_ = f.SetColWidth(overview, "A", "B", 22)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("write excel: %w", err)
	}
	return nil
}
