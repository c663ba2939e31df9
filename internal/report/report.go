package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dkarpov/omrscore/internal/i18n"
	"github.com/dkarpov/omrscore/internal/model"
)

// Artifact kinds returned by Save.
const (
	KindScores  = "scores"  // full per-question results, JSON
	KindCSV     = "csv"     // one row per sheet, spreadsheet-friendly
	KindExcel   = "excel"   // xlsx workbook with scores and an overview page
	KindSummary = "summary" // localized plain-text summary
)

// Summarize rolls per-sheet results up into a batch report with a fresh ID.
func Summarize(spec model.ExamSpec, scores []model.SheetScore, skipped []model.SkippedSheet) model.BatchReport {
	rep := model.BatchReport{
		ID:             uuid.NewString(),
		ExamName:       spec.Name,
		ExamDate:       spec.Date,
		TotalQuestions: spec.TotalQuestions,
		PassingScore:   spec.PassingScore,
		Sheets:         scores,
		Skipped:        skipped,
		ScoredCount:    len(scores),
		SkippedCount:   len(skipped),
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	}

	var sum float64
	for _, s := range scores {
		sum += s.Percentage
		if s.Passed {
			rep.PassedCount++
		} else {
			rep.FailedCount++
		}
	}
	if rep.ScoredCount > 0 {
		rep.PassRate = float64(rep.PassedCount) / float64(rep.ScoredCount) * 100
		rep.MeanPercentage = sum / float64(rep.ScoredCount)
	}
	return rep
}

// Save writes every report artifact into dir and returns kind → path.
// The summary text is localized through the localizer carried in ctx.
func Save(ctx context.Context, dir string, rep model.BatchReport) (map[string]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	artifacts := map[string]string{
		KindScores:  filepath.Join(dir, "scores.json"),
		KindCSV:     filepath.Join(dir, "summary.csv"),
		KindExcel:   filepath.Join(dir, "summary.xlsx"),
		KindSummary: filepath.Join(dir, "summary.txt"),
	}

	if err := writeJSON(artifacts[KindScores], rep); err != nil {
		return nil, err
	}
	if err := writeCSV(artifacts[KindCSV], rep); err != nil {
		return nil, err
	}
	if err := writeExcel(artifacts[KindExcel], rep); err != nil {
		return nil, err
	}
	if err := writeText(ctx, artifacts[KindSummary], rep); err != nil {
		return nil, err
	}
	return artifacts, nil
}

func writeJSON(path string, rep model.BatchReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeCSV(path string, rep model.BatchReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"filename", "correct", "incorrect", "blank", "points", "percentage", "result"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, s := range rep.Sheets {
		rec := []string{
			s.Filename,
			strconv.Itoa(s.Correct),
			strconv.Itoa(s.Incorrect),
			strconv.Itoa(s.Blank),
			strconv.FormatFloat(s.Points, 'f', -1, 64),
			strconv.FormatFloat(s.Percentage, 'f', 2, 64),
			resultWord(s.Passed),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeText(ctx context.Context, path string, rep model.BatchReport) error {
	if err := os.WriteFile(path, []byte(Text(ctx, rep)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Text renders the localized human-readable summary: aggregates first, then
// one line per sheet, then skip reasons.
func Text(ctx context.Context, rep model.BatchReport) string {
	var b strings.Builder

	title := i18n.T(ctx, "ReportTitle")
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", utf8.RuneCountInString(title)) + "\n")
	b.WriteString(i18n.Td(ctx, "ExamInfo", map[string]any{"Name": rep.ExamName, "Date": rep.ExamDate}) + "\n")
	b.WriteString(i18n.Td(ctx, "QuestionCount", map[string]any{"Count": rep.TotalQuestions}) + "\n")
	b.WriteString(i18n.Td(ctx, "PassingScore", map[string]any{"Score": strconv.FormatFloat(rep.PassingScore, 'f', -1, 64)}) + "\n")
	b.WriteString(i18n.Tp(ctx, "SheetsScored", rep.ScoredCount) + "\n")
	if rep.SkippedCount > 0 {
		b.WriteString(i18n.Tp(ctx, "SheetsSkipped", rep.SkippedCount) + "\n")
	}
	b.WriteString(i18n.Td(ctx, "PassedSummary", map[string]any{
		"Passed": rep.PassedCount,
		"Failed": rep.FailedCount,
		"Rate":   strconv.FormatFloat(rep.PassRate, 'f', 1, 64),
	}) + "\n")
	b.WriteString(i18n.Td(ctx, "MeanScore", map[string]any{
		"Mean": strconv.FormatFloat(rep.MeanPercentage, 'f', 1, 64),
	}) + "\n")

	if len(rep.Sheets) > 0 {
		b.WriteString("\n")
		width := 0
		for _, s := range rep.Sheets {
			width = max(width, len(s.Filename))
		}
		pass := i18n.T(ctx, "PassLabel")
		fail := i18n.T(ctx, "FailLabel")
		for _, s := range rep.Sheets {
			label := fail
			if s.Passed {
				label = pass
			}
			fmt.Fprintf(&b, "%-*s  %3d/%-3d  %6.1f%%  %s\n",
				width, s.Filename, s.Correct, rep.TotalQuestions, s.Percentage, label)
		}
	}

	if len(rep.Skipped) > 0 {
		b.WriteString("\n" + i18n.T(ctx, "SkippedHeader") + "\n")
		for _, sk := range rep.Skipped {
			fmt.Fprintf(&b, "  %s: %s\n", sk.Filename, sk.Reason)
		}
	}

	return b.String()
}

func resultWord(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}
