// Package scorer grades detected answer sheets against the answer key.
package scorer

import (
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/dkarpov/omrscore/internal/key"
	"github.com/dkarpov/omrscore/internal/mapper"
	"github.com/dkarpov/omrscore/internal/marks"
	"github.com/dkarpov/omrscore/internal/model"
)

// Calculator grades sheets. The key manager and mapper it holds are
// read-only, so one Calculator serves all workers of a batch.
type Calculator struct {
	keys    *key.Manager
	mapper  *mapper.Mapper
	workers int
}

// New creates a Calculator. workers bounds batch fan-out; values below 1
// mean one worker per available CPU.
func New(keys *key.Manager, m *mapper.Mapper, workers int) *Calculator {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Calculator{keys: keys, mapper: m, workers: workers}
}

// ScoreSheet grades one sheet's grouped marks against the answer key.
// Every declared question gets a row: unmarked questions count as blank.
func (c *Calculator) ScoreSheet(sheet model.Sheet) model.SheetScore {
	total := c.keys.TotalQuestions()
	rule := c.keys.Scoring()

	score := model.SheetScore{
		Filename:  sheet.Filename,
		Questions: make([]model.ScoredQuestion, 0, total),
	}
	for q := 1; q <= total; q++ {
		expected, _ := c.keys.ExpectedToken(q)
		detected, truncated := c.mapper.TokenFor(sheet.Marks[q])
		if truncated {
			slog.Warn("numeric answer truncated",
				"file", sheet.Filename,
				"question", q,
				"marks", len(sheet.Marks[q]),
				"kept", len(detected))
		}

		sq := model.ScoredQuestion{
			Number:    q,
			Expected:  expected,
			Detected:  detected,
			Truncated: truncated,
		}
		switch {
		case detected == "":
			sq.Status = model.StatusBlank
			score.Blank++
		case strings.EqualFold(detected, expected):
			sq.Status = model.StatusCorrect
			score.Correct++
		default:
			sq.Status = model.StatusIncorrect
			score.Incorrect++
		}
		score.Questions = append(score.Questions, sq)
	}

	score.Points = rule.CorrectPoints*float64(score.Correct) +
		rule.IncorrectPoints*float64(score.Incorrect) +
		rule.BlankPoints*float64(score.Blank)
	score.Percentage = percentage(score.Points, score.Correct, total, rule)
	score.Passed = score.Percentage >= c.keys.PassingScore()
	return score
}

// percentage normalizes points to 0-100 so the pass threshold stays
// meaningful under penalty scoring. With no positive correct weight the
// plain correct/total ratio is used instead.
func percentage(points float64, correct, total int, rule model.ScoringRule) float64 {
	if total == 0 {
		return 0
	}
	var pct float64
	if rule.CorrectPoints > 0 {
		pct = points / (rule.CorrectPoints * float64(total)) * 100
	} else {
		pct = float64(correct) / float64(total) * 100
	}
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// BatchResult is one batch run before aggregation: scores in input order
// plus the sheets that could not be parsed.
type BatchResult struct {
	Scores  []model.SheetScore
	Skipped []model.SkippedSheet
}

// ScoreBatch grades every sheet, fanning out across a bounded worker
// pool. Scores keep input order regardless of completion order, and one
// malformed record never aborts the rest: it becomes a recorded skip.
func (c *Calculator) ScoreBatch(sheets []marks.RawSheet) BatchResult {
	type slot struct {
		score model.SheetScore
		skip  *model.SkippedSheet
	}
	slots := make([]slot, len(sheets))

	workers := c.workers
	if workers > len(sheets) {
		workers = len(sheets)
	}
	sem := make(chan struct{}, max(workers, 1))
	var wg sync.WaitGroup
	for i := range sheets {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			slots[i].score, slots[i].skip = c.scoreOne(sheets[i])
		}(i)
	}
	wg.Wait()

	var res BatchResult
	for i := range slots {
		if slots[i].skip != nil {
			res.Skipped = append(res.Skipped, *slots[i].skip)
			continue
		}
		res.Scores = append(res.Scores, slots[i].score)
	}
	return res
}

func (c *Calculator) scoreOne(raw marks.RawSheet) (model.SheetScore, *model.SkippedSheet) {
	parsed, err := raw.Parse()
	if err != nil {
		slog.Warn("skipping sheet", "file", raw.Filename, "error", err)
		return model.SheetScore{}, &model.SkippedSheet{Filename: raw.Filename, Reason: err.Error()}
	}

	grouped := parsed.Grouped
	if grouped == nil {
		grouped = c.mapper.GroupByRow(parsed.Ungrouped)
	}
	return c.ScoreSheet(model.Sheet{Filename: parsed.Filename, Marks: grouped}), nil
}
