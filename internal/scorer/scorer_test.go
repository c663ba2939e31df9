package scorer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dkarpov/omrscore/internal/key"
	"github.com/dkarpov/omrscore/internal/mapper"
	"github.com/dkarpov/omrscore/internal/marks"
	"github.com/dkarpov/omrscore/internal/model"
)

// letterMark sits on the printed bubble center for a letter under the
// default grid (start_x 50, choice_spacing_x 40).
func letterMark(letter rune) model.Mark {
	return model.Mark{X: 50 + float64(letter-'A')*40}
}

func newLetterCalc(t *testing.T, passingScore float64, rule model.ScoringRule, workers int) *Calculator {
	t.Helper()
	b := key.NewBuilder("Letter Test", 5, passingScore).AnswersFromPattern("ABCDE")
	if rule != (model.ScoringRule{}) {
		b.Scoring(rule)
	}
	m, err := b.Build()
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	pm, err := mapper.New(m.Spec(), m.Layout(), m.ChoiceLabels())
	if err != nil {
		t.Fatalf("build mapper: %v", err)
	}
	return New(m, pm, workers)
}

func groupedSheet(filename string, answers map[int]rune) model.Sheet {
	sheet := model.Sheet{Filename: filename, Marks: map[int][]model.Mark{}}
	for q, letter := range answers {
		sheet.Marks[q] = []model.Mark{letterMark(letter)}
	}
	return sheet
}

func TestScoreSheetPerfect(t *testing.T) {
	c := newLetterCalc(t, 60, model.ScoringRule{}, 1)

	score := c.ScoreSheet(groupedSheet("perfect.jpg", map[int]rune{1: 'A', 2: 'B', 3: 'C', 4: 'D', 5: 'E'}))

	if score.Correct != 5 || score.Incorrect != 0 || score.Blank != 0 {
		t.Errorf("counts = %d/%d/%d, want 5/0/0", score.Correct, score.Incorrect, score.Blank)
	}
	if score.Percentage != 100 {
		t.Errorf("percentage = %g, want 100", score.Percentage)
	}
	if !score.Passed {
		t.Error("expected passed")
	}
	if score.Points != 5 {
		t.Errorf("points = %g, want 5", score.Points)
	}
	if len(score.Questions) != 5 {
		t.Fatalf("expected 5 question rows, got %d", len(score.Questions))
	}
	for _, q := range score.Questions {
		if q.Status != model.StatusCorrect {
			t.Errorf("question %d: status %q, want correct", q.Number, q.Status)
		}
	}
}

func TestScoreSheetBlank(t *testing.T) {
	c := newLetterCalc(t, 60, model.ScoringRule{}, 1)

	score := c.ScoreSheet(model.Sheet{Filename: "blank.jpg"})

	if score.Blank != 5 || score.Correct != 0 {
		t.Errorf("counts = %d correct / %d blank, want 0/5", score.Correct, score.Blank)
	}
	if score.Percentage != 0 {
		t.Errorf("percentage = %g, want 0", score.Percentage)
	}
	if score.Passed {
		t.Error("blank sheet should not pass at threshold 60")
	}
	for _, q := range score.Questions {
		if q.Status != model.StatusBlank || q.Detected != "" {
			t.Errorf("question %d: status %q detected %q, want blank/empty", q.Number, q.Status, q.Detected)
		}
	}
}

func TestScoreSheetMixed(t *testing.T) {
	c := newLetterCalc(t, 60, model.ScoringRule{}, 1)

	// q1 right, q2 wrong (C for B), q3 blank, q4 right, q5 wrong (A for E).
	score := c.ScoreSheet(groupedSheet("mixed.jpg", map[int]rune{1: 'A', 2: 'C', 4: 'D', 5: 'A'}))

	if score.Correct != 2 || score.Incorrect != 2 || score.Blank != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/2/1", score.Correct, score.Incorrect, score.Blank)
	}
	if score.Percentage != 40 {
		t.Errorf("percentage = %g, want 40", score.Percentage)
	}
	if score.Passed {
		t.Error("40%% should not pass at threshold 60")
	}

	wantStatus := map[int]model.QuestionStatus{
		1: model.StatusCorrect,
		2: model.StatusIncorrect,
		3: model.StatusBlank,
		4: model.StatusCorrect,
		5: model.StatusIncorrect,
	}
	for _, q := range score.Questions {
		if q.Status != wantStatus[q.Number] {
			t.Errorf("question %d: status %q, want %q", q.Number, q.Status, wantStatus[q.Number])
		}
	}
}

func TestPenaltyScoring(t *testing.T) {
	rule := model.ScoringRule{CorrectPoints: 1, IncorrectPoints: -0.25}
	c := newLetterCalc(t, 60, rule, 1)

	score := c.ScoreSheet(groupedSheet("penalty.jpg", map[int]rune{1: 'A', 2: 'C', 4: 'D', 5: 'A'}))

	if score.Points != 1.5 {
		t.Errorf("points = %g, want 1.5", score.Points)
	}
	if score.Percentage != 30 {
		t.Errorf("percentage = %g, want 30", score.Percentage)
	}
}

func TestPercentageWithoutPositiveWeight(t *testing.T) {
	// With correct_points 0 the percentage falls back to the plain ratio.
	c := newLetterCalc(t, 60, model.ScoringRule{CorrectPoints: 0}, 1)

	score := c.ScoreSheet(groupedSheet("ratio.jpg", map[int]rune{1: 'A', 2: 'B', 3: 'A'}))
	if score.Percentage != 40 {
		t.Errorf("percentage = %g, want 40", score.Percentage)
	}
}

func TestPercentageClamped(t *testing.T) {
	// Heavy penalties push raw points negative; the percentage floor is 0.
	c := newLetterCalc(t, 60, model.ScoringRule{CorrectPoints: 1, IncorrectPoints: -10}, 1)

	score := c.ScoreSheet(groupedSheet("wrong.jpg", map[int]rune{1: 'B', 2: 'C', 3: 'D', 4: 'E', 5: 'A'}))
	if score.Points >= 0 {
		t.Fatalf("expected negative raw points, got %g", score.Points)
	}
	if score.Percentage != 0 {
		t.Errorf("percentage = %g, want clamp to 0", score.Percentage)
	}
}

func TestBlankSheetPassesAtZeroThreshold(t *testing.T) {
	c := newLetterCalc(t, 0, model.ScoringRule{}, 1)

	score := c.ScoreSheet(model.Sheet{Filename: "blank.jpg"})
	if !score.Passed {
		t.Error("0%% should pass when passing_score is 0")
	}
}

func TestScoreBatchMixed(t *testing.T) {
	c := newLetterCalc(t, 60, model.ScoringRule{}, 2)

	doc := `[
		{"filename":"one.jpg","detected_answers":{"1":[[50,0]],"2":[[90,0]],"3":[[130,0]],"4":[[170,0]],"5":[[210,0]]}},
		{"filename":"broken.jpg","detected_answers":{"1":"garbage"}},
		{"filename":"two.jpg","detected_answers":{"1":[[50,0]]}}
	]`
	sheets, err := marks.DecodeSheets(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeSheets: %v", err)
	}

	res := c.ScoreBatch(sheets)

	if len(res.Scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(res.Scores))
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("expected 1 skip, got %d", len(res.Skipped))
	}
	if res.Scores[0].Filename != "one.jpg" || res.Scores[1].Filename != "two.jpg" {
		t.Errorf("scores out of input order: %s, %s", res.Scores[0].Filename, res.Scores[1].Filename)
	}
	if res.Skipped[0].Filename != "broken.jpg" || res.Skipped[0].Reason == "" {
		t.Errorf("skip record incomplete: %+v", res.Skipped[0])
	}
	if res.Scores[0].Correct != 5 {
		t.Errorf("first sheet: expected 5 correct, got %d", res.Scores[0].Correct)
	}
}

func TestScoreBatchDeterministicOrder(t *testing.T) {
	c := newLetterCalc(t, 60, model.ScoringRule{}, 4)

	var records []string
	for i := 1; i <= 12; i++ {
		records = append(records, fmt.Sprintf(`{"filename":"s%02d.jpg","detected_answers":{"1":[[50,0]]}}`, i))
	}
	doc := "[" + strings.Join(records, ",") + "]"

	sheets, err := marks.DecodeSheets(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeSheets: %v", err)
	}

	res := c.ScoreBatch(sheets)
	if len(res.Scores) != 12 {
		t.Fatalf("expected 12 scores, got %d", len(res.Scores))
	}
	for i, s := range res.Scores {
		want := fmt.Sprintf("s%02d.jpg", i+1)
		if s.Filename != want {
			t.Errorf("slot %d: got %s, want %s", i, s.Filename, want)
		}
	}
}

func TestScoreBatchGroupsUngroupedMarks(t *testing.T) {
	c := newLetterCalc(t, 60, model.ScoringRule{}, 1)

	// Rows are 25px tall: y=12 is question 1, y=37 question 2.
	doc := `[{"filename":"raw.jpg","bubbles":[[50,12],[90,37]]}]`
	sheets, err := marks.DecodeSheets(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeSheets: %v", err)
	}

	res := c.ScoreBatch(sheets)
	if len(res.Scores) != 1 {
		t.Fatalf("expected 1 score, got %d", len(res.Scores))
	}
	score := res.Scores[0]
	if score.Correct != 2 || score.Blank != 3 {
		t.Errorf("counts = %d correct / %d blank, want 2/3", score.Correct, score.Blank)
	}
	if score.Questions[0].Detected != "A" || score.Questions[1].Detected != "B" {
		t.Errorf("detected %q, %q, want A, B", score.Questions[0].Detected, score.Questions[1].Detected)
	}
}

func newNumericCalc(t *testing.T) *Calculator {
	t.Helper()
	m, err := key.NewBuilder("Numeric Test", 3, 50).
		Numeric(5).
		AnswersFromList([]string{"12", "-5", "±3"}, "0").
		Build()
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	layout := m.Layout()
	layout.QuestionSpacingY = 100
	table, err := mapper.UniformTable(model.NumericSymbols, 0, 1300)
	if err != nil {
		t.Fatalf("UniformTable: %v", err)
	}
	pm, err := mapper.NewWithTable(m.Spec(), layout, table)
	if err != nil {
		t.Fatalf("NewWithTable: %v", err)
	}
	return New(m, pm, 1)
}

func TestScoreSheetNumeric(t *testing.T) {
	c := newNumericCalc(t)
	col := func(i int) float64 { return float64(i) * 1300 / 12 }

	sheet := model.Sheet{
		Filename: "numeric.jpg",
		Marks: map[int][]model.Mark{
			1: {{X: col(4)}, {X: col(5)}}, // "12"
			2: {{X: col(1)}, {X: col(8)}}, // "-5"
		},
	}
	score := c.ScoreSheet(sheet)

	if score.Correct != 2 || score.Blank != 1 {
		t.Errorf("counts = %d correct / %d blank, want 2/1", score.Correct, score.Blank)
	}
	if !score.Passed {
		t.Errorf("66.7%% should pass at threshold 50, got %g", score.Percentage)
	}
	if score.Questions[1].Detected != "-5" {
		t.Errorf("question 2 detected %q, want -5", score.Questions[1].Detected)
	}
}

func TestScoreSheetNumericTruncation(t *testing.T) {
	c := newNumericCalc(t)
	col := func(i int) float64 { return float64(i) * 1300 / 12 }

	// Seven marks in a five-character field: kept prefix is reported.
	var noisy []model.Mark
	for i := 3; i <= 9; i++ {
		noisy = append(noisy, model.Mark{X: col(i)})
	}
	score := c.ScoreSheet(model.Sheet{Filename: "noisy.jpg", Marks: map[int][]model.Mark{1: noisy}})

	q1 := score.Questions[0]
	if !q1.Truncated {
		t.Error("expected truncation to be flagged")
	}
	if q1.Detected != "01234" {
		t.Errorf("detected %q, want 01234", q1.Detected)
	}
	if q1.Status != model.StatusIncorrect {
		t.Errorf("status %q, want incorrect", q1.Status)
	}
}
