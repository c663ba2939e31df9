package key

import (
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/dkarpov/omrscore/internal/model"
)

const letterTOML = `
[exam_info]
name = "Midterm"
date = "2025-03-14"
total_questions = 5
choices_per_question = 5
passing_score = 60.0

[scoring]
correct_points = 1.0
incorrect_points = 0.0
blank_points = 0.0

[answers]
1 = "B"
2 = "a"
3 = "C"
4 = "D"
5 = "E"
`

const numericTOML = `
[exam_info]
name = "Arithmetic"
date = "2025-03-14"
total_questions = 4
passing_score = 50.0
answer_format = "numeric"
max_characters = 5

[scoring]
correct_points = 2.0
incorrect_points = -0.5
blank_points = 0.0

[answers]
1 = "12"
2 = "-5"
3 = "&3"
4 = "+8   "
`

func parseLetterConfig(t *testing.T) *Manager {
	t.Helper()
	m, err := Parse([]byte(letterTOML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return m
}

func TestParseLetterConfig(t *testing.T) {
	m := parseLetterConfig(t)

	if m.TotalQuestions() != 5 {
		t.Errorf("expected 5 questions, got %d", m.TotalQuestions())
	}
	if m.PassingScore() != 60 {
		t.Errorf("expected passing score 60, got %g", m.PassingScore())
	}
	if m.Spec().AnswerFormat != model.FormatLetter {
		t.Errorf("expected letter format default, got %q", m.Spec().AnswerFormat)
	}

	// Lowercase key entries are canonicalized to uppercase.
	tok, err := m.ExpectedToken(2)
	if err != nil {
		t.Fatalf("ExpectedToken(2): %v", err)
	}
	if tok != "A" {
		t.Errorf("expected token A, got %q", tok)
	}

	// Layout defaults are filled when the document omits them.
	if m.Layout().QuestionSpacingY != 25 {
		t.Errorf("expected default question_spacing_y 25, got %g", m.Layout().QuestionSpacingY)
	}
}

func TestParseNumericConfig(t *testing.T) {
	m, err := Parse([]byte(numericTOML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	tests := []struct {
		question int
		want     string
	}{
		{1, "12"},
		{2, "-5"},
		{3, "±3"}, // "&" is the legacy spelling of the combined sign
		{4, "+8"}, // trailing padding stripped
	}
	for _, tt := range tests {
		tok, err := m.ExpectedToken(tt.question)
		if err != nil {
			t.Fatalf("ExpectedToken(%d): %v", tt.question, err)
		}
		if tok != tt.want {
			t.Errorf("question %d: expected %q, got %q", tt.question, tt.want, tok)
		}
	}
}

func validLetterConfig(n int) model.Config {
	answers := make(map[string]string, n)
	for q := 1; q <= n; q++ {
		answers[strconv.Itoa(q)] = "A"
	}
	return model.Config{
		Exam: model.ExamSpec{
			Name:               "T",
			Date:               "2025-01-01",
			TotalQuestions:     n,
			ChoicesPerQuestion: 5,
			PassingScore:       60,
			AnswerFormat:       model.FormatLetter,
		},
		Scoring: model.ScoringRule{CorrectPoints: 1},
		Answers: answers,
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Config)
	}{
		{"zero questions", func(c *model.Config) { c.Exam.TotalQuestions = 0 }},
		{"negative questions", func(c *model.Config) { c.Exam.TotalQuestions = -3 }},
		{"passing score above 100", func(c *model.Config) { c.Exam.PassingScore = 101 }},
		{"negative passing score", func(c *model.Config) { c.Exam.PassingScore = -1 }},
		{"one choice", func(c *model.Config) { c.Exam.ChoicesPerQuestion = 1 }},
		{"unknown format", func(c *model.Config) { c.Exam.AnswerFormat = "roman" }},
		{"missing answer", func(c *model.Config) { delete(c.Answers, "2") }},
		{"letter outside alphabet", func(c *model.Config) { c.Answers["1"] = "F" }},
		{"multi-letter token", func(c *model.Config) { c.Answers["1"] = "AB" }},
		{"empty token", func(c *model.Config) { c.Answers["1"] = "  " }},
		{"non-integer question key", func(c *model.Config) { c.Answers["one"] = "A" }},
		{"answer outside range", func(c *model.Config) { c.Answers["4"] = "A" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validLetterConfig(3)
			tt.mutate(&cfg)
			_, err := New(cfg)
			if !errors.Is(err, ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestNumericTokenValidation(t *testing.T) {
	base := func() model.Config {
		return model.Config{
			Exam: model.ExamSpec{
				Name:           "N",
				TotalQuestions: 1,
				PassingScore:   60,
				AnswerFormat:   model.FormatNumeric,
				MaxCharacters:  5,
			},
			Scoring: model.ScoringRule{CorrectPoints: 1},
			Answers: map[string]string{"1": "42"},
		}
	}

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"plain digits", "42", false},
		{"negative", "-17", false},
		{"positive", "+8", false},
		{"plus-minus", "±3", false},
		{"legacy ampersand", "&7", false},
		{"sign only", "-", true},
		{"letters", "4a", true},
		{"embedded space", "4 2", true},
		{"too long", "123456", true},
		{"max width exact", "±9999", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			cfg.Answers["1"] = tt.token
			_, err := New(cfg)
			if tt.wantErr && !errors.Is(err, ErrConfig) {
				t.Errorf("expected ErrConfig for %q, got %v", tt.token, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for %q: %v", tt.token, err)
			}
		})
	}
}

func TestExpectedTokenRange(t *testing.T) {
	m := parseLetterConfig(t)

	if _, err := m.ExpectedToken(0); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("question 0: expected ErrUnknownQuestion, got %v", err)
	}
	if _, err := m.ExpectedToken(6); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("question 6: expected ErrUnknownQuestion, got %v", err)
	}
	if _, err := m.ExpectedToken(5); err != nil {
		t.Errorf("question 5: unexpected error %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m, err := Parse([]byte(numericTOML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	path := filepath.Join(t.TempDir(), "answer_key.toml")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if reloaded.Spec() != m.Spec() {
		t.Errorf("spec changed across round trip:\n  saved  %+v\n  loaded %+v", m.Spec(), reloaded.Spec())
	}
	if reloaded.Scoring() != m.Scoring() {
		t.Errorf("scoring changed across round trip")
	}
	for q := 1; q <= m.TotalQuestions(); q++ {
		want, _ := m.ExpectedToken(q)
		got, err := reloaded.ExpectedToken(q)
		if err != nil {
			t.Fatalf("ExpectedToken(%d) after reload: %v", q, err)
		}
		if got != want {
			t.Errorf("question %d changed across round trip: %q -> %q", q, want, got)
		}
	}
}

func TestNormalizeToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"B", "B"},
		{"B   ", "B"},
		{"&3", "±3"},
		{"&12  ", "±12"},
		{"±5", "±5"},
		{"-7\t", "-7"},
	}
	for _, tt := range tests {
		if got := NormalizeToken(tt.in); got != tt.want {
			t.Errorf("NormalizeToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChoiceLabels(t *testing.T) {
	m := parseLetterConfig(t)
	labels := m.ChoiceLabels()
	if len(labels) != 5 {
		t.Fatalf("expected 5 labels, got %d", len(labels))
	}
	if labels[0] != "A" || labels[4] != "E" {
		t.Errorf("expected A..E, got %v", labels)
	}

	num, err := Parse([]byte(numericTOML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := num.ChoiceLabels(); len(got) != 13 {
		t.Errorf("expected 13 numeric symbols, got %d", len(got))
	}
}
