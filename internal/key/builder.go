package key

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dkarpov/omrscore/internal/model"
)

// Builder assembles an exam configuration from patterns, sections, or
// explicit lists. It never mutates shared state: Build materializes a
// fresh validated Manager, and a Builder can be reused after Build.
type Builder struct {
	cfg model.Config
}

// NewBuilder starts a letter-exam configuration with the defaults the
// printed forms use: 5 choices, 1/0/0 scoring, standard grid geometry.
func NewBuilder(name string, totalQuestions int, passingScore float64) *Builder {
	return &Builder{cfg: model.Config{
		Exam: model.ExamSpec{
			Name:               name,
			Date:               time.Now().Format("2006-01-02"),
			TotalQuestions:     totalQuestions,
			ChoicesPerQuestion: 5,
			PassingScore:       passingScore,
			AnswerFormat:       model.FormatLetter,
		},
		Scoring: model.ScoringRule{CorrectPoints: 1},
		Answers: map[string]string{},
	}}
}

// Numeric switches the exam to the signed numeric answer family with the
// given field width (sign slot plus digits).
func (b *Builder) Numeric(maxCharacters int) *Builder {
	b.cfg.Exam.AnswerFormat = model.FormatNumeric
	b.cfg.Exam.MaxCharacters = maxCharacters
	b.cfg.Exam.ChoicesPerQuestion = 0
	return b
}

// Choices sets the number of letter choices per question.
func (b *Builder) Choices(n int) *Builder {
	b.cfg.Exam.ChoicesPerQuestion = n
	return b
}

// Date overrides the exam date (YYYY-MM-DD).
func (b *Builder) Date(date string) *Builder {
	b.cfg.Exam.Date = date
	return b
}

// Scoring overrides the point weights.
func (b *Builder) Scoring(rule model.ScoringRule) *Builder {
	b.cfg.Scoring = rule
	return b
}

// Layout overrides the physical grid geometry.
func (b *Builder) Layout(layout model.GridLayout) *Builder {
	b.cfg.Layout = layout
	return b
}

// AnswersFromPattern fills questions 1..N by repeating a pattern such as
// "ABCDE".
func (b *Builder) AnswersFromPattern(pattern string) *Builder {
	runes := []rune(strings.ToUpper(pattern))
	if len(runes) == 0 {
		return b
	}
	answers := make(map[string]string, b.cfg.Exam.TotalQuestions)
	for q := 1; q <= b.cfg.Exam.TotalQuestions; q++ {
		answers[strconv.Itoa(q)] = string(runes[(q-1)%len(runes)])
	}
	b.cfg.Answers = answers
	return b
}

// AnswersFromList fills questions 1..N from an explicit list. When the
// list is short, remaining questions get the filler token ("A" if empty).
func (b *Builder) AnswersFromList(list []string, filler string) *Builder {
	if filler == "" {
		filler = "A"
	}
	answers := make(map[string]string, b.cfg.Exam.TotalQuestions)
	for q := 1; q <= b.cfg.Exam.TotalQuestions; q++ {
		if q <= len(list) {
			answers[strconv.Itoa(q)] = strings.ToUpper(list[q-1])
		} else {
			answers[strconv.Itoa(q)] = filler
		}
	}
	b.cfg.Answers = answers
	return b
}

// Section assigns answers to a contiguous question range. The range is
// carried in the title, e.g. "Mathematics (1-25)". Either Pattern repeats
// across the range or Answers lists tokens explicitly.
type Section struct {
	Title   string
	Pattern string
	Answers []string
}

// AnswersFromSections fills the key section by section. Questions not
// covered by any section stay unset and fail validation at Build, which
// keeps gaps visible instead of papering over them.
func (b *Builder) AnswersFromSections(sections []Section) error {
	answers := make(map[string]string)
	for _, sec := range sections {
		start, end, err := parseSectionRange(sec.Title)
		if err != nil {
			return fmt.Errorf("%w: section %q: %v", ErrConfig, sec.Title, err)
		}
		switch {
		case sec.Pattern != "":
			runes := []rune(strings.ToUpper(sec.Pattern))
			for q := start; q <= end; q++ {
				answers[strconv.Itoa(q)] = string(runes[(q-start)%len(runes)])
			}
		case len(sec.Answers) > 0:
			for i, tok := range sec.Answers {
				if start+i > end {
					break
				}
				answers[strconv.Itoa(start+i)] = strings.ToUpper(tok)
			}
		default:
			return fmt.Errorf("%w: section %q has neither pattern nor answers", ErrConfig, sec.Title)
		}
	}
	b.cfg.Answers = answers
	return nil
}

// parseSectionRange extracts "start-end" from a title like "Math (1-25)".
func parseSectionRange(title string) (start, end int, err error) {
	open := strings.LastIndex(title, "(")
	if open < 0 || !strings.HasSuffix(strings.TrimSpace(title), ")") {
		return 0, 0, fmt.Errorf("missing (start-end) range")
	}
	part := strings.TrimSpace(title[open+1:])
	part = strings.TrimSuffix(part, ")")
	lo, hi, ok := strings.Cut(part, "-")
	if !ok {
		return 0, 0, fmt.Errorf("missing (start-end) range")
	}
	if start, err = strconv.Atoi(strings.TrimSpace(lo)); err != nil {
		return 0, 0, fmt.Errorf("bad range start %q", lo)
	}
	if end, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
		return 0, 0, fmt.Errorf("bad range end %q", hi)
	}
	if start < 1 || end < start {
		return 0, 0, fmt.Errorf("bad range %d-%d", start, end)
	}
	return start, end, nil
}

// Build validates the assembled configuration and returns the immutable
// Manager. New replaces the answers map with a normalized copy, so the
// Manager never aliases builder state.
func (b *Builder) Build() (*Manager, error) {
	return New(b.cfg)
}

// Sample is a ready-made example configuration.
type Sample struct {
	File    string
	Builder *Builder
}

// Samples returns the stock example configurations: a pattern-based test,
// a multi-section exam, and a quiz with an explicit answer list.
func Samples() []Sample {
	math := NewBuilder("Mathematics Test", 50, 70).AnswersFromPattern("ABCDE")

	comprehensive := NewBuilder("Comprehensive Exam", 100, 60)
	_ = comprehensive.AnswersFromSections([]Section{
		{Title: "Mathematics (1-25)", Pattern: "ABCDE"},
		{Title: "Science (26-50)", Pattern: "BCDEA"},
		{Title: "English (51-75)", Pattern: "CDEAB"},
		{Title: "Social Studies (76-100)", Pattern: "DEABC"},
	})

	quiz := NewBuilder("Quick Quiz", 20, 80).AnswersFromList([]string{
		"A", "B", "C", "D", "E", "A", "B", "C", "D", "E",
		"E", "D", "C", "B", "A", "E", "D", "C", "B", "A",
	}, "")

	return []Sample{
		{File: "sample_math_test.toml", Builder: math},
		{File: "sample_comprehensive_exam.toml", Builder: comprehensive},
		{File: "sample_quick_quiz.toml", Builder: quiz},
	}
}
