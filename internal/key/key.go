// Package key loads, validates, and exposes the exam configuration and the
// canonical answer key for a grading run.
package key

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pelletier/go-toml/v2"

	"github.com/dkarpov/omrscore/internal/model"
)

var (
	// ErrConfig reports a malformed or inconsistent exam configuration.
	ErrConfig = errors.New("invalid exam configuration")
	// ErrUnknownQuestion reports a question number outside the declared range.
	ErrUnknownQuestion = errors.New("question outside declared range")
)

// Manager owns the validated exam configuration and answer key for one
// grading run. Read-only after construction; safe for concurrent use.
type Manager struct {
	cfg     model.Config
	answers map[int]string
}

// Load reads and validates an answer-key TOML file.
func Load(path string) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answer key: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates answer-key TOML.
func Parse(data []byte) (*Manager, error) {
	var cfg model.Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse TOML: %v", ErrConfig, err)
	}
	return New(cfg)
}

// New validates a configuration and builds the integer-keyed answer map.
// Tokens are normalized on the way in: trailing padding is stripped, the
// legacy "&" sign alias becomes "±", and letters are uppercased.
func New(cfg model.Config) (*Manager, error) {
	applyDefaults(&cfg)

	if cfg.Exam.TotalQuestions <= 0 {
		return nil, fmt.Errorf("%w: total_questions must be positive, got %d", ErrConfig, cfg.Exam.TotalQuestions)
	}
	if cfg.Exam.PassingScore < 0 || cfg.Exam.PassingScore > 100 {
		return nil, fmt.Errorf("%w: passing_score must be within 0-100, got %g", ErrConfig, cfg.Exam.PassingScore)
	}
	switch cfg.Exam.AnswerFormat {
	case model.FormatLetter:
		if cfg.Exam.ChoicesPerQuestion < 2 || cfg.Exam.ChoicesPerQuestion > 26 {
			return nil, fmt.Errorf("%w: choices_per_question must be within 2-26, got %d", ErrConfig, cfg.Exam.ChoicesPerQuestion)
		}
	case model.FormatNumeric:
		if cfg.Exam.MaxCharacters < 1 {
			return nil, fmt.Errorf("%w: max_characters must be positive, got %d", ErrConfig, cfg.Exam.MaxCharacters)
		}
	default:
		return nil, fmt.Errorf("%w: unknown answer_format %q", ErrConfig, cfg.Exam.AnswerFormat)
	}

	answers := make(map[int]string, cfg.Exam.TotalQuestions)
	for k, raw := range cfg.Answers {
		q, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("%w: answer key %q is not a question number", ErrConfig, k)
		}
		if q < 1 || q > cfg.Exam.TotalQuestions {
			return nil, fmt.Errorf("%w: answer for question %d outside declared range 1-%d", ErrConfig, q, cfg.Exam.TotalQuestions)
		}
		tok, err := canonicalToken(raw, cfg.Exam)
		if err != nil {
			return nil, fmt.Errorf("%w: question %d: %v", ErrConfig, q, err)
		}
		answers[q] = tok
	}
	for q := 1; q <= cfg.Exam.TotalQuestions; q++ {
		if _, ok := answers[q]; !ok {
			return nil, fmt.Errorf("%w: missing answer for question %d", ErrConfig, q)
		}
	}

	// Keep the stored document in normalized form so save round-trips.
	cfg.Answers = make(map[string]string, len(answers))
	for q, tok := range answers {
		cfg.Answers[strconv.Itoa(q)] = tok
	}

	return &Manager{cfg: cfg, answers: answers}, nil
}

// applyDefaults fills the fields the on-disk document may omit, matching
// the defaults the printed forms were generated with.
func applyDefaults(cfg *model.Config) {
	if cfg.Exam.AnswerFormat == "" {
		cfg.Exam.AnswerFormat = model.FormatLetter
	}
	if cfg.Exam.AnswerFormat == model.FormatLetter && cfg.Exam.ChoicesPerQuestion == 0 {
		cfg.Exam.ChoicesPerQuestion = 5
	}
	if cfg.Exam.AnswerFormat == model.FormatNumeric && cfg.Exam.MaxCharacters == 0 {
		cfg.Exam.MaxCharacters = model.DefaultMaxCharacters
	}
	if len(cfg.Bubbles.ChoicePositions) == 0 && cfg.Exam.AnswerFormat == model.FormatLetter {
		cfg.Bubbles.ChoicePositions = model.LetterChoices(cfg.Exam.ChoicesPerQuestion)
	}
	if cfg.Bubbles.QuestionsPerColumn == 0 {
		cfg.Bubbles.QuestionsPerColumn = 25
	}
	if cfg.Bubbles.TotalColumns == 0 {
		cfg.Bubbles.TotalColumns = 4
	}
	if cfg.Layout == (model.GridLayout{}) {
		cfg.Layout = model.GridLayout{
			StartX:           50,
			StartY:           100,
			BubbleWidth:      20,
			BubbleHeight:     20,
			QuestionSpacingY: 25,
			ChoiceSpacingX:   40,
			ColumnSpacingX:   200,
		}
	}
}

// NormalizeToken strips trailing padding and maps the legacy "&" sign
// written by the C detector to "±".
func NormalizeToken(tok string) string {
	tok = strings.TrimRight(tok, " \t")
	if strings.HasPrefix(tok, "&") {
		tok = model.SignPlusMinus + tok[1:]
	}
	return tok
}

// canonicalToken validates a raw key token against the exam's alphabet and
// returns its canonical form.
func canonicalToken(raw string, spec model.ExamSpec) (string, error) {
	tok := NormalizeToken(raw)
	if tok == "" {
		return "", fmt.Errorf("empty token")
	}

	switch spec.AnswerFormat {
	case model.FormatLetter:
		tok = strings.ToUpper(tok)
		if utf8.RuneCountInString(tok) != 1 {
			return "", fmt.Errorf("letter token %q must be a single letter", raw)
		}
		c := tok[0]
		if c < 'A' || c > byte('A'+spec.ChoicesPerQuestion-1) {
			return "", fmt.Errorf("letter token %q outside A-%c", raw, 'A'+spec.ChoicesPerQuestion-1)
		}
		return tok, nil

	case model.FormatNumeric:
		digits := tok
		switch {
		case strings.HasPrefix(tok, model.SignPlusMinus):
			digits = strings.TrimPrefix(tok, model.SignPlusMinus)
		case tok[0] == '-' || tok[0] == '+':
			digits = tok[1:]
		}
		if digits == "" {
			return "", fmt.Errorf("numeric token %q has no digits", raw)
		}
		for _, c := range digits {
			if c < '0' || c > '9' {
				return "", fmt.Errorf("numeric token %q contains %q", raw, c)
			}
		}
		if n := utf8.RuneCountInString(tok); n > spec.MaxCharacters {
			return "", fmt.Errorf("numeric token %q longer than %d characters", raw, spec.MaxCharacters)
		}
		return tok, nil
	}
	return "", fmt.Errorf("unknown answer format %q", spec.AnswerFormat)
}

// Save writes the configuration back to a TOML file. The output reloads to
// an identical Manager.
func (m *Manager) Save(path string) error {
	data, err := toml.Marshal(m.cfg)
	if err != nil {
		return fmt.Errorf("marshal answer key: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write answer key: %w", err)
	}
	return nil
}

// TotalQuestions returns the declared question count.
func (m *Manager) TotalQuestions() int {
	return m.cfg.Exam.TotalQuestions
}

// PassingScore returns the pass threshold as a percentage.
func (m *Manager) PassingScore() float64 {
	return m.cfg.Exam.PassingScore
}

// Spec returns the exam metadata.
func (m *Manager) Spec() model.ExamSpec {
	return m.cfg.Exam
}

// Scoring returns the point weights.
func (m *Manager) Scoring() model.ScoringRule {
	return m.cfg.Scoring
}

// Layout returns the physical bubble geometry.
func (m *Manager) Layout() model.GridLayout {
	return m.cfg.Layout
}

// Config returns the full configuration document.
func (m *Manager) Config() model.Config {
	return m.cfg
}

// ChoiceLabels returns the column labels of the exam's answer family in
// left-to-right sheet order.
func (m *Manager) ChoiceLabels() []string {
	if m.cfg.Exam.AnswerFormat == model.FormatNumeric {
		return model.NumericSymbols
	}
	if len(m.cfg.Bubbles.ChoicePositions) == m.cfg.Exam.ChoicesPerQuestion {
		return m.cfg.Bubbles.ChoicePositions
	}
	return model.LetterChoices(m.cfg.Exam.ChoicesPerQuestion)
}

// ExpectedToken returns the key token for a question number.
func (m *Manager) ExpectedToken(question int) (string, error) {
	tok, ok := m.answers[question]
	if !ok {
		return "", fmt.Errorf("%w: question %d, declared range 1-%d", ErrUnknownQuestion, question, m.cfg.Exam.TotalQuestions)
	}
	return tok, nil
}
