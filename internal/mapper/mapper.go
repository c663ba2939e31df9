package mapper

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dkarpov/omrscore/internal/model"
)

// Mapper resolves detected marks into answer tokens for one exam layout.
// Immutable after construction; safe for concurrent use across sheets.
type Mapper struct {
	format    model.AnswerFormat
	table     Table
	rowHeight float64
	maxChars  int
	total     int
}

// New builds a mapper whose boundary table is derived from the printed
// grid geometry: one column per label, spaced choice_spacing_x apart
// starting at start_x.
func New(spec model.ExamSpec, layout model.GridLayout, labels []string) (*Mapper, error) {
	xMin := layout.StartX
	xMax := layout.StartX + float64(len(labels)-1)*layout.ChoiceSpacingX
	table, err := UniformTable(labels, xMin, xMax)
	if err != nil {
		return nil, fmt.Errorf("derive table from layout: %w", err)
	}
	return NewWithTable(spec, layout, table)
}

// NewWithTable builds a mapper around an externally calibrated table.
func NewWithTable(spec model.ExamSpec, layout model.GridLayout, table Table) (*Mapper, error) {
	table, err := NewTable(table.Labels, table.Bounds)
	if err != nil {
		return nil, err
	}
	if layout.QuestionSpacingY <= 0 {
		return nil, fmt.Errorf("%w: question_spacing_y must be positive, got %g", ErrCalibration, layout.QuestionSpacingY)
	}
	maxChars := spec.MaxCharacters
	if maxChars <= 0 {
		maxChars = model.DefaultMaxCharacters
	}
	return &Mapper{
		format:    spec.AnswerFormat,
		table:     table,
		rowHeight: layout.QuestionSpacingY,
		maxChars:  maxChars,
		total:     spec.TotalQuestions,
	}, nil
}

// Table returns the boundary table in use.
func (m *Mapper) Table() Table {
	return m.table
}

// GroupByRow buckets ungrouped marks into question numbers. A mark's row
// is floor(y/rowHeight)+1, clamped to the declared question range, so a
// mark slightly above the first row or below the last still lands on a
// real question.
func (m *Mapper) GroupByRow(marks []model.Mark) map[int][]model.Mark {
	grouped := make(map[int][]model.Mark, m.total)
	for _, mk := range marks {
		q := int(mk.Y/m.rowHeight) + 1
		if q < 1 {
			q = 1
		}
		if q > m.total {
			q = m.total
		}
		grouped[q] = append(grouped[q], mk)
	}
	return grouped
}

// TokenFor resolves one question's marks into an answer token. Zero marks
// mean blank (empty token). A letter question takes its leftmost mark; a
// numeric question reads marks in ascending x, one table lookup per column
// slot, concatenated left to right. Marks beyond the numeric field width
// are dropped and reported as truncated: extra marks are noise, not extra
// significant digits.
func (m *Mapper) TokenFor(marks []model.Mark) (token string, truncated bool) {
	if len(marks) == 0 {
		return "", false
	}

	if m.format != model.FormatNumeric {
		leftmost := marks[0]
		for _, mk := range marks[1:] {
			if mk.X < leftmost.X {
				leftmost = mk
			}
		}
		return m.table.Lookup(leftmost.X), false
	}

	sorted := make([]model.Mark, len(marks))
	copy(sorted, marks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	if len(sorted) > m.maxChars {
		sorted = sorted[:m.maxChars]
		truncated = true
	}
	var sb strings.Builder
	for _, mk := range sorted {
		sb.WriteString(m.table.Lookup(mk.X))
	}
	return sb.String(), truncated
}
