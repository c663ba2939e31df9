package model

// AnswerFormat selects the answer family of an exam: single-letter bubbles
// or signed multi-digit numeric grids.
type AnswerFormat string

const (
	// FormatLetter is a classic A-E bubble exam, one letter per question.
	FormatLetter AnswerFormat = "letter"
	// FormatNumeric is a grid exam where each question is a signed number
	// bubbled one character per column.
	FormatNumeric AnswerFormat = "numeric"
)

// QuestionStatus classifies one scored question.
type QuestionStatus string

const (
	StatusCorrect   QuestionStatus = "correct"
	StatusIncorrect QuestionStatus = "incorrect"
	StatusBlank     QuestionStatus = "blank"
)

const (
	// SignPlusMinus is the combined-sign column of a numeric grid. Older
	// detector output writes it as "&"; the loader normalizes to this form.
	SignPlusMinus = "±"
	// DefaultMaxCharacters is the numeric field width (sign slot plus
	// digits) used when the configuration does not set one.
	DefaultMaxCharacters = 5
)

// NumericSymbols is the column alphabet of a signed numeric grid in
// left-to-right sheet order: the three sign columns, then digits 0-9.
var NumericSymbols = []string{SignPlusMinus, "-", "+", "0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// LetterChoices returns the first n letter labels, A onward.
func LetterChoices(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = string(rune('A' + i))
	}
	return labels
}

// Config is the exam configuration document as stored on disk.
type Config struct {
	Exam    ExamSpec          `toml:"exam_info" json:"exam_info"`
	Scoring ScoringRule       `toml:"scoring" json:"scoring"`
	Answers map[string]string `toml:"answers" json:"answers"`
	Bubbles BubbleMapping     `toml:"bubble_mapping" json:"bubble_mapping"`
	Layout  GridLayout        `toml:"grid_layout" json:"grid_layout"`
}

// ExamSpec holds exam identity and sizing. Immutable after load.
type ExamSpec struct {
	Name               string       `toml:"name" json:"name"`
	Date               string       `toml:"date" json:"date"`
	TotalQuestions     int          `toml:"total_questions" json:"total_questions"`
	ChoicesPerQuestion int          `toml:"choices_per_question" json:"choices_per_question"`
	PassingScore       float64      `toml:"passing_score" json:"passing_score"`
	AnswerFormat       AnswerFormat `toml:"answer_format,omitempty" json:"answer_format"`
	MaxCharacters      int          `toml:"max_characters,omitempty" json:"max_characters,omitempty"`
}

// ScoringRule holds the point weights applied per question outcome.
// IncorrectPoints is usually zero or negative (penalty marking).
type ScoringRule struct {
	CorrectPoints   float64 `toml:"correct_points" json:"correct_points"`
	IncorrectPoints float64 `toml:"incorrect_points" json:"incorrect_points"`
	BlankPoints     float64 `toml:"blank_points" json:"blank_points"`
}

// BubbleMapping describes how choices are laid out on the printed form.
type BubbleMapping struct {
	ChoicePositions    []string `toml:"choice_positions" json:"choice_positions"`
	QuestionsPerColumn int      `toml:"questions_per_column" json:"questions_per_column"`
	TotalColumns       int      `toml:"total_columns" json:"total_columns"`
}

// GridLayout is the physical bubble geometry in pixels. Scoring uses it
// only to derive boundary tables when no calibrated table is supplied.
type GridLayout struct {
	StartX           float64 `toml:"start_x" json:"start_x"`
	StartY           float64 `toml:"start_y" json:"start_y"`
	BubbleWidth      float64 `toml:"bubble_width" json:"bubble_width"`
	BubbleHeight     float64 `toml:"bubble_height" json:"bubble_height"`
	QuestionSpacingY float64 `toml:"question_spacing_y" json:"question_spacing_y"`
	ChoiceSpacingX   float64 `toml:"choice_spacing_x" json:"choice_spacing_x"`
	ColumnSpacingX   float64 `toml:"column_spacing_x" json:"column_spacing_x"`
}

// Mark is one detected bubble mark. Area and Confidence come from the
// detector and are carried through untouched; scoring reads only X and Y.
type Mark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Area       float64 `json:"area,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Sheet is one scanned answer document ready for scoring: an identifier
// plus marks grouped by question number. Questions with no entry are blank.
type Sheet struct {
	Filename string         `json:"filename"`
	Marks    map[int][]Mark `json:"marks"`
}

// ScoredQuestion is the grading outcome for a single question.
type ScoredQuestion struct {
	Number    int            `json:"number"`
	Expected  string         `json:"expected"`
	Detected  string         `json:"detected"`
	Status    QuestionStatus `json:"status"`
	Truncated bool           `json:"truncated,omitempty"`
}

// SheetScore is the grading outcome for a whole sheet.
type SheetScore struct {
	Filename   string           `json:"filename"`
	Questions  []ScoredQuestion `json:"questions"`
	Correct    int              `json:"correct"`
	Incorrect  int              `json:"incorrect"`
	Blank      int              `json:"blank"`
	Points     float64          `json:"points"`
	Percentage float64          `json:"percentage"`
	Passed     bool             `json:"passed"`
}

// SkippedSheet records a sheet the batch could not score and why.
type SkippedSheet struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// BatchReport aggregates one scoring run.
type BatchReport struct {
	ID             string         `json:"id"`
	ExamName       string         `json:"exam_name"`
	ExamDate       string         `json:"exam_date"`
	TotalQuestions int            `json:"total_questions"`
	PassingScore   float64        `json:"passing_score"`
	Sheets         []SheetScore   `json:"sheets"`
	Skipped        []SkippedSheet `json:"skipped,omitempty"`
	ScoredCount    int            `json:"scored_count"`
	SkippedCount   int            `json:"skipped_count"`
	PassedCount    int            `json:"passed_count"`
	FailedCount    int            `json:"failed_count"`
	PassRate       float64        `json:"pass_rate"`
	MeanPercentage float64        `json:"mean_percentage"`
	CreatedAt      string         `json:"created_at"`
}
