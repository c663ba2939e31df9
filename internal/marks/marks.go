// Package marks decodes detector results files: per-sheet records of
// detected bubble positions, in the several shapes the detectors emit.
package marks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dkarpov/omrscore/internal/model"
)

// ErrSheetParse reports a malformed per-sheet record. It is recorded as a
// skip by the batch scorer, never an abort.
var ErrSheetParse = errors.New("malformed sheet record")

// RawSheet is one undecoded sheet record. The detector writes either
// detected_answers (question number -> positions) or a flat marks/bubbles
// list that still needs row grouping.
type RawSheet struct {
	Filename        string                     `json:"filename"`
	DetectedAnswers map[string]json.RawMessage `json:"detected_answers"`
	Marks           json.RawMessage            `json:"marks"`
	Bubbles         json.RawMessage            `json:"bubbles"`

	invalid error
}

// Parsed is a decoded sheet ready for mapping. Exactly one of Grouped and
// Ungrouped is set; ungrouped marks still need row grouping.
type Parsed struct {
	Filename  string
	Grouped   map[int][]model.Mark
	Ungrouped []model.Mark
}

// DecodeSheets reads a results file: a JSON array of per-sheet records.
// Input that is not a JSON array fails the whole batch. A record that is
// not an object is kept as an invalid placeholder so the batch can report
// the skip instead of losing it silently.
func DecodeSheets(r io.Reader) ([]RawSheet, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}

	sheets := make([]RawSheet, len(raw))
	for i, rec := range raw {
		if err := json.Unmarshal(rec, &sheets[i]); err != nil {
			sheets[i] = RawSheet{invalid: err}
		}
		if sheets[i].Filename == "" {
			sheets[i].Filename = fmt.Sprintf("sheet_%d", i+1)
		}
	}
	return sheets, nil
}

// Parse validates one record and decodes its positions. All errors wrap
// ErrSheetParse.
func (r RawSheet) Parse() (Parsed, error) {
	if r.invalid != nil {
		return Parsed{}, fmt.Errorf("%w: %s: %v", ErrSheetParse, r.Filename, r.invalid)
	}

	p := Parsed{Filename: r.Filename}
	switch {
	case r.DetectedAnswers != nil:
		p.Grouped = make(map[int][]model.Mark, len(r.DetectedAnswers))
		for k, raw := range r.DetectedAnswers {
			q, err := strconv.Atoi(k)
			if err != nil || q < 1 {
				return Parsed{}, fmt.Errorf("%w: %s: bad question number %q", ErrSheetParse, r.Filename, k)
			}
			pos, err := decodePositions(raw)
			if err != nil {
				return Parsed{}, fmt.Errorf("%w: %s: question %d: %v", ErrSheetParse, r.Filename, q, err)
			}
			if len(pos) > 0 {
				p.Grouped[q] = pos
			}
		}
	case r.Marks != nil:
		pos, err := decodePositions(r.Marks)
		if err != nil {
			return Parsed{}, fmt.Errorf("%w: %s: marks: %v", ErrSheetParse, r.Filename, err)
		}
		p.Ungrouped = pos
	case r.Bubbles != nil:
		pos, err := decodePositions(r.Bubbles)
		if err != nil {
			return Parsed{}, fmt.Errorf("%w: %s: bubbles: %v", ErrSheetParse, r.Filename, err)
		}
		p.Ungrouped = pos
	default:
		return Parsed{}, fmt.Errorf("%w: %s: record carries no detected marks", ErrSheetParse, r.Filename)
	}
	return p, nil
}

// decodePositions accepts the position shapes the detectors emit: a bare
// [x, y] pair (optionally with a trailing area value), a single position
// object, or an array of either.
func decodePositions(raw json.RawMessage) ([]model.Mark, error) {
	// Bare pair first: [x, y] or [x, y, area].
	var pair []float64
	if err := json.Unmarshal(raw, &pair); err == nil {
		if len(pair) == 0 {
			return nil, nil
		}
		mk, err := markFromPair(pair)
		if err != nil {
			return nil, err
		}
		return []model.Mark{mk}, nil
	}

	// Array of elements, each a pair or an object.
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err == nil {
		out := make([]model.Mark, 0, len(elems))
		for i, e := range elems {
			mk, err := decodeOne(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %v", i, err)
			}
			out = append(out, mk)
		}
		return out, nil
	}

	// Single object.
	mk, err := decodeOne(raw)
	if err != nil {
		return nil, err
	}
	return []model.Mark{mk}, nil
}

// decodeOne decodes a single position: [x, y], [x, y, area],
// {"position": [x, y]}, or {"x": .., "y": ..}.
func decodeOne(raw json.RawMessage) (model.Mark, error) {
	var pair []float64
	if err := json.Unmarshal(raw, &pair); err == nil {
		return markFromPair(pair)
	}

	var obj struct {
		Position   []float64 `json:"position"`
		X          *float64  `json:"x"`
		Y          *float64  `json:"y"`
		Area       float64   `json:"area"`
		Confidence float64   `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return model.Mark{}, fmt.Errorf("not a position: %s", compact(raw))
	}
	switch {
	case len(obj.Position) >= 2:
		return model.Mark{X: obj.Position[0], Y: obj.Position[1], Area: obj.Area, Confidence: obj.Confidence}, nil
	case obj.X != nil && obj.Y != nil:
		return model.Mark{X: *obj.X, Y: *obj.Y, Area: obj.Area, Confidence: obj.Confidence}, nil
	}
	return model.Mark{}, fmt.Errorf("position object missing coordinates: %s", compact(raw))
}

func markFromPair(pair []float64) (model.Mark, error) {
	switch len(pair) {
	case 2:
		return model.Mark{X: pair[0], Y: pair[1]}, nil
	case 3:
		return model.Mark{X: pair[0], Y: pair[1], Area: pair[2]}, nil
	}
	return model.Mark{}, fmt.Errorf("coordinate pair has %d values", len(pair))
}

// compact trims a raw fragment for error messages.
func compact(raw json.RawMessage) string {
	const max = 40
	s := string(raw)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
