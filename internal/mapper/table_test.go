package mapper

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/dkarpov/omrscore/internal/model"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNumericTableMapping(t *testing.T) {
	table, err := UniformTable(model.NumericSymbols, 0, 1300)
	if err != nil {
		t.Fatalf("UniformTable: %v", err)
	}

	tests := []struct {
		x    float64
		want string
	}{
		{0, "±"},
		{50, "±"},
		{150, "-"},
		{220, "+"},
		{1250, "9"},
		{5000, "9"}, // far right of the range still resolves
		{-30, "±"},  // and far left
	}
	for _, tt := range tests {
		if got := table.Lookup(tt.x); got != tt.want {
			t.Errorf("Lookup(%g) = %q, want %q", tt.x, got, tt.want)
		}
	}
}

func TestLetterTableOpenUpperBucket(t *testing.T) {
	// A previously calibrated table carries one bound per label.
	table, err := NewTable(model.LetterChoices(5), []float64{260, 630, 1001, 1372, 1743})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	tests := []struct {
		x    float64
		want string
	}{
		{100, "A"},
		{259.9, "A"},
		{260, "B"},
		{1000, "C"},
		{1742.9, "E"},
		{2000, "E"}, // open upper bucket, never a rejection
	}
	for _, tt := range tests {
		if got := table.Lookup(tt.x); got != tt.want {
			t.Errorf("Lookup(%g) = %q, want %q", tt.x, got, tt.want)
		}
	}
}

func TestLookupMonotonic(t *testing.T) {
	table, err := UniformTable(model.NumericSymbols, 0, 1300)
	if err != nil {
		t.Fatalf("UniformTable: %v", err)
	}
	index := make(map[string]int, len(table.Labels))
	for i, l := range table.Labels {
		index[l] = i
	}

	prev := -1
	for x := -50.0; x <= 1400; x += 7 {
		i := index[table.Lookup(x)]
		if i < prev {
			t.Fatalf("Lookup not monotonic: x=%g mapped to index %d after %d", x, i, prev)
		}
		prev = i
	}
}

func TestUniformTableBounds(t *testing.T) {
	table, err := UniformTable(model.NumericSymbols, 0, 1300)
	if err != nil {
		t.Fatalf("UniformTable: %v", err)
	}
	if len(table.Bounds) != 12 {
		t.Fatalf("expected 12 bounds for 13 labels, got %d", len(table.Bounds))
	}

	width := 1300.0 / 12
	for i, b := range table.Bounds {
		want := (float64(i) + 0.5) * width
		if !almostEqual(b, want) {
			t.Errorf("bound[%d] = %g, want %g", i, b, want)
		}
	}
}

func TestNewTableValidation(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		bounds []float64
	}{
		{"no labels", nil, []float64{1}},
		{"too few bounds", model.LetterChoices(5), []float64{100, 200}},
		{"too many bounds", model.LetterChoices(3), []float64{1, 2, 3, 4}},
		{"not increasing", model.LetterChoices(3), []float64{100, 100}},
		{"decreasing", model.LetterChoices(3), []float64{200, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable(tt.labels, tt.bounds); !errors.Is(err, ErrCalibration) {
				t.Errorf("expected ErrCalibration, got %v", err)
			}
		})
	}
}

func TestCalibrate(t *testing.T) {
	labels := model.LetterChoices(5)
	samples := []float64{73, 444.2, 815.4, 1186.6, 1557.8}

	first, err := Calibrate(labels, samples)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	second, err := Calibrate(labels, samples)
	if err != nil {
		t.Fatalf("Calibrate (repeat): %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("calibration not idempotent:\n  first  %+v\n  second %+v", first, second)
	}

	// Calibration reduces to a uniform table over the observed extent.
	want, err := UniformTable(labels, 73, 1557.8)
	if err != nil {
		t.Fatalf("UniformTable: %v", err)
	}
	if !reflect.DeepEqual(first, want) {
		t.Errorf("Calibrate = %+v, want %+v", first, want)
	}
}

func TestCalibrateErrors(t *testing.T) {
	labels := model.LetterChoices(5)

	if _, err := Calibrate(labels, nil); !errors.Is(err, ErrCalibration) {
		t.Errorf("no samples: expected ErrCalibration, got %v", err)
	}
	if _, err := Calibrate(labels, []float64{500, 500, 500}); !errors.Is(err, ErrCalibration) {
		t.Errorf("degenerate range: expected ErrCalibration, got %v", err)
	}
	if _, err := UniformTable([]string{"A"}, 0, 100); !errors.Is(err, ErrCalibration) {
		t.Errorf("single label: expected ErrCalibration, got %v", err)
	}
}

func TestTableJSONRoundTrip(t *testing.T) {
	table, err := Calibrate(model.NumericSymbols, []float64{60, 1240})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	data, err := json.Marshal(table)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded Table
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(table, decoded) {
		t.Errorf("table changed across JSON round trip")
	}
}
