// Package mapper converts detected mark coordinates into answer tokens
// using calibrated x-axis boundary tables.
package mapper

import (
	"errors"
	"fmt"
)

// ErrCalibration reports that a boundary table cannot be built from the
// given samples or range.
var ErrCalibration = errors.New("cannot calibrate boundary table")

// Table classifies an x-coordinate into a column label. Bounds are strictly
// increasing upper bounds over the labels in sheet order; everything at or
// beyond the last bound falls into the final label, so a stray mark right
// of the calibrated range still resolves instead of erroring.
//
// Tables derived from a coordinate range carry len(labels)-1 bounds.
// Externally calibrated tables may carry one bound per label; lookup
// semantics are identical either way.
type Table struct {
	Labels []string  `json:"labels"`
	Bounds []float64 `json:"bounds"`
}

// NewTable validates a label/bound pairing.
func NewTable(labels []string, bounds []float64) (Table, error) {
	if len(labels) == 0 {
		return Table{}, fmt.Errorf("%w: no labels", ErrCalibration)
	}
	if len(bounds) != len(labels) && len(bounds) != len(labels)-1 {
		return Table{}, fmt.Errorf("%w: %d labels need %d or %d bounds, got %d",
			ErrCalibration, len(labels), len(labels)-1, len(labels), len(bounds))
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			return Table{}, fmt.Errorf("%w: bounds not strictly increasing at index %d", ErrCalibration, i)
		}
	}
	return Table{Labels: labels, Bounds: bounds}, nil
}

// Lookup returns the label whose x-interval contains x.
func (t Table) Lookup(x float64) string {
	for i, b := range t.Bounds {
		if x < b {
			return t.Labels[i]
		}
	}
	return t.Labels[len(t.Labels)-1]
}

// UniformTable partitions [xMin, xMax] into equal-width columns, one per
// label, with each boundary at the midpoint offset:
//
//	width    = (xMax - xMin) / (n - 1)
//	bound[i] = xMin + (i + 0.5) * width
//
// The midpoint convention centers each bucket on its expected mark
// position rather than on cell edges and must be preserved exactly for
// compatibility with previously calibrated tables.
func UniformTable(labels []string, xMin, xMax float64) (Table, error) {
	n := len(labels)
	if n < 2 {
		return Table{}, fmt.Errorf("%w: need at least 2 labels, got %d", ErrCalibration, n)
	}
	if xMax <= xMin {
		return Table{}, fmt.Errorf("%w: degenerate range [%g, %g]", ErrCalibration, xMin, xMax)
	}
	width := (xMax - xMin) / float64(n-1)
	bounds := make([]float64, n-1)
	for i := range bounds {
		bounds[i] = xMin + (float64(i)+0.5)*width
	}
	return Table{Labels: labels, Bounds: bounds}, nil
}

// Calibrate builds a table from a sample of observed mark x-coordinates
// spanning the physical range. Identical samples always produce identical
// bounds.
func Calibrate(labels []string, samples []float64) (Table, error) {
	if len(samples) == 0 {
		return Table{}, fmt.Errorf("%w: no samples", ErrCalibration)
	}
	xMin, xMax := samples[0], samples[0]
	for _, x := range samples[1:] {
		if x < xMin {
			xMin = x
		}
		if x > xMax {
			xMax = x
		}
	}
	return UniformTable(labels, xMin, xMax)
}
