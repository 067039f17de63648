package genetic

import "math"

// Bound is the closed interval a gene must stay in.
type Bound struct {
	Min float64
	Max float64
}

// Valid reports whether the interval is non-empty and finite.
func (b Bound) Valid() bool {
	if math.IsNaN(b.Min) || math.IsNaN(b.Max) || math.IsInf(b.Min, 0) || math.IsInf(b.Max, 0) {
		return false
	}
	return b.Min <= b.Max
}

// Width returns Max - Min.
func (b Bound) Width() float64 {
	return b.Max - b.Min
}

// Contains reports whether v lies in [Min, Max].
func (b Bound) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Clip clamps v into [Min, Max]. NaN maps to Min.
func (b Bound) Clip(v float64) float64 {
	if math.IsNaN(v) || v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// Snap clips v and, when integral, rounds it to a whole number inside the
// bound. Bounds that contain no whole number are only clipped.
func (b Bound) Snap(v float64, integral bool) float64 {
	v = b.Clip(v)
	if !integral {
		return v
	}
	lo, hi := math.Ceil(b.Min), math.Floor(b.Max)
	if lo > hi {
		return v
	}
	return math.Min(hi, math.Max(lo, math.Round(v)))
}
