package spectral

import "math"

// parabolicEpsilon guards the interpolation denominator; below this the three
// points are treated as flat and the discrete peak is returned unrefined.
const parabolicEpsilon = 1e-12

// ParabolicInterp fits a parabola through three samples (y0, y1, y2) around a
// discrete peak at the middle sample. It returns the fractional offset of the
// true maximum from the middle sample in (-0.5, 0.5), the interpolated peak
// value, and whether refinement was possible. A near-zero denominator (flat
// or degenerate input) reports ok=false.
func ParabolicInterp(y0, y1, y2 float64) (delta, value float64, ok bool) {
	denom := y0 - 2.0*y1 + y2
	if math.Abs(denom) < parabolicEpsilon {
		return 0, y1, false
	}

	delta = 0.5 * (y0 - y2) / denom
	value = y1 - 0.25*(y0-y2)*delta
	return delta, value, true
}

// RefinePeak refines a discrete peak at index idx of values using parabolic
// interpolation, returning the sub-sample peak position and interpolated
// value. Edge indices and degenerate neighborhoods return the peak unrefined.
func RefinePeak(values []float64, idx int) (pos, value float64) {
	if idx <= 0 || idx >= len(values)-1 {
		if idx < 0 || idx >= len(values) {
			return float64(idx), 0
		}
		return float64(idx), values[idx]
	}

	delta, v, ok := ParabolicInterp(values[idx-1], values[idx], values[idx+1])
	if !ok {
		return float64(idx), values[idx]
	}
	return float64(idx) + delta, v
}
