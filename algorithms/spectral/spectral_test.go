package spectral

import (
	"math"
	"testing"
)

func TestParabolicInterpRecoversVertex(t *testing.T) {
	// Sample y = 1 - (x - 0.3)^2 at x = -1, 0, 1. The vertex sits at
	// x = 0.3 relative to the middle sample.
	f := func(x float64) float64 { return 1.0 - (x-0.3)*(x-0.3) }

	delta, value, ok := ParabolicInterp(f(-1), f(0), f(1))
	if !ok {
		t.Fatal("interpolation reported degenerate input")
	}
	if math.Abs(delta-0.3) > 1e-12 {
		t.Fatalf("delta = %v, want 0.3", delta)
	}
	if math.Abs(value-1.0) > 1e-12 {
		t.Fatalf("value = %v, want 1", value)
	}
}

func TestParabolicInterpFlat(t *testing.T) {
	delta, value, ok := ParabolicInterp(2, 2, 2)
	if ok {
		t.Fatal("flat input should not refine")
	}
	if delta != 0 || value != 2 {
		t.Fatalf("flat input returned (%v, %v), want (0, 2)", delta, value)
	}
}

func TestRefinePeakEdges(t *testing.T) {
	values := []float64{1, 3, 2}

	pos, value := RefinePeak(values, 0)
	if pos != 0 || value != 1 {
		t.Fatalf("edge peak returned (%v, %v), want (0, 1)", pos, value)
	}

	pos, value = RefinePeak(values, 1)
	if pos <= 0 || pos >= 2 {
		t.Fatalf("interior peak position %v out of range", pos)
	}
	if value < 3 {
		t.Fatalf("refined value %v below discrete peak", value)
	}
}

func TestWindowEndpointsAndCache(t *testing.T) {
	w := NewWindow(Hamming, 64)
	coeffs := w.Coefficients()

	// Symmetric Hamming: endpoints are 0.54 - 0.46 = 0.08.
	if math.Abs(coeffs[0]-0.08) > 1e-12 || math.Abs(coeffs[63]-0.08) > 1e-12 {
		t.Fatalf("hamming endpoints = %v, %v, want 0.08", coeffs[0], coeffs[63])
	}

	hann := NewWindow(Hann, 64).Coefficients()
	if hann[0] != 0 || math.Abs(hann[63]) > 1e-12 {
		t.Fatalf("hann endpoints = %v, %v, want 0", hann[0], hann[63])
	}

	if NewWindow(Hamming, 64) != w {
		t.Fatal("same type and size should return the cached window")
	}
	if NewWindow(Hamming, 128) == w {
		t.Fatal("different size must not share a window")
	}
}

func TestWindowApply(t *testing.T) {
	w := NewWindow(Hann, 8)

	signal := make([]float64, 8)
	for i := range signal {
		signal[i] = 1.0
	}

	applied := w.Apply(signal)
	if applied == nil {
		t.Fatal("Apply returned nil for matching length")
	}
	for i, c := range w.Coefficients() {
		if math.Abs(applied[i]-c) > 1e-12 {
			t.Fatalf("applied[%d] = %v, want %v", i, applied[i], c)
		}
	}

	if w.Apply(make([]float64, 4)) != nil {
		t.Fatal("Apply should reject mismatched length")
	}
	if err := w.ApplyInPlace(make([]float64, 4)); err == nil {
		t.Fatal("ApplyInPlace should reject mismatched length")
	}
}

func TestRealFFTRoundTrip(t *testing.T) {
	const n = 256

	r, err := NewRealFFT(n)
	if err != nil {
		t.Fatalf("NewRealFFT: %v", err)
	}

	src := make([]float64, n)
	for i := range src {
		src[i] = math.Sin(2.0*math.Pi*8.0*float64(i)/n) + 0.25*math.Cos(2.0*math.Pi*3.0*float64(i)/n)
	}

	spec := make([]complex128, r.Bins())
	if err := r.Forward(spec, src); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	dst := make([]float64, n)
	if err := r.Inverse(dst, spec); err != nil {
		t.Fatalf("Inverse: %v", err)
	}

	for i := range src {
		if math.Abs(dst[i]-src[i]) > 1e-9 {
			t.Fatalf("round trip diverged at %d: %v vs %v", i, dst[i], src[i])
		}
	}
}

func TestRealFFTRejectsNonPowerOfTwo(t *testing.T) {
	if _, err := NewRealFFT(1000); err == nil {
		t.Fatal("expected error for non power of two size")
	}
}

func TestFFTPeakBin(t *testing.T) {
	const n = 1024

	f := NewFFT()
	signal := make([]float64, n)
	for i := range signal {
		signal[i] = math.Sin(2.0 * math.Pi * 32.0 * float64(i) / n)
	}

	spec := f.Compute(signal)
	mags := Magnitudes(nil, spec[:n/2])

	best := 1
	for i := 2; i < len(mags); i++ {
		if mags[i] > mags[best] {
			best = i
		}
	}
	if best != 32 {
		t.Fatalf("peak bin = %d, want 32", best)
	}
}
