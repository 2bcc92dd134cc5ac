package inharmonic

import (
	"math"
	"testing"
)

func TestCorrectRoundTrip(t *testing.T) {
	// A first partial generated by the stiff-string model and corrected
	// at full confidence must recover the fundamental exactly.
	for _, name := range Instruments() {
		c, err := NewCorrector(name)
		if err != nil {
			t.Fatalf("NewCorrector(%s): %v", name, err)
		}
		for _, band := range c.Model().Bands {
			f0 := (band.Low + band.High) / 2.0
			measured := CalculateHarmonic(f0, 1, band.B)
			corrected, _ := c.Correct(measured, 1.0)
			if math.Abs(corrected-f0) > 1e-9 {
				t.Errorf("%s band [%v, %v): corrected %v, want %v", name, band.Low, band.High, corrected, f0)
			}
		}
	}
}

func TestCorrectConfidenceScaling(t *testing.T) {
	c, err := NewCorrector("piano")
	if err != nil {
		t.Fatalf("NewCorrector: %v", err)
	}

	const measured = 110.0
	_, full := c.Correct(measured, 1.0)
	_, half := c.Correct(measured, 0.5)
	_, none := c.Correct(measured, 0.0)

	if full >= 0 {
		t.Fatalf("full-confidence cents = %v, want negative", full)
	}
	if math.Abs(half-full/2.0) > 1e-12 {
		t.Fatalf("half-confidence cents = %v, want %v", half, full/2.0)
	}
	if none != 0 {
		t.Fatalf("zero-confidence cents = %v, want 0", none)
	}

	// Confidence outside [0, 1] clamps rather than amplifies.
	_, over := c.Correct(measured, 2.0)
	if math.Abs(over-full) > 1e-12 {
		t.Fatalf("overconfident cents = %v, want %v", over, full)
	}
}

func TestCorrectVoicePassthrough(t *testing.T) {
	for _, name := range []string{"voice", "winds"} {
		c, err := NewCorrector(name)
		if err != nil {
			t.Fatalf("NewCorrector(%s): %v", name, err)
		}
		corrected, cents := c.Correct(440.0, 1.0)
		if corrected != 440.0 || cents != 0 {
			t.Errorf("%s: Correct(440) = (%v, %v), want passthrough", name, corrected, cents)
		}
	}
}

func TestNearestBandFallback(t *testing.T) {
	c, err := NewCorrector("piano")
	if err != nil {
		t.Fatalf("NewCorrector: %v", err)
	}

	// Below the lowest piano band: uses the first band's coefficient.
	low, _ := c.Correct(30.0, 1.0)
	wantLow := 30.0 / math.Sqrt(1.0+c.Model().Bands[0].B)
	if math.Abs(low-wantLow) > 1e-9 {
		t.Fatalf("below-range correction = %v, want %v", low, wantLow)
	}

	// Above the highest band: uses the last band's coefficient.
	bands := c.Model().Bands
	high, _ := c.Correct(5000.0, 1.0)
	wantHigh := 5000.0 / math.Sqrt(1.0+bands[len(bands)-1].B)
	if math.Abs(high-wantHigh) > 1e-9 {
		t.Fatalf("above-range correction = %v, want %v", high, wantHigh)
	}
}

func TestModelForUnknown(t *testing.T) {
	if _, err := ModelFor("theremin"); err == nil {
		t.Fatal("unknown instrument accepted")
	}
	if _, err := ModelFor("  Piano "); err != nil {
		t.Fatalf("case and whitespace should be ignored: %v", err)
	}
}

func TestCustomModelValidation(t *testing.T) {
	if _, err := NewCorrectorWithModel(Model{Name: "empty"}); err == nil {
		t.Fatal("empty model accepted")
	}
	if _, err := NewCorrectorWithModel(Model{Name: "inverted", Bands: []Band{{Low: 200, High: 100, B: 0}}}); err == nil {
		t.Fatal("inverted band accepted")
	}
	if _, err := NewCorrectorWithModel(Model{Name: "neg", Bands: []Band{{Low: 100, High: 200, B: -1}}}); err == nil {
		t.Fatal("negative coefficient accepted")
	}
}

func TestCalculateHarmonic(t *testing.T) {
	// With zero stiffness, partials are exact integer multiples.
	if got := CalculateHarmonic(100, 3, 0); got != 300 {
		t.Fatalf("CalculateHarmonic(100, 3, 0) = %v, want 300", got)
	}
	// With stiffness, higher partials stretch progressively sharp.
	h2 := CalculateHarmonic(100, 2, 0.001)
	h4 := CalculateHarmonic(100, 4, 0.001)
	if h2/200.0 >= h4/400.0 {
		t.Fatal("partial stretch should grow with partial number")
	}
}
