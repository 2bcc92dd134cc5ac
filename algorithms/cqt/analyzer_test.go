package cqt

import (
	"math"
	"testing"
)

func sine(n int, freq, sampleRate float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2.0 * math.Pi * freq * float64(i) / sampleRate)
	}
	return out
}

func TestAnalyzeSine(t *testing.T) {
	a, err := NewAnalyzer()
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}

	const target = 220.0
	buffer := sine(16384, target, 48000)

	peaks, err := a.Analyze(buffer)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(peaks) == 0 {
		t.Fatal("no peaks detected for a clean sine")
	}

	got := peaks[0].Frequency
	cents := 1200.0 * math.Log2(got/target)
	if math.Abs(cents) > 25.0 {
		t.Fatalf("top peak at %v Hz, %v cents from %v Hz", got, cents, target)
	}
}

func TestAnalyzeSilence(t *testing.T) {
	a, err := NewAnalyzer()
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}

	peaks, err := a.Analyze(make([]float64, 16384))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(peaks) != 0 {
		t.Fatalf("silence produced %d peaks", len(peaks))
	}
}

func TestPeakCapAndOrdering(t *testing.T) {
	a, err := NewAnalyzer()
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}

	// A rich buffer with many strong partials.
	buffer := make([]float64, 16384)
	for _, f := range []float64{220, 330, 440, 550, 660, 770, 880, 990, 1100, 1210, 1320, 1430} {
		s := sine(16384, f, 48000)
		for i := range buffer {
			buffer[i] += s[i]
		}
	}

	peaks, err := a.Analyze(buffer)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(peaks) > 10 {
		t.Fatalf("peak count %d exceeds cap", len(peaks))
	}
	for i := 1; i < len(peaks); i++ {
		if peaks[i].Magnitude > peaks[i-1].Magnitude {
			t.Fatalf("peaks not ordered by magnitude at %d", i)
		}
	}
}

func TestKernelsSkipBelowBuffer(t *testing.T) {
	a, err := NewAnalyzer()
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}

	// With a 16384-sample buffer at 48 kHz and 48 bins/octave, kernels
	// below roughly 202 Hz don't fit and must be dropped.
	if min := a.MinAnalyzableFreq(); min < 50.0 || min > 210.0 {
		t.Fatalf("MinAnalyzableFreq = %v, want within (50, 210]", min)
	}
	if a.NumBins() == 0 {
		t.Fatal("no analyzable bins")
	}
	if len(a.Frequencies()) != a.NumBins() {
		t.Fatal("Frequencies length disagrees with NumBins")
	}
}

func TestParamValidation(t *testing.T) {
	cases := []Params{
		{SampleRate: 0, MinFreq: 50, MaxFreq: 2000, BinsPerOctave: 48, BufferSize: 16384},
		{SampleRate: 48000, MinFreq: 0, MaxFreq: 2000, BinsPerOctave: 48, BufferSize: 16384},
		{SampleRate: 48000, MinFreq: 500, MaxFreq: 100, BinsPerOctave: 48, BufferSize: 16384},
		{SampleRate: 48000, MinFreq: 50, MaxFreq: 30000, BinsPerOctave: 48, BufferSize: 16384},
		{SampleRate: 48000, MinFreq: 50, MaxFreq: 2000, BinsPerOctave: 0, BufferSize: 16384},
		{SampleRate: 48000, MinFreq: 50, MaxFreq: 2000, BinsPerOctave: 48, BufferSize: 0},
		// Buffer so short no kernel fits.
		{SampleRate: 48000, MinFreq: 50, MaxFreq: 60, BinsPerOctave: 48, BufferSize: 64},
	}
	for i, p := range cases {
		if _, err := NewAnalyzerWithParams(p); err == nil {
			t.Errorf("case %d: invalid params accepted", i)
		}
	}
}
