// Package cqt implements a constant-Q transform analyzer for coarse pitch
// candidate detection. Bin centers are geometrically spaced so every bin
// spans the same musical interval, which keeps low-frequency resolution
// usable where a linear FFT grid is too coarse.
//
// References:
//   - Brown (1991). Calculation of a constant Q spectral transform.
//     JASA 89(1)
//   - Brown, Puckette (1992). An efficient algorithm for the calculation
//     of a constant Q transform. JASA 92(5)
package cqt

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"github.com/RyanBlaney/sonido-pitch/algorithms/common"
	"github.com/RyanBlaney/sonido-pitch/algorithms/spectral"
)

// maxPeaks caps how many candidates a single analysis pass reports.
const maxPeaks = 10

// Params holds constant-Q analyzer configuration
type Params struct {
	SampleRate    int     `json:"sample_rate"`
	MinFreq       float64 `json:"min_freq"`
	MaxFreq       float64 `json:"max_freq"`
	BinsPerOctave int     `json:"bins_per_octave"`
	// BufferSize is the analysis buffer length in samples. Bins whose
	// kernels are longer than the buffer are dropped at construction.
	BufferSize int `json:"buffer_size"`
}

// DefaultParams returns analyzer parameters tuned for monophonic
// instrument tracking at 48 kHz.
func DefaultParams() Params {
	return Params{
		SampleRate:    48000,
		MinFreq:       50.0,
		MaxFreq:       2000.0,
		BinsPerOctave: 48,
		BufferSize:    16384,
	}
}

// Peak is a spectral peak detected in the constant-Q magnitude spectrum.
// Frequency is parabolic-refined between neighboring bins.
type Peak struct {
	Bin       int     `json:"bin"`
	Frequency float64 `json:"frequency"`
	Magnitude float64 `json:"magnitude"`
}

type kernel struct {
	coeffs []complex128
	freq   float64
}

// Analyzer computes constant-Q magnitudes by direct time-domain correlation
// with precomputed complex kernels. Kernels, the magnitude spectrum, and the
// peak list are all allocated at construction; Analyze performs no
// allocation after the first call.
//
// Analyzer is not safe for concurrent use.
type Analyzer struct {
	params   Params
	q        float64
	firstBin int

	kernels []kernel
	mags    []float64
	freqs   []float64
	peaks   []Peak
}

// NewAnalyzer creates a constant-Q analyzer with default parameters.
func NewAnalyzer() (*Analyzer, error) {
	return NewAnalyzerWithParams(DefaultParams())
}

// NewAnalyzerWithParams creates a constant-Q analyzer. Bins whose kernels
// would exceed BufferSize are skipped, raising the effective minimum
// frequency; at least one bin must survive.
func NewAnalyzerWithParams(params Params) (*Analyzer, error) {
	if params.SampleRate <= 0 {
		return nil, fmt.Errorf("cqt: sample rate must be positive, got %d", params.SampleRate)
	}
	if params.MinFreq <= 0 || params.MaxFreq <= params.MinFreq {
		return nil, fmt.Errorf("cqt: frequency range [%v, %v] is invalid", params.MinFreq, params.MaxFreq)
	}
	if params.MaxFreq > float64(params.SampleRate)/2.0 {
		return nil, fmt.Errorf("cqt: max frequency %v exceeds Nyquist %v", params.MaxFreq, float64(params.SampleRate)/2.0)
	}
	if params.BinsPerOctave <= 0 {
		return nil, fmt.Errorf("cqt: bins per octave must be positive, got %d", params.BinsPerOctave)
	}
	if params.BufferSize <= 0 {
		return nil, fmt.Errorf("cqt: buffer size must be positive, got %d", params.BufferSize)
	}

	q := 1.0 / (math.Pow(2.0, 1.0/float64(params.BinsPerOctave)) - 1.0)
	numBins := int(math.Ceil(float64(params.BinsPerOctave) * math.Log2(params.MaxFreq/params.MinFreq)))

	a := &Analyzer{
		params:  params,
		q:       q,
		kernels: make([]kernel, 0, numBins),
		peaks:   make([]Peak, 0, maxPeaks),
	}

	firstBin := -1
	for k := 0; k < numBins; k++ {
		freq := a.binFrequency(float64(k))
		length := int(math.Ceil(q * float64(params.SampleRate) / freq))
		if length > params.BufferSize {
			// Kernel doesn't fit the analysis buffer. Skip the bin
			// instead of building an unusable kernel.
			continue
		}
		if firstBin < 0 {
			firstBin = k
		}
		a.kernels = append(a.kernels, buildKernel(freq, q, length, params.SampleRate))
	}

	if firstBin < 0 {
		return nil, fmt.Errorf("cqt: buffer of %d samples fits no bin above %v Hz", params.BufferSize, params.MinFreq)
	}

	a.firstBin = firstBin
	a.mags = make([]float64, len(a.kernels))
	a.freqs = make([]float64, len(a.kernels))
	for i := range a.kernels {
		a.freqs[i] = a.kernels[i].freq
	}
	return a, nil
}

// buildKernel constructs a Hamming-windowed complex exponential kernel,
// L1-normalized so bin magnitudes are comparable across kernel lengths.
func buildKernel(freq, q float64, length, sampleRate int) kernel {
	window := spectral.NewWindow(spectral.Hamming, length)
	wcoeffs := window.Coefficients()

	coeffs := make([]complex128, length)
	norm := 0.0
	for n := 0; n < length; n++ {
		phase := -2.0 * math.Pi * freq * float64(n) / float64(sampleRate)
		c := complex(wcoeffs[n], 0) * cmplx.Exp(complex(0, phase))
		coeffs[n] = c
		norm += cmplx.Abs(c)
	}
	if norm > 0 {
		inv := complex(1.0/norm, 0)
		for n := range coeffs {
			coeffs[n] *= inv
		}
	}
	return kernel{coeffs: coeffs, freq: freq}
}

func (a *Analyzer) binFrequency(bin float64) float64 {
	return a.params.MinFreq * math.Pow(2.0, bin/float64(a.params.BinsPerOctave))
}

// Analyze correlates the buffer against every kernel and returns the
// detected peaks ordered by descending magnitude, at most 10. Each kernel
// sees the most recent samples of the buffer, so the low bins integrate a
// longer history than the high bins. The returned slice is reused across
// calls.
func (a *Analyzer) Analyze(buffer []float64) ([]Peak, error) {
	if len(buffer) < len(a.kernels[len(a.kernels)-1].coeffs) {
		return nil, fmt.Errorf("cqt: buffer length %d shorter than smallest kernel", len(buffer))
	}

	for i := range a.kernels {
		k := &a.kernels[i]
		if len(buffer) < len(k.coeffs) {
			a.mags[i] = 0
			continue
		}
		tail := buffer[len(buffer)-len(k.coeffs):]
		var sum complex128
		for n, c := range k.coeffs {
			sum += complex(tail[n], 0) * c
		}
		a.mags[i] = cmplx.Abs(sum)
	}

	a.peaks = a.peaks[:0]
	threshold := a.peakThreshold()
	if threshold <= 0 {
		return a.peaks, nil
	}

	for i := 2; i < len(a.mags)-2; i++ {
		m := a.mags[i]
		if m < threshold {
			continue
		}
		if m <= a.mags[i-1] || m <= a.mags[i-2] || m <= a.mags[i+1] || m <= a.mags[i+2] {
			continue
		}

		pos, mag := spectral.RefinePeak(a.mags, i)
		a.peaks = append(a.peaks, Peak{
			Bin:       i,
			Frequency: a.binFrequency(float64(a.firstBin) + pos),
			Magnitude: mag,
		})
	}

	sort.Slice(a.peaks, func(x, y int) bool {
		return a.peaks[x].Magnitude > a.peaks[y].Magnitude
	})
	if len(a.peaks) > maxPeaks {
		a.peaks = a.peaks[:maxPeaks]
	}
	return a.peaks, nil
}

// peakThreshold rejects bins below both a multiple of the mean magnitude and
// a fraction of the maximum, so silence produces no peaks and strong frames
// don't report their noise floor.
func (a *Analyzer) peakThreshold() float64 {
	mean := common.Mean(a.mags)
	max := common.Max(a.mags)
	threshold := 3.0 * mean
	if rel := 0.1 * max; rel > threshold {
		threshold = rel
	}
	return threshold
}

// Magnitudes returns the magnitude spectrum from the most recent Analyze
// call. The slice is owned by the analyzer.
func (a *Analyzer) Magnitudes() []float64 {
	return a.mags
}

// Frequencies returns the center frequency of every analyzable bin.
func (a *Analyzer) Frequencies() []float64 {
	return a.freqs
}

// NumBins returns the number of analyzable bins.
func (a *Analyzer) NumBins() int {
	return len(a.kernels)
}

// MinAnalyzableFreq returns the center frequency of the lowest bin whose
// kernel fits the analysis buffer.
func (a *Analyzer) MinAnalyzableFreq() float64 {
	return a.kernels[0].freq
}

// GetParameters returns the analyzer configuration.
func (a *Analyzer) GetParameters() Params {
	return a.params
}
