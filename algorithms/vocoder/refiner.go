// Package vocoder implements phase-vocoder frequency refinement. A coarse
// frequency estimate is sharpened by measuring the phase advance of the
// dominant FFT bin between consecutive frames, resolving frequency well below
// the bin spacing of the transform.
//
// References:
//   - Flanagan, Golden (1966). Phase vocoder. Bell System Technical
//     Journal 45(9)
//   - Laroche, Dolson (1999). Improved phase vocoder time-scale
//     modification of audio. IEEE Trans. SAP 7(3)
package vocoder

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/RyanBlaney/sonido-pitch/algorithms/common"
	"github.com/RyanBlaney/sonido-pitch/algorithms/spectral"
)

// searchBins bounds the peak search around the coarse estimate's bin.
const searchBins = 4

// Result is one refinement pass over a frame.
type Result struct {
	// Frequency is the refined estimate in Hz.
	Frequency float64 `json:"frequency"`
	// Confidence in [0, 1] derived from how far the peak bin stands
	// above its neighbors.
	Confidence float64 `json:"confidence"`
	// BinFrequency is the center frequency of the peak bin before
	// refinement.
	BinFrequency float64 `json:"bin_frequency"`
	// PhaseVelocity is the deviation from the bin center measured from
	// the inter-frame phase advance, in Hz. Zero on the first frame.
	PhaseVelocity float64 `json:"phase_velocity"`
}

// Refiner sharpens coarse frequency estimates using inter-frame phase. It
// assumes frames are presented contiguously at hopSize sample intervals;
// call Reset after any gap in the stream.
//
// Refiner is not safe for concurrent use.
type Refiner struct {
	fftSize    int
	hopSize    int
	sampleRate int
	binHz      float64

	window *spectral.Window
	fft    *spectral.FFT

	windowed  []float64
	mags      []float64
	prevPhase []float64
	hasPrev   bool
}

// New creates a refiner for frames of fftSize samples advanced by hopSize
// samples per frame. fftSize must be a power of two.
func New(fftSize, hopSize, sampleRate int) (*Refiner, error) {
	if !common.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("vocoder: fft size must be a power of two, got %d", fftSize)
	}
	if hopSize <= 0 || hopSize > fftSize {
		return nil, fmt.Errorf("vocoder: hop size %d out of range (0, %d]", hopSize, fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("vocoder: sample rate must be positive, got %d", sampleRate)
	}

	return &Refiner{
		fftSize:    fftSize,
		hopSize:    hopSize,
		sampleRate: sampleRate,
		binHz:      float64(sampleRate) / float64(fftSize),
		window:     spectral.NewWindow(spectral.Hann, fftSize),
		fft:        spectral.NewFFT(),
		windowed:   make([]float64, fftSize),
		mags:       make([]float64, fftSize/2+1),
		prevPhase:  make([]float64, fftSize/2+1),
	}, nil
}

// Refine estimates the frequency near coarseHz from one frame. The frame
// must have exactly fftSize samples. The first frame after construction or
// Reset has no phase history and falls back to parabolic interpolation of
// the magnitude spectrum.
func (r *Refiner) Refine(frame []float64, coarseHz float64) (Result, error) {
	if len(frame) != r.fftSize {
		return Result{}, fmt.Errorf("vocoder: frame length %d, want %d", len(frame), r.fftSize)
	}
	if coarseHz <= 0 || coarseHz >= float64(r.sampleRate)/2.0 {
		return Result{}, fmt.Errorf("vocoder: coarse estimate %v Hz outside (0, Nyquist)", coarseHz)
	}

	if err := r.window.ApplyTo(r.windowed, frame); err != nil {
		return Result{}, err
	}
	spec := r.fft.Compute(r.windowed)
	r.mags = spectral.Magnitudes(r.mags, spec[:r.fftSize/2+1])

	// Find the strongest bin near the coarse estimate.
	coarseBin := int(math.Round(coarseHz / r.binHz))
	lo := coarseBin - searchBins
	if lo < 1 {
		lo = 1
	}
	hi := coarseBin + searchBins
	if hi > r.fftSize/2-1 {
		hi = r.fftSize/2 - 1
	}

	peak := lo
	for k := lo + 1; k <= hi; k++ {
		if r.mags[k] > r.mags[peak] {
			peak = k
		}
	}

	res := Result{
		BinFrequency: float64(peak) * r.binHz,
		Confidence:   r.peakConfidence(peak, lo, hi),
	}

	if r.hasPrev {
		// Instantaneous frequency from the phase advance over one hop.
		phase := cmplx.Phase(spec[peak])
		expected := 2.0 * math.Pi * float64(peak) * float64(r.hopSize) / float64(r.fftSize)
		dphi := wrapPhase(phase - r.prevPhase[peak] - expected)
		res.PhaseVelocity = dphi / (2.0 * math.Pi) * float64(r.sampleRate) / float64(r.hopSize)
		res.Frequency = res.BinFrequency + res.PhaseVelocity
	} else {
		pos, _ := spectral.RefinePeak(r.mags, peak)
		res.Frequency = pos * r.binHz
	}

	for k := range r.prevPhase {
		r.prevPhase[k] = cmplx.Phase(spec[k])
	}
	r.hasPrev = true
	return res, nil
}

// peakConfidence rates how far the peak bin stands above the mean of the
// other bins in the search window.
func (r *Refiner) peakConfidence(peak, lo, hi int) float64 {
	sum := 0.0
	count := 0
	for k := lo; k <= hi; k++ {
		if k == peak {
			continue
		}
		sum += r.mags[k]
		count++
	}
	if count == 0 || sum <= 0 {
		return 0
	}
	ratio := r.mags[peak] / (sum / float64(count))
	return common.Clamp(ratio/5.0, 0, 1)
}

// Reset discards the phase history. Call after any discontinuity in the
// sample stream.
func (r *Refiner) Reset() {
	r.hasPrev = false
	for k := range r.prevPhase {
		r.prevPhase[k] = 0
	}
}

// wrapPhase maps an angle into (-pi, pi].
func wrapPhase(x float64) float64 {
	for x > math.Pi {
		x -= 2.0 * math.Pi
	}
	for x <= -math.Pi {
		x += 2.0 * math.Pi
	}
	return x
}
