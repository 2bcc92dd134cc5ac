package spectral

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// RealFFT is a fixed-size forward/inverse real transform built on gonum's
// fourier package. All working storage is sized at construction so the
// per-block processing path performs no allocation.
type RealFFT struct {
	n   int
	fft *fourier.FFT
}

// NewRealFFT creates a real FFT for signals of length n. n must be a power
// of two; the processing path depends on the radix-2 fast path.
func NewRealFFT(n int) (*RealFFT, error) {
	if n <= 0 || n&(n-1) != 0 {
		return nil, fmt.Errorf("spectral: transform size must be a power of two, got %d", n)
	}

	return &RealFFT{
		n:   n,
		fft: fourier.NewFFT(n),
	}, nil
}

// Size returns the transform length.
func (r *RealFFT) Size() int {
	return r.n
}

// Bins returns the number of positive-frequency coefficients (n/2 + 1).
func (r *RealFFT) Bins() int {
	return r.n/2 + 1
}

// Forward computes the coefficients of src into dst. dst must have length
// Bins(); src must have length Size().
func (r *RealFFT) Forward(dst []complex128, src []float64) error {
	if len(src) != r.n {
		return fmt.Errorf("spectral: forward input length %d, want %d", len(src), r.n)
	}
	if len(dst) != r.Bins() {
		return fmt.Errorf("spectral: forward output length %d, want %d", len(dst), r.Bins())
	}

	r.fft.Coefficients(dst, src)
	return nil
}

// Inverse reconstructs the time-domain signal from coefficients, normalized
// so that Inverse(Forward(x)) == x. dst must have length Size(); src must
// have length Bins().
func (r *RealFFT) Inverse(dst []float64, src []complex128) error {
	if len(src) != r.Bins() {
		return fmt.Errorf("spectral: inverse input length %d, want %d", len(src), r.Bins())
	}
	if len(dst) != r.n {
		return fmt.Errorf("spectral: inverse output length %d, want %d", len(dst), r.n)
	}

	// gonum's sequence transform is unnormalized: a round trip scales by n.
	r.fft.Sequence(dst, src)
	scale := 1.0 / float64(r.n)
	for i := range dst {
		dst[i] *= scale
	}
	return nil
}
