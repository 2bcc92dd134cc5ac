package spectral

import (
	"fmt"
	"math"
	"sync"
)

// WindowType identifies a window function
type WindowType int

const (
	Hamming WindowType = iota
	Hann
	Blackman
)

func (w WindowType) String() string {
	switch w {
	case Hamming:
		return "hamming"
	case Hann:
		return "hann"
	case Blackman:
		return "blackman"
	default:
		return "unknown"
	}
}

// Window is a precomputed, immutable window function of a fixed size.
// Instances are cached by (type, size) so analyzers constructed repeatedly
// with the same geometry share coefficients.
type Window struct {
	typ          WindowType
	size         int
	coefficients []float64
}

type windowKey struct {
	typ  WindowType
	size int
}

var (
	windowMu    sync.Mutex
	windowCache = make(map[windowKey]*Window)
)

// NewWindow returns the cached window of the given type and size, generating
// and caching it on first use. Generation happens at construction time only;
// the per-block path never touches the cache.
func NewWindow(typ WindowType, size int) *Window {
	windowMu.Lock()
	defer windowMu.Unlock()

	key := windowKey{typ: typ, size: size}
	if w, ok := windowCache[key]; ok {
		return w
	}

	w := &Window{
		typ:          typ,
		size:         size,
		coefficients: generateWindow(typ, size),
	}
	windowCache[key] = w
	return w
}

func generateWindow(typ WindowType, size int) []float64 {
	coeffs := make([]float64, size)
	if size == 1 {
		coeffs[0] = 1.0
		return coeffs
	}

	denom := float64(size - 1)
	for i := range coeffs {
		x := 2.0 * math.Pi * float64(i) / denom
		switch typ {
		case Hamming:
			coeffs[i] = 0.54 - 0.46*math.Cos(x)
		case Hann:
			coeffs[i] = 0.5 * (1.0 - math.Cos(x))
		case Blackman:
			coeffs[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2.0*x)
		default:
			coeffs[i] = 1.0
		}
	}
	return coeffs
}

// Apply applies the window to a signal (creates a new array)
func (w *Window) Apply(signal []float64) []float64 {
	if len(signal) != w.size {
		return nil
	}

	windowed := make([]float64, w.size)
	for i := range signal {
		windowed[i] = signal[i] * w.coefficients[i]
	}
	return windowed
}

// ApplyInPlace applies the window to a signal in-place
func (w *Window) ApplyInPlace(signal []float64) error {
	if len(signal) != w.size {
		return fmt.Errorf("spectral: signal length (%d) doesn't match window size (%d)", len(signal), w.size)
	}

	for i := range signal {
		signal[i] *= w.coefficients[i]
	}
	return nil
}

// ApplyTo writes signal·window into dst without touching signal.
func (w *Window) ApplyTo(dst, signal []float64) error {
	if len(signal) != w.size || len(dst) != w.size {
		return fmt.Errorf("spectral: buffer length (%d/%d) doesn't match window size (%d)", len(dst), len(signal), w.size)
	}

	for i := range signal {
		dst[i] = signal[i] * w.coefficients[i]
	}
	return nil
}

// Coefficients returns a copy of the window coefficients
func (w *Window) Coefficients() []float64 {
	coeffs := make([]float64, len(w.coefficients))
	copy(coeffs, w.coefficients)
	return coeffs
}

// Size returns the window size
func (w *Window) Size() int {
	return w.size
}

// Type returns the window type
func (w *Window) Type() WindowType {
	return w.typ
}
