// Package denoise implements adaptive spectral-subtraction noise
// suppression. A noise profile is learned from ambient-only frames during a
// calibration pass and subtracted, with oversubtraction and a spectral floor,
// from every subsequent frame.
//
// References:
//   - Boll (1979). Suppression of acoustic noise in speech using spectral
//     subtraction. IEEE Trans. ASSP 27(2)
//   - Berouti, Schwartz, Makhoul (1979). Enhancement of speech corrupted by
//     acoustic noise. ICASSP
package denoise

import (
	"errors"
	"fmt"
	"math/cmplx"

	"github.com/RyanBlaney/sonido-pitch/algorithms/common"
	"github.com/RyanBlaney/sonido-pitch/algorithms/spectral"
)

// ErrNoCalibrationFrames is returned by FinishCalibration when no frames were
// accumulated since StartCalibration.
var ErrNoCalibrationFrames = errors.New("denoise: no calibration frames collected")

// State describes the suppressor lifecycle.
type State int

const (
	// StateIdle means no profile is being collected; frames pass through
	// unmodified unless a profile from an earlier calibration is loaded.
	StateIdle State = iota
	// StateCalibrating means incoming frames are treated as ambient noise
	// and accumulated into the profile while passing through unmodified.
	StateCalibrating
	// StateCalibrated means a noise profile is active and subtraction is
	// applied to every frame.
	StateCalibrated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalibrating:
		return "calibrating"
	case StateCalibrated:
		return "calibrated"
	default:
		return "unknown"
	}
}

// Suppressor subtracts a learned noise magnitude profile from frames in the
// frequency domain, preserving phase. All working storage is sized at
// construction; Process performs no allocation.
//
// Suppressor is not safe for concurrent use.
type Suppressor struct {
	fftSize      int
	targetFrames int

	oversubtraction float64
	spectralFloor   float64
	bypass          bool

	state     State
	collected int

	fft     *spectral.RealFFT
	spec    []complex128
	mags    []float64
	profile []float64
	accum   []float64
}

// New creates a suppressor for frames of fftSize samples. fftSize must be a
// power of two; calibrationFrames is the number of ambient frames accumulated
// before a calibration pass completes.
func New(fftSize, calibrationFrames int) (*Suppressor, error) {
	if calibrationFrames <= 0 {
		return nil, fmt.Errorf("denoise: calibration frames must be positive, got %d", calibrationFrames)
	}

	fft, err := spectral.NewRealFFT(fftSize)
	if err != nil {
		return nil, err
	}

	bins := fft.Bins()
	return &Suppressor{
		fftSize:         fftSize,
		targetFrames:    calibrationFrames,
		oversubtraction: 1.5,
		spectralFloor:   0.05,
		state:           StateIdle,
		fft:             fft,
		spec:            make([]complex128, bins),
		mags:            make([]float64, bins),
		profile:         make([]float64, bins),
		accum:           make([]float64, bins),
	}, nil
}

// Process runs one frame through the suppressor. in and out must both have
// length fftSize; they may alias. While idle with no profile, calibrating, or
// bypassed, the frame is copied through unchanged (calibrating frames are
// additionally accumulated into the pending profile).
func (s *Suppressor) Process(in, out []float64) error {
	if len(in) != s.fftSize || len(out) != s.fftSize {
		return fmt.Errorf("denoise: frame length %d/%d, want %d", len(in), len(out), s.fftSize)
	}

	switch {
	case s.bypass:
		copy(out, in)
		return nil

	case s.state == StateCalibrating:
		if err := s.fft.Forward(s.spec, in); err != nil {
			return err
		}
		for i, c := range s.spec {
			s.accum[i] += cmplx.Abs(c)
		}
		s.collected++
		copy(out, in)
		if s.collected >= s.targetFrames {
			return s.FinishCalibration()
		}
		return nil

	case s.state != StateCalibrated:
		copy(out, in)
		return nil
	}

	if err := s.fft.Forward(s.spec, in); err != nil {
		return err
	}

	for i, c := range s.spec {
		mag := cmplx.Abs(c)
		cleaned := mag - s.oversubtraction*s.profile[i]
		if floor := s.spectralFloor * mag; cleaned < floor {
			cleaned = floor
		}
		if mag > 0 {
			scale := cleaned / mag
			s.spec[i] = complex(real(c)*scale, imag(c)*scale)
		}
	}

	return s.fft.Inverse(out, s.spec)
}

// StartCalibration clears any accumulated profile data and begins treating
// incoming frames as ambient noise. An active profile stays in place until
// calibration completes.
func (s *Suppressor) StartCalibration() {
	s.collected = 0
	for i := range s.accum {
		s.accum[i] = 0
	}
	s.state = StateCalibrating
}

// FinishCalibration averages the accumulated frames into the active profile.
// It returns ErrNoCalibrationFrames, and leaves the suppressor idle, when no
// frames were collected.
func (s *Suppressor) FinishCalibration() error {
	if s.state != StateCalibrating {
		return fmt.Errorf("denoise: finish called in state %s", s.state)
	}
	if s.collected == 0 {
		s.state = StateIdle
		return ErrNoCalibrationFrames
	}

	inv := 1.0 / float64(s.collected)
	for i, sum := range s.accum {
		s.profile[i] = sum * inv
	}
	s.state = StateCalibrated
	return nil
}

// Reset discards the profile and any calibration in progress.
func (s *Suppressor) Reset() {
	s.collected = 0
	for i := range s.accum {
		s.accum[i] = 0
	}
	for i := range s.profile {
		s.profile[i] = 0
	}
	s.state = StateIdle
}

// State returns the current lifecycle state.
func (s *Suppressor) State() State {
	return s.state
}

// Progress reports calibration progress in [0, 1]. It is 1 once calibrated
// and 0 when idle.
func (s *Suppressor) Progress() float64 {
	switch s.state {
	case StateCalibrated:
		return 1.0
	case StateCalibrating:
		return common.Clamp(float64(s.collected)/float64(s.targetFrames), 0, 1)
	default:
		return 0
	}
}

// CollectedFrames returns how many calibration frames have been accumulated.
func (s *Suppressor) CollectedFrames() int {
	return s.collected
}

// Profile returns a copy of the active noise magnitude profile, or nil when
// no profile is active.
func (s *Suppressor) Profile() []float64 {
	if s.state != StateCalibrated {
		return nil
	}
	p := make([]float64, len(s.profile))
	copy(p, s.profile)
	return p
}

// SetProfile installs an externally saved noise profile, skipping
// calibration. The profile must have fftSize/2+1 entries.
func (s *Suppressor) SetProfile(profile []float64) error {
	if len(profile) != len(s.profile) {
		return fmt.Errorf("denoise: profile length %d, want %d", len(profile), len(s.profile))
	}
	copy(s.profile, profile)
	s.collected = 0
	s.state = StateCalibrated
	return nil
}

// SetOversubtraction sets the profile subtraction multiplier. Values above 1
// trade signal fidelity for deeper noise removal.
func (s *Suppressor) SetOversubtraction(factor float64) error {
	if factor < 0 {
		return fmt.Errorf("denoise: oversubtraction must be non-negative, got %v", factor)
	}
	s.oversubtraction = factor
	return nil
}

// SetSpectralFloor sets the minimum retained fraction of each bin's
// magnitude, limiting musical-noise artifacts from full subtraction.
func (s *Suppressor) SetSpectralFloor(floor float64) error {
	if floor < 0 || floor > 1 {
		return fmt.Errorf("denoise: spectral floor must be in [0, 1], got %v", floor)
	}
	s.spectralFloor = floor
	return nil
}

// SetBypass toggles pass-through mode without discarding the profile.
func (s *Suppressor) SetBypass(bypass bool) {
	s.bypass = bypass
}

// Bypassed reports whether the suppressor is in pass-through mode.
func (s *Suppressor) Bypassed() bool {
	return s.bypass
}
