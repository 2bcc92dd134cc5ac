package pitch

import (
	"fmt"

	"github.com/RyanBlaney/sonido-pitch/algorithms/common"
	"github.com/RyanBlaney/sonido-pitch/algorithms/inharmonic"
)

// Config holds the full engine configuration. Zero values are not usable;
// start from DefaultConfig and adjust.
type Config struct {
	// SampleRate of incoming blocks in Hz.
	SampleRate int `json:"sample_rate"`
	// BlockSize is the expected samples per Submit call and the FFT size
	// of the refinement stage. Must be a power of two.
	BlockSize int `json:"block_size"`
	// AnalysisWindow is the constant-Q ring buffer length in samples.
	// Must be a power of two and at least BlockSize. Longer windows
	// analyze lower frequencies at the cost of latency: the default
	// 16384 samples at 48 kHz resolve fundamentals down to roughly
	// 200 Hz, and lower fundamentals track a harmonic instead (a
	// warning is logged at construction when the window falls short of
	// MinFreq). Resolving 50 Hz at 48 kHz needs a 131072-sample window,
	// almost three seconds of latency.
	AnalysisWindow int `json:"analysis_window"`

	// MinFreq and MaxFreq bound the trackable pitch range in Hz.
	MinFreq float64 `json:"min_freq"`
	MaxFreq float64 `json:"max_freq"`
	// CentsPerState is the trajectory decoder's grid spacing.
	CentsPerState float64 `json:"cents_per_state"`
	// BinsPerOctave is the constant-Q resolution.
	BinsPerOctave int `json:"bins_per_octave"`

	// CalibrationFrames is the number of ambient blocks accumulated per
	// noise calibration pass.
	CalibrationFrames int `json:"calibration_frames"`
	// Oversubtraction and SpectralFloor tune the noise suppressor.
	Oversubtraction float64 `json:"oversubtraction"`
	SpectralFloor   float64 `json:"spectral_floor"`
	// NoiseProfile, when non-nil, preloads a saved noise profile of
	// BlockSize/2+1 bins, skipping calibration.
	NoiseProfile []float64 `json:"noise_profile,omitempty"`

	// Instrument selects the inharmonicity model.
	Instrument string `json:"instrument"`
	// A4 is the reference tuning in Hz.
	A4 float64 `json:"a4"`
}

// DefaultConfig returns the configuration used when none is supplied:
// 48 kHz voice tracking with 2048-sample blocks.
func DefaultConfig() Config {
	return Config{
		SampleRate:        48000,
		BlockSize:         2048,
		AnalysisWindow:    16384,
		MinFreq:           50.0,
		MaxFreq:           2000.0,
		CentsPerState:     10.0,
		BinsPerOctave:     48,
		CalibrationFrames: 30,
		Oversubtraction:   1.5,
		SpectralFloor:     0.05,
		Instrument:        "voice",
		A4:                440.0,
	}
}

// Validate checks every field and reports the first problem.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("pitch: sample rate must be positive, got %d", c.SampleRate)
	}
	if !common.IsPowerOfTwo(c.BlockSize) {
		return fmt.Errorf("pitch: block size must be a power of two, got %d", c.BlockSize)
	}
	if !common.IsPowerOfTwo(c.AnalysisWindow) || c.AnalysisWindow < c.BlockSize {
		return fmt.Errorf("pitch: analysis window must be a power of two of at least the block size, got %d", c.AnalysisWindow)
	}
	if c.MinFreq <= 0 || c.MaxFreq <= c.MinFreq {
		return fmt.Errorf("pitch: frequency range [%v, %v] is invalid", c.MinFreq, c.MaxFreq)
	}
	if c.MaxFreq > float64(c.SampleRate)/2.0 {
		return fmt.Errorf("pitch: max frequency %v exceeds Nyquist", c.MaxFreq)
	}
	if c.CentsPerState <= 0 {
		return fmt.Errorf("pitch: cents per state must be positive, got %v", c.CentsPerState)
	}
	if c.BinsPerOctave <= 0 {
		return fmt.Errorf("pitch: bins per octave must be positive, got %d", c.BinsPerOctave)
	}
	if c.CalibrationFrames <= 0 {
		return fmt.Errorf("pitch: calibration frames must be positive, got %d", c.CalibrationFrames)
	}
	if c.Oversubtraction < 0 {
		return fmt.Errorf("pitch: oversubtraction must be non-negative, got %v", c.Oversubtraction)
	}
	if c.SpectralFloor < 0 || c.SpectralFloor > 1 {
		return fmt.Errorf("pitch: spectral floor must be in [0, 1], got %v", c.SpectralFloor)
	}
	if c.NoiseProfile != nil && len(c.NoiseProfile) != c.BlockSize/2+1 {
		return fmt.Errorf("pitch: noise profile length %d, want %d", len(c.NoiseProfile), c.BlockSize/2+1)
	}
	if _, err := inharmonic.ModelFor(c.Instrument); err != nil {
		return err
	}
	if c.A4 <= 0 {
		return fmt.Errorf("pitch: reference tuning must be positive, got %v", c.A4)
	}
	return nil
}

// ConfigUpdate is a partial configuration change. Nil fields keep their
// current value. Updates that change the processing topology (rates, sizes,
// frequency grid) rebuild the analysis chain; the others apply in place.
type ConfigUpdate struct {
	SampleRate        *int      `json:"sample_rate,omitempty"`
	BlockSize         *int      `json:"block_size,omitempty"`
	AnalysisWindow    *int      `json:"analysis_window,omitempty"`
	MinFreq           *float64  `json:"min_freq,omitempty"`
	MaxFreq           *float64  `json:"max_freq,omitempty"`
	CentsPerState     *float64  `json:"cents_per_state,omitempty"`
	BinsPerOctave     *int      `json:"bins_per_octave,omitempty"`
	CalibrationFrames *int      `json:"calibration_frames,omitempty"`
	Oversubtraction   *float64  `json:"oversubtraction,omitempty"`
	SpectralFloor     *float64  `json:"spectral_floor,omitempty"`
	NoiseProfile      []float64 `json:"noise_profile,omitempty"`
	Instrument        *string   `json:"instrument,omitempty"`
	A4                *float64  `json:"a4,omitempty"`
}

// apply overlays the update on a config, returning the result and whether
// the processing topology changed.
func (u ConfigUpdate) apply(c Config) (Config, bool) {
	structural := false

	if u.SampleRate != nil && *u.SampleRate != c.SampleRate {
		c.SampleRate = *u.SampleRate
		structural = true
	}
	if u.BlockSize != nil && *u.BlockSize != c.BlockSize {
		c.BlockSize = *u.BlockSize
		structural = true
	}
	if u.AnalysisWindow != nil && *u.AnalysisWindow != c.AnalysisWindow {
		c.AnalysisWindow = *u.AnalysisWindow
		structural = true
	}
	if u.MinFreq != nil && *u.MinFreq != c.MinFreq {
		c.MinFreq = *u.MinFreq
		structural = true
	}
	if u.MaxFreq != nil && *u.MaxFreq != c.MaxFreq {
		c.MaxFreq = *u.MaxFreq
		structural = true
	}
	if u.CentsPerState != nil && *u.CentsPerState != c.CentsPerState {
		c.CentsPerState = *u.CentsPerState
		structural = true
	}
	if u.BinsPerOctave != nil && *u.BinsPerOctave != c.BinsPerOctave {
		c.BinsPerOctave = *u.BinsPerOctave
		structural = true
	}
	if u.CalibrationFrames != nil && *u.CalibrationFrames != c.CalibrationFrames {
		c.CalibrationFrames = *u.CalibrationFrames
		structural = true
	}
	if u.Oversubtraction != nil {
		c.Oversubtraction = *u.Oversubtraction
	}
	if u.SpectralFloor != nil {
		c.SpectralFloor = *u.SpectralFloor
	}
	if u.NoiseProfile != nil {
		c.NoiseProfile = u.NoiseProfile
	}
	if u.Instrument != nil {
		c.Instrument = *u.Instrument
	}
	if u.A4 != nil {
		c.A4 = *u.A4
	}
	return c, structural
}
