package pitch

import (
	"math"
	"time"
)

// noteNames indexes pitch classes from C.
var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// SampleBlock is one contiguous block of input audio. Samples are mono,
// nominally in [-1, 1]. Timestamp is the stream position of the block's
// first sample.
type SampleBlock struct {
	Samples    []float32     `json:"-"`
	SampleRate int           `json:"sample_rate"`
	Timestamp  time.Duration `json:"timestamp"`
}

// Diagnostics carries per-frame internals for hosts that display or log the
// analysis chain.
type Diagnostics struct {
	// CoarseFrequency and CoarseConfidence are the constant-Q stage's
	// best candidate before refinement.
	CoarseFrequency  float64 `json:"coarse_frequency"`
	CoarseConfidence float64 `json:"coarse_confidence"`
	// RefinedFrequency is the phase-vocoder output before stiffness
	// correction and trajectory decoding.
	RefinedFrequency float64 `json:"refined_frequency"`
	// PeakCount is how many constant-Q peaks the frame produced.
	PeakCount int `json:"peak_count"`
	// SuppressorState names the noise suppressor's lifecycle state.
	SuppressorState string `json:"suppressor_state"`
}

// UnifiedPitchFrame is the engine's per-block output: the decoded trajectory
// frequency with note spelling, level, and chain diagnostics.
type UnifiedPitchFrame struct {
	// Frequency is the smoothed trajectory estimate in Hz, 0 when no
	// pitch has been acquired.
	Frequency  float64       `json:"frequency"`
	Confidence float64       `json:"confidence"`
	RMS        float64       `json:"rms"`
	Timestamp  time.Duration `json:"timestamp"`
	// Voiced reports whether this block carried a usable pitch estimate.
	Voiced bool `json:"voiced"`
	// Note, Octave, Cents, and CentsFrac spell Frequency against the
	// configured reference tuning. Cents is the integer deviation from
	// the named note; CentsFrac carries the same deviation at 0.1-cent
	// resolution.
	Note      string  `json:"note,omitempty"`
	Octave    int     `json:"octave,omitempty"`
	Cents     int     `json:"cents"`
	CentsFrac float64 `json:"cents_frac"`
	// PhaseVelocity is the refiner's sub-bin frequency deviation in Hz.
	PhaseVelocity float64 `json:"phase_velocity"`
	// InharmonicityCents is the stiffness correction applied this frame.
	InharmonicityCents float64 `json:"inharmonicity_cents"`

	Diagnostics Diagnostics `json:"diagnostics"`
}

// noteFromFrequency spells a frequency against the reference tuning a4.
// Non-positive frequencies return an empty note.
func noteFromFrequency(freq, a4 float64) (note string, octave int, cents float64) {
	if freq <= 0 || a4 <= 0 {
		return "", 0, 0
	}

	semitones := 12.0 * math.Log2(freq/a4)
	rounded := int(math.Round(semitones))

	idx := (rounded + 9) % 12
	if idx < 0 {
		idx += 12
	}
	octave = 4 + int(math.Floor(float64(rounded+9)/12.0))
	cents = 100.0 * (semitones - float64(rounded))
	return noteNames[idx], octave, cents
}
