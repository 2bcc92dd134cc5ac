package pitch

// PitchObservation is an externally supplied frequency estimate that can be
// fused into the trajectory alongside the engine's own analyzers, for hosts
// that run additional detectors over the same stream.
type PitchObservation struct {
	// Frequency in Hz. Non-positive values are ignored.
	Frequency float64 `json:"frequency"`
	// Confidence in [0, 1].
	Confidence float64 `json:"confidence"`
	// Source labels the producing estimator, for diagnostics.
	Source string `json:"source,omitempty"`
}
