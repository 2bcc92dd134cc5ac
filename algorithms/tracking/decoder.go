package tracking

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-pitch/logging"
)

// minObservationConfidence is the floor below which an observation is
// treated as missing and the decoder holds its last trajectory.
const minObservationConfidence = 0.1

// logFloor keeps log-domain updates finite where the observation model
// assigns essentially zero mass.
const logFloor = 1e-12

// Observation is one frame's frequency estimate with its confidence.
type Observation struct {
	Frequency  float64 `json:"frequency"`
	Confidence float64 `json:"confidence"`
	// Source labels the estimator that produced the observation, for
	// diagnostics only.
	Source string `json:"source,omitempty"`
}

// Valid reports whether the observation carries usable information.
func (o Observation) Valid() bool {
	return o.Frequency > 0 && o.Confidence >= minObservationConfidence
}

// Params holds trajectory decoder configuration
type Params struct {
	MinFreq       float64 `json:"min_freq"`
	MaxFreq       float64 `json:"max_freq"`
	CentsPerState float64 `json:"cents_per_state"`
	// FastPassageCents is the per-frame movement treated as ordinary
	// melodic motion and priced almost nothing.
	FastPassageCents float64 `json:"fast_passage_cents"`
	// MaxTransitionCents is the largest per-frame movement with finite
	// cost; beyond it transitions are effectively forbidden.
	MaxTransitionCents float64 `json:"max_transition_cents"`
	// SmoothingFast and SmoothingDamped are the output EMA weights for
	// ordinary frames and for frames that jump more than
	// SmoothingJumpCents.
	SmoothingFast      float64 `json:"smoothing_fast"`
	SmoothingDamped    float64 `json:"smoothing_damped"`
	SmoothingJumpCents float64 `json:"smoothing_jump_cents"`
	// ReacquireConfidence and ReacquireFrames control re-seeding: after
	// ReacquireFrames consecutive frames whose observation is at least
	// this confident yet carries negligible posterior mass near it, the
	// decoder abandons the trajectory and reseeds at the observation.
	ReacquireConfidence float64 `json:"reacquire_confidence"`
	ReacquireFrames     int     `json:"reacquire_frames"`
}

// DefaultParams returns decoder parameters tuned for monophonic
// instrument tracking.
func DefaultParams() Params {
	return Params{
		MinFreq:             50.0,
		MaxFreq:             2000.0,
		CentsPerState:       10.0,
		FastPassageCents:    50.0,
		MaxTransitionCents:  100.0,
		SmoothingFast:       0.7,
		SmoothingDamped:     0.3,
		SmoothingJumpCents:  50.0,
		ReacquireConfidence: 0.8,
		ReacquireFrames:     3,
	}
}

// Decoder maintains a running Viterbi posterior over the pitch state grid
// and emits a smoothed trajectory. All state vectors are allocated at
// construction; ProcessFrame performs no allocation.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	params Params
	space  *StateSpace
	logger logging.Logger

	prevLog   []float64
	currLog   []float64
	obsProb   []float64
	backPtr   []int
	transCost []float64

	maxJumpStates int
	bestState     int
	smoothed      float64
	seeded        bool
	frames        int
	lostFrames    int
}

// NewDecoder creates a trajectory decoder with default parameters.
func NewDecoder() (*Decoder, error) {
	return NewDecoderWithParams(DefaultParams())
}

// NewDecoderWithParams creates a trajectory decoder.
func NewDecoderWithParams(params Params) (*Decoder, error) {
	space, err := NewStateSpace(params.MinFreq, params.MaxFreq, params.CentsPerState)
	if err != nil {
		return nil, err
	}
	if params.MaxTransitionCents < params.FastPassageCents {
		return nil, fmt.Errorf("tracking: max transition %v cents below fast passage %v", params.MaxTransitionCents, params.FastPassageCents)
	}
	if params.SmoothingFast <= 0 || params.SmoothingFast > 1 || params.SmoothingDamped <= 0 || params.SmoothingDamped > 1 {
		return nil, fmt.Errorf("tracking: smoothing weights must be in (0, 1]")
	}
	if params.ReacquireFrames <= 0 {
		return nil, fmt.Errorf("tracking: reacquire frames must be positive, got %d", params.ReacquireFrames)
	}

	n := space.NumStates()
	maxJump := int(params.MaxTransitionCents / params.CentsPerState)

	d := &Decoder{
		params:        params,
		space:         space,
		logger:        logging.GetGlobalLogger().WithFields(logging.Fields{"component": "trajectory_decoder"}),
		prevLog:       make([]float64, n),
		currLog:       make([]float64, n),
		obsProb:       make([]float64, n),
		backPtr:       make([]int, n),
		transCost:     make([]float64, maxJump+6),
		maxJumpStates: maxJump,
	}

	// Piecewise transition cost in the log domain: near-free within
	// ordinary melodic motion, steep up to the hard limit, prohibitive
	// beyond it.
	for jump := range d.transCost {
		cents := float64(jump) * params.CentsPerState
		switch {
		case cents <= params.FastPassageCents:
			d.transCost[jump] = cents * 0.002
		case cents <= params.MaxTransitionCents:
			d.transCost[jump] = 0.1 + (cents-params.FastPassageCents)*0.02
		default:
			d.transCost[jump] = 1e6
		}
	}
	return d, nil
}

// ProcessFrame advances the posterior by one frame and returns the smoothed
// trajectory frequency. Invalid observations hold the trajectory. Optional
// candidates (alternate estimates from other analyzers) are mixed into the
// observation model with reduced weight.
func (d *Decoder) ProcessFrame(obs Observation, candidates ...Observation) float64 {
	d.frames++

	if !obs.Valid() {
		return d.smoothed
	}

	if !d.seeded {
		d.seed(obs)
		return d.smoothed
	}

	d.buildObservation(obs, candidates)
	d.transition()

	maxLog := math.Inf(-1)
	for s, p := range d.obsProb {
		d.currLog[s] += math.Log(p + logFloor)
		if d.currLog[s] > maxLog {
			maxLog = d.currLog[s]
		}
	}
	for s := range d.currLog {
		d.currLog[s] -= maxLog
	}
	d.prevLog, d.currLog = d.currLog, d.prevLog

	if d.checkReacquire(obs) {
		d.seed(obs)
		return d.smoothed
	}

	// Best state search stays near the previous winner so an isolated
	// spurious mode elsewhere on the grid can't flip the output.
	lo := d.bestState - 20
	if lo < 0 {
		lo = 0
	}
	hi := d.bestState + 20
	if hi >= d.space.NumStates() {
		hi = d.space.NumStates() - 1
	}
	best := lo
	for s := lo + 1; s <= hi; s++ {
		if d.prevLog[s] > d.prevLog[best] {
			best = s
		}
	}
	d.bestState = best

	// When the winning state agrees with the observation, emit the
	// observation's exact frequency so steady tones are not quantized to
	// the state grid.
	raw := d.space.StateToFreq(best)
	if diff := best - d.space.FreqToState(obs.Frequency); diff >= -1 && diff <= 1 {
		raw = obs.Frequency
	}

	alpha := d.params.SmoothingFast
	if jump := math.Abs(1200.0 * math.Log2(raw/d.smoothed)); jump > d.params.SmoothingJumpCents {
		alpha = d.params.SmoothingDamped
	}
	d.smoothed = (1.0-alpha)*d.smoothed + alpha*raw
	return d.smoothed
}

// seed initializes the posterior as a Gaussian around the observation.
// Confidence controls the spread rather than the amplitude: scaling the
// amplitude of a lone Gaussian is a no-op once the vector is normalized, so
// low confidence widens the seed instead.
func (d *Decoder) seed(obs Observation) {
	center := d.space.FreqToState(obs.Frequency)
	sigma := 5.0 / math.Max(obs.Confidence, 0.2)

	for s := range d.prevLog {
		dist := float64(s - center)
		d.prevLog[s] = -dist * dist / (2.0 * sigma * sigma)
	}

	d.bestState = center
	d.smoothed = obs.Frequency
	d.seeded = true
	d.lostFrames = 0
}

// buildObservation fills obsProb with an L1-normalized mixture: a Gaussian
// at the primary observation whose width shrinks with confidence, plus a
// narrow low-weight Gaussian per candidate.
func (d *Decoder) buildObservation(obs Observation, candidates []Observation) {
	center := d.space.FreqToState(obs.Frequency)
	sigma := math.Max(2.0, (1.0-obs.Confidence)*10.0)

	total := 0.0
	for s := range d.obsProb {
		dist := float64(s - center)
		p := math.Exp(-dist * dist / (2.0 * sigma * sigma))
		d.obsProb[s] = p
		total += p
	}

	for _, cand := range candidates {
		if !cand.Valid() {
			continue
		}
		cCenter := d.space.FreqToState(cand.Frequency)
		weight := cand.Confidence * 0.3
		const cSigma = 3.0
		for s := range d.obsProb {
			dist := float64(s - cCenter)
			p := weight * math.Exp(-dist*dist/(2.0*cSigma*cSigma))
			d.obsProb[s] += p
			total += p
		}
	}

	if total > 0 {
		inv := 1.0 / total
		for s := range d.obsProb {
			d.obsProb[s] *= inv
		}
	}
}

// transition computes currLog[s] = max over predecessors of prevLog - cost.
// Predecessors outside the jump window contribute nothing. Every state is
// updated, not just a window around the previous best: checkReacquire needs
// the posterior defined across the whole grid to measure mass far from the
// trajectory, and the per-state predecessor window keeps the cost bounded.
func (d *Decoder) transition() {
	window := d.maxJumpStates + 5
	n := d.space.NumStates()

	for s := 0; s < n; s++ {
		lo := s - window
		if lo < 0 {
			lo = 0
		}
		hi := s + window
		if hi >= n {
			hi = n - 1
		}

		best := math.Inf(-1)
		bestPred := lo
		for p := lo; p <= hi; p++ {
			jump := s - p
			if jump < 0 {
				jump = -jump
			}
			if v := d.prevLog[p] - d.transCost[jump]; v > best {
				best = v
				bestPred = p
			}
		}
		d.currLog[s] = best
		d.backPtr[s] = bestPred
	}
}

// checkReacquire detects a lost trajectory: a run of confident observations
// whose neighborhood carries essentially no posterior mass. prevLog already
// holds the current frame's normalized posterior when this runs.
func (d *Decoder) checkReacquire(obs Observation) bool {
	if obs.Confidence < d.params.ReacquireConfidence {
		d.lostFrames = 0
		return false
	}

	center := d.space.FreqToState(obs.Frequency)
	lo := center - d.maxJumpStates
	if lo < 0 {
		lo = 0
	}
	hi := center + d.maxJumpStates
	if hi >= d.space.NumStates() {
		hi = d.space.NumStates() - 1
	}

	nearMass := 0.0
	totalMass := 0.0
	for s := range d.prevLog {
		p := math.Exp(d.prevLog[s])
		totalMass += p
		if s >= lo && s <= hi {
			nearMass += p
		}
	}

	if totalMass > 0 && nearMass/totalMass < 1e-6 {
		d.lostFrames++
	} else {
		d.lostFrames = 0
	}

	if d.lostFrames >= d.params.ReacquireFrames {
		d.logger.Info("trajectory lost, reseeding at observation", logging.Fields{
			"frequency":  obs.Frequency,
			"confidence": obs.Confidence,
			"frames":     d.lostFrames,
		})
		return true
	}
	return false
}

// Reset clears the posterior and trajectory.
func (d *Decoder) Reset() {
	for s := range d.prevLog {
		d.prevLog[s] = 0
		d.currLog[s] = 0
		d.obsProb[s] = 0
		d.backPtr[s] = 0
	}
	d.bestState = 0
	d.smoothed = 0
	d.seeded = false
	d.frames = 0
	d.lostFrames = 0
}

// Stats reports decoder diagnostics.
type Stats struct {
	States       int     `json:"states"`
	Frames       int     `json:"frames"`
	CurrentFreq  float64 `json:"current_freq"`
	SmoothedFreq float64 `json:"smoothed_freq"`
}

// Stats returns a snapshot of the decoder's state.
func (d *Decoder) Stats() Stats {
	current := 0.0
	if d.seeded {
		current = d.space.StateToFreq(d.bestState)
	}
	return Stats{
		States:       d.space.NumStates(),
		Frames:       d.frames,
		CurrentFreq:  current,
		SmoothedFreq: d.smoothed,
	}
}

// GetParameters returns the decoder configuration.
func (d *Decoder) GetParameters() Params {
	return d.params
}
