// Package tracking implements streaming Viterbi pitch trajectory decoding
// over a geometric frequency grid. Per-frame observations are fused into a
// running posterior whose transition costs penalize musically implausible
// jumps, yielding a trajectory that rides out brief dropouts and octave
// errors in the raw estimates.
//
// References:
//   - Forney (1973). The Viterbi algorithm. Proc. IEEE 61(3)
//   - Mauch, Dixon (2014). pYIN: a fundamental frequency estimator using
//     probabilistic threshold distributions. ICASSP
package tracking

import (
	"fmt"
	"math"
)

// StateSpace maps between frequencies and a geometric grid of discrete
// pitch states spaced a fixed number of cents apart.
type StateSpace struct {
	minFreq       float64
	maxFreq       float64
	centsPerState float64
	numStates     int
}

// NewStateSpace creates a state grid spanning [minFreq, maxFreq] with the
// given spacing in cents.
func NewStateSpace(minFreq, maxFreq, centsPerState float64) (*StateSpace, error) {
	if minFreq <= 0 || maxFreq <= minFreq {
		return nil, fmt.Errorf("tracking: frequency range [%v, %v] is invalid", minFreq, maxFreq)
	}
	if centsPerState <= 0 {
		return nil, fmt.Errorf("tracking: cents per state must be positive, got %v", centsPerState)
	}

	span := 1200.0 * math.Log2(maxFreq/minFreq)
	return &StateSpace{
		minFreq:       minFreq,
		maxFreq:       maxFreq,
		centsPerState: centsPerState,
		numStates:     int(span/centsPerState) + 1,
	}, nil
}

// NumStates returns the grid size.
func (s *StateSpace) NumStates() int {
	return s.numStates
}

// CentsPerState returns the grid spacing in cents.
func (s *StateSpace) CentsPerState() float64 {
	return s.centsPerState
}

// StateToFreq returns the center frequency of a state.
func (s *StateSpace) StateToFreq(state int) float64 {
	return s.minFreq * math.Pow(2.0, float64(state)*s.centsPerState/1200.0)
}

// FreqToState returns the nearest state for a frequency, clamped to the
// grid.
func (s *StateSpace) FreqToState(freq float64) int {
	if freq <= s.minFreq {
		return 0
	}
	state := int(math.Round(1200.0 * math.Log2(freq/s.minFreq) / s.centsPerState))
	if state >= s.numStates {
		return s.numStates - 1
	}
	return state
}
