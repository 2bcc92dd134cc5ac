package tracking

import (
	"math"
	"testing"
)

func centsBetween(a, b float64) float64 {
	return math.Abs(1200.0 * math.Log2(a/b))
}

func TestStateSpaceRoundTrip(t *testing.T) {
	space, err := NewStateSpace(50, 2000, 10)
	if err != nil {
		t.Fatalf("NewStateSpace: %v", err)
	}

	for _, freq := range []float64{55, 110, 220, 440, 880, 1760} {
		state := space.FreqToState(freq)
		back := space.StateToFreq(state)
		if centsBetween(back, freq) > 5.001 {
			t.Errorf("round trip %v -> %d -> %v off by %v cents", freq, state, back, centsBetween(back, freq))
		}
	}

	// Out-of-range frequencies clamp to the grid.
	if space.FreqToState(10) != 0 {
		t.Fatal("below-range frequency should clamp to state 0")
	}
	if space.FreqToState(10000) != space.NumStates()-1 {
		t.Fatal("above-range frequency should clamp to the last state")
	}
}

func TestStateSpaceValidation(t *testing.T) {
	if _, err := NewStateSpace(0, 2000, 10); err == nil {
		t.Fatal("zero min accepted")
	}
	if _, err := NewStateSpace(2000, 50, 10); err == nil {
		t.Fatal("inverted range accepted")
	}
	if _, err := NewStateSpace(50, 2000, 0); err == nil {
		t.Fatal("zero spacing accepted")
	}
}

func TestDecoderConvergesOnSteadyTone(t *testing.T) {
	d, err := NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	obs := Observation{Frequency: 440, Confidence: 0.9}
	var last float64
	for i := 0; i < 30; i++ {
		last = d.ProcessFrame(obs)
	}

	if centsBetween(last, 440) > 1.0 {
		t.Fatalf("converged to %v, %v cents from 440", last, centsBetween(last, 440))
	}

	// Output is stable once converged.
	next := d.ProcessFrame(obs)
	if centsBetween(next, last) > 0.1 {
		t.Fatalf("output drifted from %v to %v on a steady tone", last, next)
	}
}

func TestDecoderResistsAlternatingJumps(t *testing.T) {
	params := DefaultParams()
	params.MaxTransitionCents = 80
	d, err := NewDecoderWithParams(params)
	if err != nil {
		t.Fatalf("NewDecoderWithParams: %v", err)
	}

	// 440 and 466.16 are 100 cents apart, beyond the 80-cent transition
	// limit, so the trajectory must move gradually rather than flapping.
	a := Observation{Frequency: 440, Confidence: 0.9}
	b := Observation{Frequency: 466.16, Confidence: 0.9}

	prev := d.ProcessFrame(a)
	for i := 0; i < 40; i++ {
		obs := a
		if i%2 == 1 {
			obs = b
		}
		cur := d.ProcessFrame(obs)
		if jump := centsBetween(cur, prev); jump > 60 {
			t.Fatalf("frame %d: output jumped %v cents", i, jump)
		}
		// Output stays inside the band spanned by the two notes.
		if cur < 420 || cur > 490 {
			t.Fatalf("frame %d: output %v left the plausible band", i, cur)
		}
		prev = cur
	}
}

func TestDecoderHoldsThroughDropouts(t *testing.T) {
	d, err := NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	obs := Observation{Frequency: 330, Confidence: 0.9}
	var held float64
	for i := 0; i < 10; i++ {
		held = d.ProcessFrame(obs)
	}

	// Low-confidence and zero-frequency observations hold the output.
	for _, bad := range []Observation{
		{Frequency: 330, Confidence: 0.05},
		{Frequency: 0, Confidence: 0.9},
		{Frequency: -1, Confidence: 0.9},
	} {
		if got := d.ProcessFrame(bad); got != held {
			t.Fatalf("invalid observation moved output from %v to %v", held, got)
		}
	}

	// The trajectory resumes from where it held.
	resumed := d.ProcessFrame(obs)
	if centsBetween(resumed, held) > 10 {
		t.Fatalf("resume jumped from %v to %v", held, resumed)
	}
}

func TestDecoderReacquiresAfterLargeShift(t *testing.T) {
	d, err := NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	low := Observation{Frequency: 220, Confidence: 0.9}
	for i := 0; i < 10; i++ {
		d.ProcessFrame(low)
	}

	// Three octaves up, far beyond any allowed transition. Confident
	// observations with no posterior support trigger a reseed.
	high := Observation{Frequency: 1760, Confidence: 0.9}
	var got float64
	for i := 0; i < 6; i++ {
		got = d.ProcessFrame(high)
	}
	if centsBetween(got, 1760) > 10 {
		t.Fatalf("decoder stuck at %v, want reacquisition near 1760", got)
	}
}

func TestDecoderCandidatesInfluence(t *testing.T) {
	d, err := NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	// A weak primary with a strong candidate nearby should land between
	// them rather than ignoring the candidate.
	primary := Observation{Frequency: 440, Confidence: 0.3}
	cand := Observation{Frequency: 452, Confidence: 0.9}

	d.ProcessFrame(primary, cand)
	var last float64
	for i := 0; i < 20; i++ {
		last = d.ProcessFrame(primary, cand)
	}
	if last <= 438 || last >= 455 {
		t.Fatalf("fused output %v outside the span of its observations", last)
	}
}

func TestDecoderReset(t *testing.T) {
	d, err := NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	d.ProcessFrame(Observation{Frequency: 440, Confidence: 0.9})
	d.Reset()

	stats := d.Stats()
	if stats.Frames != 0 || stats.SmoothedFreq != 0 || stats.CurrentFreq != 0 {
		t.Fatalf("Stats after Reset = %+v, want zeroed", stats)
	}

	// The next valid observation reseeds cleanly.
	if got := d.ProcessFrame(Observation{Frequency: 880, Confidence: 0.9}); got != 880 {
		t.Fatalf("first frame after reset = %v, want 880", got)
	}
}

func TestDecoderParamValidation(t *testing.T) {
	bad := DefaultParams()
	bad.MaxTransitionCents = 10
	bad.FastPassageCents = 50
	if _, err := NewDecoderWithParams(bad); err == nil {
		t.Fatal("max transition below fast passage accepted")
	}

	bad = DefaultParams()
	bad.SmoothingFast = 1.5
	if _, err := NewDecoderWithParams(bad); err == nil {
		t.Fatal("smoothing weight above 1 accepted")
	}

	bad = DefaultParams()
	bad.ReacquireFrames = 0
	if _, err := NewDecoderWithParams(bad); err == nil {
		t.Fatal("zero reacquire frames accepted")
	}
}
