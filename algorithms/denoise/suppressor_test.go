package denoise

import (
	"errors"
	"math"
	"testing"

	"github.com/RyanBlaney/sonido-pitch/algorithms/common"
)

const testFFTSize = 1024

// pseudoNoise produces a deterministic wideband signal from a linear
// congruential generator so tests are reproducible without a seed source.
func pseudoNoise(n int, seed uint64, amplitude float64) []float64 {
	out := make([]float64, n)
	state := seed
	for i := range out {
		state = state*6364136223846793005 + 1442695040888963407
		// Map the top bits to [-1, 1).
		out[i] = amplitude * (float64(state>>11)/float64(1<<53)*2.0 - 1.0)
	}
	return out
}

func sine(n int, freq, sampleRate, amplitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2.0*math.Pi*freq*float64(i)/sampleRate)
	}
	return out
}

func TestCalibrationLifecycle(t *testing.T) {
	s, err := New(testFFTSize, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("initial state = %s, want idle", s.State())
	}

	s.StartCalibration()
	if s.State() != StateCalibrating {
		t.Fatalf("state after start = %s, want calibrating", s.State())
	}

	out := make([]float64, testFFTSize)
	for i := 0; i < 4; i++ {
		in := pseudoNoise(testFFTSize, uint64(i+1), 0.1)
		if err := s.Process(in, out); err != nil {
			t.Fatalf("Process frame %d: %v", i, err)
		}
		// Calibration frames pass through untouched.
		for j := range in {
			if out[j] != in[j] {
				t.Fatalf("calibration frame %d modified at sample %d", i, j)
			}
		}
	}

	if s.State() != StateCalibrated {
		t.Fatalf("state after %d frames = %s, want calibrated", 4, s.State())
	}
	if got := s.Progress(); got != 1.0 {
		t.Fatalf("Progress = %v, want 1", got)
	}
	if s.Profile() == nil {
		t.Fatal("Profile returned nil after calibration")
	}
}

func TestFinishWithoutFrames(t *testing.T) {
	s, err := New(testFFTSize, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.StartCalibration()
	if err := s.FinishCalibration(); !errors.Is(err, ErrNoCalibrationFrames) {
		t.Fatalf("FinishCalibration = %v, want ErrNoCalibrationFrames", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("state after failed finish = %s, want idle", s.State())
	}
}

func TestSubtractionReducesNoise(t *testing.T) {
	s, err := New(testFFTSize, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out := make([]float64, testFFTSize)
	s.StartCalibration()
	for i := 0; i < 8; i++ {
		if err := s.Process(pseudoNoise(testFFTSize, uint64(i+1), 0.1), out); err != nil {
			t.Fatalf("calibration frame %d: %v", i, err)
		}
	}
	if s.State() != StateCalibrated {
		t.Fatalf("state = %s, want calibrated", s.State())
	}

	// Noisy tone: same noise statistics as the profile plus a sine.
	tone := sine(testFFTSize, 440, 48000, 0.5)
	noisy := pseudoNoise(testFFTSize, 99, 0.1)
	for i := range noisy {
		noisy[i] += tone[i]
	}

	cleaned := make([]float64, testFFTSize)
	if err := s.Process(noisy, cleaned); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Residual against the clean tone should shrink.
	residual := func(x []float64) float64 {
		diff := make([]float64, len(x))
		for i := range x {
			diff[i] = x[i] - tone[i]
		}
		return common.RMS(diff)
	}
	if before, after := residual(noisy), residual(cleaned); after >= before {
		t.Fatalf("residual RMS %v not reduced from %v", after, before)
	}
}

func TestBypassCopiesThrough(t *testing.T) {
	s, err := New(testFFTSize, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out := make([]float64, testFFTSize)
	s.StartCalibration()
	for i := 0; i < 2; i++ {
		if err := s.Process(pseudoNoise(testFFTSize, uint64(i+1), 0.1), out); err != nil {
			t.Fatalf("calibration frame %d: %v", i, err)
		}
	}

	s.SetBypass(true)
	if !s.Bypassed() {
		t.Fatal("Bypassed = false after SetBypass(true)")
	}

	in := pseudoNoise(testFFTSize, 7, 0.1)
	if err := s.Process(in, out); err != nil {
		t.Fatalf("Process: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("bypassed frame modified at sample %d", i)
		}
	}
}

func TestSetProfileValidation(t *testing.T) {
	s, err := New(testFFTSize, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.SetProfile(make([]float64, 10)); err == nil {
		t.Fatal("SetProfile accepted wrong length")
	}
	if err := s.SetProfile(make([]float64, testFFTSize/2+1)); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	if s.State() != StateCalibrated {
		t.Fatalf("state after SetProfile = %s, want calibrated", s.State())
	}
}

func TestResetDiscardsProfile(t *testing.T) {
	s, err := New(testFFTSize, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SetProfile(make([]float64, testFFTSize/2+1)); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}

	s.Reset()
	if s.State() != StateIdle {
		t.Fatalf("state after Reset = %s, want idle", s.State())
	}
	if s.Profile() != nil {
		t.Fatal("Profile should be nil after Reset")
	}
}

func TestParameterValidation(t *testing.T) {
	s, err := New(testFFTSize, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.SetOversubtraction(-1); err == nil {
		t.Fatal("negative oversubtraction accepted")
	}
	if err := s.SetSpectralFloor(1.5); err == nil {
		t.Fatal("spectral floor above 1 accepted")
	}
	if err := s.SetOversubtraction(2.0); err != nil {
		t.Fatalf("SetOversubtraction: %v", err)
	}
	if err := s.SetSpectralFloor(0.1); err != nil {
		t.Fatalf("SetSpectralFloor: %v", err)
	}

	if _, err := New(1000, 2); err == nil {
		t.Fatal("non power of two size accepted")
	}
	if _, err := New(testFFTSize, 0); err == nil {
		t.Fatal("zero calibration frames accepted")
	}
}
