// Package pitch assembles the analysis chain into a real-time monophonic
// pitch tracking engine: noise suppression, constant-Q candidate detection,
// phase-vocoder refinement, inharmonicity correction, and Viterbi trajectory
// decoding, driven one sample block at a time.
package pitch

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/RyanBlaney/sonido-pitch/algorithms/common"
	"github.com/RyanBlaney/sonido-pitch/algorithms/cqt"
	"github.com/RyanBlaney/sonido-pitch/algorithms/denoise"
	"github.com/RyanBlaney/sonido-pitch/algorithms/inharmonic"
	"github.com/RyanBlaney/sonido-pitch/algorithms/tracking"
	"github.com/RyanBlaney/sonido-pitch/algorithms/vocoder"
	"github.com/RyanBlaney/sonido-pitch/logging"
)

// ErrInvalidBlock is returned by Submit when a block's length or sample
// rate doesn't match the engine configuration. The block is absorbed and an
// unvoiced frame is still emitted so downstream timing stays continuous.
var ErrInvalidBlock = errors.New("pitch: block does not match engine configuration")

// commandQueueSize bounds pending control commands. Commands beyond the
// bound are dropped with a warning rather than blocking the caller.
const commandQueueSize = 32

type commandKind int

const (
	cmdConfigure commandKind = iota
	cmdStartCalibration
	cmdReset
	cmdBypass
)

type command struct {
	kind   commandKind
	update ConfigUpdate
	bypass bool
}

// chain bundles the per-configuration analysis components so a
// reconfiguration can build a replacement atomically and keep the old chain
// on failure.
type chain struct {
	suppressor *denoise.Suppressor
	analyzer   *cqt.Analyzer
	refiner    *vocoder.Refiner
	corrector  *inharmonic.Corrector
	decoder    *tracking.Decoder

	ring    []float64
	scratch []float64
	clean   []float64

	// refinerLive records whether the previous block completed a
	// refinement pass. The refiner's phase history is only meaningful
	// across contiguous refined blocks, so any block that skips
	// refinement invalidates it.
	refinerLive bool
}

// Engine is the unified pitch tracker. Submit must be called from a single
// goroutine (the audio callback or its reader); all other methods are safe
// to call from any goroutine and take effect at the next Submit.
type Engine struct {
	cfgMu sync.RWMutex
	cfg   Config

	chain      *chain
	dispatcher *Dispatcher
	commands   chan command
	logger     logging.Logger
	stats      atomic.Pointer[tracking.Stats]

	calibrating bool
}

// NewEngine creates an engine with the default configuration.
func NewEngine() (*Engine, error) {
	return NewEngineWithConfig(DefaultConfig())
}

// NewEngineWithConfig creates an engine. The configuration is validated and
// the full analysis chain is allocated up front; Submit itself allocates
// only what its FFT backend requires.
func NewEngineWithConfig(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ch, err := buildChain(cfg)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		chain:      ch,
		dispatcher: NewDispatcher(),
		commands:   make(chan command, commandQueueSize),
		logger:     logging.GetGlobalLogger().WithFields(logging.Fields{"component": "pitch_engine"}),
	}, nil
}

func buildChain(cfg Config) (*chain, error) {
	suppressor, err := denoise.New(cfg.BlockSize, cfg.CalibrationFrames)
	if err != nil {
		return nil, err
	}
	if err := suppressor.SetOversubtraction(cfg.Oversubtraction); err != nil {
		return nil, err
	}
	if err := suppressor.SetSpectralFloor(cfg.SpectralFloor); err != nil {
		return nil, err
	}
	if cfg.NoiseProfile != nil {
		if err := suppressor.SetProfile(cfg.NoiseProfile); err != nil {
			return nil, err
		}
	}

	analyzer, err := cqt.NewAnalyzerWithParams(cqt.Params{
		SampleRate:    cfg.SampleRate,
		MinFreq:       cfg.MinFreq,
		MaxFreq:       cfg.MaxFreq,
		BinsPerOctave: cfg.BinsPerOctave,
		BufferSize:    cfg.AnalysisWindow,
	})
	if err != nil {
		return nil, err
	}

	// Kernels that don't fit the analysis window are dropped, raising the
	// floor the constant-Q stage can actually detect. A fundamental below
	// that floor resolves to one of its harmonics.
	if effMin := analyzer.MinAnalyzableFreq(); effMin > cfg.MinFreq*1.05 {
		logging.Warn("analysis window cannot resolve the full configured range; fundamentals below the effective floor will track a harmonic", logging.Fields{
			"min_freq":           cfg.MinFreq,
			"effective_min_freq": effMin,
			"analysis_window":    cfg.AnalysisWindow,
		})
	}

	refiner, err := vocoder.New(cfg.BlockSize, cfg.BlockSize, cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	corrector, err := inharmonic.NewCorrector(cfg.Instrument)
	if err != nil {
		return nil, err
	}

	params := tracking.DefaultParams()
	params.MinFreq = cfg.MinFreq
	params.MaxFreq = cfg.MaxFreq
	params.CentsPerState = cfg.CentsPerState
	decoder, err := tracking.NewDecoderWithParams(params)
	if err != nil {
		return nil, err
	}

	return &chain{
		suppressor: suppressor,
		analyzer:   analyzer,
		refiner:    refiner,
		corrector:  corrector,
		decoder:    decoder,
		ring:       make([]float64, cfg.AnalysisWindow),
		scratch:    make([]float64, cfg.BlockSize),
		clean:      make([]float64, cfg.BlockSize),
	}, nil
}

// Subscribe registers a callback for every emitted frame. Callbacks run on
// the Submit goroutine; slow subscribers stall the audio path.
func (e *Engine) Subscribe(fn FrameFunc) Token {
	return e.dispatcher.Subscribe(fn)
}

// SubscribeStatus registers a callback for calibration status events.
func (e *Engine) SubscribeStatus(fn StatusFunc) Token {
	return e.dispatcher.SubscribeStatus(fn)
}

// Unsubscribe removes a subscription.
func (e *Engine) Unsubscribe(token Token) {
	e.dispatcher.Unsubscribe(token)
}

// Latest returns the most recent frame, or nil before the first Submit.
func (e *Engine) Latest() *UnifiedPitchFrame {
	return e.dispatcher.Latest()
}

// Config returns a snapshot of the active configuration.
func (e *Engine) Config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Configure queues a partial configuration change. Invalid updates are
// logged and discarded at the next Submit; the previous configuration stays
// active.
func (e *Engine) Configure(update ConfigUpdate) {
	e.enqueue(command{kind: cmdConfigure, update: update})
}

// StartCalibration queues the start of a noise calibration pass. The next
// CalibrationFrames blocks are treated as ambient noise.
func (e *Engine) StartCalibration() {
	e.enqueue(command{kind: cmdStartCalibration})
}

// Reset queues a full reset of the analysis state: trajectory, phase
// history, ring buffer, noise profile, and any calibration in progress.
func (e *Engine) Reset() {
	e.enqueue(command{kind: cmdReset})
}

// SetBypass queues toggling noise suppression bypass.
func (e *Engine) SetBypass(bypass bool) {
	e.enqueue(command{kind: cmdBypass, bypass: bypass})
}

func (e *Engine) enqueue(cmd command) {
	select {
	case e.commands <- cmd:
	default:
		e.logger.Warn("command queue full, dropping command", logging.Fields{"kind": int(cmd.kind)})
	}
}

// Submit processes one block and returns the emitted frame. Extra
// observations from host-side estimators are fused into the trajectory with
// reduced weight. Blocks that don't match the configuration are absorbed:
// an unvoiced frame is emitted and ErrInvalidBlock returned.
func (e *Engine) Submit(block SampleBlock, extra ...PitchObservation) (UnifiedPitchFrame, error) {
	e.drainCommands()

	cfg := e.Config()
	ch := e.chain

	if len(block.Samples) != cfg.BlockSize || block.SampleRate != cfg.SampleRate {
		e.logger.Warn("invalid block", logging.Fields{
			"samples":     len(block.Samples),
			"sample_rate": block.SampleRate,
		})
		frame := UnifiedPitchFrame{Timestamp: block.Timestamp}
		frame.Diagnostics.SuppressorState = ch.suppressor.State().String()
		e.dispatcher.Dispatch(frame)
		return frame, ErrInvalidBlock
	}

	for i, s := range block.Samples {
		ch.scratch[i] = float64(s)
	}
	rms := common.RMS(ch.scratch)

	wasCalibrating := ch.suppressor.State() == denoise.StateCalibrating
	if err := ch.suppressor.Process(ch.scratch, ch.clean); err != nil {
		e.logger.Error(err, "noise suppression failed, using raw block")
		copy(ch.clean, ch.scratch)
	}
	e.emitCalibrationStatus(wasCalibrating)

	// Slide the analysis window.
	copy(ch.ring, ch.ring[cfg.BlockSize:])
	copy(ch.ring[len(ch.ring)-cfg.BlockSize:], ch.clean)

	frame := UnifiedPitchFrame{
		RMS:       rms,
		Timestamp: block.Timestamp,
	}
	frame.Diagnostics.SuppressorState = ch.suppressor.State().String()

	peaks, err := ch.analyzer.Analyze(ch.ring)
	if err != nil {
		e.logger.Error(err, "constant-q analysis failed")
		peaks = nil
	}
	frame.Diagnostics.PeakCount = len(peaks)

	obs := tracking.Observation{Source: "cqt"}
	candidates := make([]tracking.Observation, 0, len(extra)+2)

	if len(peaks) > 0 {
		coarse := peaks[0]
		coarseConf := peakClarity(peaks)
		frame.Diagnostics.CoarseFrequency = coarse.Frequency
		frame.Diagnostics.CoarseConfidence = coarseConf

		obs.Frequency = coarse.Frequency
		obs.Confidence = coarseConf

		// Stale phase from before a voicing gap would corrupt the
		// instantaneous-frequency estimate; drop it so this block
		// falls back to parabolic interpolation.
		if !ch.refinerLive {
			ch.refiner.Reset()
		}

		if refined, err := ch.refiner.Refine(ch.clean, coarse.Frequency); err == nil {
			ch.refinerLive = true
			frame.Diagnostics.RefinedFrequency = refined.Frequency
			frame.PhaseVelocity = refined.PhaseVelocity
			if refined.Frequency > 0 {
				obs.Frequency = refined.Frequency
				obs.Confidence = 0.4*coarseConf + 0.6*refined.Confidence
				obs.Source = "vocoder"
			}
		} else {
			ch.refinerLive = false
			e.logger.Debug("refinement skipped", logging.Fields{"error": err.Error()})
		}

		corrected, cents := ch.corrector.Correct(obs.Frequency, obs.Confidence)
		obs.Frequency = corrected
		frame.InharmonicityCents = cents

		// Secondary constant-Q peaks guard against the primary locking
		// onto a harmonic.
		for _, p := range peaks[1:] {
			if len(candidates) >= 2 {
				break
			}
			candidates = append(candidates, tracking.Observation{
				Frequency:  p.Frequency,
				Confidence: 0.5 * coarseConf,
				Source:     "cqt_alt",
			})
		}
	} else {
		ch.refinerLive = false
	}

	for _, o := range extra {
		candidates = append(candidates, tracking.Observation{
			Frequency:  o.Frequency,
			Confidence: o.Confidence,
			Source:     o.Source,
		})
	}

	smoothed := ch.decoder.ProcessFrame(obs, candidates...)

	frame.Voiced = obs.Valid()
	frame.Frequency = smoothed
	frame.Confidence = obs.Confidence
	if smoothed > 0 {
		var cents float64
		frame.Note, frame.Octave, cents = noteFromFrequency(smoothed, cfg.A4)
		frame.Cents = int(math.Round(cents))
		frame.CentsFrac = math.Round(cents*10.0) / 10.0
	}

	e.dispatcher.Dispatch(frame)

	snapshot := ch.decoder.Stats()
	e.stats.Store(&snapshot)
	return frame, nil
}

// peakClarity rates the dominance of the strongest peak over the full
// candidate set.
func peakClarity(peaks []cqt.Peak) float64 {
	total := 0.0
	for _, p := range peaks {
		total += p.Magnitude
	}
	if total <= 0 {
		return 0
	}
	return common.Clamp(peaks[0].Magnitude/total, 0, 1)
}

func (e *Engine) emitCalibrationStatus(wasCalibrating bool) {
	if !e.calibrating {
		return
	}
	switch e.chain.suppressor.State() {
	case denoise.StateCalibrating:
		e.dispatcher.DispatchStatus(CalibrationStatus{
			Phase:    CalibrationCalibrating,
			Progress: e.chain.suppressor.Progress(),
		})
	case denoise.StateCalibrated:
		if wasCalibrating {
			e.calibrating = false
			e.logger.Info("noise calibration complete")
			e.dispatcher.DispatchStatus(CalibrationStatus{
				Phase:    CalibrationComplete,
				Progress: 1.0,
				Profile:  e.chain.suppressor.Profile(),
			})
		}
	case denoise.StateIdle:
		// Calibration ended without a profile.
		e.calibrating = false
		e.dispatcher.DispatchStatus(CalibrationStatus{
			Phase:  CalibrationFailed,
			Reason: "no calibration frames collected",
		})
	}
}

func (e *Engine) drainCommands() {
	for {
		select {
		case cmd := <-e.commands:
			e.handleCommand(cmd)
		default:
			return
		}
	}
}

func (e *Engine) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdConfigure:
		e.applyConfigure(cmd.update)

	case cmdStartCalibration:
		e.chain.suppressor.StartCalibration()
		e.calibrating = true
		e.logger.Info("noise calibration started", logging.Fields{
			"frames": e.Config().CalibrationFrames,
		})
		e.dispatcher.DispatchStatus(CalibrationStatus{Phase: CalibrationCalibrating, Progress: 0})

	case cmdReset:
		if e.calibrating {
			e.calibrating = false
			e.dispatcher.DispatchStatus(CalibrationStatus{
				Phase:  CalibrationFailed,
				Reason: "reset during calibration",
			})
		}
		e.chain.suppressor.Reset()
		e.chain.refiner.Reset()
		e.chain.refinerLive = false
		e.chain.decoder.Reset()
		for i := range e.chain.ring {
			e.chain.ring[i] = 0
		}
		e.logger.Info("engine reset")

	case cmdBypass:
		e.chain.suppressor.SetBypass(cmd.bypass)
		e.logger.Info("suppression bypass", logging.Fields{"bypass": cmd.bypass})
	}
}

func (e *Engine) applyConfigure(update ConfigUpdate) {
	old := e.Config()
	next, structural := update.apply(old)
	if err := next.Validate(); err != nil {
		e.logger.Error(err, "rejected configuration update")
		return
	}

	if structural {
		ch, err := buildChain(next)
		if err != nil {
			e.logger.Error(err, "failed to rebuild analysis chain, keeping previous configuration")
			return
		}
		e.chain = ch
		e.calibrating = false
	} else {
		if err := e.chain.suppressor.SetOversubtraction(next.Oversubtraction); err != nil {
			e.logger.Error(err, "rejected oversubtraction")
			return
		}
		if err := e.chain.suppressor.SetSpectralFloor(next.SpectralFloor); err != nil {
			e.logger.Error(err, "rejected spectral floor")
			return
		}
		if update.NoiseProfile != nil {
			if err := e.chain.suppressor.SetProfile(next.NoiseProfile); err != nil {
				e.logger.Error(err, "rejected noise profile")
				return
			}
		}
		if err := e.chain.corrector.SetInstrument(next.Instrument); err != nil {
			e.logger.Error(err, "rejected instrument")
			return
		}
	}

	e.cfgMu.Lock()
	e.cfg = next
	e.cfgMu.Unlock()
	e.logger.Info("configuration updated", logging.Fields{"structural": structural})
}

// Stats returns the trajectory decoder diagnostics captured at the end of
// the most recent Submit, or a zero value before the first block. Safe to
// call from any goroutine.
func (e *Engine) Stats() tracking.Stats {
	if s := e.stats.Load(); s != nil {
		return *s
	}
	return tracking.Stats{}
}

// Instruments returns the instrument names accepted by Config.Instrument.
func Instruments() []string {
	return inharmonic.Instruments()
}
