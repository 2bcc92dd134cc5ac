package pitch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RyanBlaney/sonido-pitch/logging"
)

// CalibrationPhase labels a calibration status event.
type CalibrationPhase string

const (
	CalibrationCalibrating CalibrationPhase = "calibrating"
	CalibrationComplete    CalibrationPhase = "complete"
	CalibrationFailed      CalibrationPhase = "failed"
)

// CalibrationStatus reports noise calibration progress to subscribers.
type CalibrationStatus struct {
	Phase    CalibrationPhase `json:"phase"`
	Progress float64          `json:"progress"`
	// Profile is the learned noise magnitude spectrum, set only on
	// completion.
	Profile []float64 `json:"profile,omitempty"`
	// Reason explains a failed phase.
	Reason string `json:"reason,omitempty"`
}

// Token identifies a subscription for later removal.
type Token uint64

// FrameFunc receives every emitted pitch frame.
type FrameFunc func(UnifiedPitchFrame)

// StatusFunc receives calibration status events.
type StatusFunc func(CalibrationStatus)

type frameSub struct {
	token Token
	fn    FrameFunc
}

type statusSub struct {
	token Token
	fn    StatusFunc
}

// Dispatcher fans frames and status events out to subscribers. Subscriber
// lists are copy-on-write so dispatch, the hot path, takes no lock; a mutex
// serializes subscription changes only. A panicking subscriber is logged
// and does not disturb the others.
type Dispatcher struct {
	mu        sync.Mutex
	nextToken uint64
	logger    logging.Logger

	frameSubs  atomic.Pointer[[]frameSub]
	statusSubs atomic.Pointer[[]statusSub]
	latest     atomic.Pointer[UnifiedPitchFrame]
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		logger: logging.GetGlobalLogger().WithFields(logging.Fields{"component": "dispatcher"}),
	}
	empty := make([]frameSub, 0)
	d.frameSubs.Store(&empty)
	emptyStatus := make([]statusSub, 0)
	d.statusSubs.Store(&emptyStatus)
	return d
}

// Subscribe registers a frame callback. Callbacks run synchronously on the
// dispatching goroutine in subscription order.
func (d *Dispatcher) Subscribe(fn FrameFunc) Token {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextToken++
	token := Token(d.nextToken)

	old := *d.frameSubs.Load()
	subs := make([]frameSub, len(old)+1)
	copy(subs, old)
	subs[len(old)] = frameSub{token: token, fn: fn}
	d.frameSubs.Store(&subs)
	return token
}

// SubscribeStatus registers a calibration status callback.
func (d *Dispatcher) SubscribeStatus(fn StatusFunc) Token {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextToken++
	token := Token(d.nextToken)

	old := *d.statusSubs.Load()
	subs := make([]statusSub, len(old)+1)
	copy(subs, old)
	subs[len(old)] = statusSub{token: token, fn: fn}
	d.statusSubs.Store(&subs)
	return token
}

// Unsubscribe removes a subscription of either kind. Unknown tokens are a
// no-op.
func (d *Dispatcher) Unsubscribe(token Token) {
	d.mu.Lock()
	defer d.mu.Unlock()

	oldFrames := *d.frameSubs.Load()
	frames := make([]frameSub, 0, len(oldFrames))
	for _, s := range oldFrames {
		if s.token != token {
			frames = append(frames, s)
		}
	}
	d.frameSubs.Store(&frames)

	oldStatus := *d.statusSubs.Load()
	status := make([]statusSub, 0, len(oldStatus))
	for _, s := range oldStatus {
		if s.token != token {
			status = append(status, s)
		}
	}
	d.statusSubs.Store(&status)
}

// Dispatch delivers a frame to every frame subscriber and retains it as the
// latest frame.
func (d *Dispatcher) Dispatch(frame UnifiedPitchFrame) {
	d.latest.Store(&frame)
	for _, s := range *d.frameSubs.Load() {
		d.deliverFrame(s, frame)
	}
}

func (d *Dispatcher) deliverFrame(s frameSub, frame UnifiedPitchFrame) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(fmt.Errorf("%v", r), "frame subscriber panicked", logging.Fields{"token": uint64(s.token)})
		}
	}()
	s.fn(frame)
}

// DispatchStatus delivers a calibration status event to every status
// subscriber.
func (d *Dispatcher) DispatchStatus(status CalibrationStatus) {
	for _, s := range *d.statusSubs.Load() {
		d.deliverStatus(s, status)
	}
}

func (d *Dispatcher) deliverStatus(s statusSub, status CalibrationStatus) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(fmt.Errorf("%v", r), "status subscriber panicked", logging.Fields{"token": uint64(s.token)})
		}
	}()
	s.fn(status)
}

// Latest returns the most recently dispatched frame, or nil before the
// first dispatch. Safe to call from any goroutine.
func (d *Dispatcher) Latest() *UnifiedPitchFrame {
	return d.latest.Load()
}
