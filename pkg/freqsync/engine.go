package freqsync

import (
	"sync"
	"time"

	"github.com/w4sdr/rigmuxd/pkg/logging"
	"github.com/w4sdr/rigmuxd/pkg/riglink"
)

// Origin records which side most recently initiated a frequency change
// that is still in flight. It is the tie-break that keeps two polling
// loops from ping-ponging updates at each other: the side that did not
// just receive a push from us is the one allowed to initiate the next one.
type Origin int

const (
	OriginNone Origin = iota
	OriginFromRig
	OriginFromDisplay
)

func (o Origin) String() string {
	switch o {
	case OriginFromRig:
		return "FROM_RIG"
	case OriginFromDisplay:
		return "FROM_DISPLAY"
	default:
		return "NONE"
	}
}

// Push directions reported to the observer.
const (
	PushRigToDisplay = "rig_to_display"
	PushDisplayToRig = "display_to_rig"
)

// Rig is the subset of RigLink the engine needs.
type Rig interface {
	GetFrequency() (uint64, error)
	SetFrequency(hz uint64) error
	GetMode() (riglink.Mode, error)
}

// Display is the passive display endpoint.
type Display interface {
	GetFrequency() (uint64, error)
	SetFrequency(hz uint64) error
	SetMode(mode riglink.Mode) error
}

// Params are the engine's tunables, reloadable at runtime.
type Params struct {
	Interval     time.Duration
	DeadbandHz   uint64
	SettleWindow time.Duration
}

// Status is a snapshot of the engine for the web API.
type Status struct {
	Origin          string `json:"origin"`
	RigDegraded     bool   `json:"rig_degraded"`
	DisplayDegraded bool   `json:"display_degraded"`
	DisplayFreqHz   uint64 `json:"display_frequency_hz"`
}

// Engine keeps the rig and the display's tuned frequency and mode
// consistent in both directions without inducing oscillation.
type Engine struct {
	rig     Rig
	display Display
	onPush  func(direction string, hz uint64)

	mu     sync.Mutex
	params Params

	origin      Origin
	originSetAt time.Time

	lastDisplayFreq     uint64
	haveDisplayFreq     bool
	lastPushedToDisplay uint64
	lastPushedMode      riglink.Mode

	rigDegraded     bool
	displayDegraded bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a sync engine. onPush may be nil.
func New(rig Rig, display Display, params Params, onPush func(direction string, hz uint64)) *Engine {
	if params.Interval <= 0 {
		params.Interval = 500 * time.Millisecond
	}
	if params.DeadbandHz == 0 {
		params.DeadbandHz = 100
	}
	if params.SettleWindow <= 0 {
		params.SettleWindow = 3 * time.Second
	}
	return &Engine{
		rig:     rig,
		display: display,
		params:  params,
		onPush:  onPush,
		stop:    make(chan struct{}),
	}
}

// ApplyParams updates the tunables; takes effect on the next tick.
func (e *Engine) ApplyParams(p Params) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p.Interval > 0 {
		e.params.Interval = p.Interval
	}
	if p.DeadbandHz > 0 {
		e.params.DeadbandHz = p.DeadbandHz
	}
	if p.SettleWindow > 0 {
		e.params.SettleWindow = p.SettleWindow
	}
}

// Start runs the periodic tick until Stop is called.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()
	logging.Info("freqsync", "frequency sync engine started")
}

// Stop halts the tick loop and waits for it to finish.
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
	logging.Info("freqsync", "frequency sync engine stopped")
}

// CurrentStatus reports the engine state for the web API.
func (e *Engine) CurrentStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Origin:          e.origin.String(),
		RigDegraded:     e.rigDegraded,
		DisplayDegraded: e.displayDegraded,
		DisplayFreqHz:   e.lastDisplayFreq,
	}
}

func (e *Engine) run() {
	defer e.wg.Done()

	timer := time.NewTimer(e.interval())
	defer timer.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-timer.C:
			e.tick()
			timer.Reset(e.interval())
		}
	}
}

func (e *Engine) interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.Interval
}

// tick performs one synchronization cycle.
func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()

	// A SyncOrigin stuck past the settle window means the echo from the
	// other side got lost; clear it so neither side is ignored forever.
	if e.origin != OriginNone && now.Sub(e.originSetAt) > e.params.SettleWindow {
		logging.Debugf("freqsync", "settle window expired, clearing origin %s", e.origin)
		e.origin = OriginNone
	}

	rigFreq, err := e.rig.GetFrequency()
	if err != nil {
		e.noteRigFault(err)
		// Keep polling the display so the operator still sees it and
		// a pending user tune is not lost when the rig recovers.
		e.display.GetFrequency()
		return
	}
	e.noteRigRecovered()

	rigMode, modeErr := e.rig.GetMode()

	dispFreq, err := e.display.GetFrequency()
	if err != nil {
		e.noteDisplayFault(err)
		return
	}
	e.noteDisplayRecovered()

	displayMoved := e.haveDisplayFreq && absDiff(dispFreq, e.lastDisplayFreq) > e.params.DeadbandHz
	delta := absDiff(rigFreq, dispFreq)

	freqPushed := false
	switch {
	case delta <= e.params.DeadbandHz:
		// In sync (within deadband); any in-flight change has echoed.
		e.origin = OriginNone

	case displayMoved && e.origin != OriginFromRig:
		// User tuned on the waterfall; follow with the rig.
		if err := e.rig.SetFrequency(dispFreq); err != nil {
			logging.Warnf("freqsync", "failed to push %d Hz to rig: %v", dispFreq, err)
		} else {
			logging.Infof("freqsync", "display -> rig: %.6f MHz", float64(dispFreq)/1e6)
			e.origin = OriginFromDisplay
			e.originSetAt = now
			freqPushed = true
			e.push(PushDisplayToRig, dispFreq)
		}

	case e.origin != OriginFromDisplay:
		// Rig moved (front panel or a bridge client); follow with the
		// display. Skip the re-push while our previous push for this
		// value is still settling.
		if e.origin == OriginFromRig && e.lastPushedToDisplay == rigFreq {
			break
		}
		if err := e.display.SetFrequency(rigFreq); err != nil {
			logging.Warnf("freqsync", "failed to push %d Hz to display: %v", rigFreq, err)
		} else {
			logging.Infof("freqsync", "rig -> display: %.6f MHz", float64(rigFreq)/1e6)
			e.origin = OriginFromRig
			e.originSetAt = now
			e.lastPushedToDisplay = rigFreq
			freqPushed = true
			e.push(PushRigToDisplay, rigFreq)
		}
	}

	e.lastDisplayFreq = dispFreq
	e.haveDisplayFreq = true

	// Mode is lower priority: some radios switch modes slowly, so never
	// issue a mode change back-to-back with a frequency change.
	if !freqPushed && modeErr == nil && rigMode != e.lastPushedMode {
		if err := e.display.SetMode(rigMode); err != nil {
			logging.Warnf("freqsync", "failed to push mode %s to display: %v", rigMode, err)
		} else {
			logging.Infof("freqsync", "rig -> display mode: %s", rigMode)
			e.lastPushedMode = rigMode
		}
	}
}

func (e *Engine) push(direction string, hz uint64) {
	if e.onPush != nil {
		e.onPush(direction, hz)
	}
}

func (e *Engine) noteRigFault(err error) {
	if !e.rigDegraded {
		logging.Warnf("freqsync", "rig unavailable, suspending rig sync: %v", err)
		e.rigDegraded = true
	}
}

func (e *Engine) noteRigRecovered() {
	if e.rigDegraded {
		logging.Info("freqsync", "rig recovered, resuming sync")
		e.rigDegraded = false
	}
}

func (e *Engine) noteDisplayFault(err error) {
	if !e.displayDegraded {
		logging.Warnf("freqsync", "display unavailable, suspending display sync: %v", err)
		e.displayDegraded = true
	}
}

func (e *Engine) noteDisplayRecovered() {
	if e.displayDegraded {
		logging.Info("freqsync", "display recovered, resuming sync")
		e.displayDegraded = false
	}
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
