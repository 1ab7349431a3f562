package riglink

import (
	"errors"
	"sync"

	"github.com/w4sdr/rigmuxd/pkg/logging"
)

// Mode is an operating mode of the transceiver.
type Mode string

const (
	ModeUSB     Mode = "USB"
	ModeLSB     Mode = "LSB"
	ModeCW      Mode = "CW"
	ModeAM      Mode = "AM"
	ModeFM      Mode = "FM"
	ModeDigital Mode = "DIGITAL"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeUSB, ModeLSB, ModeCW, ModeAM, ModeFM, ModeDigital:
		return Mode(s), true
	}
	return "", false
}

// RadioState is a point-in-time snapshot of the transceiver. Components
// other than RigLink only ever see copies of this struct.
type RadioState struct {
	FrequencyHz  uint64  `json:"frequency_hz"`
	Mode         Mode    `json:"mode"`
	PowerWatts   float64 `json:"power_watts"`
	Transmitting bool    `json:"transmitting"`
}

// linkTimeoutRetries is the number of retries after a timed-out hardware
// transaction before the failure is surfaced. Rejected values and a closed
// link are never retried.
const linkTimeoutRetries = 2

// Observer is notified after each hardware transaction; used for metrics
// and the event log.
type Observer func(op string, err error)

// RigLink is the sole owner of the control channel to the transceiver.
// It serializes all hardware access behind a single critical section (the
// channel cannot interleave requests), retries timed-out transactions, and
// maintains the authoritative RadioState.
type RigLink struct {
	mu sync.Mutex // one in-flight hardware transaction at a time

	transport Transport
	observer  Observer

	stateMu sync.RWMutex
	state   RadioState
}

// New creates a RigLink over the given transport. observer may be nil.
func New(transport Transport, observer Observer) *RigLink {
	return &RigLink{transport: transport, observer: observer}
}

// Connect opens the underlying transport. A failed connect is not fatal:
// operations return ErrLinkUnavailable until the transport recovers.
func (l *RigLink) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transport.Open()
}

// Close closes the underlying transport.
func (l *RigLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transport.Close()
}

// Snapshot returns a copy of the last observed radio state.
func (l *RigLink) Snapshot() RadioState {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

// withRetry runs op, retrying on ErrLinkTimeout only. A re-issued set is
// safe: the device applies the same value again with no further effect.
func (l *RigLink) withRetry(name string, op func() error) error {
	var err error
	for attempt := 0; attempt <= linkTimeoutRetries; attempt++ {
		if attempt > 0 {
			logging.Debugf("riglink", "%s timed out, retry %d/%d", name, attempt, linkTimeoutRetries)
		}
		err = op()
		if !errors.Is(err, ErrLinkTimeout) {
			break
		}
	}
	if l.observer != nil {
		l.observer(name, err)
	}
	return err
}

// GetFrequency reads the current dial frequency from the rig.
func (l *RigLink) GetFrequency() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var hz uint64
	err := l.withRetry("get_freq", func() (e error) {
		hz, e = l.transport.GetFrequency()
		return
	})
	if err != nil {
		return 0, err
	}

	l.updateState(func(s *RadioState) { s.FrequencyHz = hz })
	return hz, nil
}

// SetFrequency tunes the rig. Idempotent: re-issuing the same value after a
// timeout has no additional effect.
func (l *RigLink) SetFrequency(hz uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.withRetry("set_freq", func() error {
		return l.transport.SetFrequency(hz)
	})
	if err != nil {
		return err
	}

	l.updateState(func(s *RadioState) { s.FrequencyHz = hz })
	return nil
}

// GetMode reads the current operating mode from the rig.
func (l *RigLink) GetMode() (Mode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var mode Mode
	err := l.withRetry("get_mode", func() (e error) {
		mode, e = l.transport.GetMode()
		return
	})
	if err != nil {
		return "", err
	}

	l.updateState(func(s *RadioState) { s.Mode = mode })
	return mode, nil
}

// SetMode switches the rig's operating mode.
func (l *RigLink) SetMode(mode Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.withRetry("set_mode", func() error {
		return l.transport.SetMode(mode)
	})
	if err != nil {
		return err
	}

	l.updateState(func(s *RadioState) { s.Mode = mode })
	return nil
}

// GetPower reads the transmit power level in watts. Status only.
func (l *RigLink) GetPower() (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var watts float64
	err := l.withRetry("get_power", func() (e error) {
		watts, e = l.transport.GetPower()
		return
	})
	if err != nil {
		return 0, err
	}

	l.updateState(func(s *RadioState) { s.PowerWatts = watts })
	return watts, nil
}

// AssertPTT keys the transmitter. Callers must hold a grant from the PTT
// arbiter; nothing above the arbiter may call this directly.
func (l *RigLink) AssertPTT() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.withRetry("set_ptt_on", func() error {
		return l.transport.SetPTT(true)
	})
	if err != nil {
		return err
	}

	l.updateState(func(s *RadioState) { s.Transmitting = true })
	return nil
}

// ReleasePTT unkeys the transmitter. Same access rule as AssertPTT.
func (l *RigLink) ReleasePTT() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.withRetry("set_ptt_off", func() error {
		return l.transport.SetPTT(false)
	})
	if err != nil {
		// The key may still be down. Record the intent anyway so the
		// arbiter keeps retrying release rather than believing TX.
		return err
	}

	l.updateState(func(s *RadioState) { s.Transmitting = false })
	return nil
}

func (l *RigLink) updateState(f func(*RadioState)) {
	l.stateMu.Lock()
	f(&l.state)
	l.stateMu.Unlock()
}
