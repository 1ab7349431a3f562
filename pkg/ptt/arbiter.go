package ptt

import (
	"errors"
	"sync"
	"time"

	"github.com/w4sdr/rigmuxd/pkg/logging"
)

var (
	// ErrBusy means another client holds the transmit key. Transmit
	// requests are never queued on a half-duplex device; retry later.
	ErrBusy = errors.New("transmitter busy")

	// ErrNotHolder means a release was attempted by a client that does
	// not hold the grant.
	ErrNotHolder = errors.New("not the PTT holder")
)

// Event types emitted on grant transitions.
const (
	EventGranted             = "Granted"
	EventReleased            = "Released"
	EventTimedOutWarning     = "TimedOutWarning"
	EventRevokedOnDisconnect = "RevokedOnDisconnect"
	EventDenied              = "Denied"
)

// Event describes a grant transition for logging, metrics and the event
// store.
type Event struct {
	Type     string
	HolderID string
	At       time.Time
	Duration time.Duration
}

// Keyer is the low-level transmit key, satisfied by riglink.RigLink.
// Nothing else in the system may call these two methods.
type Keyer interface {
	AssertPTT() error
	ReleasePTT() error
}

// Grant is the single transmit-key authorization. At most one exists at
// any time.
type Grant struct {
	HolderID  string
	GrantedAt time.Time
	Deadline  time.Time
}

// unkeyRetryInterval is how often a failed unkey transaction is
// re-attempted until the transmitter is confirmed off.
const unkeyRetryInterval = 2 * time.Second

// Arbiter is the sole authority over the shared transmit key. It enforces
// mutual exclusion among requesters and a hard upper bound on transmit
// duration regardless of client behavior.
type Arbiter struct {
	mu      sync.Mutex
	keyer   Keyer
	timeout time.Duration
	onEvent func(Event)

	grant *Grant
	timer *time.Timer

	unkeyRetry time.Duration
	retryTimer *time.Timer
}

// NewArbiter creates an arbiter with the given transmit deadline.
// onEvent may be nil.
func NewArbiter(keyer Keyer, timeout time.Duration, onEvent func(Event)) *Arbiter {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Arbiter{
		keyer:      keyer,
		timeout:    timeout,
		onEvent:    onEvent,
		unkeyRetry: unkeyRetryInterval,
	}
}

// SetTimeout changes the deadline for future grants.
func (a *Arbiter) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	a.mu.Lock()
	a.timeout = d
	a.mu.Unlock()
}

// Request asks for the transmit key. On success the transmitter is keyed
// and a deadline timer is armed. A request while another client holds the
// key fails with ErrBusy; a repeat request from the current holder is a
// no-op success.
func (a *Arbiter) Request(clientID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.grant != nil {
		if a.grant.HolderID == clientID {
			return nil
		}
		a.emit(Event{Type: EventDenied, HolderID: clientID, At: time.Now()})
		return ErrBusy
	}

	if err := a.keyer.AssertPTT(); err != nil {
		return err
	}

	// Any pending unkey retry from a failed release now belongs to this
	// grant's eventual release.
	if a.retryTimer != nil {
		a.retryTimer.Stop()
		a.retryTimer = nil
	}

	now := time.Now()
	grant := &Grant{
		HolderID:  clientID,
		GrantedAt: now,
		Deadline:  now.Add(a.timeout),
	}
	a.grant = grant
	a.timer = time.AfterFunc(a.timeout, func() { a.expire(grant) })

	logging.Infof("ptt", "PTT granted to %s (deadline %s)", clientID, a.timeout)
	a.emit(Event{Type: EventGranted, HolderID: clientID, At: now})
	return nil
}

// Release returns the transmit key. Only the holder may release; a release
// with no grant outstanding is a no-op (digital-mode apps unkey defensively
// on startup).
func (a *Arbiter) Release(clientID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.grant == nil {
		return nil
	}
	if a.grant.HolderID != clientID {
		return ErrNotHolder
	}

	return a.releaseLocked(EventReleased)
}

// RevokeHolder force-releases the grant held by clientID, if any. Called
// when the holding client disconnects.
func (a *Arbiter) RevokeHolder(clientID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.grant == nil || a.grant.HolderID != clientID {
		return
	}

	logging.Warnf("ptt", "forced PTT release: holder %s disconnected", clientID)
	a.releaseLocked(EventRevokedOnDisconnect)
}

// ForceRelease unconditionally releases any grant. Used on shutdown so the
// radio is never left keyed.
func (a *Arbiter) ForceRelease() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.grant == nil {
		return
	}
	a.releaseLocked(EventReleased)
}

// Holder reports the current grant holder.
func (a *Arbiter) Holder() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grant == nil {
		return "", false
	}
	return a.grant.HolderID, true
}

// expire fires on the deadline timer. This is a safety property: a client
// that stops responding must not leave the radio keyed.
func (a *Arbiter) expire(grant *Grant) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// The grant may have been released and re-issued while the timer
	// callback was pending.
	if a.grant != grant {
		return
	}

	logging.Warnf("ptt", "PTT deadline exceeded by %s, forcing release", grant.HolderID)
	a.releaseLocked(EventTimedOutWarning)
}

// releaseLocked unkeys, clears the grant and emits an event. Caller holds
// the mutex.
func (a *Arbiter) releaseLocked(eventType string) error {
	grant := a.grant
	a.grant = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}

	err := a.keyer.ReleasePTT()
	if err != nil {
		// The grant is gone either way: keeping it would block every
		// future requester behind a dead holder. The unkey itself is
		// retried until the transmitter is confirmed off.
		logging.Errorf("ptt", "failed to unkey transmitter: %v", err)
		a.scheduleUnkeyRetryLocked()
	}

	duration := time.Since(grant.GrantedAt)
	logging.Infof("ptt", "PTT released by %s after %.1fs (%s)",
		grant.HolderID, duration.Seconds(), eventType)
	a.emit(Event{
		Type:     eventType,
		HolderID: grant.HolderID,
		At:       time.Now(),
		Duration: duration,
	})
	return err
}

// scheduleUnkeyRetryLocked arms the retry timer after a failed unkey.
// Caller holds the mutex.
func (a *Arbiter) scheduleUnkeyRetryLocked() {
	if a.retryTimer != nil {
		a.retryTimer.Stop()
	}
	a.retryTimer = time.AfterFunc(a.unkeyRetry, a.retryUnkey)
}

// retryUnkey re-attempts a failed unkey until it lands. A grant issued in
// the meantime takes over: its own release will unkey.
func (a *Arbiter) retryUnkey() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.retryTimer = nil
	if a.grant != nil {
		return
	}

	if err := a.keyer.ReleasePTT(); err != nil {
		logging.Warnf("ptt", "unkey retry failed: %v", err)
		a.scheduleUnkeyRetryLocked()
		return
	}
	logging.Info("ptt", "transmitter unkeyed after retry")
}

func (a *Arbiter) emit(ev Event) {
	if a.onEvent != nil {
		a.onEvent(ev)
	}
}
