package riglink

import "errors"

// Failure taxonomy for hardware transactions. Transports must return
// exactly one of these (possibly wrapped) so callers can tell a dead
// channel from a slow device from a value the radio refused.
var (
	// ErrLinkUnavailable means the control channel is not open.
	// Recoverable by reconnect; never retried within a call.
	ErrLinkUnavailable = errors.New("rig link unavailable")

	// ErrLinkTimeout means the device did not answer within the bounded
	// window. Retried up to linkTimeoutRetries times inside RigLink.
	ErrLinkTimeout = errors.New("rig link timeout")

	// ErrRejected means the device explicitly refused the value.
	// Never retried; the value itself is at fault.
	ErrRejected = errors.New("value rejected by rig")
)

// Transport is the wire-level connection to the transceiver's command
// processor. Implementations must bound every call with a timeout and map
// failures onto the taxonomy above. They do not need to be goroutine-safe;
// RigLink guarantees a single in-flight transaction.
type Transport interface {
	Open() error
	Close() error

	GetFrequency() (uint64, error)
	SetFrequency(hz uint64) error

	GetMode() (Mode, error)
	SetMode(mode Mode) error

	GetPower() (float64, error)

	SetPTT(on bool) error
}
