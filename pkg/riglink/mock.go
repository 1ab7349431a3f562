package riglink

import "sync"

// MockTransport implements Transport in memory, for tests and for running
// the daemon without hardware. Fault injection knobs simulate a closed
// link, a slow device, and device rejections.
type MockTransport struct {
	mu sync.Mutex

	open      bool
	frequency uint64
	mode      Mode
	power     float64
	ptt       bool

	// Fault injection
	timeoutsRemaining int
	rejectNext        bool

	// Call counters for assertions
	SetFrequencyCalls int
	SetPTTCalls       int
}

// NewMockTransport returns a mock tuned to the 20m FT8 frequency.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		frequency: 14074000,
		mode:      ModeUSB,
		power:     20.0,
	}
}

func (m *MockTransport) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// FailTimeouts makes the next n transactions time out.
func (m *MockTransport) FailTimeouts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeoutsRemaining = n
}

// RejectNext makes the next transaction fail as device-rejected.
func (m *MockTransport) RejectNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = true
}

// PTT reports the simulated key state.
func (m *MockTransport) PTT() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ptt
}

// Frequency reports the simulated dial frequency.
func (m *MockTransport) Frequency() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frequency
}

// Tune changes the simulated dial directly, as if the operator turned the
// knob on the front panel.
func (m *MockTransport) Tune(hz uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frequency = hz
}

// checkFaults must be called with the lock held.
func (m *MockTransport) checkFaults() error {
	if !m.open {
		return ErrLinkUnavailable
	}
	if m.timeoutsRemaining > 0 {
		m.timeoutsRemaining--
		return ErrLinkTimeout
	}
	if m.rejectNext {
		m.rejectNext = false
		return ErrRejected
	}
	return nil
}

func (m *MockTransport) GetFrequency() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFaults(); err != nil {
		return 0, err
	}
	return m.frequency, nil
}

func (m *MockTransport) SetFrequency(hz uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetFrequencyCalls++
	if err := m.checkFaults(); err != nil {
		return err
	}
	m.frequency = hz
	return nil
}

func (m *MockTransport) GetMode() (Mode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFaults(); err != nil {
		return "", err
	}
	return m.mode, nil
}

func (m *MockTransport) SetMode(mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFaults(); err != nil {
		return err
	}
	m.mode = mode
	return nil
}

func (m *MockTransport) GetPower() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFaults(); err != nil {
		return 0, err
	}
	return m.power, nil
}

func (m *MockTransport) SetPTT(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetPTTCalls++
	if err := m.checkFaults(); err != nil {
		return err
	}
	m.ptt = on
	return nil
}
