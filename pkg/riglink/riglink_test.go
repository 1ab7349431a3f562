package riglink

import (
	"errors"
	"sync"
	"testing"
)

func newConnectedLink(t *testing.T) (*RigLink, *MockTransport) {
	t.Helper()
	mock := NewMockTransport()
	link := New(mock, nil)
	if err := link.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return link, mock
}

func TestGetFrequency(t *testing.T) {
	link, mock := newConnectedLink(t)
	mock.Tune(7074000)

	hz, err := link.GetFrequency()
	if err != nil {
		t.Fatalf("GetFrequency failed: %v", err)
	}
	if hz != 7074000 {
		t.Errorf("expected 7074000 Hz, got %d", hz)
	}

	if state := link.Snapshot(); state.FrequencyHz != 7074000 {
		t.Errorf("snapshot not updated: got %d", state.FrequencyHz)
	}
}

func TestSetFrequency(t *testing.T) {
	link, mock := newConnectedLink(t)

	if err := link.SetFrequency(14074000); err != nil {
		t.Fatalf("SetFrequency failed: %v", err)
	}
	if got := mock.Frequency(); got != 14074000 {
		t.Errorf("transport not tuned: got %d", got)
	}
	if state := link.Snapshot(); state.FrequencyHz != 14074000 {
		t.Errorf("snapshot not updated: got %d", state.FrequencyHz)
	}
}

func TestRetryOnTimeout(t *testing.T) {
	t.Run("RecoversWithinRetryLimit", func(t *testing.T) {
		link, mock := newConnectedLink(t)
		mock.FailTimeouts(2)

		if err := link.SetFrequency(7074000); err != nil {
			t.Fatalf("expected retries to recover, got %v", err)
		}
		if mock.SetFrequencyCalls != 3 {
			t.Errorf("expected 3 attempts, got %d", mock.SetFrequencyCalls)
		}
		if got := mock.Frequency(); got != 7074000 {
			t.Errorf("value not applied after retry: got %d", got)
		}
	})

	t.Run("ExhaustsRetries", func(t *testing.T) {
		link, mock := newConnectedLink(t)
		mock.FailTimeouts(3)

		err := link.SetFrequency(7074000)
		if !errors.Is(err, ErrLinkTimeout) {
			t.Fatalf("expected ErrLinkTimeout, got %v", err)
		}
		if mock.SetFrequencyCalls != 3 {
			t.Errorf("expected exactly 3 attempts, got %d", mock.SetFrequencyCalls)
		}
	})
}

func TestNoRetryOnRejected(t *testing.T) {
	link, mock := newConnectedLink(t)
	mock.RejectNext()

	err := link.SetFrequency(7074000)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if mock.SetFrequencyCalls != 1 {
		t.Errorf("rejected transaction must not be retried: %d attempts", mock.SetFrequencyCalls)
	}
}

func TestNoRetryOnUnavailable(t *testing.T) {
	mock := NewMockTransport()
	link := New(mock, nil)
	// Never connected: every operation fails fast with a single attempt.

	err := link.SetFrequency(7074000)
	if !errors.Is(err, ErrLinkUnavailable) {
		t.Fatalf("expected ErrLinkUnavailable, got %v", err)
	}
	if mock.SetFrequencyCalls != 1 {
		t.Errorf("unavailable link must not be retried: %d attempts", mock.SetFrequencyCalls)
	}
}

func TestObserverSeesOutcome(t *testing.T) {
	mock := NewMockTransport()

	var mu sync.Mutex
	var ops []string
	var errs []error
	link := New(mock, func(op string, err error) {
		mu.Lock()
		ops = append(ops, op)
		errs = append(errs, err)
		mu.Unlock()
	})
	if err := link.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	link.SetFrequency(7074000)
	mock.RejectNext()
	link.SetMode(ModeCW)

	mu.Lock()
	defer mu.Unlock()
	if len(ops) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(ops))
	}
	if ops[0] != "set_freq" || errs[0] != nil {
		t.Errorf("unexpected first observation: %s %v", ops[0], errs[0])
	}
	if ops[1] != "set_mode" || !errors.Is(errs[1], ErrRejected) {
		t.Errorf("unexpected second observation: %s %v", ops[1], errs[1])
	}
}

func TestPTTUpdatesSnapshot(t *testing.T) {
	link, mock := newConnectedLink(t)

	if err := link.AssertPTT(); err != nil {
		t.Fatalf("AssertPTT failed: %v", err)
	}
	if !mock.PTT() {
		t.Error("transport not keyed")
	}
	if !link.Snapshot().Transmitting {
		t.Error("snapshot should show transmitting")
	}

	if err := link.ReleasePTT(); err != nil {
		t.Fatalf("ReleasePTT failed: %v", err)
	}
	if mock.PTT() {
		t.Error("transport still keyed")
	}
	if link.Snapshot().Transmitting {
		t.Error("snapshot should show receiving")
	}
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"USB", "LSB", "CW", "AM", "FM", "DIGITAL"} {
		if _, ok := ParseMode(valid); !ok {
			t.Errorf("ParseMode(%q) should succeed", valid)
		}
	}
	for _, invalid := range []string{"usb", "SSB", "PKTUSB", ""} {
		if _, ok := ParseMode(invalid); ok {
			t.Errorf("ParseMode(%q) should fail", invalid)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	link, _ := newConnectedLink(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				link.SetFrequency(uint64(7000000 + n*1000 + j))
				link.GetFrequency()
				link.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	// The snapshot must equal the transport's final state: every
	// transaction updated both or neither.
	hz, err := link.GetFrequency()
	if err != nil {
		t.Fatalf("GetFrequency failed: %v", err)
	}
	if got := link.Snapshot().FrequencyHz; got != hz {
		t.Errorf("snapshot diverged from transport: %d != %d", got, hz)
	}
}
