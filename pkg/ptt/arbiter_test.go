package ptt

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeKeyer records key transitions and supports fault injection.
type fakeKeyer struct {
	mu           sync.Mutex
	keyed        bool
	assertCalls  int
	releaseCalls int
	assertErr    error
	releaseErr   error
}

func (k *fakeKeyer) AssertPTT() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.assertCalls++
	if k.assertErr != nil {
		return k.assertErr
	}
	k.keyed = true
	return nil
}

func (k *fakeKeyer) ReleasePTT() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.releaseCalls++
	if k.releaseErr != nil {
		return k.releaseErr
	}
	k.keyed = false
	return nil
}

func (k *fakeKeyer) isKeyed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keyed
}

// eventRecorder collects arbiter events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func TestRequestRelease(t *testing.T) {
	keyer := &fakeKeyer{}
	rec := &eventRecorder{}
	a := NewArbiter(keyer, time.Minute, rec.record)

	if err := a.Request("wsjtx"); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if !keyer.isKeyed() {
		t.Error("transmitter should be keyed after grant")
	}
	if holder, held := a.Holder(); !held || holder != "wsjtx" {
		t.Errorf("unexpected holder: %q held=%v", holder, held)
	}

	// A second client is refused while the grant is outstanding.
	if err := a.Request("fldigi"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if !keyer.isKeyed() {
		t.Error("denied request must not disturb the key")
	}

	// A repeat request from the holder is a no-op success.
	if err := a.Request("wsjtx"); err != nil {
		t.Fatalf("holder re-request should succeed: %v", err)
	}
	if keyer.assertCalls != 1 {
		t.Errorf("re-request must not re-key: %d assert calls", keyer.assertCalls)
	}

	if err := a.Release("wsjtx"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if keyer.isKeyed() {
		t.Error("transmitter should be unkeyed after release")
	}

	// The waiting client can now take the key.
	if err := a.Request("fldigi"); err != nil {
		t.Fatalf("Request after release failed: %v", err)
	}

	want := []string{EventGranted, EventDenied, EventReleased, EventGranted}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestReleaseByNonHolder(t *testing.T) {
	keyer := &fakeKeyer{}
	a := NewArbiter(keyer, time.Minute, nil)

	if err := a.Request("wsjtx"); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if err := a.Release("fldigi"); !errors.Is(err, ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder, got %v", err)
	}
	if !keyer.isKeyed() {
		t.Error("grant must survive a non-holder release")
	}
}

func TestReleaseWithoutGrant(t *testing.T) {
	keyer := &fakeKeyer{}
	a := NewArbiter(keyer, time.Minute, nil)

	// Digital-mode apps unkey defensively on startup.
	if err := a.Release("wsjtx"); err != nil {
		t.Fatalf("release with no grant should be a no-op: %v", err)
	}
	if keyer.releaseCalls != 0 {
		t.Errorf("no-op release must not touch the keyer: %d calls", keyer.releaseCalls)
	}
}

func TestDeadlineForcesRelease(t *testing.T) {
	keyer := &fakeKeyer{}
	rec := &eventRecorder{}
	a := NewArbiter(keyer, 30*time.Millisecond, rec.record)

	if err := a.Request("wsjtx"); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for keyer.isKeyed() {
		select {
		case <-deadline:
			t.Fatal("deadline did not force a release")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, held := a.Holder(); held {
		t.Error("grant should be cleared after forced release")
	}

	types := rec.types()
	if len(types) != 2 || types[1] != EventTimedOutWarning {
		t.Errorf("expected TimedOutWarning event, got %v", types)
	}

	// The key is free again.
	if err := a.Request("fldigi"); err != nil {
		t.Fatalf("Request after forced release failed: %v", err)
	}
}

func TestStaleTimerIgnoresNewGrant(t *testing.T) {
	keyer := &fakeKeyer{}
	a := NewArbiter(keyer, 30*time.Millisecond, nil)

	if err := a.Request("wsjtx"); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if err := a.Release("wsjtx"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	a.SetTimeout(time.Minute)
	if err := a.Request("fldigi"); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	// Wait past the first grant's deadline. A stale timer firing now must
	// not revoke the second grant.
	time.Sleep(80 * time.Millisecond)
	if holder, held := a.Holder(); !held || holder != "fldigi" {
		t.Errorf("second grant lost to a stale timer: %q held=%v", holder, held)
	}
}

func TestRevokeHolder(t *testing.T) {
	keyer := &fakeKeyer{}
	rec := &eventRecorder{}
	a := NewArbiter(keyer, time.Minute, rec.record)

	if err := a.Request("wsjtx"); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	// Revoking a different client is a no-op.
	a.RevokeHolder("fldigi")
	if !keyer.isKeyed() {
		t.Error("revoke of non-holder must not unkey")
	}

	a.RevokeHolder("wsjtx")
	if keyer.isKeyed() {
		t.Error("transmitter should be unkeyed after revoke")
	}

	types := rec.types()
	if len(types) != 2 || types[1] != EventRevokedOnDisconnect {
		t.Errorf("expected RevokedOnDisconnect event, got %v", types)
	}
}

func TestGrantClearedWhenUnkeyFails(t *testing.T) {
	keyer := &fakeKeyer{}
	a := NewArbiter(keyer, time.Minute, nil)
	a.unkeyRetry = 10 * time.Millisecond

	if err := a.Request("wsjtx"); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	keyer.mu.Lock()
	keyer.releaseErr = errors.New("link down")
	keyer.mu.Unlock()

	a.ForceRelease()
	if _, held := a.Holder(); held {
		t.Error("grant must clear even when the unkey transaction fails")
	}
	if !keyer.isKeyed() {
		t.Fatal("transmitter should still be keyed while the unkey is failing")
	}

	// The link recovers; the retry loop must eventually unkey.
	keyer.mu.Lock()
	keyer.releaseErr = nil
	keyer.mu.Unlock()

	deadline := time.After(2 * time.Second)
	for keyer.isKeyed() {
		select {
		case <-deadline:
			t.Fatal("failed unkey was never retried")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestUnkeyRetryYieldsToNewGrant(t *testing.T) {
	keyer := &fakeKeyer{}
	a := NewArbiter(keyer, time.Minute, nil)
	a.unkeyRetry = 10 * time.Millisecond

	if err := a.Request("wsjtx"); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	keyer.mu.Lock()
	keyer.releaseErr = errors.New("link down")
	keyer.mu.Unlock()
	a.ForceRelease()

	// A new grant lands while the retry is pending. The retry must not
	// unkey the new holder.
	keyer.mu.Lock()
	keyer.releaseErr = nil
	keyer.mu.Unlock()
	if err := a.Request("fldigi"); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if !keyer.isKeyed() {
		t.Error("pending unkey retry keyed down the new holder")
	}

	if err := a.Release("fldigi"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if keyer.isKeyed() {
		t.Error("transmitter should be unkeyed after release")
	}
}

func TestKeyerFailureDeniesGrant(t *testing.T) {
	keyer := &fakeKeyer{assertErr: errors.New("link down")}
	a := NewArbiter(keyer, time.Minute, nil)

	if err := a.Request("wsjtx"); err == nil {
		t.Fatal("expected keyer failure to propagate")
	}
	if _, held := a.Holder(); held {
		t.Error("no grant may exist when keying failed")
	}
}

func TestConcurrentRequestsSingleGrant(t *testing.T) {
	keyer := &fakeKeyer{}
	a := NewArbiter(keyer, time.Minute, nil)

	const n = 20
	granted := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clientID := fmt.Sprintf("client-%d", i)
			if err := a.Request(clientID); err == nil {
				granted <- clientID
			}
		}(i)
	}
	wg.Wait()
	close(granted)

	var winners []string
	for id := range granted {
		winners = append(winners, id)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one grant, got %d: %v", len(winners), winners)
	}
	if holder, held := a.Holder(); !held || holder != winners[0] {
		t.Errorf("holder %q does not match winner %q", holder, winners[0])
	}
	if keyer.assertCalls != 1 {
		t.Errorf("expected a single keying transaction, got %d", keyer.assertCalls)
	}
}
