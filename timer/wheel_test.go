package timer

import (
	"sync"
	"testing"
	"time"
)

func TestInFlightExpiry(t *testing.T) {
	var mu sync.Mutex
	var expired []interface{}

	w := New(func(key interface{}) {
		mu.Lock()
		expired = append(expired, key)
		mu.Unlock()
	}, nil)
	w.Start(10 * time.Millisecond)
	defer w.Stop()

	w.AddInFlight("a", time.Now().Add(20*time.Millisecond))

	deadline := time.After(1 * time.Second)
	for {
		mu.Lock()
		n := len(expired)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for in-flight expiry")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTouchExtendsDeadline(t *testing.T) {
	var mu sync.Mutex
	var expired []interface{}

	w := New(func(key interface{}) {
		mu.Lock()
		expired = append(expired, key)
		mu.Unlock()
	}, nil)
	w.Start(10 * time.Millisecond)
	defer w.Stop()

	w.AddInFlight("a", time.Now().Add(30*time.Millisecond))
	time.Sleep(15 * time.Millisecond)
	if !w.Touch("a", time.Now().Add(200*time.Millisecond)) {
		t.Fatal("Touch returned false for known key")
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	n := len(expired)
	mu.Unlock()
	if n != 0 {
		t.Fatalf("expired %d entries, want 0 (touch should have extended deadline)", n)
	}
}

func TestRemoveInFlightCancelsExpiry(t *testing.T) {
	var mu sync.Mutex
	var expired []interface{}

	w := New(func(key interface{}) {
		mu.Lock()
		expired = append(expired, key)
		mu.Unlock()
	}, nil)
	w.Start(10 * time.Millisecond)
	defer w.Stop()

	w.AddInFlight("a", time.Now().Add(20*time.Millisecond))
	if !w.RemoveInFlight("a") {
		t.Fatal("RemoveInFlight returned false for known key")
	}

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	n := len(expired)
	mu.Unlock()
	if n != 0 {
		t.Fatalf("expired %d entries, want 0 (removed entry should not fire)", n)
	}
}

func TestDeferredBecomesReady(t *testing.T) {
	var mu sync.Mutex
	var ready []interface{}

	w := New(nil, func(key interface{}) {
		mu.Lock()
		ready = append(ready, key)
		mu.Unlock()
	})
	w.Start(10 * time.Millisecond)
	defer w.Stop()

	w.AddDeferred("delayed-msg", time.Now().Add(20*time.Millisecond))

	deadline := time.After(1 * time.Second)
	for {
		mu.Lock()
		n := len(ready)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for deferred readiness")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
