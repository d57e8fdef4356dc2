// Package timer implements the periodic scan that drives two of a
// channel's scheduling duties: requeuing messages whose in-flight
// timeout has elapsed without a FIN/TOUCH, and releasing deferred
// (REQ'd-with-delay or DPUB'd) messages once their delay has passed.
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Entry is one scheduled item: an opaque key the owner uses to look up
// its own state, and the time at which it becomes due.
type Entry struct {
	Key     interface{}
	DueAt   time.Time
	index   int // heap bookkeeping
}

type entryHeap []*Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].DueAt.Before(h[j].DueAt) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x interface{}) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Wheel tracks two independent due-time heaps — in-flight deadlines and
// deferred-delivery times — and periodically scans both, invoking the
// owner's callbacks for anything that has come due. The name echoes the
// classic timing-wheel structure even though this implementation uses a
// min-heap; what matters to callers is the Tick cadence and the
// callback contract, not the internal data structure.
type Wheel struct {
	mu sync.Mutex

	inFlight entryHeap
	deferred entryHeap
	byKey    map[interface{}]*Entry // in-flight lookup, for Touch/Remove

	onInFlightExpired func(key interface{})
	onDeferredReady    func(key interface{})

	stop chan struct{}
	done chan struct{}
}

// New builds a Wheel. onInFlightExpired is called (outside any internal
// lock) for each in-flight entry whose deadline has passed;
// onDeferredReady is called for each deferred entry whose time has come.
func New(onInFlightExpired, onDeferredReady func(key interface{})) *Wheel {
	w := &Wheel{
		byKey:             make(map[interface{}]*Entry),
		onInFlightExpired: onInFlightExpired,
		onDeferredReady:   onDeferredReady,
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
	heap.Init(&w.inFlight)
	heap.Init(&w.deferred)
	return w
}

// AddInFlight schedules key to expire at dueAt unless Touch or
// RemoveInFlight is called first.
func (w *Wheel) AddInFlight(key interface{}, dueAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := &Entry{Key: key, DueAt: dueAt}
	heap.Push(&w.inFlight, e)
	w.byKey[key] = e
}

// Touch updates key's in-flight deadline to dueAt without changing its
// position in any attempt-count bookkeeping the caller maintains
// separately.
func (w *Wheel) Touch(key interface{}, dueAt time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.byKey[key]
	if !ok {
		return false
	}
	e.DueAt = dueAt
	heap.Fix(&w.inFlight, e.index)
	return true
}

// RemoveInFlight cancels key's in-flight timeout, e.g. because FIN
// arrived before the deadline.
func (w *Wheel) RemoveInFlight(key interface{}) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&w.inFlight, e.index)
	delete(w.byKey, key)
	return true
}

// AddDeferred schedules key to become ready at dueAt.
func (w *Wheel) AddDeferred(key interface{}, dueAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	heap.Push(&w.deferred, &Entry{Key: key, DueAt: dueAt})
}

// Start begins the periodic scan at the given tick interval, in a new
// goroutine. Call Stop to end it.
func (w *Wheel) Start(tick time.Duration) {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case now := <-ticker.C:
				w.scan(now)
			}
		}
	}()
}

// Stop ends the scan loop and waits for it to exit.
func (w *Wheel) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Wheel) scan(now time.Time) {
	var expired, ready []interface{}

	w.mu.Lock()
	for w.inFlight.Len() > 0 && !w.inFlight[0].DueAt.After(now) {
		e := heap.Pop(&w.inFlight).(*Entry)
		delete(w.byKey, e.Key)
		expired = append(expired, e.Key)
	}
	for w.deferred.Len() > 0 && !w.deferred[0].DueAt.After(now) {
		e := heap.Pop(&w.deferred).(*Entry)
		ready = append(ready, e.Key)
	}
	w.mu.Unlock()

	for _, key := range expired {
		if w.onInFlightExpired != nil {
			w.onInFlightExpired(key)
		}
	}
	for _, key := range ready {
		if w.onDeferredReady != nil {
			w.onDeferredReady(key)
		}
	}
}
