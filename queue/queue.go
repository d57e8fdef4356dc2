// Package queue implements the hybrid in-memory/on-disk message buffer
// shared by topics and channels: a bounded memory channel absorbs bursts
// cheaply, and once full, new messages spill to a backing diskqueue so a
// slow or disconnected consumer never causes publishers to block
// indefinitely or data to be dropped.
package queue

import (
	"sync"
	"time"

	"github.com/flowmq/flowmq/protocol"
)

// BackingQueue is the subset of *diskqueue.Queue that Queue depends on,
// so tests can substitute a fake.
type BackingQueue interface {
	Put([]byte) error
	Get() ([]byte, error)
	Depth() int64
	Close() error
	Delete() error
}

// Queue buffers *protocol.Message values in memory up to a bounded
// capacity, spilling overflow to disk. Reads always prefer the memory
// channel; a background pump keeps it topped up from disk so consumers
// never need to know which tier a message came from.
type Queue struct {
	memory chan *protocol.Message
	disk   BackingQueue

	pumpStop chan struct{}
	pumpDone chan struct{}
}

// New builds a Queue with the given memory capacity backed by disk.
func New(memCapacity int, disk BackingQueue) *Queue {
	q := &Queue{
		memory:   make(chan *protocol.Message, memCapacity),
		disk:     disk,
		pumpStop: make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go q.diskPump()
	return q
}

// Put enqueues m, preferring the memory channel and falling back to disk
// when it is full.
func (q *Queue) Put(m *protocol.Message) error {
	select {
	case q.memory <- m:
		return nil
	default:
	}
	return q.disk.Put(m.Encode())
}

// Chan exposes the memory channel so callers (e.g. a channel's delivery
// loop) can select across it alongside other readiness signals.
func (q *Queue) Chan() <-chan *protocol.Message {
	return q.memory
}

// Depth returns the total number of buffered messages, in memory and on
// disk combined.
func (q *Queue) Depth() int64 {
	return int64(len(q.memory)) + q.disk.Depth()
}

// diskPump moves messages from disk into the memory channel whenever
// there is room, so that a consumer reading only Chan() eventually sees
// everything that was ever spilled.
func (q *Queue) diskPump() {
	defer close(q.pumpDone)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if q.disk.Depth() == 0 {
			select {
			case <-q.pumpStop:
				return
			case <-ticker.C:
			}
			continue
		}
		raw, err := q.disk.Get()
		if err != nil {
			continue
		}
		m, err := protocol.DecodeMessage(raw)
		if err != nil {
			continue
		}
		select {
		case q.memory <- m:
		case <-q.pumpStop:
			return
		}
	}
}

// Close stops the disk pump and closes the backing disk queue, leaving
// any messages still sitting in the memory channel to be drained by
// whatever already holds a reference to Chan().
func (q *Queue) Close() error {
	close(q.pumpStop)
	<-q.pumpDone
	return q.disk.Close()
}

// Delete discards all buffered state, including the backing disk queue's
// files.
func (q *Queue) Delete() error {
	close(q.pumpStop)
	<-q.pumpDone
	return q.disk.Delete()
}

// DummyQueue is an ephemeral, memory-only queue used for ephemeral topics
// and channels: it never spills to disk, and silently discards messages
// once its buffer is full rather than blocking a publisher.
type DummyQueue struct {
	mu     sync.Mutex
	buf    chan *protocol.Message
	closed bool
}

// NewDummyQueue builds a DummyQueue with the given memory capacity.
func NewDummyQueue(capacity int) *DummyQueue {
	return &DummyQueue{buf: make(chan *protocol.Message, capacity)}
}

// Put enqueues m, discarding it if the buffer is full.
func (d *DummyQueue) Put(m *protocol.Message) error {
	select {
	case d.buf <- m:
	default:
		// overflow: ephemeral queues favor availability of publishers over
		// completeness of delivery.
	}
	return nil
}

// Chan exposes the memory channel.
func (d *DummyQueue) Chan() <-chan *protocol.Message {
	return d.buf
}

// Depth returns the number of buffered messages.
func (d *DummyQueue) Depth() int64 {
	return int64(len(d.buf))
}

// Close marks the queue closed. Buffered messages are dropped.
func (d *DummyQueue) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Delete is equivalent to Close for a DummyQueue; there is no disk state.
func (d *DummyQueue) Delete() error {
	return d.Close()
}
