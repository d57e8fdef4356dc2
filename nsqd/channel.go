package nsqd

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowmq/flowmq/diskqueue"
	"github.com/flowmq/flowmq/metrics"
	"github.com/flowmq/flowmq/protocol"
	"github.com/flowmq/flowmq/queue"
	"github.com/flowmq/flowmq/timer"
)

// ChannelState mirrors the lifecycle a channel moves through: accepting
// and delivering messages, paused (accepting but not delivering), or
// exiting (neither).
type ChannelState int32

const (
	ChannelActive ChannelState = iota
	ChannelPaused
	ChannelExiting
)

// inFlightRecord is what the timer wheel's key resolves to: enough to
// requeue the message and know which client held it.
type inFlightRecord struct {
	msg      *protocol.Message
	clientID string
	timeout  time.Duration
}

// Channel is one named, independent delivery queue hanging off a Topic.
// Every message the topic receives is copied into every one of its
// channels; within a channel, messages are load-balanced across
// whichever subscribed clients currently have RDY count available.
type Channel struct {
	name      string
	topicName string
	ephemeral bool

	log *zap.Logger

	backlog       *queue.Queue // nil when ephemeral
	dummy         *queue.DummyQueue
	clientMsgChan chan *protocol.Message

	wheel *timer.Wheel

	mu             sync.Mutex
	state          ChannelState
	clients        map[string]*Client
	inFlight       map[protocol.MessageID]*inFlightRecord
	deferred       map[protocol.MessageID]*protocol.Message
	timeoutCount   int64
	finishCount    int64
	requeueCount   int64
	messageCount   int64

	exitChan chan struct{}
}

func newChannel(topicName, name string, ephemeral bool, dataPath string, memQueueSize int, maxBytesPerFile int64, syncEvery int64, maxMsgSize int32, log *zap.Logger) (*Channel, error) {
	c := &Channel{
		name:          name,
		topicName:     topicName,
		ephemeral:     ephemeral,
		log:           log.With(zap.String("topic", topicName), zap.String("channel", name)),
		clientMsgChan: make(chan *protocol.Message),
		clients:       make(map[string]*Client),
		inFlight:      make(map[protocol.MessageID]*inFlightRecord),
		deferred:      make(map[protocol.MessageID]*protocol.Message),
		exitChan:      make(chan struct{}),
	}
	c.wheel = timer.New(c.onInFlightExpired, c.onDeferredReady)

	if ephemeral {
		c.dummy = queue.NewDummyQueue(memQueueSize)
	} else {
		dq, err := diskqueue.Open(diskqueue.Options{
			Name:            fmt.Sprintf("%s-%s", topicName, name),
			DataPath:        dataPath,
			MaxBytesPerFile: maxBytesPerFile,
			MinMsgSize:      1,
			MaxMsgSize:      maxMsgSize,
			SyncEvery:       syncEvery,
			Logger:          log,
		})
		if err != nil {
			return nil, fmt.Errorf("nsqd: open channel disk queue: %w", err)
		}
		c.backlog = queue.New(memQueueSize, dq)
	}

	c.wheel.Start(100 * time.Millisecond)
	go c.messagePump()
	return c, nil
}

func (c *Channel) sourceChan() <-chan *protocol.Message {
	if c.ephemeral {
		return c.dummy.Chan()
	}
	return c.backlog.Chan()
}

// messagePump forwards messages from the backing queue into
// clientMsgChan, where any currently-ready client goroutine may receive
// it. It halts delivery (but not acceptance) while paused.
func (c *Channel) messagePump() {
	for {
		c.mu.Lock()
		paused := c.state == ChannelPaused
		c.mu.Unlock()

		if paused {
			select {
			case <-c.exitChan:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		select {
		case m := <-c.sourceChan():
			select {
			case c.clientMsgChan <- m:
			case <-c.exitChan:
				return
			}
		case <-c.exitChan:
			return
		}
	}
}

// PutMessage enqueues a freshly-arrived message for delivery.
func (c *Channel) PutMessage(m *protocol.Message) error {
	c.mu.Lock()
	exiting := c.state == ChannelExiting
	c.mu.Unlock()
	if exiting {
		return fmt.Errorf("nsqd: channel %s is exiting", c.name)
	}
	if c.ephemeral {
		return c.dummy.Put(m)
	}
	return c.backlog.Put(m)
}

// PutMessageDeferred schedules m to become available for delivery after
// delay, used for REQ with a timeout and for DPUB.
func (c *Channel) PutMessageDeferred(m *protocol.Message, delay time.Duration) {
	c.mu.Lock()
	c.deferred[m.ID] = m
	c.mu.Unlock()
	c.wheel.AddDeferred(m.ID, time.Now().Add(delay))
}

func (c *Channel) onDeferredReady(key interface{}) {
	id := key.(protocol.MessageID)
	c.mu.Lock()
	m, ok := c.deferred[id]
	delete(c.deferred, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.PutMessage(m); err != nil {
		c.log.Warn("failed to requeue deferred message", zap.Error(err))
	}
}

// StartInFlight records that clientID now holds m, due back within
// timeout if not finished or touched first.
func (c *Channel) StartInFlight(clientID string, m *protocol.Message, timeout time.Duration) {
	c.mu.Lock()
	c.inFlight[m.ID] = &inFlightRecord{msg: m, clientID: clientID, timeout: timeout}
	c.mu.Unlock()
	c.wheel.AddInFlight(m.ID, time.Now().Add(timeout))
	metrics.InFlightCount.WithLabelValues(c.topicName, c.name).Inc()
}

// FinishMessage acknowledges successful processing of id by clientID.
func (c *Channel) FinishMessage(clientID string, id protocol.MessageID) error {
	c.mu.Lock()
	rec, ok := c.inFlight[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nsqd: message %s not in flight", id)
	}
	if rec.clientID != clientID {
		c.mu.Unlock()
		return fmt.Errorf("nsqd: message %s not owned by this client", id)
	}
	delete(c.inFlight, id)
	c.finishCount++
	c.messageCount++
	c.mu.Unlock()
	c.wheel.RemoveInFlight(id)
	metrics.MessagesDelivered.WithLabelValues(c.topicName, c.name).Inc()
	metrics.InFlightCount.WithLabelValues(c.topicName, c.name).Dec()
	return nil
}

// RequeueMessage returns id to the delivery queue, immediately if delay
// is zero or after delay otherwise. A zero-delay REQ is a redelivery and
// bumps the attempt count; a deferred REQ (delay > 0) is a scheduled
// retry the client asked for and leaves the attempt count untouched.
func (c *Channel) RequeueMessage(clientID string, id protocol.MessageID, delay time.Duration) error {
	c.mu.Lock()
	rec, ok := c.inFlight[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nsqd: message %s not in flight", id)
	}
	if rec.clientID != clientID {
		c.mu.Unlock()
		return fmt.Errorf("nsqd: message %s not owned by this client", id)
	}
	delete(c.inFlight, id)
	c.requeueCount++
	c.mu.Unlock()
	c.wheel.RemoveInFlight(id)
	metrics.MessagesRequeued.WithLabelValues(c.topicName, c.name, "client").Inc()
	metrics.InFlightCount.WithLabelValues(c.topicName, c.name).Dec()

	if delay <= 0 {
		rec.msg.Attempts++
		return c.PutMessage(rec.msg)
	}
	c.PutMessageDeferred(rec.msg, delay)
	return nil
}

// TouchMessage extends id's in-flight deadline without altering its
// attempt count.
func (c *Channel) TouchMessage(clientID string, id protocol.MessageID, timeout time.Duration) error {
	c.mu.Lock()
	rec, ok := c.inFlight[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nsqd: message %s not in flight", id)
	}
	if rec.clientID != clientID {
		c.mu.Unlock()
		return fmt.Errorf("nsqd: message %s not owned by this client", id)
	}
	c.mu.Unlock()
	c.wheel.Touch(id, time.Now().Add(timeout))
	return nil
}

// onInFlightExpired is invoked by the timer wheel when a message's
// in-flight deadline passes with no FIN or TOUCH. The message is
// requeued with its attempt count incremented.
func (c *Channel) onInFlightExpired(key interface{}) {
	id := key.(protocol.MessageID)
	c.mu.Lock()
	rec, ok := c.inFlight[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.inFlight, id)
	c.timeoutCount++
	c.mu.Unlock()
	metrics.MessagesRequeued.WithLabelValues(c.topicName, c.name, "timeout").Inc()
	metrics.InFlightCount.WithLabelValues(c.topicName, c.name).Dec()

	rec.msg.Attempts++
	if err := c.PutMessage(rec.msg); err != nil {
		c.log.Warn("failed to requeue timed-out message", zap.Error(err))
	}
}

// AddClient registers a subscribed client.
func (c *Channel) AddClient(cl *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[cl.id] = cl
	metrics.ConnectedClients.WithLabelValues(c.topicName, c.name).Inc()
}

// RemoveClient unregisters a client, e.g. on disconnect, and requeues
// anything it still held in flight.
func (c *Channel) RemoveClient(clientID string) {
	c.mu.Lock()
	if _, ok := c.clients[clientID]; ok {
		delete(c.clients, clientID)
		metrics.ConnectedClients.WithLabelValues(c.topicName, c.name).Dec()
	}
	var owned []*inFlightRecord
	for id, rec := range c.inFlight {
		if rec.clientID == clientID {
			owned = append(owned, rec)
			delete(c.inFlight, id)
		}
	}
	c.mu.Unlock()

	for _, rec := range owned {
		c.wheel.RemoveInFlight(rec.msg.ID)
		metrics.InFlightCount.WithLabelValues(c.topicName, c.name).Dec()
		if err := c.PutMessage(rec.msg); err != nil {
			c.log.Warn("failed to requeue message on client disconnect", zap.Error(err))
		}
	}
}

// Pause stops delivery while continuing to accept new messages.
func (c *Channel) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ChannelExiting {
		c.state = ChannelPaused
	}
}

// Unpause resumes delivery.
func (c *Channel) Unpause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ChannelPaused {
		c.state = ChannelActive
	}
}

// IsPaused reports whether delivery is currently stopped.
func (c *Channel) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == ChannelPaused
}

// Empty discards all buffered and deferred messages without affecting
// in-flight messages already handed to a client, and without
// unregistering the channel from the registry. Buffered messages are
// drained from the backlog's in-memory channel until it is momentarily
// empty; messages still held in the disk tier remain queued.
func (c *Channel) Empty() error {
	c.mu.Lock()
	c.deferred = make(map[protocol.MessageID]*protocol.Message)
	c.mu.Unlock()

	if c.ephemeral {
		for {
			select {
			case <-c.dummy.Chan():
			default:
				return nil
			}
		}
	}
	for c.backlog.Depth() > 0 {
		select {
		case <-c.backlog.Chan():
		default:
			return nil
		}
	}
	return nil
}

// Depth returns the number of messages currently buffered, excluding
// in-flight and deferred messages.
func (c *Channel) Depth() int64 {
	if c.ephemeral {
		return c.dummy.Depth()
	}
	return c.backlog.Depth()
}

// Stats is a point-in-time snapshot of channel counters for the HTTP
// stats surface.
type Stats struct {
	ChannelName  string `json:"channel_name"`
	Depth        int64  `json:"depth"`
	InFlightCount int   `json:"in_flight_count"`
	DeferredCount int   `json:"deferred_count"`
	MessageCount int64  `json:"message_count"`
	RequeueCount int64  `json:"requeue_count"`
	TimeoutCount int64  `json:"timeout_count"`
	ClientCount  int    `json:"client_count"`
	Paused       bool   `json:"paused"`
}

// StatsSnapshot returns a snapshot of this channel's counters.
func (c *Channel) StatsSnapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		ChannelName:   c.name,
		Depth:         c.Depth(),
		InFlightCount: len(c.inFlight),
		DeferredCount: len(c.deferred),
		MessageCount:  c.messageCount,
		RequeueCount:  c.requeueCount,
		TimeoutCount:  c.timeoutCount,
		ClientCount:   len(c.clients),
		Paused:        c.state == ChannelPaused,
	}
}

// Close stops delivery and the timer wheel and releases backing
// resources, without deleting them.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == ChannelExiting {
		c.mu.Unlock()
		return nil
	}
	c.state = ChannelExiting
	c.mu.Unlock()

	close(c.exitChan)
	c.wheel.Stop()

	if c.ephemeral {
		return c.dummy.Close()
	}
	return c.backlog.Close()
}

// Delete closes the channel and removes its backing disk state.
func (c *Channel) Delete() error {
	c.mu.Lock()
	if c.state != ChannelExiting {
		c.state = ChannelExiting
		c.mu.Unlock()
		close(c.exitChan)
		c.wheel.Stop()
	} else {
		c.mu.Unlock()
	}

	if c.ephemeral {
		return c.dummy.Delete()
	}
	return c.backlog.Delete()
}
