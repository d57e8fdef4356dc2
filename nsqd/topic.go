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
)

// Topic fans every published message out to each of its channels. A
// topic created implicitly by SUB or explicitly by the HTTP API starts
// with no channels; messages published before the first channel exists
// are held in the topic's own backlog and fanned out to the channels
// that exist once the first one is created.
type Topic struct {
	name      string
	ephemeral bool

	log *zap.Logger

	backlog *queue.Queue
	dummy   *queue.DummyQueue

	mu       sync.Mutex
	channels map[string]*Channel
	paused   bool
	exiting  bool

	dataPath        string
	memQueueSize    int
	maxBytesPerFile int64
	syncEvery       int64
	maxMsgSize      int32

	exitChan chan struct{}

	messageCount int64
}

func newTopic(name string, ephemeral bool, dataPath string, memQueueSize int, maxBytesPerFile, syncEvery int64, maxMsgSize int32, log *zap.Logger) (*Topic, error) {
	t := &Topic{
		name:            name,
		ephemeral:       ephemeral,
		log:             log.With(zap.String("topic", name)),
		channels:        make(map[string]*Channel),
		dataPath:        dataPath,
		memQueueSize:    memQueueSize,
		maxBytesPerFile: maxBytesPerFile,
		syncEvery:       syncEvery,
		maxMsgSize:      maxMsgSize,
		exitChan:        make(chan struct{}),
	}

	if ephemeral {
		t.dummy = queue.NewDummyQueue(memQueueSize)
	} else {
		dq, err := diskqueue.Open(diskqueue.Options{
			Name:            name,
			DataPath:        dataPath,
			MaxBytesPerFile: maxBytesPerFile,
			MinMsgSize:      1,
			MaxMsgSize:      maxMsgSize,
			SyncEvery:       syncEvery,
			Logger:          log,
		})
		if err != nil {
			return nil, fmt.Errorf("nsqd: open topic disk queue: %w", err)
		}
		t.backlog = queue.New(memQueueSize, dq)
	}

	go t.messagePump()
	return t, nil
}

func (t *Topic) sourceChan() <-chan *protocol.Message {
	if t.ephemeral {
		return t.dummy.Chan()
	}
	return t.backlog.Chan()
}

// messagePump drains the topic's backlog and copies each message into
// every currently-registered channel. A channel that rejects a put (e.g.
// because it is exiting) is logged and skipped rather than stalling
// delivery to the others. While paused, the pump does not read from the
// source at all, so ingress keeps accumulating in the backing queue and
// is fanned out once Unpause is called. The same holds while the topic
// has no channels.
func (t *Topic) messagePump() {
	for {
		t.mu.Lock()
		paused := t.paused || len(t.channels) == 0
		t.mu.Unlock()

		if paused {
			select {
			case <-t.exitChan:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		select {
		case m := <-t.sourceChan():
			t.mu.Lock()
			snapshot := make([]*Channel, 0, len(t.channels))
			for _, ch := range t.channels {
				snapshot = append(snapshot, ch)
			}
			t.mu.Unlock()

			for _, ch := range snapshot {
				if err := ch.PutMessage(m); err != nil {
					t.log.Warn("dropping message for channel", zap.String("channel", ch.name), zap.Error(err))
				}
			}
			t.mu.Lock()
			t.messageCount++
			t.mu.Unlock()
		case <-t.exitChan:
			return
		}
	}
}

// PutMessage publishes a single message to the topic.
func (t *Topic) PutMessage(m *protocol.Message) error {
	t.mu.Lock()
	exiting := t.exiting
	t.mu.Unlock()
	if exiting {
		return fmt.Errorf("nsqd: topic %s is exiting", t.name)
	}
	metrics.MessagesPublished.WithLabelValues(t.name).Inc()
	metrics.QueueDepth.WithLabelValues(t.name, "").Set(float64(t.Depth()))
	if t.ephemeral {
		return t.dummy.Put(m)
	}
	return t.backlog.Put(m)
}

// PutMessages publishes a batch atomically from the caller's perspective:
// every message is enqueued, in order, before returning.
func (t *Topic) PutMessages(msgs []*protocol.Message) error {
	for _, m := range msgs {
		if err := t.PutMessage(m); err != nil {
			return err
		}
	}
	return nil
}

// GetChannel returns the named channel, creating it if it does not
// already exist. A new channel receives only messages fanned out after
// it joins; the first channel of a topic therefore also receives the
// backlog that built up while the topic had none.
func (t *Topic) GetChannel(name string) (*Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.channels[name]; ok {
		return ch, nil
	}
	ch, err := newChannel(t.name, name, t.ephemeral || isEphemeralName(name), t.dataPath, t.memQueueSize, t.maxBytesPerFile, t.syncEvery, t.maxMsgSize, t.log)
	if err != nil {
		return nil, err
	}
	t.channels[name] = ch
	return ch, nil
}

// Channels returns a snapshot slice of the topic's current channels.
func (t *Topic) Channels() []*Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Channel, 0, len(t.channels))
	for _, ch := range t.channels {
		out = append(out, ch)
	}
	return out
}

// DeleteChannel removes and closes the named channel's backing storage.
func (t *Topic) DeleteChannel(name string) error {
	t.mu.Lock()
	ch, ok := t.channels[name]
	if ok {
		delete(t.channels, name)
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("nsqd: channel %s not found", name)
	}
	return ch.Delete()
}

// Pause stops fan-out to channels while continuing to accept publishes.
func (t *Topic) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

// Unpause resumes fan-out.
func (t *Topic) Unpause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
}

// IsPaused reports whether fan-out is currently stopped.
func (t *Topic) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Empty discards buffered messages not yet fanned out to any channel.
// Per-channel Empty is independent and must be called separately; this
// only clears the topic's own backlog. It drains what is readable from
// the backlog's in-memory channel and returns as soon as that channel is
// momentarily empty, so messages still held in the disk tier remain
// queued.
func (t *Topic) Empty() error {
	if t.ephemeral {
		for {
			select {
			case <-t.dummy.Chan():
			default:
				return nil
			}
		}
	}
	for t.backlog.Depth() > 0 {
		select {
		case <-t.backlog.Chan():
		default:
			return nil
		}
	}
	return nil
}

// Depth returns the number of messages buffered in the topic's own
// backlog, not counting what has already been fanned out to channels.
func (t *Topic) Depth() int64 {
	if t.ephemeral {
		return t.dummy.Depth()
	}
	return t.backlog.Depth()
}

// TopicStats is a point-in-time snapshot for the HTTP stats surface.
type TopicStats struct {
	TopicName    string       `json:"topic_name"`
	Depth        int64        `json:"depth"`
	MessageCount int64        `json:"message_count"`
	Paused       bool         `json:"paused"`
	Channels     []Stats      `json:"channels"`
}

// StatsSnapshot returns a snapshot of this topic and all its channels.
func (t *Topic) StatsSnapshot() TopicStats {
	t.mu.Lock()
	paused := t.paused
	msgCount := t.messageCount
	chans := make([]*Channel, 0, len(t.channels))
	for _, ch := range t.channels {
		chans = append(chans, ch)
	}
	t.mu.Unlock()

	stats := TopicStats{
		TopicName:    t.name,
		Depth:        t.Depth(),
		MessageCount: msgCount,
		Paused:       paused,
	}
	for _, ch := range chans {
		stats.Channels = append(stats.Channels, ch.StatsSnapshot())
	}
	return stats
}

// Close stops the message pump and closes channels and backing storage
// without deleting anything.
func (t *Topic) Close() error {
	t.mu.Lock()
	if t.exiting {
		t.mu.Unlock()
		return nil
	}
	t.exiting = true
	chans := make([]*Channel, 0, len(t.channels))
	for _, ch := range t.channels {
		chans = append(chans, ch)
	}
	t.mu.Unlock()

	close(t.exitChan)
	for _, ch := range chans {
		if err := ch.Close(); err != nil {
			t.log.Warn("error closing channel", zap.String("channel", ch.name), zap.Error(err))
		}
	}
	if t.ephemeral {
		return t.dummy.Close()
	}
	return t.backlog.Close()
}

// Delete closes the topic, deletes every channel's backing storage, and
// deletes the topic's own backlog.
func (t *Topic) Delete() error {
	t.mu.Lock()
	if !t.exiting {
		t.exiting = true
		t.mu.Unlock()
		close(t.exitChan)
	} else {
		t.mu.Unlock()
	}

	chans := t.Channels()
	for _, ch := range chans {
		if err := ch.Delete(); err != nil {
			t.log.Warn("error deleting channel", zap.String("channel", ch.name), zap.Error(err))
		}
	}
	if t.ephemeral {
		return t.dummy.Delete()
	}
	return t.backlog.Delete()
}
