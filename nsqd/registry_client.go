package nsqd

import (
	"bufio"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowmq/flowmq/protocol"
)

// registryEvent is broadcast to every connected registry worker so they
// all converge on the same view of what this broker hosts.
type registryEvent struct {
	kind    string // "register_topic", "unregister_topic", "register_channel", "unregister_channel"
	topic   string
	channel string
}

// RegistryClient maintains one persistent, auto-reconnecting connection
// per configured registry address, replaying the broker's full topic
// and channel set on every (re)connect and forwarding topic creations
// and deletions as they happen. Channel changes are not forwarded live:
// a new channel reaches a registry only in the replay on the next
// (re)connect. The reconnect loop's jittered exponential
// backoff mirrors the teacher's messaging client's connect retry.
type RegistryClient struct {
	broker    *Broker
	addresses []string
	log       *zap.Logger

	events chan registryEvent

	wg       sync.WaitGroup
	exitChan chan struct{}
}

// NewRegistryClient builds a client that will connect to each of
// addresses independently.
func NewRegistryClient(b *Broker, addresses []string, log *zap.Logger) *RegistryClient {
	return &RegistryClient{
		broker:    b,
		addresses: addresses,
		log:       log.With(zap.String("component", "registry_client")),
		events:    make(chan registryEvent, 256),
		exitChan:  make(chan struct{}),
	}
}

// Start launches one worker goroutine per registry address.
func (rc *RegistryClient) Start() {
	for _, addr := range rc.addresses {
		rc.wg.Add(1)
		go func(addr string) {
			defer rc.wg.Done()
			rc.runWorker(addr)
		}(addr)
	}
}

// Stop signals every worker to disconnect and waits for them to exit.
func (rc *RegistryClient) Stop() {
	close(rc.exitChan)
	rc.wg.Wait()
}

// AnnounceTopic notifies every connected registry that topic now exists
// on this broker.
func (rc *RegistryClient) AnnounceTopic(topic string) {
	rc.publish(registryEvent{kind: "register_topic", topic: topic})
}

// WithdrawTopic notifies every connected registry that topic no longer
// exists on this broker.
func (rc *RegistryClient) WithdrawTopic(topic string) {
	rc.publish(registryEvent{kind: "unregister_topic", topic: topic})
}

// AnnounceChannel notifies every connected registry that channel now
// exists under topic.
func (rc *RegistryClient) AnnounceChannel(topic, channel string) {
	rc.publish(registryEvent{kind: "register_channel", topic: topic, channel: channel})
}

func (rc *RegistryClient) publish(ev registryEvent) {
	select {
	case rc.events <- ev:
	case <-rc.exitChan:
	}
}

// runWorker owns one registry connection's full lifecycle: connect with
// backoff, replay current state, then forward live events and send
// periodic pings until disconnected, at which point it reconnects.
func (rc *RegistryClient) runWorker(addr string) {
	log := rc.log.With(zap.String("registry_address", addr))
	backoff := time.Second

	for {
		select {
		case <-rc.exitChan:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			log.Warn("failed to connect to registry", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(jitter(backoff)):
			case <-rc.exitChan:
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		log.Info("connected to registry")
		backoff = time.Second

		if err := rc.steadyState(conn, log); err != nil {
			log.Warn("registry connection lost", zap.Error(err))
		}
		conn.Close()
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > 60*time.Second {
		next = 60 * time.Second
	}
	return next
}

// jitter randomizes d by +/-20%, mirroring the teacher's client reconnect
// backoff so many brokers restarting together don't thunder the registry.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}

// steadyState performs the initial IDENTIFY + full-state replay, then
// loops forwarding events and sending periodic pings until the
// connection fails or the client is stopped.
func (rc *RegistryClient) steadyState(conn net.Conn, log *zap.Logger) error {
	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)

	identity := fmt.Sprintf(`{"broadcast_address":%q,"tcp_port":%d,"http_port":%d,"version":%q}`,
		rc.broker.config.BroadcastAddress, rc.broker.tcpPort, rc.broker.httpPort, rc.broker.version)
	if err := protocol.WriteIdentify(w, []byte(identity)); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if _, err := protocol.ReadFrame(r); err != nil {
		return fmt.Errorf("registry did not acknowledge identify: %w", err)
	}

	for _, topic := range rc.broker.Topics() {
		if err := rc.sendRegister(w, "topic", topic.name, ""); err != nil {
			return err
		}
		for _, ch := range topic.Channels() {
			if err := rc.sendRegister(w, "channel", topic.name, ch.name); err != nil {
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	pingTicker := time.NewTicker(rc.broker.config.RegistryPingPeriod.Dur())
	defer pingTicker.Stop()

	for {
		select {
		case <-rc.exitChan:
			return nil
		case ev := <-rc.events:
			if err := rc.applyEvent(w, ev); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		case <-pingTicker.C:
			if _, err := w.WriteString("PING\n"); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
}

func (rc *RegistryClient) applyEvent(w *bufio.Writer, ev registryEvent) error {
	switch ev.kind {
	case "register_topic":
		return rc.sendRegister(w, "topic", ev.topic, "")
	case "unregister_topic":
		return rc.sendUnregister(w, "topic", ev.topic, "")
	case "register_channel":
		return rc.sendRegister(w, "channel", ev.topic, ev.channel)
	case "unregister_channel":
		return rc.sendUnregister(w, "channel", ev.topic, ev.channel)
	default:
		return nil
	}
}

func (rc *RegistryClient) sendRegister(w *bufio.Writer, kind, topic, channel string) error {
	if kind == "topic" {
		_, err := fmt.Fprintf(w, "REGISTER %s\n", topic)
		return err
	}
	_, err := fmt.Fprintf(w, "REGISTER %s %s\n", topic, channel)
	return err
}

func (rc *RegistryClient) sendUnregister(w *bufio.Writer, kind, topic, channel string) error {
	if kind == "topic" {
		_, err := fmt.Fprintf(w, "UNREGISTER %s\n", topic)
		return err
	}
	_, err := fmt.Fprintf(w, "UNREGISTER %s %s\n", topic, channel)
	return err
}
