package nsqd

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Version is reported to clients via IDENTIFY and to the registry via
// REGISTER/PING.
const Version = "1.0.0"

// Broker owns every topic hosted by this process, the TCP and HTTP
// listeners, and the client that keeps the discovery registry informed.
// It is the flowd equivalent of the teacher's Broker type: one process,
// one log of topics, one set of network listeners.
type Broker struct {
	config Config
	log    *zap.Logger

	version  string
	tcpPort  int
	httpPort int

	mu     sync.Mutex
	topics map[string]*Topic

	tcpListener  net.Listener
	httpListener net.Listener

	registry *RegistryClient

	wg       sync.WaitGroup
	exitChan chan struct{}
}

// New constructs a Broker from cfg. It does not yet listen on any
// socket; call ListenAndServe for that.
func New(cfg Config, log *zap.Logger) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Broker{
		config:   cfg,
		log:      log,
		version:  Version,
		topics:   make(map[string]*Topic),
		exitChan: make(chan struct{}),
	}
	return b, nil
}

// GetTopic returns the named topic, creating it if it does not already
// exist. Topic and channel names follow the same validation rule.
func (b *Broker) GetTopic(name string) (*Topic, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[name]; ok {
		return t, nil
	}
	ephemeral := isEphemeralName(name)
	t, err := newTopic(name, ephemeral, b.config.DataPath, b.config.MemQueueSize, b.config.MaxBytesPerFile, b.config.SyncEvery, b.config.MaxMsgSize, b.log)
	if err != nil {
		return nil, err
	}
	b.topics[name] = t
	if b.registry != nil {
		b.registry.AnnounceTopic(name)
	}
	return t, nil
}

// Topics returns a snapshot slice of every currently-hosted topic.
func (b *Broker) Topics() []*Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Topic, 0, len(b.topics))
	for _, t := range b.topics {
		out = append(out, t)
	}
	return out
}

// DeleteTopic removes and deletes the named topic's storage.
func (b *Broker) DeleteTopic(name string) error {
	b.mu.Lock()
	t, ok := b.topics[name]
	if ok {
		delete(b.topics, name)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("nsqd: topic %s not found", name)
	}
	if err := t.Delete(); err != nil {
		return err
	}
	if b.registry != nil {
		b.registry.WithdrawTopic(name)
	}
	return nil
}

// ListenAndServe starts the TCP and HTTP listeners and, if registry
// addresses are configured, the registry client, then blocks accepting
// TCP connections until Shutdown is called.
func (b *Broker) ListenAndServe() error {
	tcpLn, err := net.Listen("tcp", b.config.TCPAddress)
	if err != nil {
		return fmt.Errorf("nsqd: listen tcp: %w", err)
	}
	b.tcpListener = tcpLn
	b.tcpPort = portOf(tcpLn.Addr())

	httpLn, err := net.Listen("tcp", b.config.HTTPAddress)
	if err != nil {
		tcpLn.Close()
		return fmt.Errorf("nsqd: listen http: %w", err)
	}
	b.httpListener = httpLn
	b.httpPort = portOf(httpLn.Addr())

	if len(b.config.RegistryAddresses) > 0 {
		b.registry = NewRegistryClient(b, b.config.RegistryAddresses, b.log)
		b.registry.Start()
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.serveHTTP(httpLn)
	}()

	b.log.Info("flowd listening",
		zap.String("tcp", tcpLn.Addr().String()),
		zap.String("http", httpLn.Addr().String()))

	for {
		conn, err := tcpLn.Accept()
		if err != nil {
			select {
			case <-b.exitChan:
				return nil
			default:
				b.log.Warn("accept error", zap.Error(err))
				continue
			}
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.ServeClient(conn)
		}()
	}
}

// Shutdown stops accepting new connections, stops the registry client,
// and closes every topic (and transitively every channel), flushing
// their backing disk queues.
func (b *Broker) Shutdown() error {
	close(b.exitChan)
	if b.tcpListener != nil {
		b.tcpListener.Close()
	}
	if b.httpListener != nil {
		b.httpListener.Close()
	}
	if b.registry != nil {
		b.registry.Stop()
	}

	b.mu.Lock()
	topics := make([]*Topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	for _, t := range topics {
		if err := t.Close(); err != nil {
			b.log.Warn("error closing topic", zap.String("topic", t.name), zap.Error(err))
		}
	}

	b.wg.Wait()
	return nil
}

func portOf(addr net.Addr) int {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(portStr)
	return p
}

// isEphemeralName reports whether name carries the "#ephemeral" suffix
// convention clients use to request a non-durable topic or channel.
func isEphemeralName(name string) bool {
	const suffix = "#ephemeral"
	return len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix
}
