package nsqlookupd

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowmq/flowmq/metrics"
)

// Version is reported to operators via the HTTP /info endpoint.
const Version = "1.0.0"

// Registry is the top-level registry daemon: the in-memory
// RegistrationDB plus the TCP and HTTP listeners that let brokers
// register and consumers discover them.
type Registry struct {
	config Config
	log    *zap.Logger
	db     *RegistrationDB

	tcpListener  net.Listener
	httpListener net.Listener

	wg       sync.WaitGroup
	exitChan chan struct{}
}

// New constructs a Registry from cfg.
func New(cfg Config, log *zap.Logger) *Registry {
	return &Registry{
		config:   cfg,
		log:      log,
		db:       NewRegistrationDB(cfg.TombstoneLifetime.Dur(), cfg.InactiveProducerTimeout.Dur()),
		exitChan: make(chan struct{}),
	}
}

// ListenAndServe starts the TCP and HTTP listeners and the periodic
// inactive-producer expiry tick, then blocks accepting TCP connections
// until Shutdown is called.
func (reg *Registry) ListenAndServe() error {
	tcpLn, err := net.Listen("tcp", reg.config.TCPAddress)
	if err != nil {
		return err
	}
	reg.tcpListener = tcpLn

	httpLn, err := net.Listen("tcp", reg.config.HTTPAddress)
	if err != nil {
		tcpLn.Close()
		return err
	}
	reg.httpListener = httpLn

	reg.wg.Add(1)
	go func() {
		defer reg.wg.Done()
		reg.serveHTTP(httpLn)
	}()

	reg.wg.Add(1)
	go func() {
		defer reg.wg.Done()
		reg.expiryLoop()
	}()

	reg.log.Info("flowlookupd listening",
		zap.String("tcp", tcpLn.Addr().String()),
		zap.String("http", httpLn.Addr().String()))

	for {
		conn, err := tcpLn.Accept()
		if err != nil {
			select {
			case <-reg.exitChan:
				return nil
			default:
				reg.log.Warn("accept error", zap.Error(err))
				continue
			}
		}
		reg.wg.Add(1)
		go func() {
			defer reg.wg.Done()
			reg.serveConn(conn)
		}()
	}
}

// expiryLoop periodically removes producers that have stopped pinging.
func (reg *Registry) expiryLoop() {
	ticker := time.NewTicker(reg.config.InactiveProducerTimeout.Dur() / 4)
	defer ticker.Stop()
	for {
		select {
		case <-reg.exitChan:
			return
		case <-ticker.C:
			expired := reg.db.ExpireInactive()
			for _, addr := range expired {
				reg.log.Info("expired inactive producer", zap.String("broadcast_address", addr))
			}
			for _, topic := range reg.db.Topics() {
				metrics.RegisteredProducers.WithLabelValues(topic).Set(float64(len(reg.db.FindProducers(topic, ""))))
			}
		}
	}
}

// Shutdown stops accepting new connections and tears down listeners.
func (reg *Registry) Shutdown() error {
	close(reg.exitChan)
	if reg.tcpListener != nil {
		reg.tcpListener.Close()
	}
	if reg.httpListener != nil {
		reg.httpListener.Close()
	}
	reg.wg.Wait()
	return nil
}
