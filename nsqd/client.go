package nsqd

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
)

// ClientState tracks where a connection sits in the protocol state
// machine: freshly connected, subscribed to a channel, or shutting down.
type ClientState int32

const (
	ClientStateInit ClientState = iota
	ClientStateSubscribed
	ClientStateClosing
)

// Client is one TCP connection's worth of session state: its identity,
// negotiated features, flow-control counters, and the channel it has
// subscribed to, if any.
type Client struct {
	id   string
	conn net.Conn

	reader *bufio.Reader
	writer *bufio.Writer
	// writeMu serializes writes from the IO loop and the channel
	// delivery goroutine, which both write to the same connection.
	writeMu sync.Mutex

	remoteAddr string
	hostname   string
	userAgent  string

	state atomic.Int32

	topic   *Topic
	channel *Channel

	readyCount    atomic.Int64
	inFlightCount atomic.Int64

	heartbeatInterval time.Duration
	msgTimeout        time.Duration
	outputBufferSize  int
	outputBufferTime  time.Duration

	tlsEnabled    bool
	snappyEnabled bool
	deflateEnabled bool

	connectedAt time.Time

	exitChan chan struct{}
	exitOnce sync.Once
}

func newClient(conn net.Conn, defaultHeartbeat, defaultMsgTimeout time.Duration) *Client {
	c := &Client{
		id:                uuid.New().String(),
		conn:              conn,
		reader:            bufio.NewReaderSize(conn, 16*1024),
		writer:            bufio.NewWriterSize(conn, 16*1024),
		remoteAddr:        conn.RemoteAddr().String(),
		heartbeatInterval: defaultHeartbeat,
		msgTimeout:        defaultMsgTimeout,
		connectedAt:       time.Now(),
		exitChan:          make(chan struct{}),
	}
	c.state.Store(int32(ClientStateInit))
	return c
}

// State returns the client's current protocol state.
func (c *Client) State() ClientState { return ClientState(c.state.Load()) }

func (c *Client) setState(s ClientState) { c.state.Store(int32(s)) }

// IsReadyForMessages reports whether the client's RDY count is above
// zero. The number of messages currently in flight to the client is not
// checked: each delivered message uses up one unit of RDY, and only a
// new RDY command raises the count again.
func (c *Client) IsReadyForMessages() bool {
	return c.readyCount.Load() > 0
}

// SetReadyCount sets the client's advertised RDY count, clamped to
// [0, maxRdyCount].
func (c *Client) SetReadyCount(n int64, maxRdyCount int64) {
	if n < 0 {
		n = 0
	}
	if n > maxRdyCount {
		n = maxRdyCount
	}
	c.readyCount.Store(n)
}

func (c *Client) decrementReady() {
	for {
		cur := c.readyCount.Load()
		if cur <= 0 {
			return
		}
		if c.readyCount.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Close tears down the connection's exit signal exactly once; the IO
// loop is responsible for actually closing the socket.
func (c *Client) Close() {
	c.exitOnce.Do(func() { close(c.exitChan) })
}

// lockedWrite serializes concurrent writers (the read loop replying to
// commands, and the delivery loop pushing messages) onto one connection.
func (c *Client) lockedWrite(fn func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return fn()
}

// enableSnappy re-wraps the connection's reader and writer in a snappy
// framed stream. Must be called only after the IDENTIFY response has
// already gone out uncompressed, matching the point at which the
// reference protocol switches the wire over to the negotiated codec.
func (c *Client) enableSnappy() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.writer.Flush()
	c.reader = bufio.NewReaderSize(snappy.NewReader(c.conn), 16*1024)
	c.writer = bufio.NewWriterSize(snappy.NewBufferedWriter(c.conn), 16*1024)
}

// enableDeflate re-wraps the connection's reader and writer in a DEFLATE
// stream at the client-requested compression level.
func (c *Client) enableDeflate(level int) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.writer.Flush()
	fw, _ := flate.NewWriter(c.conn, level)
	c.reader = bufio.NewReaderSize(flate.NewReader(c.conn), 16*1024)
	c.writer = bufio.NewWriterSize(fw, 16*1024)
}
