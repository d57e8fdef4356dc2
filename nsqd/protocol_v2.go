package nsqd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/flowmq/flowmq/ferrors"
	"github.com/flowmq/flowmq/protocol"
)

// ServeClient runs the full lifecycle of one TCP connection: the
// negotiation-or-default IDENTIFY, the read loop dispatching commands,
// and (once subscribed) the concurrent delivery loop that pushes
// channel messages out as they become available. It returns once the
// connection ends, for any reason.
func (b *Broker) ServeClient(conn net.Conn) {
	cl := newClient(conn, b.config.ClientTimeout.Dur(), b.config.MsgTimeout.Dur())
	log := b.log.With(zap.String("client", cl.id), zap.String("remote_addr", cl.remoteAddr))
	log.Info("client connected")

	defer func() {
		cl.Close()
		if cl.channel != nil {
			cl.channel.RemoveClient(cl.id)
		}
		conn.Close()
		log.Info("client disconnected")
	}()

	deliveryDone := make(chan struct{})
	go func() {
		defer close(deliveryDone)
		b.deliverLoop(cl, log)
	}()

	b.heartbeatLoop(cl, log)
	<-deliveryDone
}

// heartbeatLoop runs the read side: it reads commands until EOF or an
// unrecoverable error, writing a heartbeat NOP response periodically if
// the client has negotiated one.
func (b *Broker) heartbeatLoop(cl *Client, log *zap.Logger) {
	lastActivity := time.Now()
	heartbeatTicker := time.NewTicker(cl.heartbeatInterval)
	defer heartbeatTicker.Stop()

	cmdChan := make(chan *protocol.Command)
	errChan := make(chan error, 1)
	go func() {
		for {
			_ = cl.conn.SetReadDeadline(time.Now().Add(cl.heartbeatInterval * 2))
			cmd, err := protocol.ReadCommand(cl.reader)
			if err != nil {
				errChan <- err
				return
			}
			cmdChan <- cmd
		}
	}()

	for {
		select {
		case <-cl.exitChan:
			return
		case err := <-errChan:
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Debug("read error", zap.Error(err))
			}
			cl.Close()
			return
		case cmd := <-cmdChan:
			lastActivity = time.Now()
			if err := b.handleCommand(cl, cmd, log); err != nil {
				log.Debug("command error", zap.Error(err))
				_ = cl.lockedWrite(func() error {
					if werr := protocol.WriteError(cl.writer, ferrors.Code(err)); werr != nil {
						return werr
					}
					return cl.writer.Flush()
				})
				if cmd.Name != protocol.CmdPub && cmd.Name != protocol.CmdMpub && cmd.Name != protocol.CmdDpub {
					cl.Close()
					return
				}
			}
			if cl.State() == ClientStateClosing {
				return
			}
		case <-heartbeatTicker.C:
			if time.Since(lastActivity) < cl.heartbeatInterval {
				continue
			}
			err := cl.lockedWrite(func() error {
				if werr := protocol.WriteResponse(cl.writer, []byte("_heartbeat_")); werr != nil {
					return werr
				}
				return cl.writer.Flush()
			})
			if err != nil {
				cl.Close()
				return
			}
		}
	}
}

// deliverLoop pushes messages from the subscribed channel to the client
// as RDY headroom allows, and drives periodic output-buffer flushes.
func (b *Broker) deliverLoop(cl *Client, log *zap.Logger) {
	flushTicker := time.NewTicker(250 * time.Millisecond)
	defer flushTicker.Stop()

	for {
		select {
		case <-cl.exitChan:
			return
		case <-flushTicker.C:
			cl.lockedWrite(func() error { return cl.writer.Flush() })
		default:
		}

		if cl.channel == nil || !cl.IsReadyForMessages() {
			select {
			case <-cl.exitChan:
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		select {
		case <-cl.exitChan:
			return
		case m := <-cl.channel.clientMsgChan:
			cl.decrementReady()
			cl.inFlightCount.Add(1)
			cl.channel.StartInFlight(cl.id, m, cl.msgTimeout)
			err := cl.lockedWrite(func() error {
				if werr := protocol.WriteMessage(cl.writer, m.Encode()); werr != nil {
					return werr
				}
				return cl.writer.Flush()
			})
			if err != nil {
				log.Debug("write message failed", zap.Error(err))
				cl.Close()
				return
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (b *Broker) handleCommand(cl *Client, cmd *protocol.Command, log *zap.Logger) error {
	switch cmd.Name {
	case protocol.CmdIdentify:
		return b.handleIdentify(cl, cmd)
	case protocol.CmdSub:
		return b.handleSub(cl, cmd)
	case protocol.CmdPub:
		return b.handlePub(cl, cmd)
	case protocol.CmdMpub:
		return b.handleMpub(cl, cmd)
	case protocol.CmdDpub:
		return b.handleDpub(cl, cmd)
	case protocol.CmdRdy:
		cl.SetReadyCount(int64(cmd.Count), b.config.MaxRdyCount)
		return nil
	case protocol.CmdFin:
		return b.handleFin(cl, cmd)
	case protocol.CmdReq:
		return b.handleReq(cl, cmd)
	case protocol.CmdTouch:
		return b.handleTouch(cl, cmd)
	case protocol.CmdNop:
		return nil
	case protocol.CmdCls:
		cl.setState(ClientStateClosing)
		return cl.lockedWrite(func() error {
			if err := protocol.WriteResponse(cl.writer, []byte("CLOSE_WAIT")); err != nil {
				return err
			}
			return cl.writer.Flush()
		})
	case protocol.CmdAuth:
		return ferrors.New(ferrors.ErrAuthFailed, "AUTH not configured")
	default:
		return ferrors.New(ferrors.ErrInvalid, fmt.Sprintf("unknown command %s", cmd.Name))
	}
}

func (b *Broker) handleIdentify(cl *Client, cmd *protocol.Command) error {
	var payload protocol.IdentifyPayload
	if len(cmd.Payload) > 0 {
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			return ferrors.Wrap(ferrors.ErrInvalid, "bad IDENTIFY payload", err)
		}
	}
	cl.hostname = payload.Hostname
	cl.userAgent = payload.UserAgent
	if payload.MsgTimeoutMs > 0 {
		cl.msgTimeout = time.Duration(payload.MsgTimeoutMs) * time.Millisecond
	}
	if payload.HeartbeatIntervalMs > 0 {
		cl.heartbeatInterval = time.Duration(payload.HeartbeatIntervalMs) * time.Millisecond
	}
	// Snappy and deflate are mutually exclusive on the wire; snappy wins
	// if a client asks for both.
	cl.snappyEnabled = payload.Snappy
	cl.deflateEnabled = !payload.Snappy && payload.Deflate

	resp := protocol.IdentifyResponse{
		MaxRdyCount:         b.config.MaxRdyCount,
		Version:             b.version,
		BroadcastAddress:    b.config.BroadcastAddress,
		TCPPort:             b.tcpPort,
		HTTPPort:            b.httpPort,
		HeartbeatIntervalMs: int(cl.heartbeatInterval / time.Millisecond),
		AuthRequired:        b.config.AuthRequired,
		Snappy:              cl.snappyEnabled,
		Deflate:             cl.deflateEnabled,
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrInvalid, "marshal IDENTIFY response", err)
	}
	if err := cl.lockedWrite(func() error {
		if err := protocol.WriteResponse(cl.writer, body); err != nil {
			return err
		}
		return cl.writer.Flush()
	}); err != nil {
		return err
	}

	// The wire switches over to the negotiated codec only after the
	// uncompressed IDENTIFY response has reached the client.
	switch {
	case cl.snappyEnabled:
		cl.enableSnappy()
	case cl.deflateEnabled:
		level := payload.DeflateLevel
		if level <= 0 {
			level = 6
		}
		cl.enableDeflate(level)
	}
	return nil
}

func (b *Broker) handleSub(cl *Client, cmd *protocol.Command) error {
	if cl.State() != ClientStateInit {
		return ferrors.New(ferrors.ErrInvalid, "cannot SUB in current state")
	}
	topic, err := b.GetTopic(cmd.Topic)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrBadTopic, cmd.Topic, err)
	}
	channel, err := topic.GetChannel(cmd.Channel)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrBadChannel, cmd.Channel, err)
	}
	cl.topic = topic
	cl.channel = channel
	cl.setState(ClientStateSubscribed)
	channel.AddClient(cl)
	return cl.lockedWrite(func() error {
		if err := protocol.WriteResponse(cl.writer, []byte("OK")); err != nil {
			return err
		}
		return cl.writer.Flush()
	})
}

func (b *Broker) handlePub(cl *Client, cmd *protocol.Command) error {
	if int64(len(cmd.Body)) > b.config.MaxBodySize {
		return ferrors.New(ferrors.ErrBadMessage, "body too large")
	}
	topic, err := b.GetTopic(cmd.Topic)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrBadTopic, cmd.Topic, err)
	}
	m := protocol.NewMessage(cmd.Body)
	if err := topic.PutMessage(m); err != nil {
		return ferrors.Wrap(ferrors.ErrPubFailed, cmd.Topic, err)
	}
	return cl.lockedWrite(func() error {
		if err := protocol.WriteResponse(cl.writer, []byte("OK")); err != nil {
			return err
		}
		return cl.writer.Flush()
	})
}

func (b *Broker) handleMpub(cl *Client, cmd *protocol.Command) error {
	topic, err := b.GetTopic(cmd.Topic)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrBadTopic, cmd.Topic, err)
	}
	msgs := make([]*protocol.Message, 0, len(cmd.Bodies))
	for _, body := range cmd.Bodies {
		msgs = append(msgs, protocol.NewMessage(body))
	}
	if err := topic.PutMessages(msgs); err != nil {
		return ferrors.Wrap(ferrors.ErrMpubFailed, cmd.Topic, err)
	}
	return cl.lockedWrite(func() error {
		if err := protocol.WriteResponse(cl.writer, []byte("OK")); err != nil {
			return err
		}
		return cl.writer.Flush()
	})
}

func (b *Broker) handleDpub(cl *Client, cmd *protocol.Command) error {
	topic, err := b.GetTopic(cmd.Topic)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrBadTopic, cmd.Topic, err)
	}
	m := protocol.NewMessage(cmd.Body)
	delay := time.Duration(cmd.Delay) * time.Millisecond

	// A deferred publish has no channel yet to own the timer, so it is
	// parked directly on the topic and released into the normal fan-out
	// path once due.
	go func() {
		time.Sleep(delay)
		if err := topic.PutMessage(m); err != nil {
			b.log.Warn("deferred publish failed", zap.String("topic", cmd.Topic), zap.Error(err))
		}
	}()
	return cl.lockedWrite(func() error {
		if err := protocol.WriteResponse(cl.writer, []byte("OK")); err != nil {
			return err
		}
		return cl.writer.Flush()
	})
}

func (b *Broker) handleFin(cl *Client, cmd *protocol.Command) error {
	if cl.channel == nil {
		return ferrors.New(ferrors.ErrFinFailed, "not subscribed")
	}
	if err := cl.channel.FinishMessage(cl.id, cmd.ID); err != nil {
		return ferrors.Wrap(ferrors.ErrFinFailed, cmd.ID.String(), err)
	}
	cl.inFlightCount.Add(-1)
	return nil
}

func (b *Broker) handleReq(cl *Client, cmd *protocol.Command) error {
	if cl.channel == nil {
		return ferrors.New(ferrors.ErrReqFailed, "not subscribed")
	}
	delay := time.Duration(cmd.Timeout) * time.Millisecond
	if err := cl.channel.RequeueMessage(cl.id, cmd.ID, delay); err != nil {
		return ferrors.Wrap(ferrors.ErrReqFailed, cmd.ID.String(), err)
	}
	cl.inFlightCount.Add(-1)
	return nil
}

func (b *Broker) handleTouch(cl *Client, cmd *protocol.Command) error {
	if cl.channel == nil {
		return ferrors.New(ferrors.ErrTouchFailed, "not subscribed")
	}
	if err := cl.channel.TouchMessage(cl.id, cmd.ID, cl.msgTimeout); err != nil {
		return ferrors.Wrap(ferrors.ErrTouchFailed, cmd.ID.String(), err)
	}
	return nil
}
