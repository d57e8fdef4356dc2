package nsqlookupd

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/flowmq/flowmq/protocol"
)

// identifyPayload is what a broker sends on connect, describing how
// consumers should reach it.
type identifyPayload struct {
	BroadcastAddress string `json:"broadcast_address"`
	TCPPort          int    `json:"tcp_port"`
	HTTPPort         int    `json:"http_port"`
	Version          string `json:"version"`
}

// serveConn runs one broker connection's command loop: an initial
// IDENTIFY establishes the producer's identity, after which REGISTER,
// UNREGISTER, and PING commands update the registration database until
// QUIT or disconnect.
func (reg *Registry) serveConn(conn net.Conn) {
	defer conn.Close()
	remoteAddr := conn.RemoteAddr().String()
	log := reg.log.With(zap.String("remote_addr", remoteAddr))

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	producer, err := reg.readIdentify(r, w, remoteAddr)
	if err != nil {
		log.Debug("identify failed", zap.Error(err))
		return
	}
	log = log.With(zap.String("broadcast_address", producer.BroadcastAddress))
	log.Info("producer connected")

	defer func() {
		reg.db.RemoveProducer(producer.BroadcastAddress)
		log.Info("producer disconnected")
	}()

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				log.Debug("read error", zap.Error(err))
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch strings.ToUpper(fields[0]) {
		case "PING":
			reg.db.Touch(producer.BroadcastAddress)
			protocol.WriteResponse(w, []byte("OK"))
			w.Flush()
		case "REGISTER":
			reg.handleRegister(producer, fields[1:])
			protocol.WriteResponse(w, []byte("OK"))
			w.Flush()
		case "UNREGISTER":
			reg.handleUnregister(producer, fields[1:])
			protocol.WriteResponse(w, []byte("OK"))
			w.Flush()
		case "QUIT":
			return
		default:
			protocol.WriteError(w, "E_INVALID")
			w.Flush()
		}
	}
}

func (reg *Registry) readIdentify(r *bufio.Reader, w *bufio.Writer, remoteAddr string) (*Producer, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if strings.ToUpper(strings.Fields(line)[0]) != "IDENTIFY" {
		return nil, fmt.Errorf("nsqlookupd: expected IDENTIFY, got %q", line)
	}
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(sizeBuf[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	var payload identifyPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload.BroadcastAddress == "" {
		return nil, fmt.Errorf("nsqlookupd: IDENTIFY missing broadcast_address")
	}

	if err := protocol.WriteResponse(w, []byte("OK")); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}

	// A reconnecting broker (same TCP peer address) reuses its existing
	// Producer record rather than allocating a fresh one that every
	// registration map would need to churn over.
	p := reg.db.LookupByRemoteAddr(remoteAddr)
	if p == nil {
		p = &Producer{RemoteAddress: remoteAddr}
	}
	p.BroadcastAddress = payload.BroadcastAddress
	p.TCPPort = payload.TCPPort
	p.HTTPPort = payload.HTTPPort
	p.Version = payload.Version
	reg.db.IndexProducer(p)
	return p, nil
}

func (reg *Registry) handleRegister(producer *Producer, args []string) {
	if len(args) == 0 {
		return
	}
	topic := args[0]
	if len(args) >= 2 {
		reg.db.AddChannelProducer(topic, args[1], producer)
		return
	}
	reg.db.AddTopicProducer(topic, producer)
}

func (reg *Registry) handleUnregister(producer *Producer, args []string) {
	if len(args) == 0 {
		return
	}
	topic := args[0]
	if len(args) >= 2 {
		reg.db.RemoveChannelProducer(topic, args[1], producer.BroadcastAddress)
		return
	}
	reg.db.RemoveTopicProducer(topic, producer.BroadcastAddress)
}
