package nsqd

import (
	"encoding/json"
	"io"
	"net"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/flowmq/flowmq/protocol"
)

// httpRouter builds the admin/producer HTTP surface. Split out from
// serveHTTP so tests can exercise it with httptest without binding a
// real socket.
func (b *Broker) httpRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/ping", b.httpPing)
	r.Get("/info", b.httpInfo)
	r.Get("/stats", b.httpStats)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/pub", b.httpPub)
	r.Post("/mpub", b.httpMpub)
	r.Post("/topic/create", b.httpTopicCreate)
	r.Post("/topic/delete", b.httpTopicDelete)
	r.Post("/topic/empty", b.httpTopicEmpty)
	r.Post("/topic/pause", b.httpTopicPause)
	r.Post("/topic/unpause", b.httpTopicUnpause)
	r.Post("/channel/create", b.httpChannelCreate)
	r.Post("/channel/delete", b.httpChannelDelete)
	r.Post("/channel/empty", b.httpChannelEmpty)
	r.Post("/channel/pause", b.httpChannelPause)
	r.Post("/channel/unpause", b.httpChannelUnpause)
	return r
}

// serveHTTP serves the admin/producer HTTP surface on ln until the
// listener is closed.
func (b *Broker) serveHTTP(ln net.Listener) {
	srv := &http.Server{Handler: b.httpRouter()}
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		b.log.Warn("http server stopped", zap.Error(err))
	}
}

func (b *Broker) httpPing(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

func (b *Broker) httpInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":           b.version,
		"broadcast_address": b.config.BroadcastAddress,
		"tcp_port":          b.tcpPort,
		"http_port":         b.httpPort,
		"start_time":        protocol.StartTime.Unix(),
	})
}

func (b *Broker) httpStats(w http.ResponseWriter, r *http.Request) {
	topics := b.Topics()
	stats := make([]TopicStats, 0, len(topics))
	for _, t := range topics {
		stats = append(stats, t.StatsSnapshot())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"topics": stats})
}

func (b *Broker) httpPub(w http.ResponseWriter, r *http.Request) {
	topicName := r.URL.Query().Get("topic")
	if topicName == "" {
		httpError(w, http.StatusBadRequest, "MISSING_ARG_TOPIC")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, b.config.MaxBodySize+1))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "BODY_READ_FAILED")
		return
	}
	if int64(len(body)) > b.config.MaxBodySize {
		httpError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_BIG")
		return
	}
	topic, err := b.GetTopic(topicName)
	if err != nil {
		httpError(w, http.StatusBadRequest, "INVALID_TOPIC")
		return
	}
	if err := topic.PutMessage(protocol.NewMessage(body)); err != nil {
		httpError(w, http.StatusInternalServerError, "PUB_FAILED")
		return
	}
	w.Write([]byte("OK"))
}

func (b *Broker) httpMpub(w http.ResponseWriter, r *http.Request) {
	topicName := r.URL.Query().Get("topic")
	if topicName == "" {
		httpError(w, http.StatusBadRequest, "MISSING_ARG_TOPIC")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, b.config.MaxBodySize+1))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "BODY_READ_FAILED")
		return
	}
	topic, err := b.GetTopic(topicName)
	if err != nil {
		httpError(w, http.StatusBadRequest, "INVALID_TOPIC")
		return
	}
	// One message per newline-delimited line, matching the reference
	// HTTP /mpub convention.
	var msgs []*protocol.Message
	start := 0
	for i, c := range body {
		if c == '\n' {
			if i > start {
				msgs = append(msgs, protocol.NewMessage(body[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(body) {
		msgs = append(msgs, protocol.NewMessage(body[start:]))
	}
	if err := topic.PutMessages(msgs); err != nil {
		httpError(w, http.StatusInternalServerError, "MPUB_FAILED")
		return
	}
	w.Write([]byte("OK"))
}

func (b *Broker) httpTopicCreate(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("topic")
	if _, err := b.GetTopic(name); err != nil {
		httpError(w, http.StatusBadRequest, "INVALID_TOPIC")
		return
	}
	w.Write([]byte("OK"))
}

func (b *Broker) httpTopicDelete(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("topic")
	if err := b.DeleteTopic(name); err != nil {
		httpError(w, http.StatusNotFound, "TOPIC_NOT_FOUND")
		return
	}
	w.Write([]byte("OK"))
}

func (b *Broker) withTopic(w http.ResponseWriter, r *http.Request, fn func(*Topic)) {
	name := r.URL.Query().Get("topic")
	b.mu.Lock()
	t, ok := b.topics[name]
	b.mu.Unlock()
	if !ok {
		httpError(w, http.StatusNotFound, "TOPIC_NOT_FOUND")
		return
	}
	fn(t)
	w.Write([]byte("OK"))
}

func (b *Broker) httpTopicEmpty(w http.ResponseWriter, r *http.Request) {
	b.withTopic(w, r, func(t *Topic) { t.Empty() })
}

func (b *Broker) httpTopicPause(w http.ResponseWriter, r *http.Request) {
	b.withTopic(w, r, func(t *Topic) { t.Pause() })
}

func (b *Broker) httpTopicUnpause(w http.ResponseWriter, r *http.Request) {
	b.withTopic(w, r, func(t *Topic) { t.Unpause() })
}

func (b *Broker) withChannel(w http.ResponseWriter, r *http.Request, fn func(*Channel)) {
	topicName := r.URL.Query().Get("topic")
	chanName := r.URL.Query().Get("channel")
	b.mu.Lock()
	t, ok := b.topics[topicName]
	b.mu.Unlock()
	if !ok {
		httpError(w, http.StatusNotFound, "TOPIC_NOT_FOUND")
		return
	}
	ch, err := t.GetChannel(chanName)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "CHANNEL_ERROR")
		return
	}
	fn(ch)
	w.Write([]byte("OK"))
}

func (b *Broker) httpChannelCreate(w http.ResponseWriter, r *http.Request) {
	b.withChannel(w, r, func(c *Channel) {})
}

func (b *Broker) httpChannelDelete(w http.ResponseWriter, r *http.Request) {
	topicName := r.URL.Query().Get("topic")
	chanName := r.URL.Query().Get("channel")
	b.mu.Lock()
	t, ok := b.topics[topicName]
	b.mu.Unlock()
	if !ok {
		httpError(w, http.StatusNotFound, "TOPIC_NOT_FOUND")
		return
	}
	if err := t.DeleteChannel(chanName); err != nil {
		httpError(w, http.StatusNotFound, "CHANNEL_NOT_FOUND")
		return
	}
	w.Write([]byte("OK"))
}

func (b *Broker) httpChannelEmpty(w http.ResponseWriter, r *http.Request) {
	b.withChannel(w, r, func(c *Channel) { c.Empty() })
}

func (b *Broker) httpChannelPause(w http.ResponseWriter, r *http.Request) {
	b.withChannel(w, r, func(c *Channel) { c.Pause() })
}

func (b *Broker) httpChannelUnpause(w http.ResponseWriter, r *http.Request) {
	b.withChannel(w, r, func(c *Channel) { c.Unpause() })
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
