package nsqlookupd

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func (reg *Registry) serveHTTP(ln net.Listener) {
	r := chi.NewRouter()
	r.Get("/ping", reg.httpPing)
	r.Get("/info", reg.httpInfo)
	r.Get("/health", reg.httpHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/lookup", reg.httpLookup)
	r.Get("/topics", reg.httpTopics)
	r.Get("/channels", reg.httpChannels)
	r.Get("/nodes", reg.httpNodes)
	r.Post("/topic/create", reg.httpTopicCreate)
	r.Post("/topic/delete", reg.httpTopicDelete)
	r.Post("/channel/create", reg.httpChannelCreate)
	r.Post("/channel/delete", reg.httpChannelDelete)
	r.Post("/tombstone_topic_producer", reg.httpTombstoneTopicProducer)

	srv := &http.Server{Handler: r}
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		reg.log.Warn("http server stopped", zap.Error(err))
	}
}

func (reg *Registry) httpPing(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

// httpHealth is a supplemental liveness probe distinct from /ping: it
// reports overall registry health including how many producers are
// currently tracked, for use by orchestration health checks.
func (reg *Registry) httpHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "OK",
		"nodes":  len(reg.db.Nodes()),
	})
}

func (reg *Registry) httpInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func producerJSON(p *Producer) map[string]interface{} {
	return map[string]interface{}{
		"broadcast_address": p.BroadcastAddress,
		"remote_address":    p.RemoteAddress,
		"tcp_port":          p.TCPPort,
		"http_port":         p.HTTPPort,
		"version":           p.Version,
	}
}

func (reg *Registry) httpLookup(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		httpError(w, http.StatusBadRequest, "MISSING_ARG_TOPIC")
		return
	}
	producers := reg.db.FindProducers(topic, "")
	channels := reg.db.Channels(topic)

	out := make([]map[string]interface{}, 0, len(producers))
	for _, p := range producers {
		out = append(out, producerJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"channels":  channels,
		"producers": out,
	})
}

func (reg *Registry) httpTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"topics": reg.db.Topics()})
}

func (reg *Registry) httpChannels(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	writeJSON(w, http.StatusOK, map[string]interface{}{"channels": reg.db.Channels(topic)})
}

func (reg *Registry) httpNodes(w http.ResponseWriter, r *http.Request) {
	nodes := reg.db.Nodes()
	out := make([]map[string]interface{}, 0, len(nodes))
	for _, p := range nodes {
		out = append(out, producerJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"producers": out})
}

func (reg *Registry) httpTopicCreate(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		httpError(w, http.StatusBadRequest, "MISSING_ARG_TOPIC")
		return
	}
	// Registering a topic with no producer is a no-op placeholder; real
	// producer entries arrive via REGISTER over TCP. This endpoint returns
	// OK without recording anything: a topic appears in /topics only once
	// a broker registers it.
	w.Write([]byte("OK"))
}

func (reg *Registry) httpTopicDelete(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	for _, p := range reg.db.FindProducers(topic, "") {
		reg.db.RemoveTopicProducer(topic, p.BroadcastAddress)
	}
	w.Write([]byte("OK"))
}

func (reg *Registry) httpChannelCreate(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

func (reg *Registry) httpChannelDelete(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	channel := r.URL.Query().Get("channel")
	for _, p := range reg.db.FindProducers(topic, channel) {
		reg.db.RemoveChannelProducer(topic, channel, p.BroadcastAddress)
	}
	w.Write([]byte("OK"))
}

func (reg *Registry) httpTombstoneTopicProducer(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	node := r.URL.Query().Get("node")
	if topic == "" || node == "" {
		httpError(w, http.StatusBadRequest, "MISSING_ARG")
		return
	}
	reg.db.TombstoneTopicProducer(topic, node)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
