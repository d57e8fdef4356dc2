package protocol

import "time"

// IdentifyPayload is the JSON body a client sends with IDENTIFY; flowd
// answers with an IdentifyResponse.
// Field set and naming are grounded on the original_source nsqd client
// IDENTIFY handling: client advertises its hostname/version/capabilities,
// server negotiates timeouts and compression.
type IdentifyPayload struct {
	ClientID            string `json:"client_id"`
	Hostname            string `json:"hostname"`
	UserAgent           string `json:"user_agent"`
	FeatureNegotiation  bool   `json:"feature_negotiation"`
	HeartbeatIntervalMs int    `json:"heartbeat_interval,omitempty"`
	OutputBufferSize    int    `json:"output_buffer_size,omitempty"`
	OutputBufferTimeMs  int    `json:"output_buffer_timeout,omitempty"`
	TLSv1               bool   `json:"tls_v1,omitempty"`
	Deflate             bool   `json:"deflate,omitempty"`
	DeflateLevel        int    `json:"deflate_level,omitempty"`
	Snappy              bool   `json:"snappy,omitempty"`
	SampleRate          int32  `json:"sample_rate,omitempty"`
	MsgTimeoutMs        int    `json:"msg_timeout,omitempty"`
}

// IdentifyResponse is the server's reply to a feature-negotiating
// IDENTIFY, reporting the broker's identity and the negotiated settings.
type IdentifyResponse struct {
	MaxRdyCount         int64  `json:"max_rdy_count"`
	Version             string `json:"version"`
	BroadcastAddress    string `json:"broadcast_address"`
	TCPPort             int    `json:"tcp_port"`
	HTTPPort            int    `json:"http_port"`
	TLSv1               bool   `json:"tls_v1"`
	Deflate             bool   `json:"deflate"`
	Snappy              bool   `json:"snappy"`
	HeartbeatIntervalMs int    `json:"heartbeat_interval"`
	SampleRate          int32  `json:"sample_rate"`
	AuthRequired        bool   `json:"auth_required"`
	OutputBufferSize    int    `json:"output_buffer_size"`
	OutputBufferTimeMs  int    `json:"output_buffer_timeout"`
}

// StartTime is recorded once per process for uptime reporting in /info.
var StartTime = time.Now()
