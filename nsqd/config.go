// Package nsqd implements the broker: topics, channels, the client
// connection state machine, the TCP and HTTP surfaces, and the registry
// client that keeps a remote discovery registry apprised of what this
// broker hosts.
package nsqd

import (
	"fmt"
	"os"

	"github.com/flowmq/flowmq/logger"
	"github.com/flowmq/flowmq/tomlutil"
)

// Config is the broker's full runtime configuration, loaded from a TOML
// file and overridable by flags/env the same way the teacher's run
// configuration composes nested sections.
type Config struct {
	BroadcastAddress string `toml:"broadcast-address"`
	TCPAddress       string `toml:"tcp-address"`
	HTTPAddress      string `toml:"http-address"`
	DataPath         string `toml:"data-path"`

	RegistryAddresses []string `toml:"registry-addresses"`

	MemQueueSize       int               `toml:"mem-queue-size"`
	MaxMsgSize         int32             `toml:"max-msg-size"`
	MaxBodySize        int64             `toml:"max-body-size"`
	MaxRdyCount        int64             `toml:"max-rdy-count"`
	MsgTimeout         tomlutil.Duration `toml:"msg-timeout"`
	MaxMsgTimeout      tomlutil.Duration `toml:"max-msg-timeout"`
	MaxReqTimeout      tomlutil.Duration `toml:"max-req-timeout"`
	ClientTimeout      tomlutil.Duration `toml:"client-timeout"`
	RegistryPingPeriod tomlutil.Duration `toml:"registry-ping-period"`
	StatsdAddress      string            `toml:"statsd-address"`

	MaxBytesPerFile int64 `toml:"max-bytes-per-file"`
	SyncEvery       int64 `toml:"sync-every"`

	AuthRequired bool `toml:"auth-required"`

	Logging logger.Config `toml:"logging"`
}

// NewConfig returns a Config with defaults matching the reference
// broker's baseline settings.
func NewConfig() Config {
	hostname, _ := os.Hostname()
	return Config{
		BroadcastAddress:   hostname,
		TCPAddress:         "0.0.0.0:4150",
		HTTPAddress:        "0.0.0.0:4151",
		DataPath:           "/tmp/flowd",
		MemQueueSize:       10000,
		MaxMsgSize:         1024 * 1024,
		MaxBodySize:        5 * 1024 * 1024,
		MaxRdyCount:        2500,
		MsgTimeout:         tomlutil.Duration(60_000_000_000),      // 60s
		MaxMsgTimeout:      tomlutil.Duration(15 * 60_000_000_000), // 15m
		MaxReqTimeout:      tomlutil.Duration(60 * 60_000_000_000), // 1h
		ClientTimeout:      tomlutil.Duration(60_000_000_000),
		RegistryPingPeriod: tomlutil.Duration(15_000_000_000),
		MaxBytesPerFile:    100 * 1024 * 1024,
		SyncEvery:          2500,
		Logging:            logger.NewConfig(),
	}
}

// Validate checks for configuration combinations the broker cannot
// safely start with.
func (c *Config) Validate() error {
	if c.MaxMsgSize <= 0 {
		return fmt.Errorf("nsqd: max-msg-size must be positive")
	}
	if c.MemQueueSize < 0 {
		return fmt.Errorf("nsqd: mem-queue-size must not be negative")
	}
	return nil
}
