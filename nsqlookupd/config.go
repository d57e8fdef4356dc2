package nsqlookupd

import (
	"github.com/flowmq/flowmq/logger"
	"github.com/flowmq/flowmq/tomlutil"
)

// Config is the registry's full runtime configuration.
type Config struct {
	TCPAddress  string `toml:"tcp-address"`
	HTTPAddress string `toml:"http-address"`

	InactiveProducerTimeout tomlutil.Duration `toml:"inactive-producer-timeout"`
	TombstoneLifetime       tomlutil.Duration `toml:"tombstone-lifetime"`

	Logging logger.Config `toml:"logging"`
}

// NewConfig returns a Config with defaults matching the reference
// registry's baseline settings.
func NewConfig() Config {
	return Config{
		TCPAddress:              "0.0.0.0:4160",
		HTTPAddress:             "0.0.0.0:4161",
		InactiveProducerTimeout: tomlutil.Duration(300_000_000_000), // 5m
		TombstoneLifetime:       tomlutil.Duration(45_000_000_000),  // 45s
		Logging:                 logger.NewConfig(),
	}
}
