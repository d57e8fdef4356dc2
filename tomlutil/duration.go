// Package tomlutil supplies the Duration wrapper used across flowmq's config
// structs so that time.Duration fields round-trip through TOML as human
// strings ("30s", "2m") instead of raw nanosecond integers. Grounded on the
// teacher's monitor.Config use of toml.Duration for store-interval and
// store-retention-duration.
package tomlutil

import (
	"errors"
	"time"
)

// Duration is a time.Duration that marshals to/from TOML as a duration
// string.
type Duration time.Duration

// String returns the underlying duration's string form.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText parses a duration string such as "30s" or "1m30s".
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration back to its string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalTOML supports decoders (like BurntSushi/toml) that hand raw
// values instead of always going through UnmarshalText.
func (d *Duration) UnmarshalTOML(v interface{}) error {
	switch value := v.(type) {
	case string:
		return d.UnmarshalText([]byte(value))
	case int64:
		*d = Duration(time.Duration(value))
		return nil
	default:
		return errors.New("tomlutil: unsupported duration value")
	}
}

// Dur returns the value as a time.Duration.
func (d Duration) Dur() time.Duration { return time.Duration(d) }
