// Package config provides the shared TOML loading used by both flowd and
// flowlookupd's command-line entry points, grounded on the teacher's
// run.Config.FromToml / cmd/influxd flag-then-file-then-default layering.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load decodes the TOML file at path into v. An empty path is not an
// error: callers are expected to have already populated v with defaults,
// and Load only overrides what the file specifies. A path naming a file
// that does not exist is an error.
func Load(path string, v interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config: file %s does not exist", path)
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), v); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
