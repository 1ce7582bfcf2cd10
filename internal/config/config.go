// Package config holds the daemon's runtime knobs, populated from flags at
// startup. The daemon keeps no persisted state, so there is nothing here
// beyond what a single process invocation needs.
package config

import (
	"flag"
	"time"
)

// Config is the daemon-wide set of tunables.
type Config struct {
	MaxResultRows int
	MaxFieldSize  int
	PollInterval  time.Duration
	LogLevel      string
	LogFormat     string
}

// Default returns the configuration a daemon starts with before flags are
// parsed onto it.
func Default() *Config {
	return &Config{
		MaxResultRows: 1 << 20,
		MaxFieldSize:  32 * 1024,
		PollInterval:  100 * time.Millisecond,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// RegisterFlags binds c's fields to fs, following the teacher's
// flag.BoolVar/flag.DurationVar-into-a-struct style.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.MaxResultRows, "max-result-rows", c.MaxResultRows, "maximum rows returned in a single result set")
	fs.IntVar(&c.MaxFieldSize, "max-field-size", c.MaxFieldSize, "maximum bytes for a single text/blob cell before truncation")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "bounded wait between readiness re-checks of the shutdown flag")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: json or text")
}
