// config.go - Client configuration.
// Copyright (C) 2026  The Megalite Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config implements the client configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/megalite/megalite/core/retry"
	"github.com/megalite/megalite/transport"
)

const (
	defaultOrigin   = "https://g.api.mega.co.nz"
	defaultLogLevel = "NOTICE"
)

// Retry defaults come from core/retry; the config file expresses delays
// in milliseconds.
const (
	defaultMaxRetries    = retry.DefaultMaxAttempts
	defaultMinRetryDelay = int(retry.DefaultBaseDelay / time.Millisecond)
	defaultMaxRetryDelay = int(retry.DefaultMaxDelay / time.Millisecond)
)

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := map[string]bool{
		"ERROR":    true,
		"WARNING":  true,
		"NOTICE":   true,
		"INFO":     true,
		"DEBUG":    true,
		"CRITICAL": true,
	}
	if lCfg.Level == "" {
		lCfg.Level = defaultLogLevel
	}
	if !lvl[lCfg.Level] {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	return nil
}

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// API is the cloud API endpoint configuration.
type API struct {
	// Origin is the base URL of the command endpoint.
	Origin string

	// MaxRetries is the attempt budget for one command batch.
	MaxRetries int

	// MinRetryDelay is the initial retry delay in milliseconds.
	MinRetryDelay int

	// MaxRetryDelay caps the retry delay, in milliseconds.
	MaxRetryDelay int

	// Timeout bounds each individual attempt, in milliseconds.  0
	// disables the per-attempt timeout.
	Timeout int

	// HTTPSTransfers forces file transfer URLs up to https.  The
	// payloads are encrypted either way; this trades CPU for
	// indistinguishable traffic.
	HTTPSTransfers bool
}

func (aCfg *API) applyDefaults() {
	if aCfg.Origin == "" {
		aCfg.Origin = defaultOrigin
	}
	if aCfg.MaxRetries == 0 {
		aCfg.MaxRetries = defaultMaxRetries
	}
	if aCfg.MinRetryDelay == 0 {
		aCfg.MinRetryDelay = defaultMinRetryDelay
	}
	if aCfg.MaxRetryDelay == 0 {
		aCfg.MaxRetryDelay = defaultMaxRetryDelay
	}
}

func (aCfg *API) validate() error {
	u, err := url.Parse(aCfg.Origin)
	if err != nil {
		return fmt.Errorf("config: API: Origin '%v' is invalid: %v", aCfg.Origin, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: API: Origin '%v' has unsupported scheme", aCfg.Origin)
	}
	if aCfg.MaxRetries < 1 {
		return fmt.Errorf("config: API: MaxRetries %d is invalid", aCfg.MaxRetries)
	}
	if aCfg.MinRetryDelay < 0 || aCfg.MaxRetryDelay < aCfg.MinRetryDelay {
		return fmt.Errorf("config: API: retry delay bounds [%d, %d] are invalid",
			aCfg.MinRetryDelay, aCfg.MaxRetryDelay)
	}
	if aCfg.Timeout < 0 {
		return fmt.Errorf("config: API: Timeout %d is invalid", aCfg.Timeout)
	}
	return nil
}

// Config is the top level client configuration.
type Config struct {
	API     *API
	Logging *Logging

	// HashcashWorkers is the number of goroutines solving proof-of-work
	// challenges.  0 means one worker.
	HashcashWorkers int

	// MetricsAddress is the listen address for the metrics endpoint.
	// Metrics are compiled in with the `prometheus` build tag and this
	// knob is ignored otherwise.
	MetricsAddress string
}

// FixupAndValidate applies defaults to missing sections and validates the
// configuration.
func (c *Config) FixupAndValidate() error {
	if c.API == nil {
		c.API = new(API)
	}
	c.API.applyDefaults()
	if err := c.API.validate(); err != nil {
		return err
	}

	if c.Logging == nil {
		c.Logging = &defaultLogging
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}

	if c.HashcashWorkers < 0 {
		return fmt.Errorf("config: HashcashWorkers %d is invalid", c.HashcashWorkers)
	}
	if c.HashcashWorkers == 0 {
		c.HashcashWorkers = 1
	}
	return nil
}

// StateConfig translates the API section into the transport's state
// configuration.  FixupAndValidate must have been called.
func (c *Config) StateConfig() (*transport.StateConfig, error) {
	origin, err := url.Parse(c.API.Origin)
	if err != nil {
		return nil, err
	}
	return &transport.StateConfig{
		Origin:        origin,
		MaxRetries:    c.API.MaxRetries,
		MinRetryDelay: time.Duration(c.API.MinRetryDelay) * time.Millisecond,
		MaxRetryDelay: time.Duration(c.API.MaxRetryDelay) * time.Millisecond,
		Timeout:       time.Duration(c.API.Timeout) * time.Millisecond,
		UseHTTPS:      c.API.HTTPSTransfers,
	}, nil
}

// Load parses and validates the provided buffer b as a config file body
// and returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}
