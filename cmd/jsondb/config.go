package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tailscale/hujson"

	"github.com/jpl-au/jsondb"
)

// fileConfig is the optional JSONC config file. Every field is optional;
// flags given on the command line win.
type fileConfig struct {
	Data        string `json:"data"`
	Fingerprint string `json:"fingerprint,omitempty"` // xxh3, fnv1a or blake2b
	Lock        struct {
		TTL            string `json:"ttl,omitempty"`
		AcquireTimeout string `json:"acquire_timeout,omitempty"`
		RetryDelay     string `json:"retry_delay,omitempty"`
	} `json:"lock"`
}

var errConfigInvalid = errors.New("invalid config")

// loadConfig reads path if it is non-empty. A missing explicit file is
// an error.
func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return cfg, fmt.Errorf("%w %s: invalid JSONC: %w", errConfigInvalid, path, err)
	}
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return cfg, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return cfg, nil
}

// dbConfig converts the file form into jsondb options.
func (fc fileConfig) dbConfig() (jsondb.Config, error) {
	var cfg jsondb.Config

	switch fc.Fingerprint {
	case "", "xxh3":
		cfg.Fingerprint = jsondb.AlgXXHash3
	case "fnv1a":
		cfg.Fingerprint = jsondb.AlgFNV1a
	case "blake2b":
		cfg.Fingerprint = jsondb.AlgBlake2b
	default:
		return cfg, fmt.Errorf("%w: unknown fingerprint %q", errConfigInvalid, fc.Fingerprint)
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"lock.ttl", fc.Lock.TTL, &cfg.Lock.TTL},
		{"lock.acquire_timeout", fc.Lock.AcquireTimeout, &cfg.Lock.AcquireTimeout},
		{"lock.retry_delay", fc.Lock.RetryDelay, &cfg.Lock.RetryDelay},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s: %w", errConfigInvalid, d.name, err)
		}
		*d.dst = v
	}
	return cfg, nil
}
