// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtpbridge

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the ambient configuration surface this repo's Non-goals still
// require: where to bind, which codec to speak, and how long a session may
// sit idle before GetSessionInfo reports it inactive. It is intentionally
// small — SDP negotiation, SRTP keys and PBX dialplan routing are external
// collaborators per spec.md §1.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Codec is one of "ulaw" or "slin16" (spec.md §6). Defaults to "ulaw".
	Codec string `yaml:"codec"`
	// IdleTimeout is the inactivity window after which GetSessionInfo
	// reports a session as no longer active (spec.md §4.6, default 30s).
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// StatsEveryNFrames sets the periodic stats-observation cadence on the
	// receive path (spec.md §4.4, default 50).
	StatsEveryNFrames int `yaml:"stats_every_n_frames"`
	// MetricsAddr, if non-empty, is where cmd/rtpbridged binds the
	// Prometheus /metrics endpoint. Not read by the Server itself.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns the configuration used when no file or env
// overrides are present.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              12000,
		Codec:             "ulaw",
		IdleTimeout:       30 * time.Second,
		StatsEveryNFrames: 50,
		MetricsAddr:       ":9090",
	}
}

// LoadConfig reads YAML configuration from filename, starting from
// DefaultConfig, then applies environment overrides (RTP_HOST, RTP_PORT,
// RTP_CODEC) the way cmd/gopbx reads LOG_LEVEL from the environment for
// its own logging knob. An empty filename skips the file entirely.
func LoadConfig(filename string) (Config, error) {
	cfg := DefaultConfig()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return Config{}, fmt.Errorf("rtpbridge: read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("rtpbridge: parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RTP_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("RTP_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("RTP_CODEC"); v != "" {
		cfg.Codec = v
	}
}
