// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingest service. It is loaded once at
// startup and treated as immutable afterwards.
type Config struct {
	// Server
	Port int

	// Stores
	DatabaseURL string
	RedisURL    string

	// Webhook authentication. RequireWebhookAuth is an explicit flag rather
	// than an environment-name comparison; outside production deployments it
	// is simply left false.
	SigningSecret      string
	RequireWebhookAuth bool

	// FallbackUserID, when set, receives mail whose recipient alias matches
	// no user. Leave empty to record such mail as unknown_recipient skips.
	FallbackUserID string

	// RequestTimeout bounds the resolve-to-persist chain for one webhook call.
	RequestTimeout time.Duration

	// MaxSourcesPerUser is the per-user newsletter source quota.
	MaxSourcesPerUser int

	// DedupTTL is how long the Redis dedup filter remembers a message
	// fingerprint.
	DedupTTL time.Duration

	// IngestQueue is the Redis list successful ingests are published to.
	IngestQueue string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			IngestEvents string `yaml:"ingest_events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Webhook struct {
		SigningSecret  string `yaml:"signing_secret"`
		RequireAuth    bool   `yaml:"require_auth"`
		FallbackUserID string `yaml:"fallback_user_id"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"webhook"`
	Limits struct {
		MaxSourcesPerUser int `yaml:"max_sources_per_user"`
	} `yaml:"limits"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables. Environment variables win for settings the YAML
// leaves empty, so env-only deployments work without a config file.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case os.IsNotExist(err):
		// Env-only deployment
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		Port:               firstNonZero(raw.Server.Port, envOrDefaultInt("PORT", 8080)),
		DatabaseURL:        firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:           firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		IngestQueue:        firstNonEmpty(raw.Redis.Queues.IngestEvents, envOrDefault("INGEST_QUEUE", "newsletter:ingested")),
		SigningSecret:      firstNonEmpty(raw.Webhook.SigningSecret, os.Getenv("WEBHOOK_SIGNING_SECRET")),
		RequireWebhookAuth: raw.Webhook.RequireAuth || envBool("REQUIRE_WEBHOOK_AUTH"),
		FallbackUserID:     firstNonEmpty(raw.Webhook.FallbackUserID, os.Getenv("FALLBACK_USER_ID")),
		RequestTimeout:     envOrDefaultDuration("REQUEST_TIMEOUT", 25*time.Second),
		MaxSourcesPerUser:  firstNonZero(raw.Limits.MaxSourcesPerUser, envOrDefaultInt("MAX_SOURCES_PER_USER", 50)),
		DedupTTL:           envOrDefaultDuration("DEDUP_TTL", 24*time.Hour),
	}

	if raw.Webhook.RequestTimeout != "" {
		d, err := time.ParseDuration(raw.Webhook.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse webhook.request_timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set — check config.yaml and environment variables")
	}

	if cfg.RequireWebhookAuth && cfg.SigningSecret == "" {
		return nil, fmt.Errorf("webhook auth is required but no signing secret is configured")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
