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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
}

// TestLoad_FromYAML verifies the YAML surface including env expansion.
func TestLoad_FromYAML(t *testing.T) {
	t.Setenv("NLHUB_DB_PASS", "hunter2")
	writeConfigFile(t, `
server:
  port: 9090
database:
  url: postgres://ingest:${NLHUB_DB_PASS}@db:5432/nlhub
redis:
  url: redis://cache:6379/1
  queues:
    ingest_events: "events:ingested"
webhook:
  signing_secret: relay-secret
  require_auth: true
  fallback_user_id: ops-user
  request_timeout: 10s
limits:
  max_sources_per_user: 25
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://ingest:hunter2@db:5432/nlhub" {
		t.Errorf("DatabaseURL = %q, env expansion failed", cfg.DatabaseURL)
	}
	if cfg.IngestQueue != "events:ingested" {
		t.Errorf("IngestQueue = %q", cfg.IngestQueue)
	}
	if !cfg.RequireWebhookAuth || cfg.SigningSecret != "relay-secret" {
		t.Errorf("webhook auth = (%v, %q), want enabled with secret", cfg.RequireWebhookAuth, cfg.SigningSecret)
	}
	if cfg.FallbackUserID != "ops-user" {
		t.Errorf("FallbackUserID = %q", cfg.FallbackUserID)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
	if cfg.MaxSourcesPerUser != 25 {
		t.Errorf("MaxSourcesPerUser = %d, want 25", cfg.MaxSourcesPerUser)
	}
}

// TestLoad_EnvOnly verifies deployments without a config file.
func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DATABASE_URL", "postgres://localhost/nlhub")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Port)
	}
	if cfg.RequestTimeout != 25*time.Second {
		t.Errorf("RequestTimeout = %v, want default 25s", cfg.RequestTimeout)
	}
	if cfg.RequireWebhookAuth {
		t.Error("RequireWebhookAuth = true, want default false")
	}
	if cfg.DedupTTL != 24*time.Hour {
		t.Errorf("DedupTTL = %v, want default 24h", cfg.DedupTTL)
	}
}

// TestLoad_RequiresDatabaseURL verifies the one hard requirement.
func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Error("expected error for missing DATABASE_URL")
	}
}

// TestLoad_AuthRequiresSecret verifies auth cannot be enabled without a
// signing secret.
func TestLoad_AuthRequiresSecret(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DATABASE_URL", "postgres://localhost/nlhub")
	t.Setenv("REQUIRE_WEBHOOK_AUTH", "true")
	t.Setenv("WEBHOOK_SIGNING_SECRET", "")

	if _, err := Load(); err == nil {
		t.Error("expected error for auth without secret")
	}
}
