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

// Package store provides the Postgres-backed persistence layer for users,
// newsletter sources, the skip log, and the newsletter ingest transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateNewsletter reports that the ingest transaction hit the
// newsletters uniqueness constraint: the same message was already stored for
// this user. Callers treat this as a distinguished outcome, not a failure.
var ErrDuplicateNewsletter = errors.New("newsletter already ingested")

// ErrIngestFailed reports that the ingest transaction failed for a reason
// other than a duplicate. The message was not stored; redelivering it may
// succeed.
var ErrIngestFailed = errors.New("newsletter ingest transaction failed")

// Store provides persistence operations backed by a Postgres pool.
type Store struct {
	pool       *pgxpool.Pool
	maxSources int
}

// New creates a store backed by the given Postgres pool and ensures the
// schema exists. maxSources is the per-user newsletter source quota.
func New(ctx context.Context, pool *pgxpool.Pool, maxSources int) (*Store, error) {
	s := &Store{pool: pool, maxSources: maxSources}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("store initialised", "max_sources_per_user", maxSources)
	return s, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			email_alias  TEXT NOT NULL UNIQUE,
			source_count INT NOT NULL DEFAULT 0,
			created_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS newsletter_sources (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES users(id),
			name         TEXT NOT NULL,
			from_address TEXT NOT NULL DEFAULT '',
			is_archived  BOOLEAN NOT NULL DEFAULT FALSE,
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			updated_at   TIMESTAMPTZ DEFAULT NOW()
		);
		-- (user_id, name) is unique in the intended design, but rows imported
		-- from before the constraint existed may carry duplicate names, so
		-- the index is non-unique and lookups tolerate extra rows.
		CREATE INDEX IF NOT EXISTS idx_sources_user_name
			ON newsletter_sources(user_id, name);
		CREATE TABLE IF NOT EXISTS newsletters (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES users(id),
			source_id    TEXT NOT NULL REFERENCES newsletter_sources(id),
			title        TEXT NOT NULL,
			content      TEXT NOT NULL DEFAULT '',
			excerpt      TEXT NOT NULL DEFAULT '',
			from_email   TEXT NOT NULL DEFAULT '',
			from_name    TEXT NOT NULL DEFAULT '',
			raw_headers  TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL,
			received_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(user_id, content_hash)
		);
		CREATE INDEX IF NOT EXISTS idx_newsletters_user ON newsletters(user_id, received_at DESC);
		CREATE TABLE IF NOT EXISTS skipped_newsletters (
			id           BIGSERIAL PRIMARY KEY,
			user_id      TEXT,
			source_id    TEXT,
			title        TEXT NOT NULL DEFAULT '',
			content      TEXT NOT NULL DEFAULT '',
			received_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			skip_reason  TEXT NOT NULL,
			skip_details JSONB,
			created_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_skipped_user ON skipped_newsletters(user_id, created_at DESC);
	`)
	return err
}
