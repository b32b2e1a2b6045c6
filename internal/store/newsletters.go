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

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zapidan/newsletter-hub-sub008/internal/models"
)

// uniqueViolation is the Postgres error code for unique constraint breaches.
const uniqueViolation = "23505"

// IngestParams carries everything the ingest transaction needs to persist
// one newsletter.
type IngestParams struct {
	UserID      string
	SourceID    string
	FromEmail   string
	FromName    string
	Subject     string
	Content     string
	Excerpt     string
	RawHeaders  string
	ContentHash string
	ReceivedAt  time.Time
}

// IngestNewsletter atomically stores a newsletter and touches its source.
// Concurrent deliveries of the same message may both reach this call; the
// (user_id, content_hash) uniqueness constraint reconciles them, surfaced
// as ErrDuplicateNewsletter rather than a generic failure.
func (s *Store) IngestNewsletter(ctx context.Context, p IngestParams) (*models.Newsletter, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyIngestError(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback(ctx)

	id := uuid.New().String()
	receivedAt := p.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO newsletters
			(id, user_id, source_id, title, content, excerpt,
			 from_email, from_name, raw_headers, content_hash, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, id, p.UserID, p.SourceID, p.Subject, p.Content, p.Excerpt,
		p.FromEmail, p.FromName, p.RawHeaders, p.ContentHash, receivedAt)
	if err != nil {
		return nil, classifyIngestError(err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE newsletter_sources SET updated_at = NOW() WHERE id = $1
	`, p.SourceID)
	if err != nil {
		return nil, classifyIngestError(fmt.Errorf("touch source: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyIngestError(err)
	}

	return &models.Newsletter{
		ID:         id,
		UserID:     p.UserID,
		SourceID:   p.SourceID,
		Title:      p.Subject,
		Excerpt:    p.Excerpt,
		FromEmail:  p.FromEmail,
		FromName:   p.FromName,
		ReceivedAt: receivedAt,
	}, nil
}

// classifyIngestError maps unique violations, and duplicate errors raised by
// database-side functions, onto ErrDuplicateNewsletter. Everything else is
// wrapped as ErrIngestFailed so callers can distinguish a failed transaction
// from an unexpected fault.
func classifyIngestError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation || strings.Contains(strings.ToLower(pgErr.Message), "duplicate") {
			return ErrDuplicateNewsletter
		}
	}
	return fmt.Errorf("%w: %v", ErrIngestFailed, err)
}
