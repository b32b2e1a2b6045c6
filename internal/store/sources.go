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
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zapidan/newsletter-hub-sub008/internal/models"
)

// FindSources returns the sources matching (name, user) exactly. The result
// normally holds 0 or 1 rows; extra rows can only come from legacy data.
func (s *Store) FindSources(ctx context.Context, name, userID string) ([]models.Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, from_address, is_archived, created_at, updated_at
		FROM newsletter_sources
		WHERE name = $1 AND user_id = $2
		ORDER BY created_at
	`, name, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSources(rows)
}

// CreateSource inserts a new source. The ID is generated when empty.
func (s *Store) CreateSource(ctx context.Context, src *models.Source) error {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO newsletter_sources (id, user_id, name, from_address, is_archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, src.ID, src.UserID, src.Name, src.From, src.IsArchived, now)
	return err
}

// UpdateSourceFrom refreshes the stored sender address for a source.
func (s *Store) UpdateSourceFrom(ctx context.Context, sourceID, from string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE newsletter_sources
		SET from_address = $1, updated_at = NOW()
		WHERE id = $2
	`, from, sourceID)
	return err
}

// CanAddSource reports whether the user is under the per-user source quota.
// Archived sources do not count against it.
func (s *Store) CanAddSource(ctx context.Context, userID string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM newsletter_sources
		WHERE user_id = $1 AND NOT is_archived
	`, userID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count < s.maxSources, nil
}

func collectSources(rows pgx.Rows) ([]models.Source, error) {
	var sources []models.Source
	for rows.Next() {
		var src models.Source
		if err := rows.Scan(
			&src.ID, &src.UserID, &src.Name, &src.From,
			&src.IsArchived, &src.CreatedAt, &src.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}
