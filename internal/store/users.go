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

	"github.com/jackc/pgx/v5"

	"github.com/zapidan/newsletter-hub-sub008/internal/models"
)

// FindUserByAlias looks up a user by exact match on the inbound email alias.
// Returns nil with no error when no user matches.
func (s *Store) FindUserByAlias(ctx context.Context, alias string) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email_alias FROM users WHERE email_alias = $1
	`, alias)

	var u models.User
	err := row.Scan(&u.ID, &u.EmailAlias)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// IncrementSourceCount bumps the denormalised per-user source counter.
// Callers treat failures here as non-fatal; counter drift is acceptable,
// blocking ingestion is not.
func (s *Store) IncrementSourceCount(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET source_count = source_count + 1 WHERE id = $1
	`, userID)
	return err
}
