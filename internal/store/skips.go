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
	"encoding/json"
	"fmt"
	"time"

	"github.com/zapidan/newsletter-hub-sub008/internal/models"
)

// InsertSkipped appends one row to the skip log. Rows are write-once; the
// log exists for operator triage, not for the request path to read back.
func (s *Store) InsertSkipped(ctx context.Context, rec *models.SkippedNewsletter) error {
	var details []byte
	if rec.Details != nil {
		b, err := json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("marshal skip details: %w", err)
		}
		details = b
	}

	receivedAt := rec.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO skipped_newsletters
			(user_id, source_id, title, content, received_at, skip_reason, skip_details)
		VALUES (NULLIF($1, ''), NULLIF($2, ''), $3, $4, $5, $6, $7)
	`, rec.UserID, rec.SourceID, rec.Title, rec.Content, receivedAt, string(rec.Reason), details)
	return err
}
