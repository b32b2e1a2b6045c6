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

// Package queue publishes ingest events to Redis. The reader application's
// cache-invalidation and search-indexing consumers pop them from the list;
// this service only produces.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zapidan/newsletter-hub-sub008/internal/models"
)

// IngestEvent is the envelope pushed for each successfully stored newsletter.
type IngestEvent struct {
	EventID      string    `json:"event_id"`
	UserID       string    `json:"user_id"`
	NewsletterID string    `json:"newsletter_id"`
	SourceID     string    `json:"source_id"`
	Title        string    `json:"title"`
	ReceivedAt   time.Time `json:"received_at"`
	PublishedAt  time.Time `json:"published_at"`
}

// Publisher sends ingest events to a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{rdb: rdb, queueName: queueName}
}

// PublishIngested pushes an event for a stored newsletter. Consumers read
// with BRPOP, so LPUSH keeps delivery order oldest-first.
func (p *Publisher) PublishIngested(ctx context.Context, n *models.Newsletter) error {
	event := IngestEvent{
		EventID:      uuid.New().String(),
		UserID:       n.UserID,
		NewsletterID: n.ID,
		SourceID:     n.SourceID,
		Title:        n.Title,
		ReceivedAt:   n.ReceivedAt,
		PublishedAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ingest event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published ingest event",
		"event_id", event.EventID,
		"newsletter_id", n.ID,
		"queue", p.queueName,
	)

	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
