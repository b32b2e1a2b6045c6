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

// Package dedup provides message deduplication using a Redis SET with TTL.
// Relays redeliver on slow responses, so the same message can arrive more
// than once. The filter is an advisory fast path only; the newsletters
// uniqueness constraint remains the authority when concurrent deliveries
// race past it.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zapidan/newsletter-hub-sub008/internal/models"
)

const (
	// DefaultTTL is how long we remember a seen message fingerprint.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "nlhub:seen:"
)

// Fingerprint derives a stable identity for an inbound message, scoped to
// the recipient user. The same value is stored as the newsletter
// content_hash, so the Redis fast path and the database constraint agree.
func Fingerprint(userID string, msg *models.EmailMessage) string {
	h := sha256.New()
	for _, part := range []string{userID, msg.From, msg.Subject, msg.BodyPlain, msg.BodyHTML} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Filter tracks which message fingerprints have already been processed.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis. A non-positive ttl
// falls back to DefaultTTL.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{rdb: rdb, ttl: ttl}
}

// IsNew returns true if the fingerprint has NOT been seen before.
// If true, the fingerprint is marked as seen atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, fingerprint string) (bool, error) {
	key := keyPrefix + fingerprint

	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}

// Forget removes a fingerprint that IsNew marked as seen. Callers use it
// when the persist behind the mark did not complete, so the relay's retry
// is processed again instead of being answered as a duplicate.
func (f *Filter) Forget(ctx context.Context, fingerprint string) error {
	if err := f.rdb.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}
