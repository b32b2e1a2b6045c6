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

// Package models defines the data structures shared across the ingest service.
package models

import "time"

// SkipReason classifies why an inbound message was not stored as a newsletter.
type SkipReason string

const (
	SkipSourceArchived   SkipReason = "source_archived"
	SkipUnknownRecipient SkipReason = "unknown_recipient"
	SkipLimitReached     SkipReason = "limit_reached"
	SkipDuplicate        SkipReason = "duplicate"
	SkipProcessingError  SkipReason = "processing_error"
)

// EmailMessage is the normalised form of an inbound relay payload.
// It lives for the duration of a single request and is never persisted as-is.
type EmailMessage struct {
	To         string
	From       string
	Subject    string
	BodyPlain  string
	BodyHTML   string
	RawHeaders string
}

// Body returns the preferred content for storage: HTML when present,
// otherwise the plain-text part.
func (m *EmailMessage) Body() string {
	if m.BodyHTML != "" {
		return m.BodyHTML
	}
	return m.BodyPlain
}

// ResolvedSender is the sender identity extracted from a possibly
// display-name-decorated From field ("Daily Dispatch <news@dispatch.io>").
type ResolvedSender struct {
	Email string
	Name  string
}

// User is a reader account owned by the identity store. The pipeline only
// reads users; it never creates or mutates them.
type User struct {
	ID         string
	EmailAlias string
}

// Source is a per-user newsletter source, unique per (user_id, name).
type Source struct {
	ID         string
	UserID     string
	Name       string
	From       string
	IsArchived bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Newsletter is the final artifact, created exactly once per successfully
// admitted, non-duplicate message.
type Newsletter struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	SourceID   string    `json:"source_id"`
	Title      string    `json:"title"`
	Excerpt    string    `json:"excerpt,omitempty"`
	FromEmail  string    `json:"from_email"`
	FromName   string    `json:"from_name,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// SkippedNewsletter is one row of the append-only skip log. Rows are written
// once per skipped or failed ingest attempt and never updated.
type SkippedNewsletter struct {
	UserID     string
	SourceID   string // empty when no source was resolved
	Title      string
	Content    string
	ReceivedAt time.Time
	Reason     SkipReason
	Details    map[string]any
}
