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

// Package pipeline runs the ingest sequence for one normalised message:
// resolve the recipient to a user, find or create the newsletter source,
// ask the plan capability for admission, and atomically persist the result.
// Every outcome is classified as stored, skipped (with reason), or error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/zapidan/newsletter-hub-sub008/internal/admission"
	"github.com/zapidan/newsletter-hub-sub008/internal/dedup"
	"github.com/zapidan/newsletter-hub-sub008/internal/mailparse"
	"github.com/zapidan/newsletter-hub-sub008/internal/metrics"
	"github.com/zapidan/newsletter-hub-sub008/internal/models"
	"github.com/zapidan/newsletter-hub-sub008/internal/store"
)

var (
	// ErrInvalidRecipient reports a recipient address that is not even
	// shaped like local@domain.tld. This is a hard error, not a skip.
	ErrInvalidRecipient = errors.New("invalid recipient address format")

	// ErrSourceLimitExceeded reports that creating another source would
	// exceed the user's plan quota.
	ErrSourceLimitExceeded = errors.New("newsletter source limit reached")

	// ErrMissingUserID guards the source-resolution invariant: every source
	// is user-scoped.
	ErrMissingUserID = errors.New("source resolution requires a user id")
)

var recipientShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// UserStore is the identity-store contract the pipeline consumes.
type UserStore interface {
	FindUserByAlias(ctx context.Context, alias string) (*models.User, error)
	IncrementSourceCount(ctx context.Context, userID string) error
}

// SourceStore is the newsletter-source store contract.
type SourceStore interface {
	FindSources(ctx context.Context, name, userID string) ([]models.Source, error)
	CreateSource(ctx context.Context, src *models.Source) error
	UpdateSourceFrom(ctx context.Context, sourceID, from string) error
	CanAddSource(ctx context.Context, userID string) (bool, error)
}

// NewsletterStore is the atomic ingest contract.
type NewsletterStore interface {
	IngestNewsletter(ctx context.Context, p store.IngestParams) (*models.Newsletter, error)
}

// SkipLog appends to the skip audit table.
type SkipLog interface {
	InsertSkipped(ctx context.Context, rec *models.SkippedNewsletter) error
}

// AdmissionChecker is the plan capability contract.
type AdmissionChecker interface {
	CanReceive(ctx context.Context, userID, title, content string) (admission.Decision, error)
}

// DedupFilter is the advisory duplicate fast path. May be nil.
type DedupFilter interface {
	IsNew(ctx context.Context, fingerprint string) (bool, error)
	Forget(ctx context.Context, fingerprint string) error
}

// EventPublisher announces stored newsletters downstream. May be nil.
type EventPublisher interface {
	PublishIngested(ctx context.Context, n *models.Newsletter) error
}

// Pipeline wires the ingest stages together. All dependencies are injected
// so tests can substitute in-memory fakes.
type Pipeline struct {
	users       UserStore
	sources     SourceStore
	newsletters NewsletterStore
	skips       SkipLog
	admission   AdmissionChecker
	filter      DedupFilter
	events      EventPublisher
	collector   *metrics.Collector

	// fallbackUserID, when non-empty, receives mail whose alias matches no
	// user instead of recording an unknown_recipient skip.
	fallbackUserID string
}

// New creates a pipeline. filter and events are optional.
func New(
	users UserStore,
	sources SourceStore,
	newsletters NewsletterStore,
	skips SkipLog,
	checker AdmissionChecker,
	filter DedupFilter,
	events EventPublisher,
	collector *metrics.Collector,
	fallbackUserID string,
) *Pipeline {
	return &Pipeline{
		users:          users,
		sources:        sources,
		newsletters:    newsletters,
		skips:          skips,
		admission:      checker,
		filter:         filter,
		events:         events,
		collector:      collector,
		fallbackUserID: fallbackUserID,
	}
}

// Result is the classified outcome of one ingest attempt.
type Result struct {
	Newsletter *models.Newsletter
	Skipped    bool
	Reason     models.SkipReason
	Details    map[string]any
}

// Process runs the full ingest sequence for one message. Skips are not
// errors: the returned Result carries the reason and callers respond with
// success. A non-nil error is a hard failure.
func (p *Pipeline) Process(ctx context.Context, msg *models.EmailMessage) (*Result, error) {
	res, userID, stage, err := p.process(ctx, msg)
	if err != nil {
		p.recordFailure(ctx, userID, stage, msg, err)
		return nil, err
	}
	if res.Skipped && p.collector != nil {
		p.collector.RecordSkipped(string(res.Reason))
	}
	return res, nil
}

// process returns the result, the resolved user id, and the stage that
// failed when err is non-nil.
func (p *Pipeline) process(ctx context.Context, msg *models.EmailMessage) (*Result, string, string, error) {
	sender := mailparse.ParseSender(msg.From)

	// Recipient resolution
	recipient := strings.ToLower(strings.TrimSpace(msg.To))
	if !recipientShape.MatchString(recipient) {
		return nil, "", "recipient", fmt.Errorf("%w: %q", ErrInvalidRecipient, msg.To)
	}

	user, err := p.users.FindUserByAlias(ctx, recipient)
	if err != nil {
		return nil, "", "recipient", fmt.Errorf("look up recipient alias: %w", err)
	}

	var userID string
	switch {
	case user != nil:
		userID = user.ID
	case p.fallbackUserID != "":
		userID = p.fallbackUserID
		slog.Info("recipient alias unknown, using configured fallback user",
			"recipient", recipient,
		)
	default:
		res := p.skip(ctx, "", "", msg, models.SkipUnknownRecipient, map[string]any{
			"recipient": recipient,
		})
		return res, "", "", nil
	}

	// Source resolution
	src, archived, err := p.resolveSource(ctx, sender, userID)
	if err != nil {
		return nil, userID, "source", err
	}
	if archived {
		res := p.skip(ctx, userID, src.ID, msg, models.SkipSourceArchived, map[string]any{
			"source_name": src.Name,
		})
		return res, userID, "", nil
	}

	// Admission check — advisory on transport failure
	dec, err := p.admission.CanReceive(ctx, userID, msg.Subject, msg.Body())
	if err != nil {
		slog.Warn("admission check unreachable, proceeding", "error", err)
	} else if !dec.CanReceive {
		reason := models.SkipReason(dec.Reason)
		if reason == "" {
			reason = models.SkipLimitReached
		}
		res := p.skip(ctx, userID, src.ID, msg, reason, map[string]any{
			"source_name": src.Name,
			"reported_by": "can_receive_newsletter",
		})
		return res, userID, "", nil
	}

	// Duplicate fast path. Advisory only, the store constraint is the
	// authority. marked records whether this delivery set the Redis key,
	// so a failed persist can release it for the relay's retry.
	fingerprint := dedup.Fingerprint(userID, msg)
	marked := false
	if p.filter != nil {
		isNew, err := p.filter.IsNew(ctx, fingerprint)
		switch {
		case err != nil:
			slog.Warn("dedup check failed, proceeding", "error", err)
		case !isNew:
			res := p.skip(ctx, userID, src.ID, msg, models.SkipDuplicate, map[string]any{
				"fingerprint": fingerprint,
			})
			return res, userID, "", nil
		default:
			marked = true
		}
	}

	// Atomic persist
	newsletter, err := p.newsletters.IngestNewsletter(ctx, store.IngestParams{
		UserID:      userID,
		SourceID:    src.ID,
		FromEmail:   sender.Email,
		FromName:    sender.Name,
		Subject:     msg.Subject,
		Content:     mailparse.SanitizeHTML(msg.Body()),
		Excerpt:     mailparse.Excerpt(msg),
		RawHeaders:  msg.RawHeaders,
		ContentHash: fingerprint,
	})
	if errors.Is(err, store.ErrDuplicateNewsletter) {
		res := p.skip(ctx, userID, src.ID, msg, models.SkipDuplicate, map[string]any{
			"fingerprint": fingerprint,
		})
		return res, userID, "", nil
	}
	if err != nil {
		if marked {
			p.releaseFingerprint(ctx, fingerprint)
		}
		return nil, userID, "ingest", err
	}

	if p.collector != nil {
		p.collector.RecordIngested()
	}
	if p.events != nil {
		if err := p.events.PublishIngested(ctx, newsletter); err != nil {
			slog.Warn("ingest event publish failed", "newsletter_id", newsletter.ID, "error", err)
		}
	}

	slog.Info("newsletter ingested",
		"newsletter_id", newsletter.ID,
		"user_id", userID,
		"source", src.Name,
	)

	return &Result{Newsletter: newsletter}, userID, "", nil
}

// releaseFingerprint clears the dedup mark this delivery set after the
// persist failed. Left in place, the mark would answer the relay's retry as
// a duplicate for the whole TTL and the newsletter would never be stored.
func (p *Pipeline) releaseFingerprint(ctx context.Context, fingerprint string) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := p.filter.Forget(relCtx, fingerprint); err != nil {
		slog.Warn("dedup mark release failed, retries will skip as duplicate until the TTL expires",
			"fingerprint", fingerprint,
			"error", err,
		)
	}
}

// resolveSource finds or creates the per-user source for this sender.
// Returns the source and whether it is archived.
func (p *Pipeline) resolveSource(ctx context.Context, sender models.ResolvedSender, userID string) (*models.Source, bool, error) {
	if userID == "" {
		return nil, false, ErrMissingUserID
	}

	name := sender.Name
	if name == "" {
		name = sender.Email
	}

	existing, err := p.sources.FindSources(ctx, name, userID)
	if err != nil {
		return nil, false, fmt.Errorf("look up source: %w", err)
	}

	if len(existing) > 0 {
		if len(existing) > 1 {
			slog.Warn("multiple sources share one name, using the oldest",
				"source_name", name,
				"user_id", userID,
				"count", len(existing),
			)
		}
		src := existing[0]
		if src.From != sender.Email {
			// Best-effort refresh; the message is ingested either way
			if err := p.sources.UpdateSourceFrom(ctx, src.ID, sender.Email); err != nil {
				slog.Warn("source address refresh failed", "source_id", src.ID, "error", err)
			} else {
				src.From = sender.Email
			}
		}
		return &src, src.IsArchived, nil
	}

	ok, err := p.sources.CanAddSource(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("source quota check: %w", err)
	}
	if !ok {
		return nil, false, ErrSourceLimitExceeded
	}

	src := &models.Source{
		UserID: userID,
		Name:   name,
		From:   sender.Email,
	}
	if err := p.sources.CreateSource(ctx, src); err != nil {
		return nil, false, fmt.Errorf("create source: %w", err)
	}

	if err := p.users.IncrementSourceCount(ctx, userID); err != nil {
		// Counter drift is acceptable; blocking ingestion is not
		slog.Warn("source counter increment failed", "user_id", userID, "error", err)
	}

	slog.Info("source created", "source_id", src.ID, "name", name, "user_id", userID)
	return src, false, nil
}

// skip records a business skip and returns the skipped result. The skip log
// write is best-effort: a reporting failure must not turn a skip into an
// error response.
func (p *Pipeline) skip(ctx context.Context, userID, sourceID string, msg *models.EmailMessage, reason models.SkipReason, details map[string]any) *Result {
	rec := &models.SkippedNewsletter{
		UserID:     userID,
		SourceID:   sourceID,
		Title:      msg.Subject,
		Content:    msg.Body(),
		ReceivedAt: time.Now().UTC(),
		Reason:     reason,
		Details:    details,
	}
	if err := p.skips.InsertSkipped(ctx, rec); err != nil {
		slog.Warn("skip log write failed", "reason", reason, "error", err)
	}

	slog.Info("message skipped", "reason", reason, "user_id", userID)
	return &Result{Skipped: true, Reason: reason, Details: details}
}

// recordFailure preserves an audit trail when the main path fails after a
// user was resolved. Client and quota errors are excluded: the skip log is
// for messages that were lost, not requests the caller must fix.
func (p *Pipeline) recordFailure(ctx context.Context, userID, stage string, msg *models.EmailMessage, cause error) {
	if p.collector != nil {
		p.collector.RecordFailed(stage)
	}
	if userID == "" ||
		errors.Is(cause, ErrInvalidRecipient) ||
		errors.Is(cause, ErrSourceLimitExceeded) {
		return
	}

	// The request context may already be cancelled or past its deadline
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := p.skips.InsertSkipped(auditCtx, &models.SkippedNewsletter{
		UserID:     userID,
		Title:      msg.Subject,
		Content:    msg.Body(),
		ReceivedAt: time.Now().UTC(),
		Reason:     models.SkipProcessingError,
		Details:    map[string]any{"error": cause.Error()},
	})
	if err != nil {
		slog.Warn("processing_error audit write failed", "error", err)
	}
}
