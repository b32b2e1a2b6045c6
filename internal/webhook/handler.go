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

// Package webhook handles inbound email deliveries from the relay. The
// relay POSTs each forwarded newsletter to the registered webhook URL as
// JSON or form data; this handler normalises the payload, verifies the
// webhook signature, runs the ingest pipeline, and maps the outcome to an
// HTTP response. Skips are success responses with a structured reason —
// only client, quota, and infrastructure failures surface as errors.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zapidan/newsletter-hub-sub008/internal/mailparse"
	"github.com/zapidan/newsletter-hub-sub008/internal/metrics"
	"github.com/zapidan/newsletter-hub-sub008/internal/models"
	"github.com/zapidan/newsletter-hub-sub008/internal/pipeline"
	"github.com/zapidan/newsletter-hub-sub008/internal/signature"
	"github.com/zapidan/newsletter-hub-sub008/internal/store"
)

// maxBodyBytes caps inbound payloads. Newsletters are large but not 10 MB.
const maxBodyBytes = 10 << 20

// Processor runs the ingest sequence for one normalised message. The
// interface exists so handler tests can substitute a stub pipeline.
type Processor interface {
	Process(ctx context.Context, msg *models.EmailMessage) (*pipeline.Result, error)
}

// Handler processes relay webhook deliveries.
type Handler struct {
	processor Processor
	verifier  *signature.Verifier
	collector *metrics.Collector
	timeout   time.Duration
}

// NewHandler creates a webhook handler. timeout bounds the resolve-to-persist
// chain for each request.
func NewHandler(processor Processor, verifier *signature.Verifier, collector *metrics.Collector, timeout time.Duration) *Handler {
	return &Handler{
		processor: processor,
		verifier:  verifier,
		collector: collector,
		timeout:   timeout,
	}
}

// response is the JSON envelope for every non-preflight reply.
type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// skippedData is the success-with-skipped payload.
type skippedData struct {
	Skipped bool              `json:"skipped"`
	Reason  models.SkipReason `json:"reason"`
	Details map[string]any    `json:"details,omitempty"`
}

// ServeIngest handles one relay delivery.
//
// The relay retries on non-2xx responses, so business skips (unknown
// recipient, archived source, admission denied, duplicate) deliberately
// return 200 with a skipped body: redelivering them would change nothing.
func (h *Handler) ServeIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		if h.collector != nil {
			h.collector.ObserveRequest(time.Since(start))
		}
	}()

	// The relay's webhook origin is not a browser, but the reader app's
	// test harness exercises this endpoint cross-origin.
	setCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
		return
	}

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, response{Error: "Request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, response{Error: "Unable to read request body"})
		return
	}

	msg, auth, err := mailparse.Normalize(r.Header.Get("Content-Type"), body)
	if err != nil {
		slog.Info("rejected unparseable payload",
			"content_type", r.Header.Get("Content-Type"),
			"body_len", len(body),
		)
		writeJSON(w, http.StatusBadRequest, response{Error: "Unable to parse request body"})
		return
	}

	if err := h.verifier.Verify(auth.Token, auth.Timestamp, auth.Signature); err != nil {
		switch {
		case errors.Is(err, signature.ErrMissingParams):
			writeJSON(w, http.StatusBadRequest, response{Error: "Missing webhook signature parameters"})
		default:
			slog.Warn("webhook signature mismatch", "remote_addr", r.RemoteAddr)
			writeJSON(w, http.StatusForbidden, response{Error: "Invalid webhook signature"})
		}
		return
	}

	if msg.From == "" || msg.To == "" || msg.Subject == "" {
		writeJSON(w, http.StatusBadRequest, response{
			Error: "Missing required fields: from, to, and subject are required",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.processor.Process(ctx, msg)
	if err != nil {
		h.writeProcessError(w, err)
		return
	}

	if result.Skipped {
		writeJSON(w, http.StatusOK, response{
			Success: true,
			Data: skippedData{
				Skipped: true,
				Reason:  result.Reason,
				Details: result.Details,
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, response{Success: true, Data: result.Newsletter})
}

// writeProcessError maps pipeline failures to status codes. Recipient
// format, quota, transaction, and timeout failures are 400s the relay
// operator can act on; anything else is a 500.
func (h *Handler) writeProcessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRecipient):
		writeJSON(w, http.StatusBadRequest, response{Error: "Invalid recipient address format"})
	case errors.Is(err, pipeline.ErrSourceLimitExceeded):
		writeJSON(w, http.StatusBadRequest, response{Error: "Newsletter source limit reached"})
	case errors.Is(err, store.ErrIngestFailed):
		slog.Error("ingest transaction failed", "error", err)
		writeJSON(w, http.StatusBadRequest, response{Error: "Failed to store newsletter"})
	case errors.Is(err, context.DeadlineExceeded):
		slog.Error("ingest timed out", "timeout", h.timeout)
		writeJSON(w, http.StatusBadRequest, response{Error: "Processing timed out"})
	default:
		slog.Error("ingest failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, response{Error: "Internal error processing email"})
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
