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

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zapidan/newsletter-hub-sub008/internal/models"
	"github.com/zapidan/newsletter-hub-sub008/internal/pipeline"
	"github.com/zapidan/newsletter-hub-sub008/internal/signature"
	"github.com/zapidan/newsletter-hub-sub008/internal/store"
)

// stubProcessor replaces the pipeline in handler tests.
type stubProcessor struct {
	result *pipeline.Result
	err    error
	delay  time.Duration
	gotMsg *models.EmailMessage
}

func (s *stubProcessor) Process(ctx context.Context, msg *models.EmailMessage) (*pipeline.Result, error) {
	s.gotMsg = msg
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestHandler(p Processor, v *signature.Verifier) *Handler {
	if v == nil {
		v = signature.NewVerifier("", false)
	}
	return NewHandler(p, v, nil, time.Second)
}

func postJSON(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/email", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeIngest(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v\nbody: %s", err, rr.Body.String())
	}
	return out
}

const validBody = `{"to":"user1@example.dev","from":"sender@example.com","subject":"Test","body-plain":"hi"}`

// TestServeIngest_Preflight verifies CORS preflight always returns 200 "ok"
// with the fixed headers.
func TestServeIngest_Preflight(t *testing.T) {
	h := newTestHandler(&stubProcessor{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/webhook/email", nil)
	rr := httptest.NewRecorder()
	h.ServeIngest(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := rr.Body.String(); body != "ok" {
		t.Errorf("body = %q, want %q", body, "ok")
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "authorization, x-client-info, apikey, content-type" {
		t.Errorf("Allow-Headers = %q", got)
	}
}

// TestServeIngest_MethodNotAllowed verifies non-POST, non-OPTIONS methods.
func TestServeIngest_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(&stubProcessor{}, nil)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/webhook/email", nil)
			rr := httptest.NewRecorder()
			h.ServeIngest(rr, req)

			if rr.Code != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
			}
			if got := decodeBody(t, rr)["error"]; got != "Method not allowed" {
				t.Errorf("error = %q, want %q", got, "Method not allowed")
			}
		})
	}
}

// TestServeIngest_MalformedBody verifies unparseable payloads return 400.
func TestServeIngest_MalformedBody(t *testing.T) {
	h := newTestHandler(&stubProcessor{}, nil)

	rr := postJSON(t, h, `{invalid json}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// TestServeIngest_MissingRequiredFields verifies from/to/subject are
// enforced before the pipeline runs.
func TestServeIngest_MissingRequiredFields(t *testing.T) {
	stub := &stubProcessor{}
	h := newTestHandler(stub, nil)

	rr := postJSON(t, h, `{"to":"user1@example.dev","subject":"no sender"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	body := decodeBody(t, rr)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if stub.gotMsg != nil {
		t.Error("pipeline ran despite missing required fields")
	}
}

// TestServeIngest_SignatureRequired verifies the production auth gate.
func TestServeIngest_SignatureRequired(t *testing.T) {
	const secret = "s3cret"
	v := signature.NewVerifier(secret, true)
	stub := &stubProcessor{result: &pipeline.Result{Newsletter: &models.Newsletter{ID: "n1"}}}
	h := newTestHandler(stub, v)

	t.Run("missing params", func(t *testing.T) {
		rr := postJSON(t, h, validBody)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
		}
	})

	t.Run("invalid signature", func(t *testing.T) {
		body := `{"to":"user1@example.dev","from":"s@e.com","subject":"T",` +
			`"token":"tok","timestamp":"ts","signature":"deadbeef"}`
		rr := postJSON(t, h, body)
		if rr.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusForbidden)
		}
	})

	t.Run("valid signature", func(t *testing.T) {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte("ts"))
		mac.Write([]byte("tok"))
		sig := hex.EncodeToString(mac.Sum(nil))

		body := `{"to":"user1@example.dev","from":"s@e.com","subject":"T",` +
			`"token":"tok","timestamp":"ts","signature":"` + sig + `"}`
		rr := postJSON(t, h, body)
		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want %d\nbody: %s", rr.Code, http.StatusOK, rr.Body.String())
		}
	})
}

// TestServeIngest_SkippedOutcome verifies skips map to 200 with a
// structured skip body, never an error status.
func TestServeIngest_SkippedOutcome(t *testing.T) {
	stub := &stubProcessor{result: &pipeline.Result{
		Skipped: true,
		Reason:  models.SkipUnknownRecipient,
		Details: map[string]any{"recipient": "user1@example.dev"},
	}}
	h := newTestHandler(stub, nil)

	rr := postJSON(t, h, validBody)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	body := decodeBody(t, rr)
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	data, _ := body["data"].(map[string]any)
	if data["skipped"] != true {
		t.Errorf("data.skipped = %v, want true", data["skipped"])
	}
	if data["reason"] != "unknown_recipient" {
		t.Errorf("data.reason = %v, want unknown_recipient", data["reason"])
	}
}

// TestServeIngest_StoredOutcome verifies the success response shape.
func TestServeIngest_StoredOutcome(t *testing.T) {
	stub := &stubProcessor{result: &pipeline.Result{
		Newsletter: &models.Newsletter{ID: "newsletter-1", UserID: "u1", Title: "Test"},
	}}
	h := newTestHandler(stub, nil)

	rr := postJSON(t, h, validBody)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	body := decodeBody(t, rr)
	data, _ := body["data"].(map[string]any)
	if data["id"] != "newsletter-1" {
		t.Errorf("data.id = %v, want newsletter-1", data["id"])
	}
}

// TestServeIngest_ErrorMapping verifies pipeline failures map to the right
// status codes.
func TestServeIngest_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid recipient", pipeline.ErrInvalidRecipient, http.StatusBadRequest},
		{"source limit", pipeline.ErrSourceLimitExceeded, http.StatusBadRequest},
		{"failed ingest transaction", fmt.Errorf("%w: connection reset", store.ErrIngestFailed), http.StatusBadRequest},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&stubProcessor{err: tt.err}, nil)
			rr := postJSON(t, h, validBody)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if msg, _ := decodeBody(t, rr)["error"].(string); msg == "" {
				t.Error("error message missing from response")
			}
		})
	}
}

// TestServeIngest_Timeout verifies the wall-clock bound on the pipeline is
// a hard error, not a skip.
func TestServeIngest_Timeout(t *testing.T) {
	stub := &stubProcessor{
		delay:  200 * time.Millisecond,
		result: &pipeline.Result{Newsletter: &models.Newsletter{ID: "n1"}},
	}
	v := signature.NewVerifier("", false)
	h := NewHandler(stub, v, nil, 10*time.Millisecond)

	rr := postJSON(t, h, validBody)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	body := decodeBody(t, rr)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
}

// TestServeIngest_FormPayload verifies form submissions flow end to end.
func TestServeIngest_FormPayload(t *testing.T) {
	stub := &stubProcessor{result: &pipeline.Result{Newsletter: &models.Newsletter{ID: "n1"}}}
	h := newTestHandler(stub, nil)

	form := "recipient=user1%40example.dev&from=sender%40example.com&subject=Form+Test&body-plain=hi"
	req := httptest.NewRequest(http.MethodPost, "/webhook/email", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeIngest(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if stub.gotMsg == nil || stub.gotMsg.Subject != "Form Test" {
		t.Errorf("pipeline message = %+v, want Subject %q", stub.gotMsg, "Form Test")
	}
}
