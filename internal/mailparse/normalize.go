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

// Package mailparse normalises inbound relay payloads into EmailMessage
// records. Relays are inconsistent about declaring content-type, so parsing
// is a prioritised chain of pure strategies: the declared format is tried
// first, then the remaining formats, and the first one that yields fields
// wins.
package mailparse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"

	"github.com/zapidan/newsletter-hub-sub008/internal/models"
)

// ErrMalformedPayload is returned when no parsing strategy can extract
// fields from the request body.
var ErrMalformedPayload = errors.New("unable to parse webhook payload")

// AuthParams carries the relay's signature fields. The relay places them in
// the POST body alongside the message fields, not in headers.
type AuthParams struct {
	Token     string
	Timestamp string
	Signature string
}

// fields is the flat key/value view of a parsed payload.
type fields map[string]string

// Normalize parses a raw request body into an EmailMessage plus any webhook
// auth parameters found in the payload. contentType is the request's
// Content-Type header, possibly empty or wrong.
func Normalize(contentType string, body []byte) (*models.EmailMessage, AuthParams, error) {
	var strategies []func() (fields, bool)

	parseJSON := func() (fields, bool) { return jsonFields(body) }
	parseForm := func() (fields, bool) { return formFields(contentType, body) }
	parseRaw := func() (fields, bool) { return rawQueryFields(body) }

	if declaresJSON(contentType) {
		strategies = []func() (fields, bool){parseJSON, parseForm, parseRaw}
	} else {
		strategies = []func() (fields, bool){parseForm, parseRaw, parseJSON}
	}

	var f fields
	for _, parse := range strategies {
		if got, ok := parse(); ok {
			f = got
			break
		}
	}
	if f == nil {
		return nil, AuthParams{}, ErrMalformedPayload
	}

	msg := &models.EmailMessage{
		To:         strings.TrimSpace(f.first("recipient", "to")),
		From:       strings.TrimSpace(f.first("from")),
		Subject:    strings.TrimSpace(f.first("subject")),
		BodyHTML:   f.first("body-html", "html"),
		BodyPlain:  f.first("body-plain", "text"),
		RawHeaders: f.first("message-headers"),
	}

	if msg.RawHeaders == "" {
		msg.RawHeaders = synthesizeHeaders(msg)
	}

	auth := AuthParams{
		Token:     f.first("token"),
		Timestamp: f.first("timestamp"),
		Signature: f.first("signature"),
	}

	return msg, auth, nil
}

// first returns the value for the first key that is present and non-empty.
func (f fields) first(keys ...string) string {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

func declaresJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// jsonFields parses a JSON object body. Non-object JSON is rejected.
func jsonFields(body []byte) (fields, bool) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false
	}
	f := fields{}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			f[strings.ToLower(k)] = s
		}
	}
	return f, true
}

// formFields parses multipart or url-encoded form bodies according to the
// declared media type.
func formFields(contentType string, body []byte) (fields, bool) {
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, false
	}

	switch {
	case mt == "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, false
		}
		return multipartFields(body, boundary)
	case mt == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, false
		}
		return queryFields(values), true
	default:
		return nil, false
	}
}

func multipartFields(body []byte, boundary string) (fields, bool) {
	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	f := fields{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false
		}
		// Attachments are not used by the pipeline
		if part.FileName() != "" {
			continue
		}
		value, err := io.ReadAll(part)
		if err != nil {
			return nil, false
		}
		f[strings.ToLower(part.FormName())] = string(value)
	}
	if len(f) == 0 {
		return nil, false
	}
	return f, true
}

// rawQueryFields is the last-resort strategy for bodies posted without a
// usable content-type: heuristically detect url-encoding by the presence of
// '=' or '&' and require at least one recognised message field so arbitrary
// text is not mistaken for a payload.
func rawQueryFields(body []byte) (fields, bool) {
	if !bytes.ContainsAny(body, "=&") {
		return nil, false
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, false
	}
	f := queryFields(values)
	if f.first("recipient", "to", "from", "subject") == "" {
		return nil, false
	}
	return f, true
}

func queryFields(values url.Values) fields {
	f := fields{}
	for k, vs := range values {
		if len(vs) > 0 {
			f[strings.ToLower(k)] = vs[0]
		}
	}
	return f
}

// synthesizeHeaders builds a minimal header block when the relay did not
// forward the original headers.
func synthesizeHeaders(msg *models.EmailMessage) string {
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", msg.From, msg.To, msg.Subject)
}
