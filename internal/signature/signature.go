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

// Package signature verifies relay webhook authenticity. The relay signs
// each delivery with HMAC-SHA256 over timestamp||token using the shared
// signing secret and places token, timestamp, and signature in the POST
// body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

var (
	// ErrMissingParams is returned when verification is required but the
	// payload lacks token, timestamp, or signature.
	ErrMissingParams = errors.New("missing webhook signature parameters")

	// ErrInvalidSignature is returned when the computed HMAC does not match.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Verifier checks webhook signatures against a shared secret. Verification
// only happens when required is true; non-production deployments run with
// it disabled.
type Verifier struct {
	secret   []byte
	required bool
}

// NewVerifier creates a verifier. When required is false, Verify always
// succeeds.
func NewVerifier(secret string, required bool) *Verifier {
	return &Verifier{secret: []byte(secret), required: required}
}

// Required reports whether this verifier enforces signatures.
func (v *Verifier) Required() bool {
	return v.required
}

// Verify checks HMAC-SHA256(secret, timestamp||token) against the supplied
// signature, accepting hex or base64url encodings.
func (v *Verifier) Verify(token, timestamp, sig string) error {
	if !v.required {
		return nil
	}
	if token == "" || timestamp == "" || sig == "" {
		return ErrMissingParams
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(token))
	want := mac.Sum(nil)

	got, err := decodeSignature(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(want, got) {
		return ErrInvalidSignature
	}
	return nil
}

// decodeSignature accepts the relay's signature in hex or base64url form.
func decodeSignature(sig string) ([]byte, error) {
	if b, err := hex.DecodeString(sig); err == nil {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(sig); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(sig)
}
