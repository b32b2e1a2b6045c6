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

package mailparse

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/zapidan/newsletter-hub-sub008/internal/models"
)

// namePolicy strips every tag from sender display names and escapes what
// remains. Newsletter senders routinely put markup in their From lines.
var namePolicy = bluemonday.StrictPolicy()

var angleAddr = regexp.MustCompile(`<([^<>]+)>`)

// ParseSender extracts the bare address and sanitised display name from a
// possibly decorated From field such as "Daily Dispatch <news@dispatch.io>".
func ParseSender(from string) models.ResolvedSender {
	from = strings.TrimSpace(from)

	email := from
	name := ""
	// The address is the last angle-bracketed token; anything before it is
	// display name, which senders sometimes fill with markup.
	if matches := angleAddr.FindAllStringSubmatchIndex(from, -1); len(matches) > 0 {
		m := matches[len(matches)-1]
		email = strings.TrimSpace(from[m[2]:m[3]])
		name = strings.Trim(strings.TrimSpace(from[:m[0]]), `"`)
	}

	return models.ResolvedSender{
		Email: strings.ToLower(email),
		Name:  namePolicy.Sanitize(name),
	}
}

const excerptMaxLen = 280

// Excerpt derives a short plain-text preview from the message body for the
// reader app's list view. HTML is stripped and whitespace collapsed.
func Excerpt(msg *models.EmailMessage) string {
	text := msg.BodyPlain
	if text == "" {
		text = html.UnescapeString(namePolicy.Sanitize(msg.BodyHTML))
	}
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) > excerptMaxLen {
		text = string(runes[:excerptMaxLen-1]) + "…"
	}
	return text
}

var contentPolicy = bluemonday.UGCPolicy()

// SanitizeHTML removes unsafe markup from stored newsletter content.
func SanitizeHTML(raw string) string {
	return contentPolicy.Sanitize(raw)
}
