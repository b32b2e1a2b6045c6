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

// Package admission asks the plan capability whether a user may receive a
// newsletter right now. The capability lives in the database as the
// can_receive_newsletter function, owned by the billing schema; this
// package only consumes its call contract.
package admission

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Decision is the capability's answer. Reason is only meaningful when
// CanReceive is false.
type Decision struct {
	CanReceive bool
	Reason     string
}

// Checker queries the plan capability.
type Checker struct {
	pool *pgxpool.Pool
}

// NewChecker creates a capability checker backed by the given pool.
func NewChecker(pool *pgxpool.Pool) *Checker {
	return &Checker{pool: pool}
}

// CanReceive asks whether the user may receive this newsletter. Errors from
// this call are transport failures; the caller decides policy (the pipeline
// fails open).
func (c *Checker) CanReceive(ctx context.Context, userID, title, content string) (Decision, error) {
	var d Decision
	err := c.pool.QueryRow(ctx, `
		SELECT can_receive, COALESCE(reason, '')
		FROM can_receive_newsletter($1, $2, $3)
	`, userID, title, content).Scan(&d.CanReceive, &d.Reason)
	if err != nil {
		return Decision{}, fmt.Errorf("can_receive_newsletter: %w", err)
	}
	return d, nil
}
