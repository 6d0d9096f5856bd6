// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package entity

import (
	"time"

	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/id"
)

// RawContent is an opaque serialized context snapshot.
type RawContent []byte

// Checkpoint captures a recoverable snapshot of a Scope's working context.
type Checkpoint struct {
	ContextState RawContent `json:"context_state"`
	Recoverable  bool       `json:"recoverable"`
}

// Scope is a context partition owned by one trajectory.
type Scope struct {
	ID             id.ID          `json:"id"`
	TenantID       TenantID       `json:"tenant_id"`
	TrajectoryID   id.ID          `json:"trajectory_id"`
	ParentScopeID  *id.ID         `json:"parent_scope_id,omitempty"`
	Name           string         `json:"name"`
	Purpose        string         `json:"purpose,omitempty"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
	ClosedAt       *time.Time     `json:"closed_at,omitempty"`
	Checkpoint     *Checkpoint    `json:"checkpoint,omitempty"`
	TokenBudget    int            `json:"token_budget"`
	TokensUsed     int            `json:"tokens_used"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewScope constructs an open scope with a non-negative token budget.
func NewScope(tenantID TenantID, trajectoryID id.ID, name string, tokenBudget int) (*Scope, error) {
	if tokenBudget < 0 {
		return nil, caliberr.Validation("invalid_token_budget", "token_budget must be >= 0")
	}
	return &Scope{
		ID:           id.New(),
		TenantID:     tenantID,
		TrajectoryID: trajectoryID,
		Name:         name,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		TokenBudget:  tokenBudget,
	}, nil
}

// ReserveTokens enforces the "tokens_used <= token_budget" invariant. Call
// before appending a Turn that consumes `count` tokens.
func (s *Scope) ReserveTokens(count int) error {
	if !s.IsActive {
		return caliberr.Forbidden("scope_closed", "scope is closed, further turns are rejected").
			WithDetail("scope_id", s.ID.String())
	}
	if s.TokensUsed+count > s.TokenBudget {
		return caliberr.Forbidden("scope_budget_exceeded", "token budget exceeded").
			WithDetail("scope_id", s.ID.String()).
			WithDetail("token_budget", s.TokenBudget).
			WithDetail("tokens_used", s.TokensUsed).
			WithDetail("requested", count)
	}
	s.TokensUsed += count
	return nil
}

// Close marks the scope inactive and sets ClosedAt; further ReserveTokens
// calls will fail.
func (s *Scope) Close() error {
	if !s.IsActive {
		return caliberr.Conflict("scope_already_closed", "scope is already closed")
	}
	now := time.Now().UTC()
	s.IsActive = false
	s.ClosedAt = &now
	return nil
}
