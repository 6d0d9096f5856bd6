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

// HandoffStatus is the lifecycle state of a Handoff.
type HandoffStatus string

const (
	HandoffInitiated HandoffStatus = "initiated"
	HandoffAccepted  HandoffStatus = "accepted"
	HandoffCompleted HandoffStatus = "completed"
	HandoffRejected  HandoffStatus = "rejected"
)

// HandoffReason classifies why control is being handed off.
type HandoffReason string

const (
	HandoffReasonCompletion  HandoffReason = "task_completion"
	HandoffReasonEscalation  HandoffReason = "escalation"
	HandoffReasonSpecialist  HandoffReason = "specialist_required"
	HandoffReasonLoadBalance HandoffReason = "load_balance"
	HandoffReasonOther       HandoffReason = "other"
)

// Handoff transfers an in-progress scope's working context from one agent to
// another without spawning a new trajectory.
type Handoff struct {
	ID              id.ID          `json:"id"`
	TenantID        TenantID       `json:"tenant_id"`
	FromAgentID     id.ID          `json:"from_agent_id"`
	ToAgentID       *id.ID         `json:"to_agent_id,omitempty"`
	TrajectoryID    id.ID          `json:"trajectory_id"`
	ScopeID         id.ID          `json:"scope_id"`
	ContextSnapshot RawContent     `json:"context_snapshot"`
	Notes           string         `json:"notes,omitempty"`
	NextSteps       []string       `json:"next_steps,omitempty"`
	Blockers        []string       `json:"blockers,omitempty"`
	OpenQuestions   []string       `json:"open_questions,omitempty"`
	Reason          HandoffReason  `json:"reason"`
	Status          HandoffStatus  `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewHandoff constructs an Initiated handoff with no target agent assigned.
func NewHandoff(tenantID TenantID, from id.ID, trajectoryID, scopeID id.ID, reason HandoffReason, contextSnapshot RawContent) *Handoff {
	now := time.Now().UTC()
	return &Handoff{
		ID:              id.New(),
		TenantID:        tenantID,
		FromAgentID:     from,
		TrajectoryID:    trajectoryID,
		ScopeID:         scopeID,
		ContextSnapshot: contextSnapshot,
		Reason:          reason,
		Status:          HandoffInitiated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Accept transitions Initiated -> Accepted, setting ToAgentID (:
// "to_agent_id is set on Accept").
func (h *Handoff) Accept(toAgent id.ID, now time.Time) error {
	if h.Status != HandoffInitiated {
		return caliberr.Conflict("invalid_handoff_transition", "handoff must be initiated to accept").
			WithDetail("handoff_id", h.ID.String())
	}
	h.Status = HandoffAccepted
	h.ToAgentID = &toAgent
	h.UpdatedAt = now
	return nil
}

// Reject transitions Initiated -> Rejected.
func (h *Handoff) Reject(now time.Time) error {
	if h.Status != HandoffInitiated {
		return caliberr.Conflict("invalid_handoff_transition", "handoff must be initiated to reject").
			WithDetail("handoff_id", h.ID.String())
	}
	h.Status = HandoffRejected
	h.UpdatedAt = now
	return nil
}

// Complete transitions Accepted -> Completed.
func (h *Handoff) Complete(now time.Time) error {
	if h.Status != HandoffAccepted {
		return caliberr.Conflict("invalid_handoff_transition", "handoff must be accepted to complete").
			WithDetail("handoff_id", h.ID.String())
	}
	h.Status = HandoffCompleted
	h.UpdatedAt = now
	return nil
}
