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

// DelegationStatus is the lifecycle state of a Delegation. Legal transitions
// are enforced by Delegation's own transition methods (Accept, Reject,
// Start, Complete, Fail).
type DelegationStatus string

const (
	DelegationPending    DelegationStatus = "pending"
	DelegationAccepted   DelegationStatus = "accepted"
	DelegationRejected   DelegationStatus = "rejected"
	DelegationInProgress DelegationStatus = "in_progress"
	DelegationCompleted  DelegationStatus = "completed"
	DelegationFailed     DelegationStatus = "failed"
)

// DelegationResult is the opaque outcome payload attached on completion.
type DelegationResult struct {
	Summary string         `json:"summary"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Delegation hands a task from one agent to another, optionally spawning a
// child trajectory. Delegatee and ChildTrajectoryID become non-null only on
// acceptance.
type Delegation struct {
	ID               id.ID             `json:"id"`
	TenantID         TenantID          `json:"tenant_id"`
	DelegatorAgentID id.ID             `json:"delegator_agent_id"`
	DelegateeAgentID *id.ID            `json:"delegatee_agent_id,omitempty"`
	TaskDescription  string            `json:"task_description"`
	ParentTrajectory id.ID             `json:"parent_trajectory_id"`
	ChildTrajectory  *id.ID            `json:"child_trajectory_id,omitempty"`
	SharedArtifacts  []id.ID           `json:"shared_artifact_ids,omitempty"`
	SharedNotes      []id.ID           `json:"shared_note_ids,omitempty"`
	Constraints      map[string]any    `json:"constraints,omitempty"`
	Deadline         *time.Time        `json:"deadline,omitempty"`
	Status           DelegationStatus  `json:"status"`
	Result           *DelegationResult `json:"result,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewDelegation constructs a Pending delegation with no delegatee assigned.
func NewDelegation(tenantID TenantID, delegator id.ID, taskDescription string, parentTrajectory id.ID) *Delegation {
	now := time.Now().UTC()
	return &Delegation{
		ID:               id.New(),
		TenantID:         tenantID,
		DelegatorAgentID: delegator,
		TaskDescription:  taskDescription,
		ParentTrajectory: parentTrajectory,
		Status:           DelegationPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Accept transitions Pending -> Accepted, assigning the delegatee and the
// spawned child trajectory.
func (d *Delegation) Accept(delegatee id.ID, childTrajectory id.ID, now time.Time) error {
	if d.Status != DelegationPending {
		return caliberr.Conflict("invalid_delegation_transition", "delegation must be pending to accept").
			WithDetail("delegation_id", d.ID.String()).
			WithDetail("status", string(d.Status))
	}
	d.Status = DelegationAccepted
	d.DelegateeAgentID = &delegatee
	d.ChildTrajectory = &childTrajectory
	d.UpdatedAt = now
	return nil
}

// Reject transitions Pending -> Rejected.
func (d *Delegation) Reject(now time.Time) error {
	if d.Status != DelegationPending {
		return caliberr.Conflict("invalid_delegation_transition", "delegation must be pending to reject").
			WithDetail("delegation_id", d.ID.String())
	}
	d.Status = DelegationRejected
	d.UpdatedAt = now
	return nil
}

// Start transitions Accepted -> InProgress.
func (d *Delegation) Start(now time.Time) error {
	if d.Status != DelegationAccepted {
		return caliberr.Conflict("invalid_delegation_transition", "delegation must be accepted to start").
			WithDetail("delegation_id", d.ID.String())
	}
	d.Status = DelegationInProgress
	d.UpdatedAt = now
	return nil
}

// Complete transitions {Accepted, InProgress} -> Completed
// ("Complete(result) requires status = InProgress or Accepted").
func (d *Delegation) Complete(result DelegationResult, now time.Time) error {
	if d.Status != DelegationInProgress && d.Status != DelegationAccepted {
		return caliberr.Conflict("invalid_delegation_transition", "delegation must be accepted or in_progress to complete").
			WithDetail("delegation_id", d.ID.String())
	}
	d.Status = DelegationCompleted
	d.Result = &result
	d.UpdatedAt = now
	return nil
}

// Fail transitions {Accepted, InProgress} -> Failed.
func (d *Delegation) Fail(reason string, now time.Time) error {
	if d.Status != DelegationInProgress && d.Status != DelegationAccepted {
		return caliberr.Conflict("invalid_delegation_transition", "delegation must be accepted or in_progress to fail").
			WithDetail("delegation_id", d.ID.String())
	}
	d.Status = DelegationFailed
	d.Result = &DelegationResult{Summary: reason}
	d.UpdatedAt = now
	return nil
}
