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

// Package entity defines CALIBER's typed domain records: trajectories,
// scopes, turns, artifacts, notes, edges, and the coordination primitives
// (locks, messages, delegations, handoffs, conflicts).
package entity

import (
	"time"

	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/id"
)

// TenantID tags every persisted row and every cache key.
type TenantID = id.ID

// TrajectoryStatus is the lifecycle state of a Trajectory.
type TrajectoryStatus string

const (
	TrajectoryActive    TrajectoryStatus = "active"
	TrajectoryCompleted TrajectoryStatus = "completed"
	TrajectoryFailed    TrajectoryStatus = "failed"
	TrajectorySuspended TrajectoryStatus = "suspended"
)

// IsTerminal reports whether the status is a final state.
func (s TrajectoryStatus) IsTerminal() bool {
	return s == TrajectoryCompleted || s == TrajectoryFailed
}

// TrajectoryOutcome records the final disposition of a Trajectory.
type TrajectoryOutcome struct {
	Status            TrajectoryStatus `json:"status"`
	Summary           string           `json:"summary,omitempty"`
	ProducedArtifacts []id.ID          `json:"produced_artifacts,omitempty"`
	ProducedNotes     []id.ID          `json:"produced_notes,omitempty"`
	Error             string           `json:"error,omitempty"`
}

// Trajectory is a task container. Forms a tree within a tenant; Root is the
// transitive root (nil iff this is the root).
type Trajectory struct {
	ID                 id.ID              `json:"id"`
	TenantID           TenantID           `json:"tenant_id"`
	Name               string             `json:"name"`
	Description        string             `json:"description,omitempty"`
	Status             TrajectoryStatus   `json:"status"`
	ParentTrajectoryID *id.ID             `json:"parent_trajectory_id,omitempty"`
	RootTrajectoryID   *id.ID             `json:"root_trajectory_id,omitempty"`
	AgentID            *id.ID             `json:"agent_id,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
	Outcome            *TrajectoryOutcome `json:"outcome,omitempty"`
	Metadata           map[string]any     `json:"metadata,omitempty"`
}

// Validate enforces the invariants: completed_at must be set
// when status leaves Active.
func (t *Trajectory) Validate() error {
	if t.Status != TrajectoryActive && t.CompletedAt == nil {
		return caliberr.Validation("invalid_trajectory", "completed_at must be set when status leaves Active").
			WithDetail("trajectory_id", t.ID.String())
	}
	return nil
}

// NewTrajectory constructs a root or child trajectory, assigning a fresh id
// and timestamps.
func NewTrajectory(tenantID TenantID, name string, parent *Trajectory) *Trajectory {
	now := time.Now().UTC()
	tr := &Trajectory{
		ID:        id.New(),
		TenantID:  tenantID,
		Name:      name,
		Status:    TrajectoryActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if parent != nil {
		pid := parent.ID
		tr.ParentTrajectoryID = &pid
		root := parent.RootTrajectoryID
		if root == nil {
			root = &pid
		}
		tr.RootTrajectoryID = root
	}
	return tr
}

// Transition moves the trajectory to status, stamping CompletedAt when the
// status leaves Active and recording the outcome if one is supplied.
func (t *Trajectory) Transition(status TrajectoryStatus, outcome *TrajectoryOutcome) error {
	switch status {
	case TrajectoryActive, TrajectoryCompleted, TrajectoryFailed, TrajectorySuspended:
	default:
		return caliberr.Validation("invalid_enum_value", "invalid trajectory status: "+string(status))
	}
	if t.Status.IsTerminal() {
		return caliberr.Conflict("trajectory_terminal", "trajectory is already in a terminal state").
			WithDetail("status", string(t.Status))
	}
	now := time.Now().UTC()
	t.Status = status
	t.UpdatedAt = now
	if status != TrajectoryActive {
		t.CompletedAt = &now
	}
	if outcome != nil {
		t.Outcome = outcome
	}
	return t.Validate()
}
