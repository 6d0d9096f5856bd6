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

// ConflictStatus is the lifecycle state of a Conflict.
type ConflictStatus string

const (
	ConflictDetected  ConflictStatus = "detected"
	ConflictResolving ConflictStatus = "resolving"
	ConflictResolved  ConflictStatus = "resolved"
	ConflictEscalated ConflictStatus = "escalated"
)

// ResolutionStrategy names how a Conflict was (or will be) resolved.
type ResolutionStrategy string

const (
	StrategyPreferLatest ResolutionStrategy = "prefer_latest"
	StrategyMerge        ResolutionStrategy = "merge"
	StrategyEscalate     ResolutionStrategy = "escalate"
	StrategyManual       ResolutionStrategy = "manual"
)

// Resolution is the opaque outcome of resolving a Conflict.
type Resolution struct {
	Strategy ResolutionStrategy `json:"strategy"`
	Detail   map[string]any     `json:"detail,omitempty"`
}

// Conflict records two items in contention, identified by (type, id) pairs
// rather than a single EntityRef.
type Conflict struct {
	ID           id.ID          `json:"id"`
	TenantID     TenantID       `json:"tenant_id"`
	Type         string         `json:"type"`
	ItemAType    Type           `json:"item_a_type"`
	ItemAID      id.ID          `json:"item_a_id"`
	ItemBType    Type           `json:"item_b_type"`
	ItemBID      id.ID          `json:"item_b_id"`
	AgentIDs     []id.ID        `json:"agent_ids,omitempty"`
	TrajectoryID *id.ID         `json:"trajectory_id,omitempty"`
	Status       ConflictStatus `json:"status"`
	Resolution   *Resolution    `json:"resolution,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewConflict constructs a Detected conflict between two items.
func NewConflict(tenantID TenantID, conflictType string, itemAType Type, itemAID id.ID, itemBType Type, itemBID id.ID) *Conflict {
	now := time.Now().UTC()
	return &Conflict{
		ID:        id.New(),
		TenantID:  tenantID,
		Type:      conflictType,
		ItemAType: itemAType,
		ItemAID:   itemAID,
		ItemBType: itemBType,
		ItemBID:   itemBID,
		Status:    ConflictDetected,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// BeginResolving transitions Detected -> Resolving.
func (c *Conflict) BeginResolving(now time.Time) error {
	if c.Status != ConflictDetected {
		return caliberr.Conflict("invalid_conflict_transition", "conflict must be detected to begin resolving").
			WithDetail("conflict_id", c.ID.String())
	}
	c.Status = ConflictResolving
	c.UpdatedAt = now
	return nil
}

// Resolve transitions {Detected, Resolving} -> Resolved.
func (c *Conflict) Resolve(resolution Resolution, now time.Time) error {
	if c.Status != ConflictDetected && c.Status != ConflictResolving {
		return caliberr.Conflict("invalid_conflict_transition", "conflict must be detected or resolving to resolve").
			WithDetail("conflict_id", c.ID.String())
	}
	c.Status = ConflictResolved
	c.Resolution = &resolution
	c.UpdatedAt = now
	return nil
}

// Escalate transitions {Detected, Resolving} -> Escalated directly, per
// ("resolution transitions to Resolving -> Resolved or
// directly to Escalated").
func (c *Conflict) Escalate(now time.Time) error {
	if c.Status != ConflictDetected && c.Status != ConflictResolving {
		return caliberr.Conflict("invalid_conflict_transition", "conflict must be detected or resolving to escalate").
			WithDetail("conflict_id", c.ID.String())
	}
	c.Status = ConflictEscalated
	c.UpdatedAt = now
	return nil
}
