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

// EntityRef is a weak, typed lookup reference, never an ownership pointer.
type EntityRef struct {
	Type Type  `json:"type"`
	ID   id.ID `json:"id"`
}

// Participant is one member of an Edge hyperedge, with an optional role
// label (e.g. "source", "target", "reviewer").
type Participant struct {
	Ref  EntityRef `json:"ref"`
	Role string    `json:"role,omitempty"`
}

// Edge is a typed hyperedge linking two or more entities. Binary edges are
// the common case; N-ary is supported.
type Edge struct {
	ID           id.ID          `json:"id"`
	TenantID     TenantID       `json:"tenant_id"`
	Type         string         `json:"type"`
	Participants []Participant  `json:"participants"`
	Weight       *float64       `json:"weight,omitempty"`
	TrajectoryID *id.ID         `json:"trajectory_id,omitempty"`
	Provenance   Provenance     `json:"provenance"`
	CreatedAt    time.Time      `json:"created_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewEdge constructs an Edge, enforcing the "participants length >= 2"
// invariant.
func NewEdge(tenantID TenantID, edgeType string, participants []Participant, prov Provenance) (*Edge, error) {
	if len(participants) < 2 {
		return nil, caliberr.Validation("invalid_edge_participants", "edge must have at least 2 participants").
			WithDetail("count", len(participants))
	}
	return &Edge{
		ID:           id.New(),
		TenantID:     tenantID,
		Type:         edgeType,
		Participants: participants,
		Provenance:   prov,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
