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

// AbstractionLevel is a Note's position in the raw-to-principle ladder.
type AbstractionLevel string

const (
	AbstractionRaw       AbstractionLevel = "L0"
	AbstractionSummary   AbstractionLevel = "L1"
	AbstractionPrinciple AbstractionLevel = "L2"
)

// Note is cross-trajectory knowledge.
type Note struct {
	ID                 id.ID            `json:"id"`
	TenantID           TenantID         `json:"tenant_id"`
	Type               string           `json:"type"`
	Title              string           `json:"title"`
	Content            string           `json:"content"`
	ContentHash        string           `json:"content_hash"`
	Embedding          []float32        `json:"embedding,omitempty"`
	SourceTrajectoryIDs []id.ID         `json:"source_trajectory_ids,omitempty"`
	SourceArtifactIDs  []id.ID          `json:"source_artifact_ids,omitempty"`
	TTL                TTL              `json:"ttl"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	AccessedAt         time.Time        `json:"accessed_at"`
	AccessCount        int              `json:"access_count"`
	SupersededBy       *id.ID           `json:"superseded_by,omitempty"`
	AbstractionLevel   AbstractionLevel `json:"abstraction_level"`
	SourceNoteIDs      []id.ID          `json:"source_note_ids,omitempty"`
	Metadata           map[string]any   `json:"metadata,omitempty"`
}

// Validate enforces "source_note_ids non-empty iff abstraction_level != Raw"
// (carried forward verbatim as a constructor-time invariant
// rather than merely documented).
func (n *Note) Validate() error {
	nonRaw := n.AbstractionLevel != AbstractionRaw
	hasSources := len(n.SourceNoteIDs) > 0
	if nonRaw && !hasSources {
		return caliberr.Validation("invalid_note_lineage", "source_note_ids must be non-empty when abstraction_level != Raw").
			WithDetail("note_id", n.ID.String())
	}
	if !nonRaw && hasSources {
		return caliberr.Validation("invalid_note_lineage", "source_note_ids must be empty when abstraction_level == Raw").
			WithDetail("note_id", n.ID.String())
	}
	return nil
}

// RecordAccess bumps AccessCount and AccessedAt; called by memory-read paths.
func (n *Note) RecordAccess(now time.Time) {
	n.AccessCount++
	n.AccessedAt = now
}

// NewNote constructs a raw (L0) note with no note lineage.
func NewNote(tenantID TenantID, noteType, title, content string, ttl TTL) *Note {
	now := time.Now().UTC()
	return &Note{
		ID:               id.New(),
		TenantID:         tenantID,
		Type:             noteType,
		Title:            title,
		Content:          content,
		ContentHash:      ContentHash(content),
		TTL:              ttl,
		CreatedAt:        now,
		UpdatedAt:        now,
		AccessedAt:       now,
		AbstractionLevel: AbstractionRaw,
	}
}

// NewDerivedNote constructs a Summary or Principle note derived from other
// notes; sourceNoteIDs must be non-empty.
func NewDerivedNote(tenantID TenantID, noteType, title, content string, level AbstractionLevel, sourceNoteIDs []id.ID, ttl TTL) (*Note, error) {
	if level == AbstractionRaw {
		return nil, caliberr.Validation("invalid_abstraction_level", "use NewNote for Raw notes")
	}
	if len(sourceNoteIDs) == 0 {
		return nil, caliberr.MissingRequiredField("source_note_ids", caliberr.Location{})
	}
	n := NewNote(tenantID, noteType, title, content, ttl)
	n.AbstractionLevel = level
	n.SourceNoteIDs = sourceNoteIDs
	return n, nil
}
