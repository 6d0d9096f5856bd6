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
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/caliberhq/caliber/pkg/id"
)

// TTLKind selects an entity's expiration policy.
type TTLKind string

const (
	TTLPersistent TTLKind = "persistent"
	TTLSession    TTLKind = "session"
	TTLDuration   TTLKind = "duration"
	TTLUntil      TTLKind = "until"
)

// TTL is the tagged union {Persistent, Session, Duration(d), Until(t)} of
// Reads filter expired entities at the retrieval layer;
// expiration is observed, never eagerly compacted.
type TTL struct {
	Kind     TTLKind       `json:"kind"`
	Duration time.Duration `json:"duration,omitempty"`
	Until    time.Time     `json:"until,omitempty"`
}

// Persistent never expires.
func Persistent() TTL { return TTL{Kind: TTLPersistent} }

// SessionTTL expires when the enclosing scope closes (convention:
// "Session" lifetime is owned by the enclosing scope unless the caller
// provides otherwise).
func SessionTTL() TTL { return TTL{Kind: TTLSession} }

// DurationTTL expires after d has elapsed since creation.
func DurationTTL(d time.Duration) TTL { return TTL{Kind: TTLDuration, Duration: d} }

// UntilTTL expires at the given absolute time.
func UntilTTL(t time.Time) TTL { return TTL{Kind: TTLUntil, Until: t} }

// Expired reports whether the TTL has lapsed as of now, given the entity's
// createdAt time. Session TTLs require the caller to resolve against the
// owning scope's IsActive flag; Expired treats a bare Session TTL as never
// expired on its own (the scope-closure check happens one layer up).
func (t TTL) Expired(createdAt, now time.Time) bool {
	switch t.Kind {
	case TTLDuration:
		return now.After(createdAt.Add(t.Duration))
	case TTLUntil:
		return now.After(t.Until)
	default:
		return false
	}
}

// Provenance records how an Artifact was extracted.
type Provenance struct {
	SourceTurn       int      `json:"source_turn"`
	ExtractionMethod string   `json:"extraction_method"`
	Confidence       *float32 `json:"confidence,omitempty"`
}

// Artifact is a typed, content-addressed output scoped to a trajectory and a
// scope. Survives scope closure. Once SupersededBy is set, the artifact is
// logically immutable.
type Artifact struct {
	ID            id.ID          `json:"id"`
	TenantID      TenantID       `json:"tenant_id"`
	TrajectoryID  id.ID          `json:"trajectory_id"`
	ScopeID       id.ID          `json:"scope_id"`
	Type          string         `json:"type"`
	Name          string         `json:"name"`
	Content       string         `json:"content"`
	ContentHash   string         `json:"content_hash"`
	Embedding     []float32      `json:"embedding,omitempty"`
	Provenance    Provenance     `json:"provenance"`
	TTL           TTL            `json:"ttl"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	SupersededBy  *id.ID         `json:"superseded_by,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ContentHash computes SHA-256(content) as a hex string.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// IsImmutable reports whether the artifact has been superseded.
func (a *Artifact) IsImmutable() bool { return a.SupersededBy != nil }

// NewArtifact constructs an Artifact, computing its content hash.
func NewArtifact(tenantID TenantID, trajectoryID, scopeID id.ID, artifactType, name, content string, prov Provenance, ttl TTL) *Artifact {
	now := time.Now().UTC()
	return &Artifact{
		ID:           id.New(),
		TenantID:     tenantID,
		TrajectoryID: trajectoryID,
		ScopeID:      scopeID,
		Type:         artifactType,
		Name:         name,
		Content:      content,
		ContentHash:  ContentHash(content),
		Provenance:   prov,
		TTL:          ttl,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
