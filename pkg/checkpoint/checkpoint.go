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

// Package checkpoint captures and restores a Scope's recoverable context
// snapshot, retained for a configured window
// (config.Config.CheckpointRetention) and pruned past it.
package checkpoint

import (
	"context"
	"sort"
	"time"

	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/coordination"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
)

// Record pairs a Scope's checkpoint with the time it was captured, so
// Manager can enforce the retention window independent of any field inside
// entity.Checkpoint itself, which is a bare context-state blob with no
// timestamp.
type Record struct {
	ScopeID    id.ID
	Checkpoint entity.Checkpoint
	CapturedAt time.Time
}

// Manager captures, restores, and prunes Scope checkpoints for one tenant
// store. Persistence of the Record itself is an external collaborator;
// Manager owns only the capture/retain/prune semantics.
type Manager struct {
	records   coordination.Store[Record]
	scopes    coordination.Store[entity.Scope]
	retention time.Duration
}

// NewManager constructs a Manager. retention must be positive: CALIBER has
// no implicit defaults, so a zero retention is a construction
// error rather than "keep forever" or "keep nothing".
func NewManager(records coordination.Store[Record], scopes coordination.Store[entity.Scope], retention time.Duration) (*Manager, error) {
	if retention <= 0 {
		return nil, caliberr.Validation("missing_required_field", "missing required field: checkpoint_retention")
	}
	return &Manager{records: records, scopes: scopes, retention: retention}, nil
}

// Capture snapshots scope's current checkpoint (or creates one from
// contextState if the scope has none yet) and stores it, stamped with the
// capture time for later pruning.
func (m *Manager) Capture(ctx context.Context, tenant id.ID, scopeID id.ID, contextState entity.RawContent, recoverable bool) (*Record, error) {
	scope, err := m.scopes.Get(ctx, tenant, scopeID)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		return nil, caliberr.NotFound("scope", scopeID.String())
	}
	if !scope.IsActive {
		return nil, caliberr.Forbidden("scope_closed", "cannot checkpoint a closed scope").
			WithDetail("scope_id", scopeID.String())
	}

	cp := entity.Checkpoint{ContextState: contextState, Recoverable: recoverable}
	scope.Checkpoint = &cp
	if err := m.scopes.Put(ctx, tenant, scopeID, scope); err != nil {
		return nil, err
	}

	rec := &Record{ScopeID: scopeID, Checkpoint: cp, CapturedAt: time.Now().UTC()}
	if err := m.records.Put(ctx, tenant, scopeID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Restore returns the most recently captured checkpoint for scopeID, or
// NotFound if none exists or it is not marked Recoverable.
func (m *Manager) Restore(ctx context.Context, tenant id.ID, scopeID id.ID) (*Record, error) {
	rec, err := m.records.Get(ctx, tenant, scopeID)
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.Checkpoint.Recoverable {
		return nil, caliberr.NotFound("checkpoint", scopeID.String())
	}
	if time.Since(rec.CapturedAt) > m.retention {
		return nil, caliberr.NotFound("checkpoint", scopeID.String()).
			WithDetail("reason", "checkpoint older than retention window")
	}
	return rec, nil
}

// Prune removes every checkpoint record older than the retention window,
// mirroring journal.Journal.Prune's cutoff-based eviction.
func (m *Manager) Prune(ctx context.Context, tenant id.ID) (int, error) {
	all, err := m.records.List(ctx, tenant)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-m.retention)
	pruned := 0
	for _, rec := range all {
		if rec.CapturedAt.Before(cutoff) {
			if err := m.records.Delete(ctx, tenant, rec.ScopeID); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}

// ListRecoverable returns every still-retained, recoverable checkpoint for
// tenant, most recently captured first.
func (m *Manager) ListRecoverable(ctx context.Context, tenant id.ID) ([]*Record, error) {
	all, err := m.records.List(ctx, tenant)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().Add(-m.retention)
	out := make([]*Record, 0, len(all))
	for _, rec := range all {
		if rec.Checkpoint.Recoverable && rec.CapturedAt.After(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.After(out[j].CapturedAt) })
	return out, nil
}
