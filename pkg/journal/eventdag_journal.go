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

package journal

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/eventdag"
	"github.com/caliberhq/caliber/pkg/id"
)

// cacheInvalidateKinds is the entity-type-to-event-kind mapping of the
// shared-log journal. Only these four entity types get a dedicated
// CACHE_INVALIDATE_<Kind> DAG event kind; the rest fall through to the
// catch-all kind below, and nothing downstream depends on per-type kinds
// beyond these.
var cacheInvalidateKinds = map[entity.Type]eventdag.Kind{
	entity.TypeTrajectory: "CACHE_INVALIDATE_Trajectory",
	entity.TypeScope:      "CACHE_INVALIDATE_Scope",
	entity.TypeArtifact:   "CACHE_INVALIDATE_Artifact",
	entity.TypeNote:       "CACHE_INVALIDATE_Note",
}

const catchAllKind eventdag.Kind = "CACHE_INVALIDATE_Other"

func kindFor(t entity.Type) eventdag.Kind {
	if k, ok := cacheInvalidateKinds[t]; ok {
		return k
	}
	return catchAllKind
}

// EventDagChangeJournal maps each mutation onto a CACHE_INVALIDATE_<Kind>
// event in a shared DAG (the "DAG-backed journal"). The DAG events are only
// written: sequences and every read (CurrentWatermark, WatermarkAt,
// ChangesSince) come from this journal's own per-tenant entry index, so
// changes recorded by another journal instance on the same DAG are not seen.
type EventDagChangeJournal struct {
	dag *eventdag.DAG

	mu sync.RWMutex
	// perTenantSeq tracks each tenant's own monotonic sequence space,
	// independent of the DAG's global sequence counter: a watermark
	// sequence is per-tenant, while the DAG's Position.Sequence
	// is global across all tenants sharing the DAG.
	perTenantSeq map[id.ID]int64
	// entries indexes appended entries per tenant for WatermarkAt/Prune,
	// since the DAG itself has no notion of tenant.
	entries map[id.ID][]Entry
}

// NewEventDagChangeJournal constructs a journal backed by dag.
func NewEventDagChangeJournal(dag *eventdag.DAG) *EventDagChangeJournal {
	return &EventDagChangeJournal{
		dag:          dag,
		perTenantSeq: make(map[id.ID]int64),
		entries:      make(map[id.ID][]Entry),
	}
}

func (j *EventDagChangeJournal) CurrentWatermark(_ context.Context, tenant id.ID) (Watermark, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	entries := j.entries[tenant]
	if len(entries) == 0 {
		// Pruning removes entries but never moves the sequence back.
		return Watermark{Sequence: j.perTenantSeq[tenant]}, nil
	}
	last := entries[len(entries)-1]
	return Watermark{Sequence: last.Sequence, ObservedAt: last.Timestamp}, nil
}

func (j *EventDagChangeJournal) WatermarkAt(_ context.Context, tenant id.ID, t time.Time) (Watermark, bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	entries := j.entries[tenant]
	var best *Entry
	for i := range entries {
		if !entries[i].Timestamp.After(t) {
			best = &entries[i]
		} else {
			break
		}
	}
	if best == nil {
		if len(entries) == 0 && j.perTenantSeq[tenant] == 0 {
			return Zero(), true, nil
		}
		return Watermark{}, false, nil
	}
	return Watermark{Sequence: best.Sequence, ObservedAt: best.Timestamp}, true, nil
}

func (j *EventDagChangeJournal) ChangesSince(_ context.Context, tenant id.ID, watermark Watermark, entityTypes []entity.Type) (bool, error) {
	j.mu.RLock()
	entries := j.entries[tenant]
	j.mu.RUnlock()

	wanted := make(map[entity.Type]struct{}, len(entityTypes))
	for _, t := range entityTypes {
		wanted[t] = struct{}{}
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Sequence <= watermark.Sequence {
			break
		}
		if len(wanted) == 0 {
			return true, nil
		}
		if _, ok := wanted[e.EntityType]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (j *EventDagChangeJournal) RecordChange(_ context.Context, tenant id.ID, entityType entity.Type, entityID id.ID) (Watermark, error) {
	j.mu.Lock()
	j.perTenantSeq[tenant]++
	seq := j.perTenantSeq[tenant]
	now := time.Now().UTC()
	entry := Entry{Sequence: seq, Timestamp: now, EntityType: entityType, EntityID: entityID}
	j.entries[tenant] = append(j.entries[tenant], entry)
	j.mu.Unlock()

	kind := kindFor(entityType)
	builder := eventdag.NewBuilder(0)
	_, err := j.dag.Append(nil, builder.Build(kind, map[string]any{
		"tenant_id":    tenant.String(),
		"entity_type":  entityType.String(),
		"entity_id":    entityID.String(),
		"tenant_seq":   seq,
		"recorded_at":  now,
	}))
	if err != nil {
		return Watermark{}, caliberr.Storage("journal_append_failed", fmt.Sprintf("failed to append change event: %v", err)).WithCause(err)
	}
	return Watermark{Sequence: seq, ObservedAt: now}, nil
}

func (j *EventDagChangeJournal) Prune(_ context.Context, tenant id.ID, before time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries := j.entries[tenant]
	idx := sort.Search(len(entries), func(i int) bool {
		return !entries[i].Timestamp.Before(before)
	})
	j.entries[tenant] = append([]Entry{}, entries[idx:]...)
	return nil
}

// knownKindNames returns the set of kind names this journal recognizes, for
// diagnostics.
func knownKindNames() string {
	names := make([]string, 0, len(cacheInvalidateKinds)+1)
	for _, k := range cacheInvalidateKinds {
		names = append(names, string(k))
	}
	names = append(names, string(catchAllKind))
	sort.Strings(names)
	return strings.Join(names, ", ")
}
