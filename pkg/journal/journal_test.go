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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/eventdag"
	"github.com/caliberhq/caliber/pkg/id"
)

func TestSequenceMonotonicity(t *testing.T) {
	j := NewEventDagChangeJournal(eventdag.New())
	ctx := context.Background()
	tenant := id.New()
	artifactID := id.New()

	w1, err := j.RecordChange(ctx, tenant, entity.TypeArtifact, artifactID)
	require.NoError(t, err)
	w2, err := j.RecordChange(ctx, tenant, entity.TypeArtifact, artifactID)
	require.NoError(t, err)

	assert.True(t, w1.Before(w2))
	assert.Equal(t, int64(1), w1.Sequence)
	assert.Equal(t, int64(2), w2.Sequence)
}

func TestChangesSinceHotPath(t *testing.T) {
	j := NewEventDagChangeJournal(eventdag.New())
	ctx := context.Background()
	tenant := id.New()

	cur, err := j.CurrentWatermark(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, Zero(), cur)

	changed, err := j.ChangesSince(ctx, tenant, Zero(), []entity.Type{entity.TypeArtifact})
	require.NoError(t, err)
	assert.False(t, changed)

	w, err := j.RecordChange(ctx, tenant, entity.TypeNote, id.New())
	require.NoError(t, err)

	changed, err = j.ChangesSince(ctx, tenant, Zero(), []entity.Type{entity.TypeArtifact})
	require.NoError(t, err)
	assert.False(t, changed, "note change should not trigger artifact watermark")

	changed, err = j.ChangesSince(ctx, tenant, Zero(), []entity.Type{entity.TypeNote})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = j.ChangesSince(ctx, tenant, w, []entity.Type{entity.TypeNote})
	require.NoError(t, err)
	assert.False(t, changed, "no changes after the current watermark")
}

func TestChangesSinceEmptyFilterMatchesAnyType(t *testing.T) {
	j := NewEventDagChangeJournal(eventdag.New())
	ctx := context.Background()
	tenant := id.New()
	_, err := j.RecordChange(ctx, tenant, entity.TypeLock, id.New())
	require.NoError(t, err)

	changed, err := j.ChangesSince(ctx, tenant, Zero(), nil)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestTenantIsolationOfSequences(t *testing.T) {
	j := NewEventDagChangeJournal(eventdag.New())
	ctx := context.Background()
	t1, t2 := id.New(), id.New()

	w1, err := j.RecordChange(ctx, t1, entity.TypeArtifact, id.New())
	require.NoError(t, err)
	assert.Equal(t, int64(1), w1.Sequence)

	w2, err := j.RecordChange(ctx, t2, entity.TypeArtifact, id.New())
	require.NoError(t, err)
	assert.Equal(t, int64(1), w2.Sequence, "tenant 2's sequence starts independently of tenant 1's")
}

func TestPruneRemovesOldEntries(t *testing.T) {
	j := NewEventDagChangeJournal(eventdag.New())
	ctx := context.Background()
	tenant := id.New()
	_, err := j.RecordChange(ctx, tenant, entity.TypeArtifact, id.New())
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(time.Hour)
	require.NoError(t, j.Prune(ctx, tenant, cutoff))

	w, err := j.CurrentWatermark(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Sequence, "pruning does not move the sequence back")

	_, ok, err := j.WatermarkAt(ctx, tenant, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "the journal has been pruned past t")
}

func TestRecordChangeAppendsDagEvent(t *testing.T) {
	dag := eventdag.New()
	j := NewEventDagChangeJournal(dag)
	ctx := context.Background()
	tenant := id.New()

	_, err := j.RecordChange(ctx, tenant, entity.TypeArtifact, id.New())
	require.NoError(t, err)

	events := dag.FindByKind("CACHE_INVALIDATE_Artifact", -1, -1, 0)
	require.Len(t, events, 1)
	assert.Equal(t, tenant.String(), events[0].Payload["tenant_id"])

	_, err = j.RecordChange(ctx, tenant, entity.TypeLock, id.New())
	require.NoError(t, err)
	fallback := dag.FindByKind(catchAllKind, -1, -1, 0)
	require.Len(t, fallback, 1)
}
