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

package readthrough

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/eventdag"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/journal"
	"github.com/caliberhq/caliber/pkg/tenantcache"
)

type testArtifact struct {
	Content string
}

func newTestFixture(t *testing.T) (*tenantcache.Backend, journal.Journal) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.bolt")
	backend, err := tenantcache.Open(tenantcache.Config{Path: path, MaxSize: 1 << 20, OpenTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	j := journal.NewEventDagChangeJournal(eventdag.New())
	return backend, j
}

// TestConsistentReadFallsBackWhenJournalAdvances is end-to-end scenario 2.
func TestConsistentReadFallsBackWhenJournalAdvances(t *testing.T) {
	backend, j := newTestFixture(t)
	ctx := context.Background()
	tenant := id.New()
	artifactID := id.New()

	current := testArtifact{Content: "original"}
	loads := 0
	loader := func(_ context.Context, _, _ id.ID) (testArtifact, error) {
		loads++
		return current, nil
	}
	cache := New[testArtifact](backend, j, entity.TypeArtifact, loader, Default())

	r1, err := cache.Read(ctx, tenant, artifactID, Consistent())
	require.NoError(t, err)
	assert.False(t, r1.WasCacheHit)
	assert.Equal(t, 1, loads)

	r2, err := cache.Read(ctx, tenant, artifactID, Consistent())
	require.NoError(t, err)
	assert.True(t, r2.WasCacheHit)
	assert.InDelta(t, 0, r2.Staleness(time.Now().UTC()).Seconds(), 1)
	assert.Equal(t, 1, loads, "second read should be served from cache, not reload")

	_, err = j.RecordChange(ctx, tenant, entity.TypeArtifact, artifactID)
	require.NoError(t, err)

	current = testArtifact{Content: "updated"}
	r3, err := cache.Read(ctx, tenant, artifactID, Consistent())
	require.NoError(t, err)
	assert.False(t, r3.WasCacheHit)
	assert.Equal(t, "updated", r3.Value.Content)
	assert.Equal(t, 2, loads)
}

// TestBestEffortReadRespectsStaleness is end-to-end scenario 3.
func TestBestEffortReadRespectsStaleness(t *testing.T) {
	backend, j := newTestFixture(t)
	ctx := context.Background()
	tenant := id.New()
	artifactID := id.New()

	loader := func(_ context.Context, _, _ id.ID) (testArtifact, error) {
		return testArtifact{Content: "fresh"}, nil
	}
	cache := New[testArtifact](backend, j, entity.TypeArtifact, loader, Default())

	cachedAt := time.Now().UTC().Add(-10 * time.Second)
	require.NoError(t, cache.Put(tenant, artifactID, testArtifact{Content: "stale-ish"}, cachedAt))

	r1, err := cache.Read(ctx, tenant, artifactID, BestEffort(30*time.Second))
	require.NoError(t, err)
	assert.True(t, r1.WasCacheHit)
	assert.Equal(t, "stale-ish", r1.Value.Content)

	r2, err := cache.Read(ctx, tenant, artifactID, BestEffort(5*time.Second))
	require.NoError(t, err)
	assert.False(t, r2.WasCacheHit)
	assert.Equal(t, "fresh", r2.Value.Content)
}

func TestCacheReadMapPreservesMetadata(t *testing.T) {
	cr := CacheRead[int]{Value: 42, CachedAt: time.Now().UTC(), WasCacheHit: true}
	mapped := CacheReadMap(cr, func(v int) string { return "n=" + string(rune('0'+v%10)) })
	assert.Equal(t, cr.CachedAt, mapped.CachedAt)
	assert.Equal(t, cr.WasCacheHit, mapped.WasCacheHit)
}
