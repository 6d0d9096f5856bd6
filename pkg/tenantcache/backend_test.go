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

package tenantcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.bolt")
	b, err := Open(Config{Path: path, MaxSize: 1 << 20, OpenTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPutGetRoundtrip(t *testing.T) {
	b := openTestBackend(t)
	tenant := id.New()
	artifactID := id.New()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, b.Put(tenant, entity.TypeArtifact, artifactID, map[string]string{"content": "alpha"}, now))

	var out map[string]string
	cachedAt, ok, err := b.Get(tenant, entity.TypeArtifact, artifactID, &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alpha", out["content"])
	assert.True(t, cachedAt.Equal(now))
}

// TestTenantIsolationUnderInvalidation is end-to-end scenario 1
func TestTenantIsolationUnderInvalidation(t *testing.T) {
	b := openTestBackend(t)
	t1, t2 := id.New(), id.New()
	entityID := id.New()
	now := time.Now().UTC()

	require.NoError(t, b.Put(t1, entity.TypeArtifact, entityID, map[string]string{"content": "alpha"}, now))
	require.NoError(t, b.Put(t2, entity.TypeArtifact, entityID, map[string]string{"content": "beta"}, now))

	count, err := b.InvalidateTenant(t1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var out map[string]string
	_, ok, err := b.Get(t1, entity.TypeArtifact, entityID, &out)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = b.Get(t2, entity.TypeArtifact, entityID, &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "beta", out["content"])
}

func TestInvalidateEntityTypeScopedToTenantAndType(t *testing.T) {
	b := openTestBackend(t)
	tenant := id.New()
	now := time.Now().UTC()

	require.NoError(t, b.Put(tenant, entity.TypeArtifact, id.New(), "a", now))
	require.NoError(t, b.Put(tenant, entity.TypeNote, id.New(), "n", now))

	count, err := b.InvalidateEntityType(tenant, entity.TypeArtifact)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stats := b.TenantStats(tenant)
	assert.Equal(t, int64(1), stats.Entries, "note entry should survive the artifact-scoped invalidation")
}

func TestDeleteRemovesSingleEntry(t *testing.T) {
	b := openTestBackend(t)
	tenant := id.New()
	entityID := id.New()
	require.NoError(t, b.Put(tenant, entity.TypeLock, entityID, "v", time.Now().UTC()))
	require.NoError(t, b.Delete(tenant, entity.TypeLock, entityID))

	var out string
	_, ok, err := b.Get(tenant, entity.TypeLock, entityID, &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatsTrackHitsAndMisses(t *testing.T) {
	b := openTestBackend(t)
	tenant := id.New()
	entityID := id.New()

	var out string
	_, _, _ = b.Get(tenant, entity.TypeArtifact, entityID, &out)
	require.NoError(t, b.Put(tenant, entity.TypeArtifact, entityID, "v", time.Now().UTC()))
	_, _, _ = b.Get(tenant, entity.TypeArtifact, entityID, &out)

	stats := b.TenantStats(tenant)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)

	global := b.Stats()
	assert.Equal(t, int64(1), global.Misses)
	assert.Equal(t, int64(1), global.Hits)
}
