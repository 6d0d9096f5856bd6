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
	"time"

	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/journal"
	"github.com/caliberhq/caliber/pkg/tenantcache"
)

// Loader fetches the current value of an entity from the (out-of-scope,
// external) storage engine, treated as an entity CRUD API.
type Loader[T any] func(ctx context.Context, tenant id.ID, entityID id.ID) (T, error)

// Cache is the read-through cache, generic over one entity
// type T. Construct one per entity type (Artifact, Note, Scope, ...); each
// holds its own entity.Type discriminant for cache-key and journal-filter
// purposes.
type Cache[T any] struct {
	backend    *tenantcache.Backend
	journal    journal.Journal
	entityType entity.Type
	load       Loader[T]
	config     Config
}

// New constructs a read-through Cache for entityType, backed by backend and
// journal, loading misses via load.
func New[T any](backend *tenantcache.Backend, j journal.Journal, entityType entity.Type, load Loader[T], config Config) *Cache[T] {
	return &Cache[T]{backend: backend, journal: j, entityType: entityType, load: load, config: config}
}

// Read fetches entityID under the given freshness policy, always returning
// a CacheRead wrapper ("Callers cannot obtain T without passing
// through this wrapper").
func (c *Cache[T]) Read(ctx context.Context, tenant id.ID, entityID id.ID, freshness Freshness) (CacheRead[T], error) {
	switch freshness.Kind {
	case FreshnessBestEffort:
		return c.readBestEffort(ctx, tenant, entityID, freshness.MaxStaleness)
	case FreshnessConsistent:
		return c.readConsistent(ctx, tenant, entityID)
	default:
		return c.readBestEffort(ctx, tenant, entityID, c.config.DefaultMaxStaleness)
	}
}

func (c *Cache[T]) readBestEffort(ctx context.Context, tenant, entityID id.ID, maxStaleness time.Duration) (CacheRead[T], error) {
	var cached T
	cachedAt, hit, err := c.backend.Get(tenant, c.entityType, entityID, &cached)
	if err != nil {
		return CacheRead[T]{}, err
	}
	if hit && time.Since(cachedAt) <= maxStaleness {
		return CacheRead[T]{Value: cached, CachedAt: cachedAt, WasCacheHit: true}, nil
	}
	return c.fetchAndPopulate(ctx, tenant, entityID, nil)
}

func (c *Cache[T]) readConsistent(ctx context.Context, tenant, entityID id.ID) (CacheRead[T], error) {
	wNow, err := c.journal.CurrentWatermark(ctx, tenant)
	if err != nil {
		return CacheRead[T]{}, err
	}

	var cached T
	cachedAt, hit, err := c.backend.Get(tenant, c.entityType, entityID, &cached)
	if err != nil {
		return CacheRead[T]{}, err
	}
	if hit {
		wc, ok, err := c.journal.WatermarkAt(ctx, tenant, cachedAt)
		if err != nil {
			return CacheRead[T]{}, err
		}
		if ok {
			changed, err := c.journal.ChangesSince(ctx, tenant, wc, []entity.Type{c.entityType})
			if err != nil {
				return CacheRead[T]{}, err
			}
			if !changed {
				wcCopy := wc
				return CacheRead[T]{Value: cached, CachedAt: cachedAt, Watermark: &wcCopy, WasCacheHit: true}, nil
			}
		}
	}
	return c.fetchAndPopulate(ctx, tenant, entityID, &wNow)
}

func (c *Cache[T]) fetchAndPopulate(ctx context.Context, tenant, entityID id.ID, watermark *journal.Watermark) (CacheRead[T], error) {
	value, err := c.load(ctx, tenant, entityID)
	if err != nil {
		var zero T
		return CacheRead[T]{Value: zero}, err
	}
	now := time.Now().UTC()
	if err := c.backend.Put(tenant, c.entityType, entityID, value, now); err != nil {
		return CacheRead[T]{}, err
	}
	return CacheRead[T]{Value: value, CachedAt: now, Watermark: watermark, WasCacheHit: false}, nil
}

// Put writes v into the cache directly (e.g. immediately after a write
// path's storage mutation). The cache does NOT itself call
// RecordChange; the data-access layer wrapping Put must also journal the
// change.
func (c *Cache[T]) Put(tenant id.ID, entityID id.ID, v T, cachedAt time.Time) error {
	return c.backend.Put(tenant, c.entityType, entityID, v, cachedAt)
}

// InvalidateTenant delegates to the backend's tenant-wide invalidation.
func (c *Cache[T]) InvalidateTenant(tenant id.ID) (int, error) {
	return c.backend.InvalidateTenant(tenant)
}

// InvalidateEntityType delegates to the backend's (tenant, type)-wide
// invalidation, scoped to this cache's entity type.
func (c *Cache[T]) InvalidateEntityType(tenant id.ID) (int, error) {
	return c.backend.InvalidateEntityType(tenant, c.entityType)
}
