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

package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/caliberhq/caliber/pkg/broadcast"
	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/journal"
)

// resourceKey identifies the (resource_type, resource_id) pair a Lock
// contends over, scoped to a tenant.
type resourceKey struct {
	tenant       id.ID
	resourceType string
	resourceID   id.ID
}

// LockManager implements the Lock state machine: at most one
// Exclusive holder or N Shared holders per (resource_type, resource_id),
// never mixed. An in-process mutex enforces the invariant at acquire time;
// the authoritative record still lives in Store ("a data record,
// not a process-level primitive").
type LockManager struct {
	store   Store[entity.Lock]
	journal journal.Journal
	fabric  *broadcast.Fabric

	mu      sync.Mutex
	holders map[resourceKey]map[id.ID]struct{} // lockID set per resource
}

// NewLockManager constructs a LockManager over store, recording every
// acquire/release/expiry in journal and publishing to fabric.
func NewLockManager(store Store[entity.Lock], j journal.Journal, fabric *broadcast.Fabric) *LockManager {
	return &LockManager{store: store, journal: j, fabric: fabric, holders: make(map[resourceKey]map[id.ID]struct{})}
}

// Acquire grants a lock on (resourceType, resourceID) to holder under mode,
// expiring after ttl, or returns a Conflict error if the resource is already
// exclusively held or held under a different mode.
func (m *LockManager) Acquire(ctx context.Context, tenant id.ID, resourceType string, resourceID id.ID, holder id.ID, mode entity.LockMode, ttl time.Duration) (*entity.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := resourceKey{tenant, resourceType, resourceID}
	now := time.Now().UTC()

	existing, err := m.liveHolders(ctx, key, now)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		if mode == entity.LockExclusive || existing[0].Mode == entity.LockExclusive {
			return nil, caliberr.Conflict("lock_unavailable", "resource is already locked").
				WithDetail("resource_type", resourceType).
				WithDetail("resource_id", resourceID.String())
		}
	}

	lock := &entity.Lock{
		ID:           id.New(),
		TenantID:     tenant,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		HolderAgent:  holder,
		AcquiredAt:   now,
		ExpiresAt:    now.Add(ttl),
		Mode:         mode,
	}
	if err := m.store.Put(ctx, tenant, lock.ID, lock); err != nil {
		return nil, caliberr.Storage("lock_insert_failed", err.Error()).WithCause(err)
	}
	m.markHeld(key, lock.ID)

	if _, err := m.journal.RecordChange(ctx, tenant, entity.TypeLock, lock.ID); err != nil {
		return nil, err
	}
	m.publish(tenant, broadcast.EventLockAcquired, lock)
	return lock, nil
}

// Extend preserves a lock's identity and mode while pushing its expiry
// forward.
func (m *LockManager) Extend(ctx context.Context, tenant, lockID id.ID, newExpiry time.Time) (*entity.Lock, error) {
	lock, err := m.store.Get(ctx, tenant, lockID)
	if err != nil {
		return nil, caliberr.Storage("lock_lookup_failed", err.Error()).WithCause(err)
	}
	if lock == nil {
		return nil, caliberr.NotFound("lock", lockID.String())
	}
	lock.ExpiresAt = newExpiry
	if err := m.store.Put(ctx, tenant, lockID, lock); err != nil {
		return nil, caliberr.Storage("lock_update_failed", err.Error()).WithCause(err)
	}
	if _, err := m.journal.RecordChange(ctx, tenant, entity.TypeLock, lockID); err != nil {
		return nil, err
	}
	return lock, nil
}

// Release removes a lock's row, freeing the resource for new acquisitions.
func (m *LockManager) Release(ctx context.Context, tenant, lockID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, err := m.store.Get(ctx, tenant, lockID)
	if err != nil {
		return caliberr.Storage("lock_lookup_failed", err.Error()).WithCause(err)
	}
	if lock == nil {
		return caliberr.NotFound("lock", lockID.String())
	}
	if err := m.store.Delete(ctx, tenant, lockID); err != nil {
		return caliberr.Storage("lock_delete_failed", err.Error()).WithCause(err)
	}
	m.clearHeld(resourceKey{tenant, lock.ResourceType, lock.ResourceID}, lockID)

	if _, err := m.journal.RecordChange(ctx, tenant, entity.TypeLock, lockID); err != nil {
		return err
	}
	m.publish(tenant, broadcast.EventLockReleased, lock)
	return nil
}

// Sweep scans tenant's locks and releases every expired one, emitting
// LockExpired for each (lazy reaping: no
// background goroutine is started implicitly; callers invoke Sweep on
// whatever interval their deployment wants, consistent with "no implicit
// defaults").
func (m *LockManager) Sweep(ctx context.Context, tenant id.ID) (int, error) {
	locks, err := m.store.List(ctx, tenant)
	if err != nil {
		return 0, caliberr.Storage("lock_list_failed", err.Error()).WithCause(err)
	}
	now := time.Now().UTC()
	var reaped int
	for _, lock := range locks {
		if !lock.IsExpired(now) {
			continue
		}
		m.mu.Lock()
		_ = m.store.Delete(ctx, tenant, lock.ID)
		m.clearHeld(resourceKey{tenant, lock.ResourceType, lock.ResourceID}, lock.ID)
		m.mu.Unlock()

		if _, err := m.journal.RecordChange(ctx, tenant, entity.TypeLock, lock.ID); err != nil {
			return reaped, err
		}
		m.publish(tenant, broadcast.EventLockExpired, lock)
		reaped++
	}
	return reaped, nil
}

func (m *LockManager) liveHolders(ctx context.Context, key resourceKey, now time.Time) ([]*entity.Lock, error) {
	ids := m.holders[key]
	out := make([]*entity.Lock, 0, len(ids))
	for lockID := range ids {
		lock, err := m.store.Get(ctx, key.tenant, lockID)
		if err != nil {
			return nil, caliberr.Storage("lock_lookup_failed", err.Error()).WithCause(err)
		}
		if lock == nil || lock.IsExpired(now) {
			continue
		}
		out = append(out, lock)
	}
	return out, nil
}

func (m *LockManager) markHeld(key resourceKey, lockID id.ID) {
	set, ok := m.holders[key]
	if !ok {
		set = make(map[id.ID]struct{})
		m.holders[key] = set
	}
	set[lockID] = struct{}{}
}

func (m *LockManager) clearHeld(key resourceKey, lockID id.ID) {
	if set, ok := m.holders[key]; ok {
		delete(set, lockID)
		if len(set) == 0 {
			delete(m.holders, key)
		}
	}
}

func (m *LockManager) publish(tenant id.ID, eventType broadcast.EventType, lock *entity.Lock) {
	if m.fabric == nil {
		return
	}
	m.fabric.Publish(broadcast.New(eventType, tenant, map[string]any{
		"lock_id":       lock.ID.String(),
		"resource_type": lock.ResourceType,
		"resource_id":   lock.ResourceID.String(),
		"mode":          string(lock.Mode),
	}))
}
