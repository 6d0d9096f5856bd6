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

// Package tenantcache implements the tenant-isolated cache backend over a
// single go.etcd.io/bbolt database playing the role of a memory-mapped
// B-tree key/value store with ACID transactions. All entries live in one
// root bucket keyed by the full 34-byte tenant-scoped encoding; keys sort
// tenant-first, so tenant-wide and (tenant, type)-wide invalidation are
// cursor prefix scans over a contiguous range rather than whole-store
// sweeps.
package tenantcache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
)

var rootBucket = []byte("caliber_cache")

// Config bounds the backing bbolt environment. No field has a default;
// construct explicitly.
type Config struct {
	// Path is the bbolt database file path.
	Path string
	// MaxSize is stored on the Backend; it does not bound the bbolt file,
	// which grows as pages are allocated.
	MaxSize int64
	// OpenTimeout bounds how long Open waits for the file lock.
	OpenTimeout time.Duration
}

// Backend is the tenant-isolated cache backend
type Backend struct {
	db     *bolt.DB
	maxSize int64

	stats Stats
}

// Open opens (creating if absent) the bbolt database at cfg.Path.
func Open(cfg Config) (*Backend, error) {
	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{Timeout: cfg.OpenTimeout})
	if err != nil {
		return nil, caliberr.Storage("cache_open_failed", fmt.Sprintf("failed to open tenant cache: %v", err)).WithCause(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(rootBucket)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, caliberr.Storage("cache_bucket_init_failed", fmt.Sprintf("failed to init root bucket: %v", err)).WithCause(err)
	}
	// bbolt's mmap grows lazily as pages are allocated; unlike a raw LMDB
	// environment there is no map-size handle to pre-size. MaxSize is kept
	// on Backend; no method reads it, and TenantStats does not report it.
	return &Backend{db: db, maxSize: cfg.MaxSize}, nil
}

// Close releases the underlying file handle.
func (b *Backend) Close() error {
	return b.db.Close()
}

// encodeValue prepends an 8-byte little-endian unix-millis timestamp to the
// JSON-serialized entity, per the persisted-state layout of
// "[millis:8 le][json]".
func encodeValue(cachedAt time.Time, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint64(out[0:8], uint64(cachedAt.UnixMilli()))
	copy(out[8:], payload)
	return out, nil
}

func decodeValue(raw []byte, v any) (time.Time, error) {
	if len(raw) < 8 {
		return time.Time{}, fmt.Errorf("tenantcache: value too short (%d bytes)", len(raw))
	}
	millis := binary.LittleEndian.Uint64(raw[0:8])
	cachedAt := time.UnixMilli(int64(millis)).UTC()
	if err := json.Unmarshal(raw[8:], v); err != nil {
		return time.Time{}, err
	}
	return cachedAt, nil
}

// Get decodes the cached value for (tenant, type, entityID) into out and
// returns its cached_at time, or ok=false on miss. It counts the lookup toward tenant
// hit/miss stats.
func (b *Backend) Get(tenant id.ID, entityType entity.Type, entityID id.ID, out any) (cachedAt time.Time, ok bool, err error) {
	key := rawKey(tenant, entityType, entityID)
	var raw []byte
	err = b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(rootBucket)
		v := bk.Get(key)
		if v != nil {
			raw = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, false, caliberr.Storage("cache_get_failed", err.Error()).WithCause(err)
	}
	if raw == nil {
		b.stats.recordMiss(tenant)
		return time.Time{}, false, nil
	}
	cachedAt, decodeErr := decodeValue(raw, out)
	if decodeErr != nil {
		return time.Time{}, false, caliberr.Storage("cache_decode_failed", decodeErr.Error()).WithCause(decodeErr)
	}
	b.stats.recordHit(tenant)
	return cachedAt, true, nil
}

// Put overwrites the cached value for (tenant, type, entityID).
func (b *Backend) Put(tenant id.ID, entityType entity.Type, entityID id.ID, v any, cachedAt time.Time) error {
	key := rawKey(tenant, entityType, entityID)
	encoded, err := encodeValue(cachedAt, v)
	if err != nil {
		return caliberr.Storage("cache_encode_failed", err.Error()).WithCause(err)
	}
	isNew := false
	err = b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(rootBucket)
		isNew = bk.Get(key) == nil
		return bk.Put(key, encoded)
	})
	if err != nil {
		return caliberr.Storage("cache_put_failed", err.Error()).WithCause(err)
	}
	if isNew {
		b.stats.recordInsert(tenant)
	}
	return nil
}

// Delete removes the entry for (tenant, type, entityID).
func (b *Backend) Delete(tenant id.ID, entityType entity.Type, entityID id.ID) error {
	key := rawKey(tenant, entityType, entityID)
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Delete(key)
	})
	if err != nil {
		return caliberr.Storage("cache_delete_failed", err.Error()).WithCause(err)
	}
	b.stats.recordEviction(tenant, 1)
	return nil
}

// DeleteByKey deletes by explicit (type, id) instead of an entity value.
func (b *Backend) DeleteByKey(tenant id.ID, entityType entity.Type, entityID id.ID) error {
	return b.Delete(tenant, entityType, entityID)
}

// InvalidateTenant range-scans the tenant prefix and deletes every entry,
// returning the count removed.
func (b *Backend) InvalidateTenant(tenant id.ID) (int, error) {
	prefix := tenantPrefix(tenant)
	count, err := b.deletePrefix(prefix)
	if err != nil {
		return 0, err
	}
	b.stats.recordEviction(tenant, count)
	b.stats.resetTenant(tenant)
	return count, nil
}

// InvalidateEntityType range-scans the (tenant, type) prefix and deletes
// every entry, returning the count removed.
func (b *Backend) InvalidateEntityType(tenant id.ID, entityType entity.Type) (int, error) {
	prefix := tenantTypePrefix(tenant, entityType)
	count, err := b.deletePrefix(prefix)
	if err != nil {
		return 0, err
	}
	b.stats.recordEviction(tenant, count)
	return count, nil
}

func (b *Backend) deletePrefix(prefix []byte) (int, error) {
	var count int
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(rootBucket)
		c := bk.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte{}, k...))
		}
		for _, k := range toDelete {
			if err := bk.Delete(k); err != nil {
				return err
			}
		}
		count = len(toDelete)
		return nil
	})
	if err != nil {
		return 0, caliberr.Storage("cache_invalidate_failed", err.Error()).WithCause(err)
	}
	return count, nil
}

// Stats returns global hit/miss/eviction counters.
func (b *Backend) Stats() GlobalStats {
	return b.stats.global()
}

// TenantStats returns per-tenant hit/miss/eviction counters.
func (b *Backend) TenantStats(tenant id.ID) TenantStats {
	return b.stats.forTenant(tenant)
}
