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

// Package cachekey implements the 34-byte tenant-scoped cache key.
// Key is constructible only via New, so a cross-tenant key can never
// be assembled by accident: there is no other public constructor.
package cachekey

import (
	"fmt"

	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
)

// Size is the fixed wire length: 16 (tenant) + 1 (separator) + 1 (type) + 16 (entity).
const Size = 34

const separator byte = 0xFF

// Key is a tenant-, type-, and entity-scoped cache key. The zero value is
// not a valid key; always construct via New.
type Key struct {
	tenantID   id.ID
	entityType entity.Type
	entityID   id.ID
}

// New constructs the only valid Key. Keys sort tenant-first (see Encode), so
// any tenant's data lives in a contiguous range.
func New(tenantID id.ID, entityType entity.Type, entityID id.ID) Key {
	return Key{tenantID: tenantID, entityType: entityType, entityID: entityID}
}

// TenantID returns the key's tenant.
func (k Key) TenantID() id.ID { return k.tenantID }

// EntityType returns the key's entity type.
func (k Key) EntityType() entity.Type { return k.entityType }

// EntityID returns the key's entity id.
func (k Key) EntityID() id.ID { return k.entityID }

// Encode serializes k to its fixed 34-byte wire format:
// [tenant_id:16][0xFF:1][type_discriminant:1][entity_id:16].
func (k Key) Encode() [Size]byte {
	var out [Size]byte
	tb := k.tenantID.Bytes()
	copy(out[0:16], tb[:])
	out[16] = separator
	out[17] = byte(k.entityType)
	eb := k.entityID.Bytes()
	copy(out[18:34], eb[:])
	return out
}

// Decode parses a 34-byte wire encoding back into a Key.
func Decode(b []byte) (Key, error) {
	if len(b) != Size {
		return Key{}, fmt.Errorf("cachekey: invalid length %d, want %d", len(b), Size)
	}
	if b[16] != separator {
		return Key{}, fmt.Errorf("cachekey: invalid separator byte 0x%02x at offset 16", b[16])
	}
	if !entity.Valid(b[17]) {
		return Key{}, fmt.Errorf("cachekey: unrecognized entity type discriminant 0x%02x", b[17])
	}
	var tb, eb [16]byte
	copy(tb[:], b[0:16])
	copy(eb[:], b[18:34])
	return Key{
		tenantID:   id.FromBytes(tb),
		entityType: entity.Type(b[17]),
		entityID:   id.FromBytes(eb),
	}, nil
}

// TenantPrefix returns the 16-byte prefix identifying tenantID's contiguous
// key range, for range scans over all of a tenant's data.
func TenantPrefix(tenantID id.ID) [16]byte {
	return tenantID.Bytes()
}

// TenantTypePrefix returns the 18-byte prefix identifying the
// (tenant, type) contiguous key range.
func TenantTypePrefix(tenantID id.ID, entityType entity.Type) [18]byte {
	var out [18]byte
	tb := tenantID.Bytes()
	copy(out[0:16], tb[:])
	out[16] = separator
	out[17] = byte(entityType)
	return out
}

// String returns a debug representation; never used as a storage key.
func (k Key) String() string {
	return fmt.Sprintf("cachekey(tenant=%s type=%s entity=%s)", k.tenantID, k.entityType, k.entityID)
}
