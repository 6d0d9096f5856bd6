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

package cachekey

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
)

func TestKeyRoundtrip(t *testing.T) {
	k := New(id.New(), entity.TypeArtifact, id.New())
	encoded := k.Encode()
	decoded, err := Decode(encoded[:])
	require.NoError(t, err)
	assert.Equal(t, k, decoded)
}

func TestKeyEncodeIsInjective(t *testing.T) {
	tenantA, tenantB := id.New(), id.New()
	entityA, entityB := id.New(), id.New()

	k1 := New(tenantA, entity.TypeScope, entityA)
	k2 := New(tenantA, entity.TypeScope, entityB)
	k3 := New(tenantB, entity.TypeScope, entityA)
	k4 := New(tenantA, entity.TypeNote, entityA)

	e1, e2, e3, e4 := k1.Encode(), k2.Encode(), k3.Encode(), k4.Encode()
	assert.NotEqual(t, e1, e2)
	assert.NotEqual(t, e1, e3)
	assert.NotEqual(t, e1, e4)
}

func TestEncodeFixedWireFormat(t *testing.T) {
	tenant := id.New()
	e := id.New()
	k := New(tenant, entity.TypeLock, e)
	enc := k.Encode()

	require.Len(t, enc, Size)
	tb := tenant.Bytes()
	assert.True(t, bytes.Equal(enc[0:16], tb[:]))
	assert.Equal(t, byte(0xFF), enc[16])
	assert.Equal(t, byte(entity.TypeLock), enc[17])
	eb := e.Bytes()
	assert.True(t, bytes.Equal(enc[18:34], eb[:]))
}

func TestDecodeRejectsBadSeparator(t *testing.T) {
	k := New(id.New(), entity.TypeTurn, id.New())
	enc := k.Encode()
	enc[16] = 0x00
	_, err := Decode(enc[:])
	require.Error(t, err)
}

func TestDecodeRejectsBadLength(t *testing.T) {
	_, err := Decode(make([]byte, 10))
	require.Error(t, err)
}

func TestTenantPrefixIsEncodePrefix(t *testing.T) {
	tenant := id.New()
	k := New(tenant, entity.TypeMessage, id.New())
	enc := k.Encode()
	prefix := TenantPrefix(tenant)
	assert.True(t, bytes.Equal(enc[0:16], prefix[:]))
}

func TestTenantTypePrefixIsEncodePrefix(t *testing.T) {
	tenant := id.New()
	k := New(tenant, entity.TypeMessage, id.New())
	enc := k.Encode()
	prefix := TenantTypePrefix(tenant, entity.TypeMessage)
	assert.True(t, bytes.Equal(enc[0:18], prefix[:]))
}
