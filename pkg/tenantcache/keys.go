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
	"github.com/caliberhq/caliber/pkg/cachekey"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
)

func rawKey(tenant id.ID, entityType entity.Type, entityID id.ID) []byte {
	enc := cachekey.New(tenant, entityType, entityID).Encode()
	return enc[:]
}

func tenantPrefix(tenant id.ID) []byte {
	p := cachekey.TenantPrefix(tenant)
	return p[:]
}

func tenantTypePrefix(tenant id.ID, entityType entity.Type) []byte {
	p := cachekey.TenantTypePrefix(tenant, entityType)
	return p[:]
}
