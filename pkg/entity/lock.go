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

package entity

import (
	"time"

	"github.com/caliberhq/caliber/pkg/id"
)

// LockMode is Exclusive or Shared.
type LockMode string

const (
	LockExclusive LockMode = "exclusive"
	LockShared    LockMode = "shared"
)

// Lock is a distributed-lock data record ("a data
// record, not a process-level primitive"). The mutual-exclusion invariant is
// enforced by pkg/coordination, not by this type.
type Lock struct {
	ID           id.ID     `json:"id"`
	TenantID     TenantID  `json:"tenant_id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   id.ID     `json:"resource_id"`
	HolderAgent  id.ID     `json:"holder_agent_id"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Mode         LockMode  `json:"mode"`
}

// IsExpired reports whether the lock's expiry has passed as of now. An
// expired lock is observable-as-expired and subject to reaping; it is not
// implicitly released.
func (l *Lock) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
