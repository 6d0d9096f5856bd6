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

package pack

import (
	"sync"

	"github.com/caliberhq/caliber/pkg/id"
)

// ActiveSet holds the active compiled pack per tenant. Reads are lock-shared
// and return the current pointer; Replace swaps the whole *CompiledConfig, so
// an in-flight reader keeps a consistent snapshot while new readers see the
// replacement. A CompiledConfig is never mutated after publication.
type ActiveSet struct {
	mu       sync.RWMutex
	byTenant map[id.ID]*CompiledConfig
}

// NewActiveSet constructs an empty ActiveSet.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{byTenant: make(map[id.ID]*CompiledConfig)}
}

// Get returns the active compiled pack for tenant, if one has been published.
func (s *ActiveSet) Get(tenant id.ID) (*CompiledConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.byTenant[tenant]
	return cfg, ok
}

// Replace publishes cfg as tenant's active pack, returning the previous one
// if any.
func (s *ActiveSet) Replace(tenant id.ID, cfg *CompiledConfig) (*CompiledConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.byTenant[tenant]
	s.byTenant[tenant] = cfg
	return prev, had
}

// Drop removes tenant's active pack, used on tenant deletion.
func (s *ActiveSet) Drop(tenant id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byTenant, tenant)
}
