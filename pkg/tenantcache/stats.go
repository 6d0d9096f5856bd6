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
	"sync"

	"github.com/caliberhq/caliber/pkg/id"
)

// GlobalStats aggregates hit/miss/eviction counters across all tenants.
type GlobalStats struct {
	Hits      int64
	Misses    int64
	Inserts   int64
	Evictions int64
}

// TenantStats aggregates hit/miss/eviction counters for one tenant.
type TenantStats struct {
	Hits      int64
	Misses    int64
	Entries   int64
	Evictions int64
}

// statTracker holds lock-free-friendly per-tenant counters behind a single
// RW-lock-guarded map ("Metrics: lock-free atomic
// counters or RW-lock-guarded maps keyed by tenant".
type statTracker struct {
	mu      sync.RWMutex
	byTenant map[id.ID]*TenantStats
}

func (s *statTracker) ensure(tenant id.ID) *TenantStats {
	if s.byTenant == nil {
		s.byTenant = make(map[id.ID]*TenantStats)
	}
	t, ok := s.byTenant[tenant]
	if !ok {
		t = &TenantStats{}
		s.byTenant[tenant] = t
	}
	return t
}

func (s *statTracker) recordHit(tenant id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(tenant).Hits++
}

func (s *statTracker) recordMiss(tenant id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(tenant).Misses++
}

func (s *statTracker) recordInsert(tenant id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(tenant).Entries++
}

func (s *statTracker) recordEviction(tenant id.ID, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.ensure(tenant)
	t.Evictions += int64(count)
	t.Entries -= int64(count)
	if t.Entries < 0 {
		t.Entries = 0
	}
}

func (s *statTracker) resetTenant(tenant id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byTenant, tenant)
}

func (s *statTracker) global() GlobalStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var g GlobalStats
	for _, t := range s.byTenant {
		g.Hits += t.Hits
		g.Misses += t.Misses
		g.Inserts += t.Entries
		g.Evictions += t.Evictions
	}
	return g
}

func (s *statTracker) forTenant(tenant id.ID) TenantStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.byTenant[tenant]; ok {
		return *t
	}
	return TenantStats{}
}

// Stats is the embedded tracker type used by Backend.
type Stats = statTracker
