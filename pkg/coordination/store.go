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

// Package coordination implements the agent-coordination primitives:
// locks, messages, delegations, handoffs, and conflicts, each
// as a small state machine over pkg/entity records. Concrete persistence is
// an external collaborator ("concrete storage engines...
// treated as an entity CRUD API"). Store below is that API's shape; a
// process wiring CALIBER supplies a real implementation (e.g. pkg/pgstore).
package coordination

import (
	"context"
	"sync"

	"github.com/caliberhq/caliber/pkg/id"
)

// Store is the minimal entity-CRUD contract every coordination primitive
// needs from the storage layer: atomic single-row insert/update/delete with
// per-tenant filtering (the "semantic contract... per-tenant
// filtering", regardless of the concrete engine chosen to implement it).
type Store[T any] interface {
	Put(ctx context.Context, tenant id.ID, entityID id.ID, v *T) error
	Get(ctx context.Context, tenant id.ID, entityID id.ID) (*T, error)
	Delete(ctx context.Context, tenant id.ID, entityID id.ID) error
	List(ctx context.Context, tenant id.ID) ([]*T, error)
}

// InMemoryStore is a reference Store implementation used by tests and by
// processes that don't need durability.
type InMemoryStore[T any] struct {
	mu       sync.RWMutex
	byTenant map[id.ID]map[id.ID]*T
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{byTenant: make(map[id.ID]map[id.ID]*T)}
}

func (s *InMemoryStore[T]) Put(_ context.Context, tenant id.ID, entityID id.ID, v *T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.byTenant[tenant]
	if !ok {
		tbl = make(map[id.ID]*T)
		s.byTenant[tenant] = tbl
	}
	tbl[entityID] = v
	return nil
}

func (s *InMemoryStore[T]) Get(_ context.Context, tenant id.ID, entityID id.ID) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tbl, ok := s.byTenant[tenant]
	if !ok {
		return nil, nil
	}
	v, ok := tbl[entityID]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (s *InMemoryStore[T]) Delete(_ context.Context, tenant id.ID, entityID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.byTenant[tenant]
	if !ok {
		return nil
	}
	delete(tbl, entityID)
	return nil
}

func (s *InMemoryStore[T]) List(_ context.Context, tenant id.ID) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tbl := s.byTenant[tenant]
	out := make([]*T, 0, len(tbl))
	for _, v := range tbl {
		out = append(out, v)
	}
	return out, nil
}
