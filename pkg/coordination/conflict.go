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
	"time"

	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/journal"
)

// ConflictService drives the Conflict state machine:
// Detected -> Resolving -> Resolved, or Detected/Resolving -> Escalated
// directly. Conflict has no WsEvent entry in the wire taxonomy, so unlike
// the other coordination primitives this service journals but does not
// publish to the broadcast fabric.
type ConflictService struct {
	store   Store[entity.Conflict]
	journal journal.Journal
}

// NewConflictService constructs a ConflictService over store.
func NewConflictService(store Store[entity.Conflict], j journal.Journal) *ConflictService {
	return &ConflictService{store: store, journal: j}
}

// Detect records a new Detected conflict between two items.
func (s *ConflictService) Detect(ctx context.Context, tenant id.ID, conflictType string, itemAType entity.Type, itemAID id.ID, itemBType entity.Type, itemBID id.ID) (*entity.Conflict, error) {
	c := entity.NewConflict(tenant, conflictType, itemAType, itemAID, itemBType, itemBID)
	if err := s.store.Put(ctx, tenant, c.ID, c); err != nil {
		return nil, caliberr.Storage("conflict_insert_failed", err.Error()).WithCause(err)
	}
	if _, err := s.journal.RecordChange(ctx, tenant, entity.TypeConflict, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// BeginResolving transitions Detected -> Resolving.
func (s *ConflictService) BeginResolving(ctx context.Context, tenant, conflictID id.ID) (*entity.Conflict, error) {
	c, err := s.get(ctx, tenant, conflictID)
	if err != nil {
		return nil, err
	}
	if err := c.BeginResolving(time.Now().UTC()); err != nil {
		return nil, err
	}
	return c, s.save(ctx, tenant, c)
}

// Resolve transitions {Detected, Resolving} -> Resolved.
func (s *ConflictService) Resolve(ctx context.Context, tenant, conflictID id.ID, resolution entity.Resolution) (*entity.Conflict, error) {
	c, err := s.get(ctx, tenant, conflictID)
	if err != nil {
		return nil, err
	}
	if err := c.Resolve(resolution, time.Now().UTC()); err != nil {
		return nil, err
	}
	return c, s.save(ctx, tenant, c)
}

// Escalate transitions {Detected, Resolving} -> Escalated directly.
func (s *ConflictService) Escalate(ctx context.Context, tenant, conflictID id.ID) (*entity.Conflict, error) {
	c, err := s.get(ctx, tenant, conflictID)
	if err != nil {
		return nil, err
	}
	if err := c.Escalate(time.Now().UTC()); err != nil {
		return nil, err
	}
	return c, s.save(ctx, tenant, c)
}

func (s *ConflictService) get(ctx context.Context, tenant, conflictID id.ID) (*entity.Conflict, error) {
	c, err := s.store.Get(ctx, tenant, conflictID)
	if err != nil {
		return nil, caliberr.Storage("conflict_lookup_failed", err.Error()).WithCause(err)
	}
	if c == nil {
		return nil, caliberr.NotFound("conflict", conflictID.String())
	}
	return c, nil
}

func (s *ConflictService) save(ctx context.Context, tenant id.ID, c *entity.Conflict) error {
	if err := s.store.Put(ctx, tenant, c.ID, c); err != nil {
		return caliberr.Storage("conflict_update_failed", err.Error()).WithCause(err)
	}
	_, err := s.journal.RecordChange(ctx, tenant, entity.TypeConflict, c.ID)
	return err
}
