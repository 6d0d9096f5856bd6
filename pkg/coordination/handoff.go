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

	"github.com/caliberhq/caliber/pkg/broadcast"
	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/journal"
)

// HandoffService drives the Handoff state machine:
// Initiated -> {Accepted, Rejected}; Accepted -> Completed.
type HandoffService struct {
	store   Store[entity.Handoff]
	journal journal.Journal
	fabric  *broadcast.Fabric
}

// NewHandoffService constructs a HandoffService over store.
func NewHandoffService(store Store[entity.Handoff], j journal.Journal, fabric *broadcast.Fabric) *HandoffService {
	return &HandoffService{store: store, journal: j, fabric: fabric}
}

// Create starts an Initiated handoff with no target agent assigned.
func (s *HandoffService) Create(ctx context.Context, tenant id.ID, from id.ID, trajectoryID, scopeID id.ID, reason entity.HandoffReason, contextSnapshot entity.RawContent) (*entity.Handoff, error) {
	h := entity.NewHandoff(tenant, from, trajectoryID, scopeID, reason, contextSnapshot)
	if err := s.store.Put(ctx, tenant, h.ID, h); err != nil {
		return nil, caliberr.Storage("handoff_insert_failed", err.Error()).WithCause(err)
	}
	if _, err := s.journal.RecordChange(ctx, tenant, entity.TypeHandoff, h.ID); err != nil {
		return nil, err
	}
	s.publish(tenant, broadcast.EventHandoffCreated, h)
	return h, nil
}

// Accept transitions Initiated -> Accepted, setting ToAgentID.
func (s *HandoffService) Accept(ctx context.Context, tenant, handoffID, toAgent id.ID) (*entity.Handoff, error) {
	h, err := s.get(ctx, tenant, handoffID)
	if err != nil {
		return nil, err
	}
	if err := h.Accept(toAgent, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, tenant, h); err != nil {
		return nil, err
	}
	s.publish(tenant, broadcast.EventHandoffAccepted, h)
	return h, nil
}

// Reject transitions Initiated -> Rejected.
func (s *HandoffService) Reject(ctx context.Context, tenant, handoffID id.ID) (*entity.Handoff, error) {
	h, err := s.get(ctx, tenant, handoffID)
	if err != nil {
		return nil, err
	}
	if err := h.Reject(time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, tenant, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Complete transitions Accepted -> Completed.
func (s *HandoffService) Complete(ctx context.Context, tenant, handoffID id.ID) (*entity.Handoff, error) {
	h, err := s.get(ctx, tenant, handoffID)
	if err != nil {
		return nil, err
	}
	if err := h.Complete(time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, tenant, h); err != nil {
		return nil, err
	}
	s.publish(tenant, broadcast.EventHandoffCompleted, h)
	return h, nil
}

func (s *HandoffService) get(ctx context.Context, tenant, handoffID id.ID) (*entity.Handoff, error) {
	h, err := s.store.Get(ctx, tenant, handoffID)
	if err != nil {
		return nil, caliberr.Storage("handoff_lookup_failed", err.Error()).WithCause(err)
	}
	if h == nil {
		return nil, caliberr.NotFound("handoff", handoffID.String())
	}
	return h, nil
}

func (s *HandoffService) save(ctx context.Context, tenant id.ID, h *entity.Handoff) error {
	if err := s.store.Put(ctx, tenant, h.ID, h); err != nil {
		return caliberr.Storage("handoff_update_failed", err.Error()).WithCause(err)
	}
	_, err := s.journal.RecordChange(ctx, tenant, entity.TypeHandoff, h.ID)
	return err
}

func (s *HandoffService) publish(tenant id.ID, eventType broadcast.EventType, h *entity.Handoff) {
	if s.fabric == nil {
		return
	}
	s.fabric.Publish(broadcast.New(eventType, tenant, map[string]any{
		"handoff_id": h.ID.String(),
		"status":     string(h.Status),
	}))
}
