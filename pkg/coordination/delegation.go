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

// DelegationService drives the Delegation state machine:
// Pending -> Accepted -> InProgress -> {Completed, Failed}, or Pending ->
// Rejected. Every transition records a journal entry; Create, Accept, Reject
// and Complete also broadcast a WsEvent, while Start and Fail publish none.
// Transition legality itself is enforced by entity.Delegation.
type DelegationService struct {
	store   Store[entity.Delegation]
	journal journal.Journal
	fabric  *broadcast.Fabric
}

// NewDelegationService constructs a DelegationService over store.
func NewDelegationService(store Store[entity.Delegation], j journal.Journal, fabric *broadcast.Fabric) *DelegationService {
	return &DelegationService{store: store, journal: j, fabric: fabric}
}

// Create starts a Pending delegation with no delegatee assigned.
func (s *DelegationService) Create(ctx context.Context, tenant id.ID, delegator id.ID, taskDescription string, parentTrajectory id.ID) (*entity.Delegation, error) {
	d := entity.NewDelegation(tenant, delegator, taskDescription, parentTrajectory)
	if err := s.store.Put(ctx, tenant, d.ID, d); err != nil {
		return nil, caliberr.Storage("delegation_insert_failed", err.Error()).WithCause(err)
	}
	if _, err := s.journal.RecordChange(ctx, tenant, entity.TypeDelegation, d.ID); err != nil {
		return nil, err
	}
	s.publish(tenant, broadcast.EventDelegationCreated, d)
	return d, nil
}

// Accept transitions Pending -> Accepted, assigning delegatee and
// childTrajectory.
func (s *DelegationService) Accept(ctx context.Context, tenant, delegationID, delegatee, childTrajectory id.ID) (*entity.Delegation, error) {
	d, err := s.get(ctx, tenant, delegationID)
	if err != nil {
		return nil, err
	}
	if err := d.Accept(delegatee, childTrajectory, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, tenant, d); err != nil {
		return nil, err
	}
	s.publish(tenant, broadcast.EventDelegationAccepted, d)
	return d, nil
}

// Reject transitions Pending -> Rejected.
func (s *DelegationService) Reject(ctx context.Context, tenant, delegationID id.ID) (*entity.Delegation, error) {
	d, err := s.get(ctx, tenant, delegationID)
	if err != nil {
		return nil, err
	}
	if err := d.Reject(time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, tenant, d); err != nil {
		return nil, err
	}
	s.publish(tenant, broadcast.EventDelegationRejected, d)
	return d, nil
}

// Start transitions Accepted -> InProgress.
func (s *DelegationService) Start(ctx context.Context, tenant, delegationID id.ID) (*entity.Delegation, error) {
	d, err := s.get(ctx, tenant, delegationID)
	if err != nil {
		return nil, err
	}
	if err := d.Start(time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, tenant, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Complete transitions {Accepted, InProgress} -> Completed.
func (s *DelegationService) Complete(ctx context.Context, tenant, delegationID id.ID, result entity.DelegationResult) (*entity.Delegation, error) {
	d, err := s.get(ctx, tenant, delegationID)
	if err != nil {
		return nil, err
	}
	if err := d.Complete(result, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, tenant, d); err != nil {
		return nil, err
	}
	s.publish(tenant, broadcast.EventDelegationCompleted, d)
	return d, nil
}

// Fail transitions {Accepted, InProgress} -> Failed.
func (s *DelegationService) Fail(ctx context.Context, tenant, delegationID id.ID, reason string) (*entity.Delegation, error) {
	d, err := s.get(ctx, tenant, delegationID)
	if err != nil {
		return nil, err
	}
	if err := d.Fail(reason, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, tenant, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DelegationService) get(ctx context.Context, tenant, delegationID id.ID) (*entity.Delegation, error) {
	d, err := s.store.Get(ctx, tenant, delegationID)
	if err != nil {
		return nil, caliberr.Storage("delegation_lookup_failed", err.Error()).WithCause(err)
	}
	if d == nil {
		return nil, caliberr.NotFound("delegation", delegationID.String())
	}
	return d, nil
}

func (s *DelegationService) save(ctx context.Context, tenant id.ID, d *entity.Delegation) error {
	if err := s.store.Put(ctx, tenant, d.ID, d); err != nil {
		return caliberr.Storage("delegation_update_failed", err.Error()).WithCause(err)
	}
	_, err := s.journal.RecordChange(ctx, tenant, entity.TypeDelegation, d.ID)
	return err
}

func (s *DelegationService) publish(tenant id.ID, eventType broadcast.EventType, d *entity.Delegation) {
	if s.fabric == nil {
		return
	}
	s.fabric.Publish(broadcast.New(eventType, tenant, map[string]any{
		"delegation_id": d.ID.String(),
		"status":        string(d.Status),
	}))
}
