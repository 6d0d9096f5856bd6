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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliberhq/caliber/pkg/broadcast"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/eventdag"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/journal"
)

func newTestCoordinator() *Coordinator {
	j := journal.NewEventDagChangeJournal(eventdag.New())
	return NewInMemory(j, broadcast.New(16))
}

func TestLockManager_ExclusivityInvariant(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	tenant := id.New()
	resourceID := id.New()
	holder1, holder2 := id.New(), id.New()

	lock, err := c.Locks.Acquire(ctx, tenant, "artifact", resourceID, holder1, entity.LockExclusive, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lock)

	_, err = c.Locks.Acquire(ctx, tenant, "artifact", resourceID, holder2, entity.LockExclusive, time.Minute)
	assert.Error(t, err)

	require.NoError(t, c.Locks.Release(ctx, tenant, lock.ID))

	lock2, err := c.Locks.Acquire(ctx, tenant, "artifact", resourceID, holder2, entity.LockExclusive, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, holder2, lock2.HolderAgent)
}

func TestLockManager_SharedLocksCoexist(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	tenant := id.New()
	resourceID := id.New()

	_, err := c.Locks.Acquire(ctx, tenant, "artifact", resourceID, id.New(), entity.LockShared, time.Minute)
	require.NoError(t, err)
	_, err = c.Locks.Acquire(ctx, tenant, "artifact", resourceID, id.New(), entity.LockShared, time.Minute)
	require.NoError(t, err)

	_, err = c.Locks.Acquire(ctx, tenant, "artifact", resourceID, id.New(), entity.LockExclusive, time.Minute)
	assert.Error(t, err, "an exclusive acquire must fail while shared holders exist")
}

func TestLockManager_SweepReapsExpired(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	tenant := id.New()
	resourceID := id.New()

	lock, err := c.Locks.Acquire(ctx, tenant, "artifact", resourceID, id.New(), entity.LockExclusive, -time.Second)
	require.NoError(t, err)
	require.True(t, lock.IsExpired(time.Now().UTC()))

	n, err := c.Locks.Sweep(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = c.Locks.Acquire(ctx, tenant, "artifact", resourceID, id.New(), entity.LockExclusive, time.Minute)
	assert.NoError(t, err, "resource should be free after the expired lock was reaped")
}

func TestDelegationService_StateMachine(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	tenant := id.New()

	d, err := c.Delegations.Create(ctx, tenant, id.New(), "summarize the trajectory", id.New())
	require.NoError(t, err)
	assert.Equal(t, entity.DelegationPending, d.Status)

	delegatee, child := id.New(), id.New()
	d, err = c.Delegations.Accept(ctx, tenant, d.ID, delegatee, child)
	require.NoError(t, err)
	assert.Equal(t, entity.DelegationAccepted, d.Status)
	require.NotNil(t, d.DelegateeAgentID)
	assert.Equal(t, delegatee, *d.DelegateeAgentID)

	d, err = c.Delegations.Complete(ctx, tenant, d.ID, entity.DelegationResult{Summary: "done"})
	require.NoError(t, err)
	assert.Equal(t, entity.DelegationCompleted, d.Status)

	_, err = c.Delegations.Reject(ctx, tenant, d.ID)
	assert.Error(t, err, "cannot reject a completed delegation")
}

func TestHandoffService_StateMachine(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	tenant := id.New()

	h, err := c.Handoffs.Create(ctx, tenant, id.New(), id.New(), id.New(), entity.HandoffReasonEscalation, entity.RawContent(`{}`))
	require.NoError(t, err)
	assert.Equal(t, entity.HandoffInitiated, h.Status)

	h, err = c.Handoffs.Accept(ctx, tenant, h.ID, id.New())
	require.NoError(t, err)
	assert.Equal(t, entity.HandoffAccepted, h.Status)
	assert.NotNil(t, h.ToAgentID)

	h, err = c.Handoffs.Complete(ctx, tenant, h.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.HandoffCompleted, h.Status)
}

func TestConflictService_EscalatesDirectly(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	tenant := id.New()

	conf, err := c.Conflicts.Detect(ctx, tenant, "duplicate_note", entity.TypeNote, id.New(), entity.TypeNote, id.New())
	require.NoError(t, err)
	assert.Equal(t, entity.ConflictDetected, conf.Status)

	conf, err = c.Conflicts.Escalate(ctx, tenant, conf.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ConflictEscalated, conf.Status)
}

func TestMessageBus_ExactlyOneRecipient(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	tenant := id.New()
	agentType := "summarizer"

	_, err := c.Messages.Send(ctx, tenant, id.New(), nil, nil, entity.MessageText, "hi", entity.PriorityNormal)
	assert.Error(t, err, "neither to_agent nor to_agent_type set must fail")

	to := id.New()
	_, err = c.Messages.Send(ctx, tenant, id.New(), &to, &agentType, entity.MessageText, "hi", entity.PriorityNormal)
	assert.Error(t, err, "both to_agent and to_agent_type set must fail")

	msg, err := c.Messages.Send(ctx, tenant, id.New(), &to, nil, entity.MessageText, "hi", entity.PriorityNormal)
	require.NoError(t, err)

	msg, err = c.Messages.Deliver(ctx, tenant, msg.ID)
	require.NoError(t, err)
	assert.NotNil(t, msg.DeliveredAt)

	msg, err = c.Messages.Acknowledge(ctx, tenant, msg.ID)
	require.NoError(t, err)
	assert.NotNil(t, msg.AcknowledgedAt)
}
