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

// MessageBus implements the Message operations: send sets
// created_at, deliver sets delivered_at, ack sets acknowledged_at. Ordering
// across recipients is unspecified; this implementation only guarantees the
// required per-(from_agent, to_agent) monotonic created_at, which falls out
// of using wall-clock time.Now() at send.
type MessageBus struct {
	store   Store[entity.Message]
	journal journal.Journal
	fabric  *broadcast.Fabric
}

// NewMessageBus constructs a MessageBus over store.
func NewMessageBus(store Store[entity.Message], j journal.Journal, fabric *broadcast.Fabric) *MessageBus {
	return &MessageBus{store: store, journal: j, fabric: fabric}
}

// Send constructs and persists a Message. Construction itself enforces the
// exactly-one-of (to_agent, to_agent_type) invariant (entity.NewMessage).
func (b *MessageBus) Send(ctx context.Context, tenant id.ID, from id.ID, toAgent *id.ID, toAgentType *string, msgType entity.MessageType, payload string, priority entity.MessagePriority) (*entity.Message, error) {
	msg, err := entity.NewMessage(tenant, from, toAgent, toAgentType, msgType, payload, priority)
	if err != nil {
		return nil, err
	}
	if err := b.store.Put(ctx, tenant, msg.ID, msg); err != nil {
		return nil, caliberr.Storage("message_insert_failed", err.Error()).WithCause(err)
	}
	if _, err := b.journal.RecordChange(ctx, tenant, entity.TypeMessage, msg.ID); err != nil {
		return nil, err
	}
	b.publish(tenant, broadcast.EventMessageSent, msg)
	return msg, nil
}

// Deliver marks a message delivered.
func (b *MessageBus) Deliver(ctx context.Context, tenant, messageID id.ID) (*entity.Message, error) {
	msg, err := b.get(ctx, tenant, messageID)
	if err != nil {
		return nil, err
	}
	msg.Deliver(time.Now().UTC())
	if err := b.store.Put(ctx, tenant, messageID, msg); err != nil {
		return nil, caliberr.Storage("message_update_failed", err.Error()).WithCause(err)
	}
	if _, err := b.journal.RecordChange(ctx, tenant, entity.TypeMessage, messageID); err != nil {
		return nil, err
	}
	b.publish(tenant, broadcast.EventMessageDelivered, msg)
	return msg, nil
}

// Acknowledge marks a message acknowledged.
func (b *MessageBus) Acknowledge(ctx context.Context, tenant, messageID id.ID) (*entity.Message, error) {
	msg, err := b.get(ctx, tenant, messageID)
	if err != nil {
		return nil, err
	}
	msg.Acknowledge(time.Now().UTC())
	if err := b.store.Put(ctx, tenant, messageID, msg); err != nil {
		return nil, caliberr.Storage("message_update_failed", err.Error()).WithCause(err)
	}
	if _, err := b.journal.RecordChange(ctx, tenant, entity.TypeMessage, messageID); err != nil {
		return nil, err
	}
	b.publish(tenant, broadcast.EventMessageAcknowledged, msg)
	return msg, nil
}

func (b *MessageBus) get(ctx context.Context, tenant, messageID id.ID) (*entity.Message, error) {
	msg, err := b.store.Get(ctx, tenant, messageID)
	if err != nil {
		return nil, caliberr.Storage("message_lookup_failed", err.Error()).WithCause(err)
	}
	if msg == nil {
		return nil, caliberr.NotFound("message", messageID.String())
	}
	return msg, nil
}

func (b *MessageBus) publish(tenant id.ID, eventType broadcast.EventType, msg *entity.Message) {
	if b.fabric == nil {
		return
	}
	b.fabric.Publish(broadcast.New(eventType, tenant, map[string]any{
		"message_id": msg.ID.String(),
		"from_agent": msg.FromAgentID.String(),
	}))
}
