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

	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/id"
)

// MessagePriority orders delivery within an agent's inbox.
type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
	PriorityUrgent MessagePriority = "urgent"
)

// MessageType discriminates the payload shape of a Message.
type MessageType string

const (
	MessageText       MessageType = "text"
	MessageToolCall   MessageType = "tool_call"
	MessageStatus     MessageType = "status"
	MessageDelegation MessageType = "delegation"
)

// Message is a point-to-point or type-routed inter-agent communication.
// Exactly one of ToAgentID/ToAgentType must be set on send.
type Message struct {
	ID             id.ID           `json:"id"`
	TenantID       TenantID        `json:"tenant_id"`
	FromAgentID    id.ID           `json:"from_agent_id"`
	ToAgentID      *id.ID          `json:"to_agent_id,omitempty"`
	ToAgentType    *string         `json:"to_agent_type,omitempty"`
	Type           MessageType     `json:"type"`
	Payload        string          `json:"payload"`
	TrajectoryID   *id.ID          `json:"trajectory_id,omitempty"`
	ScopeID        *id.ID          `json:"scope_id,omitempty"`
	ArtifactIDs    []id.ID         `json:"artifact_ids,omitempty"`
	Priority       MessagePriority `json:"priority"`
	CreatedAt      time.Time       `json:"created_at"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
}

// NewMessage constructs a Message, enforcing the exactly-one-of
// (to_agent, to_agent_type) invariant at send time.
func NewMessage(tenantID TenantID, from id.ID, toAgent *id.ID, toAgentType *string, msgType MessageType, payload string, priority MessagePriority) (*Message, error) {
	hasAgent := toAgent != nil
	hasType := toAgentType != nil && *toAgentType != ""
	if hasAgent == hasType {
		return nil, caliberr.Validation("invalid_message_target", "exactly one of to_agent or to_agent_type must be set")
	}
	return &Message{
		ID:          id.New(),
		TenantID:    tenantID,
		FromAgentID: from,
		ToAgentID:   toAgent,
		ToAgentType: toAgentType,
		Type:        msgType,
		Payload:     payload,
		Priority:    priority,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Deliver marks the message delivered.
func (m *Message) Deliver(now time.Time) {
	m.DeliveredAt = &now
}

// Acknowledge marks the message acknowledged.
func (m *Message) Acknowledge(now time.Time) {
	m.AcknowledgedAt = &now
}
