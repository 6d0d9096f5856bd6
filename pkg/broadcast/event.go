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

// Package broadcast implements the real-time broadcast fabric: a single
// multi-producer/multi-consumer channel that fans mutation
// events out to per-tenant-filtered subscribers over WebSocket.
package broadcast

import (
	"time"

	"github.com/caliberhq/caliber/pkg/id"
)

// EventType is the WsEvent tag-field discriminant's WsEvent
// taxonomy.
type EventType string

const (
	EventTrajectoryCreated EventType = "TrajectoryCreated"
	EventTrajectoryUpdated EventType = "TrajectoryUpdated"
	EventTrajectoryDeleted EventType = "TrajectoryDeleted"
	EventScopeCreated      EventType = "ScopeCreated"
	EventScopeUpdated      EventType = "ScopeUpdated"
	EventScopeClosed       EventType = "ScopeClosed"
	EventArtifactCreated   EventType = "ArtifactCreated"
	EventArtifactUpdated   EventType = "ArtifactUpdated"
	EventArtifactDeleted   EventType = "ArtifactDeleted"
	EventNoteCreated       EventType = "NoteCreated"
	EventNoteUpdated       EventType = "NoteUpdated"
	EventNoteDeleted       EventType = "NoteDeleted"
	EventTurnCreated       EventType = "TurnCreated"
	EventAgentRegistered   EventType = "AgentRegistered"
	EventAgentStatusChanged EventType = "AgentStatusChanged"
	EventAgentHeartbeat    EventType = "AgentHeartbeat"
	EventAgentUnregistered EventType = "AgentUnregistered"

	EventLockAcquired       EventType = "LockAcquired"
	EventLockReleased       EventType = "LockReleased"
	EventLockExpired        EventType = "LockExpired"
	EventMessageSent        EventType = "MessageSent"
	EventMessageDelivered   EventType = "MessageDelivered"
	EventMessageAcknowledged EventType = "MessageAcknowledged"
	EventDelegationCreated  EventType = "DelegationCreated"
	EventDelegationAccepted EventType = "DelegationAccepted"
	EventDelegationRejected EventType = "DelegationRejected"
	EventDelegationCompleted EventType = "DelegationCompleted"
	EventHandoffCreated  EventType = "HandoffCreated"
	EventHandoffAccepted EventType = "HandoffAccepted"
	EventHandoffCompleted EventType = "HandoffCompleted"

	EventConfigUpdated EventType = "ConfigUpdated"

	EventConnected    EventType = "Connected"
	EventDisconnected EventType = "Disconnected"
	EventError        EventType = "Error"

	EventSummarizationTriggered EventType = "SummarizationTriggered"
	EventEdgeCreated            EventType = "EdgeCreated"
	EventEdgesBatchCreated      EventType = "EdgesBatchCreated"
	EventToolExecuted           EventType = "ToolExecuted"
)

// globalEventTypes never carry a tenant binding and are delivered to every
// connected subscriber unconditionally.
var globalEventTypes = map[EventType]bool{
	EventConnected:    true,
	EventDisconnected: true,
	EventError:        true,
	EventConfigUpdated: true,
}

// IsGlobal reports whether t is one of the explicitly global event types.
func (t EventType) IsGlobal() bool {
	return globalEventTypes[t]
}

// Event is one entry published on the broadcast fabric. TenantID is the
// event's direct tenant binding if known; EntityMetadata is consulted as a
// fallback recovery path when TenantID is the zero value (
// "attached directly on most events; recovered from entity.metadata.tenant_id
// otherwise").
type Event struct {
	Type           EventType      `json:"type"`
	TenantID       id.ID          `json:"tenant_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Payload        map[string]any `json:"payload,omitempty"`
	EntityMetadata map[string]any `json:"-"`
}

// ResolvedTenant returns the tenant this event is bound to and whether any
// binding (direct or recovered) was found. An event with no binding at all is
// global and delivered unconditionally.
func (e Event) ResolvedTenant() (id.ID, bool) {
	if !e.TenantID.IsNil() {
		return e.TenantID, true
	}
	if raw, ok := e.EntityMetadata["tenant_id"]; ok {
		switch v := raw.(type) {
		case id.ID:
			return v, true
		case string:
			if parsed, err := id.Parse(v); err == nil {
				return parsed, true
			}
		}
	}
	return id.Nil, false
}

// New constructs an Event stamped with the current time.
func New(eventType EventType, tenant id.ID, payload map[string]any) Event {
	return Event{Type: eventType, TenantID: tenant, Timestamp: time.Now().UTC(), Payload: payload}
}
