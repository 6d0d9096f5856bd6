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

// AgentStatus is an agent's registration lifecycle state.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "Online"
	AgentBusy    AgentStatus = "Busy"
	AgentOffline AgentStatus = "Offline"
)

// Agent is a registered agent identity: the record behind the /agents
// resource, x-agent-id header resolution, and coordination addressing by
// agent type.
type Agent struct {
	ID            id.ID          `json:"id"`
	TenantID      TenantID       `json:"tenant_id"`
	Name          string         `json:"name"`
	AgentType     string         `json:"agent_type"`
	Status        AgentStatus    `json:"status"`
	RegisteredAt  time.Time      `json:"registered_at"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewAgent registers an agent identity. Name and agentType are required.
func NewAgent(tenantID TenantID, name, agentType string) (*Agent, error) {
	if name == "" {
		return nil, caliberr.Validation("missing_required_field", "missing required field: name")
	}
	if agentType == "" {
		return nil, caliberr.Validation("missing_required_field", "missing required field: agent_type")
	}
	now := time.Now().UTC()
	return &Agent{
		ID:            id.New(),
		TenantID:      tenantID,
		Name:          name,
		AgentType:     agentType,
		Status:        AgentOnline,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}, nil
}

// Heartbeat refreshes LastHeartbeat and brings an Offline agent back Online.
func (a *Agent) Heartbeat() {
	a.LastHeartbeat = time.Now().UTC()
	if a.Status == AgentOffline {
		a.Status = AgentOnline
	}
}
