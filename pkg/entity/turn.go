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

	"github.com/caliberhq/caliber/pkg/id"
)

// TurnRole identifies the speaker of a conversation entry.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleSystem    TurnRole = "system"
	RoleTool      TurnRole = "tool"
)

// ToolCallRecord and ToolResultRecord carry the raw tool-call payloads
// attached to a Turn; the execution semantics live in pkg/toolgate.
type ToolCallRecord struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResultRecord struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	Error      string `json:"error,omitempty"`
}

// Turn is an ephemeral conversation entry within a scope. Sequence is
// strictly increasing per scope. Turns are deleted when their scope closes
// unless promoted to an Artifact.
type Turn struct {
	ID          id.ID              `json:"id"`
	TenantID    TenantID           `json:"tenant_id"`
	ScopeID     id.ID              `json:"scope_id"`
	Sequence    int                `json:"sequence"`
	Role        TurnRole           `json:"role"`
	Content     string             `json:"content"`
	TokenCount  int                `json:"token_count"`
	ToolCalls   []ToolCallRecord   `json:"tool_calls,omitempty"`
	ToolResults []ToolResultRecord `json:"tool_results,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// NewTurn constructs a Turn at the given per-scope sequence number.
func NewTurn(tenantID TenantID, scopeID id.ID, sequence int, role TurnRole, content string, tokenCount int) *Turn {
	return &Turn{
		ID:         id.New(),
		TenantID:   tenantID,
		ScopeID:    scopeID,
		Sequence:   sequence,
		Role:       role,
		Content:    content,
		TokenCount: tokenCount,
		CreatedAt:  time.Now().UTC(),
	}
}
