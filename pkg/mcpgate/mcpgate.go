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

// Package mcpgate fronts the tool execution gate with the MCP protocol.
//
// A session is bound to one (tenant, agent) pair at handshake time, so the
// server built for it lists only the tools the caller's agent may use:
// initialize returns server capabilities, tools/list returns the filtered
// pack tools plus the core substrate tools, and tools/call runs the full
// gate sequence (authorization, schema validation, bounded execution,
// audit) exactly as the REST surface does.
package mcpgate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	caliber "github.com/caliberhq/caliber"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/pack"
	"github.com/caliberhq/caliber/pkg/registry"
	"github.com/caliberhq/caliber/pkg/toolgate"
)

// Gate builds per-session MCP servers over the shared tool gate.
type Gate struct {
	gate     *toolgate.Gate
	packs    *pack.ActiveSet
	logger   *slog.Logger
	sessions *registry.BaseRegistry[*server.MCPServer]
}

// New constructs a Gate.
func New(gate *toolgate.Gate, packs *pack.ActiveSet, logger *slog.Logger) *Gate {
	return &Gate{
		gate:     gate,
		packs:    packs,
		logger:   logger,
		sessions: registry.NewBaseRegistry[*server.MCPServer](),
	}
}

// Server returns the MCP server bound to (tenant, agentName), building and
// caching one per session key. The tool list is computed at build time: the
// caller's pack tools, filtered by the agent's toolsets, plus the core
// inspection tool. Call Reset after a pack activation so rebuilt sessions
// pick up new tools.
func (g *Gate) Server(tenant id.ID, agentName string) *server.MCPServer {
	key := tenant.String() + ":" + agentName
	if cached, ok := g.sessions.Get(key); ok {
		return cached
	}
	s := g.build(tenant, agentName)
	g.sessions.Replace(key, s)
	return s
}

// Reset drops every cached session server, forcing rebuilds against the
// current active packs.
func (g *Gate) Reset() {
	g.sessions.Clear()
}

func (g *Gate) build(tenant id.ID, agentName string) *server.MCPServer {
	s := server.NewMCPServer("caliber", caliber.Version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("caliber_pack_info",
			mcp.WithDescription("Summarize the tenant's active pack: tools, toolsets, agents."),
		),
		g.packInfoHandler(tenant),
	)

	cfg, ok := g.packs.Get(tenant)
	if !ok {
		return s
	}

	allowed := map[string]bool{}
	if agent, found := cfg.AgentByName(agentName); found {
		allowed = cfg.AllowedTools(agent.Toolsets)
	}

	for i := range cfg.Tools {
		tool := cfg.Tools[i]
		if !allowed[tool.ID] {
			continue
		}
		s.AddTool(g.mcpTool(tool), g.callHandler(tenant, agentName, tool.ID))
	}
	return s
}

func (g *Gate) mcpTool(tool pack.Tool) mcp.Tool {
	description := "Pack tool " + tool.ID
	if tool.Kind == pack.ToolPrompt {
		description = "Pack prompt tool " + tool.ID
	}
	if len(tool.RawSchema) > 0 {
		return mcp.NewToolWithRawSchema(tool.ID, description, tool.RawSchema)
	}
	return mcp.NewTool(tool.ID, mcp.WithDescription(description))
}

func (g *Gate) callHandler(tenant id.ID, agentName, toolID string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var input json.RawMessage
		if args := req.GetArguments(); len(args) > 0 {
			data, err := json.Marshal(args)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
			input = data
		}

		result, err := g.gate.Invoke(ctx, toolgate.Request{
			Tenant:    tenant,
			AgentName: agentName,
			Tool:      toolID,
			Input:     input,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !result.Success {
			return mcp.NewToolResultError(result.Output), nil
		}
		return mcp.NewToolResultText(result.Output), nil
	}
}

func (g *Gate) packInfoHandler(tenant id.ID) server.ToolHandlerFunc {
	return func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cfg, ok := g.packs.Get(tenant)
		if !ok {
			return mcp.NewToolResultError("no active pack for tenant"), nil
		}
		info := map[string]any{
			"tools":    len(cfg.Tools),
			"toolsets": len(cfg.Toolsets),
			"agents":   len(cfg.PackAgents),
		}
		data, err := json.Marshal(info)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}
