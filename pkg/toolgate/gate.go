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

// Package toolgate implements the tool execution gate.
//
// Every pack-tool invocation passes through the same sequence: resolve the
// calling agent, load the tenant's active compiled pack, authorize the tool
// against the agent's toolsets, check the scope token budget, validate the
// input against the tool's compiled JSON schema, then dispatch (subprocess
// for Exec tools, prompt rendering for Prompt tools) and always emit a
// ToolExecuted audit event, success or not.
package toolgate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/caliberhq/caliber/pkg/broadcast"
	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/pack"
	"github.com/caliberhq/caliber/pkg/ratelimit"
)

// Subprocess timeouts are clamped to this range; a tool that declares none
// gets the default.
const (
	MinTimeoutMs     = 100
	MaxTimeoutMs     = 300_000
	DefaultTimeoutMs = 30_000
)

// ScopeReader fetches a scope for the token-budget check. The concrete
// storage engine behind it is an external collaborator.
type ScopeReader interface {
	GetScope(ctx context.Context, tenant, scopeID id.ID) (*entity.Scope, error)
}

// AgentDirectory resolves an agent id to its registered name, the fallback
// path when the caller supplies x-agent-id instead of x-agent-name.
type AgentDirectory interface {
	AgentName(ctx context.Context, tenant, agentID id.ID) (string, error)
}

// Config carries the gate's construction-time options; there is no default
// construction path. Limiter may be nil.
type Config struct {
	// StrictPackOnly pins tool resolution to the active pack. The gate
	// ships no built-in tool list, so resolution is pack-only either way;
	// the flag exists for deployments that layer extra tools in front of
	// the gate and need the substrate to refuse them.
	StrictPackOnly bool
	// Limiter bounds dispatch per (tenant, agent); nil disables limiting.
	Limiter ratelimit.RateLimiter
}

// Gate is the tool execution gate.
type Gate struct {
	config Config
	packs  *pack.ActiveSet
	scopes ScopeReader
	agents AgentDirectory
	fabric *broadcast.Fabric
	logger *slog.Logger
}

// New constructs a Gate. packs, scopes, fabric, and logger are required;
// agents may be nil when id-based resolution is not wired.
func New(config Config, packs *pack.ActiveSet, scopes ScopeReader, agents AgentDirectory, fabric *broadcast.Fabric, logger *slog.Logger) *Gate {
	return &Gate{config: config, packs: packs, scopes: scopes, agents: agents, fabric: fabric, logger: logger}
}

// Request is one tool invocation. AgentName is taken from x-agent-name when
// present; otherwise AgentID is resolved through the AgentDirectory.
type Request struct {
	Tenant    id.ID
	AgentName string
	AgentID   id.ID
	Tool      string
	Input     json.RawMessage
	ScopeID   *id.ID
}

// Result is the outcome of a dispatched tool.
type Result struct {
	Output     string
	Success    bool
	DurationMs int64
}

// Invoke runs the full gate sequence for req. The returned error carries a
// caliberr category (forbidden/not_found/validation) the transport layer
// maps to a status code.
func (g *Gate) Invoke(ctx context.Context, req Request) (*Result, error) {
	agentName, err := g.resolveAgent(ctx, req)
	if err != nil {
		return nil, err
	}

	cfg, ok := g.packs.Get(req.Tenant)
	if !ok {
		return nil, caliberr.NotFound("pack", req.Tenant.String())
	}

	if err := g.authorize(cfg, agentName, req.Tool); err != nil {
		return nil, err
	}

	if req.ScopeID != nil {
		if err := g.checkScopeBudget(ctx, req.Tenant, *req.ScopeID); err != nil {
			return nil, err
		}
	}

	tool, ok := cfg.FindTool(req.Tool)
	if !ok {
		// There is no built-in tool list to fall back to; strict or not, an
		// id absent from the active pack is not found.
		return nil, caliberr.NotFound("tool", req.Tool)
	}

	if tool.CompiledSchema != nil {
		if err := validateInput(tool.CompiledSchema, req.Input); err != nil {
			return nil, err
		}
	}

	if g.config.Limiter != nil {
		identifier := req.Tenant.String() + ":" + agentName
		result, err := g.config.Limiter.CheckAndRecord(ctx, ratelimit.ScopeAgent, identifier, 0, 1)
		if err != nil {
			if ratelimit.IsRateLimitError(err) {
				return nil, caliberr.Forbidden("tool_rate_limited", "tool dispatch rate limit exceeded").WithCause(err)
			}
			return nil, err
		}
		if result != nil && result.IsExceeded() {
			return nil, caliberr.Forbidden("tool_rate_limited", "tool dispatch rate limit exceeded")
		}
	}

	switch tool.Kind {
	case pack.ToolExec:
		return g.dispatchExec(ctx, req.Tenant, agentName, tool, req.Input)
	case pack.ToolPrompt:
		return g.dispatchPrompt(ctx, req.Tenant, agentName, cfg, tool, req.Input)
	default:
		return nil, caliberr.Internal("tool_kind_unknown", fmt.Sprintf("tool %s has unknown kind", tool.ID))
	}
}

func (g *Gate) resolveAgent(ctx context.Context, req Request) (string, error) {
	if req.AgentName != "" {
		return req.AgentName, nil
	}
	if !req.AgentID.IsNil() && g.agents != nil {
		name, err := g.agents.AgentName(ctx, req.Tenant, req.AgentID)
		if err != nil {
			return "", err
		}
		return name, nil
	}
	return "", nil
}

// authorize computes the union of the agent's toolsets and rejects tools
// outside it. An unknown agent, or an agent with no toolsets, is forbidden.
func (g *Gate) authorize(cfg *pack.CompiledConfig, agentName, toolID string) error {
	if agentName == "" {
		return caliberr.Forbidden("tool_agent_unresolved", "no agent identity supplied")
	}
	agent, ok := cfg.AgentByName(agentName)
	if !ok {
		return caliberr.Forbidden("tool_agent_unknown", fmt.Sprintf("agent %q is not declared in the active pack", agentName))
	}
	allowed := cfg.AllowedTools(agent.Toolsets)
	if len(allowed) == 0 {
		return caliberr.Forbidden("tool_no_toolsets", fmt.Sprintf("agent %q has no permitted tools", agentName))
	}
	if !allowed[toolID] {
		return caliberr.Forbidden("tool_not_permitted", fmt.Sprintf("tool %q is not in agent %q's toolsets", toolID, agentName))
	}
	return nil
}

func (g *Gate) checkScopeBudget(ctx context.Context, tenant, scopeID id.ID) error {
	scope, err := g.scopes.GetScope(ctx, tenant, scopeID)
	if err != nil {
		return err
	}
	if scope == nil {
		return caliberr.NotFound("scope", scopeID.String())
	}
	if scope.TokensUsed >= scope.TokenBudget {
		return caliberr.Forbidden("scope_budget_exceeded",
			fmt.Sprintf("scope token budget exhausted: %d/%d used", scope.TokensUsed, scope.TokenBudget)).
			WithDetail("tokens_used", scope.TokensUsed).
			WithDetail("token_budget", scope.TokenBudget)
	}
	return nil
}

// validateInput checks input against the tool's compiled schema, surfacing
// the validator's path+message diagnostics.
func validateInput(schema *jsonschema.Schema, input json.RawMessage) error {
	var doc any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &doc); err != nil {
			return caliberr.Validation("tool_input_not_json", err.Error())
		}
	}
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return caliberr.Validation("tool_input_schema", conciseSchemaError(verr)).WithCause(err)
		}
		return caliberr.Validation("tool_input_schema", err.Error())
	}
	return nil
}

// conciseSchemaError flattens a validation error tree into "path: message"
// lines, one per leaf cause.
func conciseSchemaError(err *jsonschema.ValidationError) string {
	printer := message.NewPrinter(language.English)
	var lines []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			path := "/" + strings.Join(e.InstanceLocation, "/")
			lines = append(lines, fmt.Sprintf("%s: %s", path, e.ErrorKind.LocalizedString(printer)))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(err)
	return strings.Join(lines, "; ")
}

func (g *Gate) dispatchExec(ctx context.Context, tenant id.ID, agentName string, tool *pack.Tool, input json.RawMessage) (*Result, error) {
	if !tool.AllowSubprocess {
		g.audit(tenant, agentName, tool.ID, false, 0, "subprocess execution not permitted")
		return nil, caliberr.Forbidden("tool_subprocess_disallowed",
			fmt.Sprintf("tool %q does not allow subprocess execution", tool.ID))
	}

	timeoutMs := tool.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = DefaultTimeoutMs
	}
	if timeoutMs < MinTimeoutMs {
		timeoutMs = MinTimeoutMs
	}
	if timeoutMs > MaxTimeoutMs {
		timeoutMs = MaxTimeoutMs
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	parts := strings.Fields(tool.Cmd)
	if len(parts) == 0 {
		g.audit(tenant, agentName, tool.ID, false, 0, "empty command")
		return nil, caliberr.Validation("tool_cmd_empty", fmt.Sprintf("tool %q declares no command", tool.ID))
	}

	cmd := exec.CommandContext(execCtx, parts[0], parts[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(input) > 0 {
		cmd.Stdin = bytes.NewReader(input)
	}

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start).Milliseconds()

	if execCtx.Err() == context.DeadlineExceeded {
		msg := fmt.Sprintf("Timed out after %dms", timeoutMs)
		g.audit(tenant, agentName, tool.ID, false, duration, msg)
		return &Result{Output: msg, Success: false, DurationMs: duration}, nil
	}

	success := runErr == nil
	status := "exit status 0"
	errMsg := ""
	if runErr != nil {
		status = runErr.Error()
		errMsg = runErr.Error()
	}

	var out strings.Builder
	out.WriteString(status)
	if stdout.Len() > 0 {
		out.WriteString("\n")
		out.Write(stdout.Bytes())
	}
	if stderr.Len() > 0 {
		out.WriteString("\n")
		out.Write(stderr.Bytes())
	}

	g.audit(tenant, agentName, tool.ID, success, duration, errMsg)
	return &Result{Output: out.String(), Success: success, DurationMs: duration}, nil
}

func (g *Gate) dispatchPrompt(_ context.Context, tenant id.ID, agentName string, cfg *pack.CompiledConfig, tool *pack.Tool, input json.RawMessage) (*Result, error) {
	prompt, ok := cfg.FindMarkdown(tool.PromptMD)
	if !ok {
		g.audit(tenant, agentName, tool.ID, false, 0, "prompt markdown not found")
		return nil, caliberr.NotFound("prompt_md", tool.PromptMD)
	}

	output := prompt
	if len(input) > 0 && string(input) != "null" {
		output = fmt.Sprintf("%s\n\n---\n\ninput:\n%s", prompt, string(input))
	}

	g.audit(tenant, agentName, tool.ID, true, 0, "")
	return &Result{Output: output, Success: true, DurationMs: 0}, nil
}

// audit emits the ToolExecuted event every dispatch path must produce,
// failures included.
func (g *Gate) audit(tenant id.ID, agentName, toolID string, success bool, durationMs int64, errMsg string) {
	payload := map[string]any{
		"name":        toolID,
		"success":     success,
		"duration_ms": durationMs,
	}
	if agentName != "" {
		payload["agent"] = agentName
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	g.fabric.Publish(broadcast.New(broadcast.EventToolExecuted, tenant, payload))
	g.logger.Info("tool executed",
		"tenant_id", tenant.String(), "tool", toolID, "agent", agentName,
		"success", success, "duration_ms", durationMs)
}
