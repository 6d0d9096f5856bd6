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

package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/caliberhq/caliber/pkg/broadcast"
	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/dsl"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/pack"
	"github.com/caliberhq/caliber/pkg/toolgate"
)

// ---- DSL ----

func (s *Server) dslRoutes(r chi.Router) {
	r.Post("/validate", s.handleDSLValidate)
	r.Post("/parse", s.handleDSLParse)
}

type dslRequest struct {
	File   string `json:"file,omitempty"`
	Source string `json:"source"`
}

func (s *Server) handleDSLValidate(w http.ResponseWriter, r *http.Request) {
	var req dslRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	file := req.File
	if file == "" {
		file = "input.dsl"
	}
	if _, err := dsl.Parse(file, req.Source); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) handleDSLParse(w http.ResponseWriter, r *http.Request) {
	var req dslRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	file := req.File
	if file == "" {
		file = "input.dsl"
	}
	doc, err := dsl.Parse(file, req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ---- pack ----

func (s *Server) packRoutes(r chi.Router) {
	r.Get("/inspect", s.handlePackInspect)
	r.Post("/activate", s.handlePackActivate)
}

// packSummary is the inspection view of the tenant's active pack: ids and
// shapes, not compiled schemas or raw prompt bodies.
type packSummary struct {
	Tools      []packToolSummary `json:"tools"`
	Toolsets   []pack.Toolset    `json:"toolsets"`
	Agents     []string          `json:"agents"`
	Providers  []string          `json:"providers"`
	Markdown   []string          `json:"markdown"`
	Injections int               `json:"injections"`
}

type packToolSummary struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	TimeoutMs       int    `json:"timeout_ms,omitempty"`
	AllowSubprocess bool   `json:"allow_subprocess,omitempty"`
	HasSchema       bool   `json:"has_schema"`
}

func (s *Server) handlePackInspect(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	cfg, ok := s.opts.ActivePacks.Get(tenant)
	if !ok {
		writeError(w, caliberr.NotFound("pack", tenant.String()))
		return
	}

	summary := packSummary{
		Toolsets:   cfg.Toolsets,
		Injections: len(cfg.PackInjections) + len(cfg.Injections),
	}
	for _, tool := range cfg.Tools {
		kind := "exec"
		if tool.Kind == pack.ToolPrompt {
			kind = "prompt"
		}
		summary.Tools = append(summary.Tools, packToolSummary{
			ID:              tool.ID,
			Kind:            kind,
			TimeoutMs:       tool.TimeoutMs,
			AllowSubprocess: tool.AllowSubprocess,
			HasSchema:       tool.CompiledSchema != nil,
		})
	}
	for _, agent := range cfg.PackAgents {
		summary.Agents = append(summary.Agents, agent.Name)
	}
	for _, provider := range cfg.Providers {
		summary.Providers = append(summary.Providers, provider.Name)
	}
	for path := range cfg.Markdown {
		summary.Markdown = append(summary.Markdown, path)
	}
	writeJSON(w, http.StatusOK, summary)
}

type packActivateRequest struct {
	Dir string `json:"dir"`
}

// handlePackActivate compiles the pack directory and publishes it as the
// tenant's active pack, emitting ConfigUpdated on success.
func (s *Server) handlePackActivate(w http.ResponseWriter, r *http.Request) {
	var req packActivateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Dir == "" {
		writeError(w, caliberr.MissingRequiredField("dir", caliberr.Location{}))
		return
	}
	cfg, err := pack.Compile(req.Dir)
	if err != nil {
		writeError(w, err)
		return
	}
	tenant := tenantFrom(r)
	s.opts.ActivePacks.Replace(tenant, cfg)
	s.opts.Fabric.Publish(broadcast.New(broadcast.EventConfigUpdated, tenant, map[string]any{
		"tools":  len(cfg.Tools),
		"agents": len(cfg.PackAgents),
	}))
	writeJSON(w, http.StatusOK, map[string]any{"tools": len(cfg.Tools), "agents": len(cfg.PackAgents)})
}

// ---- tools ----

func (s *Server) toolRoutes(r chi.Router) {
	r.Post("/call", s.handleToolCall)
}

type toolCallRequest struct {
	Tool    string          `json:"tool"`
	Input   json.RawMessage `json:"input,omitempty"`
	ScopeID *id.ID          `json:"scope_id,omitempty"`
}

// handleToolCall runs the tool execution gate. The calling agent comes from
// the x-agent-name header, falling back to x-agent-id.
func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	gateReq := toolgate.Request{
		Tenant:    tenantFrom(r),
		AgentName: r.Header.Get("x-agent-name"),
		Tool:      req.Tool,
		Input:     req.Input,
		ScopeID:   req.ScopeID,
	}
	if raw := r.Header.Get("x-agent-id"); raw != "" && gateReq.AgentName == "" {
		agentID, err := id.Parse(raw)
		if err != nil {
			writeError(w, caliberr.Validation("invalid_agent_id", "x-agent-id is not a valid id"))
			return
		}
		gateReq.AgentID = agentID
	}

	result, err := s.opts.Gate.Invoke(r.Context(), gateReq)
	if err != nil {
		writeError(w, err)
		return
	}
	s.opts.Metrics.ToolExecutions.WithLabelValues(gateReq.Tenant.String(), boolLabel(result.Success)).Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"output":      result.Output,
		"success":     result.Success,
		"duration_ms": result.DurationMs,
	})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ---- config ----

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Config)
}

// ---- tenants ----

func (s *Server) tenantRoutes(r chi.Router) {
	r.Delete("/{id}", s.handleDeleteTenant)
}

// handleDeleteTenant drops the tenant's active pack. Entity rows and cache
// state belong to the storage and cache layers, which expose their own
// tenant-wide invalidation; wiring those is the operator's deletion runbook,
// not a single REST call, because cascade delete is forbidden.
func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if tenantID != tenantFrom(r) {
		writeError(w, caliberr.Forbidden("tenant_mismatch", "a tenant may only delete itself"))
		return
	}
	s.opts.ActivePacks.Drop(tenantID)
	w.WriteHeader(http.StatusNoContent)
}
