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
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/caliberhq/caliber/pkg/broadcast"
	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
)

// recordMutation runs the bookkeeping every mutation path owes: a journal
// entry (the cache's freshness contract depends on it), a metrics tick, and
// a broadcast event mirroring the journal entry.
func (s *Server) recordMutation(r *http.Request, entityType entity.Type, entityID id.ID, eventType broadcast.EventType, payload map[string]any) {
	tenant := tenantFrom(r)
	if _, err := s.opts.Journal.RecordChange(r.Context(), tenant, entityType, entityID); err != nil {
		s.loggerFrom(r).Error("journal record failed", "entity_type", entityType.String(), "error", err)
	}
	s.opts.Metrics.EntityMutations.WithLabelValues(tenant.String(), entityType.String()).Inc()
	s.opts.Metrics.EventsPublished.Inc()
	s.opts.Fabric.Publish(broadcast.New(eventType, tenant, payload))
}

func pathID(r *http.Request) (id.ID, error) {
	raw := chi.URLParam(r, "id")
	parsed, err := id.Parse(raw)
	if err != nil {
		return id.Nil, caliberr.Validation("invalid_id", "path id is not a valid identifier").WithCause(err)
	}
	return parsed, nil
}

// ---- trajectories ----

func (s *Server) trajectoryRoutes(r chi.Router) {
	r.Post("/", s.handleCreateTrajectory)
	r.Get("/", s.handleListTrajectories)
	r.Get("/{id}", s.handleGetTrajectory)
	r.Post("/{id}/complete", s.handleCompleteTrajectory)
	r.Delete("/{id}", s.handleDeleteTrajectory)
}

type createTrajectoryRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parent      *id.ID  `json:"parent,omitempty"`
	Agent       *id.ID  `json:"agent,omitempty"`
}

func (s *Server) handleCreateTrajectory(w http.ResponseWriter, r *http.Request) {
	var req createTrajectoryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, caliberr.MissingRequiredField("name", caliberr.Location{}))
		return
	}
	tenant := tenantFrom(r)

	var parent *entity.Trajectory
	if req.Parent != nil {
		var err error
		parent, err = s.opts.Stores.Trajectories.Get(r.Context(), tenant, *req.Parent)
		if err != nil {
			writeError(w, err)
			return
		}
		if parent == nil {
			writeError(w, caliberr.NotFound("trajectory", req.Parent.String()))
			return
		}
	}

	traj := entity.NewTrajectory(tenant, req.Name, parent)
	traj.Description = req.Description
	traj.AgentID = req.Agent
	if err := s.opts.Stores.Trajectories.Put(r.Context(), tenant, traj.ID, traj); err != nil {
		writeError(w, err)
		return
	}
	s.recordMutation(r, entity.TypeTrajectory, traj.ID, broadcast.EventTrajectoryCreated,
		map[string]any{"trajectory_id": traj.ID.String(), "name": traj.Name})
	writeJSON(w, http.StatusCreated, traj)
}

func (s *Server) handleListTrajectories(w http.ResponseWriter, r *http.Request) {
	all, err := s.opts.Stores.Trajectories.List(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleGetTrajectory(w http.ResponseWriter, r *http.Request) {
	trajID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	traj, err := s.opts.Stores.Trajectories.Get(r.Context(), tenantFrom(r), trajID)
	if err != nil {
		writeError(w, err)
		return
	}
	if traj == nil {
		writeError(w, caliberr.NotFound("trajectory", trajID.String()))
		return
	}
	writeJSON(w, http.StatusOK, traj)
}

type completeTrajectoryRequest struct {
	Status  entity.TrajectoryStatus   `json:"status"`
	Outcome *entity.TrajectoryOutcome `json:"outcome,omitempty"`
}

func (s *Server) handleCompleteTrajectory(w http.ResponseWriter, r *http.Request) {
	trajID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req completeTrajectoryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tenant := tenantFrom(r)
	traj, err := s.opts.Stores.Trajectories.Get(r.Context(), tenant, trajID)
	if err != nil {
		writeError(w, err)
		return
	}
	if traj == nil {
		writeError(w, caliberr.NotFound("trajectory", trajID.String()))
		return
	}
	if err := traj.Transition(req.Status, req.Outcome); err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Stores.Trajectories.Put(r.Context(), tenant, trajID, traj); err != nil {
		writeError(w, err)
		return
	}
	s.recordMutation(r, entity.TypeTrajectory, trajID, broadcast.EventTrajectoryUpdated,
		map[string]any{"trajectory_id": trajID.String(), "status": string(traj.Status)})
	writeJSON(w, http.StatusOK, traj)
}

func (s *Server) handleDeleteTrajectory(w http.ResponseWriter, r *http.Request) {
	trajID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Stores.Trajectories.Delete(r.Context(), tenantFrom(r), trajID); err != nil {
		writeError(w, err)
		return
	}
	s.recordMutation(r, entity.TypeTrajectory, trajID, broadcast.EventTrajectoryDeleted,
		map[string]any{"trajectory_id": trajID.String()})
	w.WriteHeader(http.StatusNoContent)
}

// ---- scopes ----

func (s *Server) scopeRoutes(r chi.Router) {
	r.Post("/", s.handleCreateScope)
	r.Get("/{id}", s.handleGetScope)
	r.Post("/{id}/close", s.handleCloseScope)
	r.Post("/{id}/checkpoint", s.handleCheckpointScope)
	r.Get("/{id}/checkpoint", s.handleRestoreCheckpoint)
}

type createScopeRequest struct {
	TrajectoryID id.ID  `json:"trajectory_id"`
	Name         string `json:"name"`
	Purpose      string `json:"purpose,omitempty"`
	TokenBudget  int    `json:"token_budget"`
	ParentScope  *id.ID `json:"parent_scope,omitempty"`
}

func (s *Server) handleCreateScope(w http.ResponseWriter, r *http.Request) {
	var req createScopeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tenant := tenantFrom(r)
	scope, err := entity.NewScope(tenant, req.TrajectoryID, req.Name, req.TokenBudget)
	if err != nil {
		writeError(w, err)
		return
	}
	scope.Purpose = req.Purpose
	scope.ParentScopeID = req.ParentScope
	if err := s.opts.Stores.Scopes.Put(r.Context(), tenant, scope.ID, scope); err != nil {
		writeError(w, err)
		return
	}
	s.recordMutation(r, entity.TypeScope, scope.ID, broadcast.EventScopeCreated,
		map[string]any{"scope_id": scope.ID.String(), "trajectory_id": scope.TrajectoryID.String()})
	writeJSON(w, http.StatusCreated, scope)
}

func (s *Server) handleGetScope(w http.ResponseWriter, r *http.Request) {
	scopeID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	scope, err := s.opts.Stores.Scopes.Get(r.Context(), tenantFrom(r), scopeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if scope == nil {
		writeError(w, caliberr.NotFound("scope", scopeID.String()))
		return
	}
	writeJSON(w, http.StatusOK, scope)
}

// handleCloseScope closes the scope and deletes its turns, the single
// permitted cascade. Turns promoted to artifacts survive as artifacts.
func (s *Server) handleCloseScope(w http.ResponseWriter, r *http.Request) {
	scopeID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tenant := tenantFrom(r)
	scope, err := s.opts.Stores.Scopes.Get(r.Context(), tenant, scopeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if scope == nil {
		writeError(w, caliberr.NotFound("scope", scopeID.String()))
		return
	}
	if err := scope.Close(); err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Stores.Scopes.Put(r.Context(), tenant, scopeID, scope); err != nil {
		writeError(w, err)
		return
	}

	turns, err := s.opts.Stores.Turns.List(r.Context(), tenant)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, turn := range turns {
		if turn.ScopeID == scopeID {
			if err := s.opts.Stores.Turns.Delete(r.Context(), tenant, turn.ID); err != nil {
				writeError(w, err)
				return
			}
		}
	}

	s.recordMutation(r, entity.TypeScope, scopeID, broadcast.EventScopeClosed,
		map[string]any{"scope_id": scopeID.String()})
	writeJSON(w, http.StatusOK, scope)
}

type checkpointScopeRequest struct {
	ContextState entity.RawContent `json:"context_state"`
	Recoverable  bool              `json:"recoverable"`
}

func (s *Server) handleCheckpointScope(w http.ResponseWriter, r *http.Request) {
	scopeID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req checkpointScopeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.checkpoints.Capture(r.Context(), tenantFrom(r), scopeID, req.ContextState, req.Recoverable)
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordMutation(r, entity.TypeScope, scopeID, broadcast.EventScopeUpdated,
		map[string]any{"scope_id": scopeID.String(), "checkpoint": true})
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleRestoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	scopeID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.checkpoints.Restore(r.Context(), tenantFrom(r), scopeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ---- turns ----

func (s *Server) turnRoutes(r chi.Router) {
	r.Post("/", s.handleCreateTurn)
	r.Get("/{id}", s.handleGetTurn)
}

type createTurnRequest struct {
	ScopeID    id.ID           `json:"scope_id"`
	Role       entity.TurnRole `json:"role"`
	Content    string          `json:"content"`
	TokenCount int             `json:"token_count"`
}

// handleCreateTurn appends a turn, reserving its token count against the
// scope budget first so "tokens_used <= token_budget" can never be violated
// by a successful create. A zero token_count is filled in by counting the
// content.
func (s *Server) handleCreateTurn(w http.ResponseWriter, r *http.Request) {
	var req createTurnRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TokenCount == 0 && req.Content != "" {
		req.TokenCount = s.opts.Tokens.Count(req.Content)
	}
	tenant := tenantFrom(r)
	scope, err := s.opts.Stores.Scopes.Get(r.Context(), tenant, req.ScopeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if scope == nil {
		writeError(w, caliberr.NotFound("scope", req.ScopeID.String()))
		return
	}
	if err := scope.ReserveTokens(req.TokenCount); err != nil {
		writeError(w, err)
		return
	}

	sequence, err := s.nextTurnSequence(r, tenant, req.ScopeID)
	if err != nil {
		writeError(w, err)
		return
	}
	turn := entity.NewTurn(tenant, req.ScopeID, sequence, req.Role, req.Content, req.TokenCount)

	if err := s.opts.Stores.Scopes.Put(r.Context(), tenant, scope.ID, scope); err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Stores.Turns.Put(r.Context(), tenant, turn.ID, turn); err != nil {
		writeError(w, err)
		return
	}
	s.recordMutation(r, entity.TypeTurn, turn.ID, broadcast.EventTurnCreated,
		map[string]any{"turn_id": turn.ID.String(), "scope_id": req.ScopeID.String(), "sequence": sequence})
	writeJSON(w, http.StatusCreated, turn)
}

func (s *Server) nextTurnSequence(r *http.Request, tenant, scopeID id.ID) (int, error) {
	turns, err := s.opts.Stores.Turns.List(r.Context(), tenant)
	if err != nil {
		return 0, err
	}
	next := 1
	for _, turn := range turns {
		if turn.ScopeID == scopeID && turn.Sequence >= next {
			next = turn.Sequence + 1
		}
	}
	return next, nil
}

func (s *Server) handleGetTurn(w http.ResponseWriter, r *http.Request) {
	turnID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	turn, err := s.opts.Stores.Turns.Get(r.Context(), tenantFrom(r), turnID)
	if err != nil {
		writeError(w, err)
		return
	}
	if turn == nil {
		writeError(w, caliberr.NotFound("turn", turnID.String()))
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

// ---- artifacts ----

func (s *Server) artifactRoutes(r chi.Router) {
	r.Post("/", s.handleCreateArtifact)
	r.Post("/search", s.handleSearchArtifacts)
	r.Get("/{id}", s.handleGetArtifact)
	r.Delete("/{id}", s.handleDeleteArtifact)
}

type createArtifactRequest struct {
	TrajectoryID id.ID             `json:"trajectory_id"`
	ScopeID      id.ID             `json:"scope_id"`
	Type         string            `json:"type"`
	Name         string            `json:"name"`
	Content      string            `json:"content"`
	Provenance   entity.Provenance `json:"provenance"`
	TTL          entity.TTL        `json:"ttl"`
	Embedding    []float32         `json:"embedding,omitempty"`
}

func (s *Server) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	var req createArtifactRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tenant := tenantFrom(r)
	artifact := entity.NewArtifact(tenant, req.TrajectoryID, req.ScopeID, req.Type, req.Name, req.Content, req.Provenance, req.TTL)
	artifact.Embedding = req.Embedding
	if err := s.opts.Stores.Artifacts.Put(r.Context(), tenant, artifact.ID, artifact); err != nil {
		writeError(w, err)
		return
	}
	if len(artifact.Embedding) > 0 {
		if err := s.opts.Vectors.IndexArtifact(r.Context(), artifact); err != nil {
			s.loggerFrom(r).Error("vector index failed", "artifact_id", artifact.ID.String(), "error", err)
		}
	}
	s.recordMutation(r, entity.TypeArtifact, artifact.ID, broadcast.EventArtifactCreated,
		map[string]any{"artifact_id": artifact.ID.String(), "name": artifact.Name})
	writeJSON(w, http.StatusCreated, artifact)
}

type vectorSearchRequest struct {
	Embedding []float32 `json:"embedding"`
	TopK      int       `json:"top_k"`
}

func (s *Server) handleSearchArtifacts(w http.ResponseWriter, r *http.Request) {
	var req vectorSearchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Embedding) == 0 {
		writeError(w, caliberr.MissingRequiredField("embedding", caliberr.Location{}))
		return
	}
	if req.TopK <= 0 {
		writeError(w, caliberr.MissingRequiredField("top_k", caliberr.Location{}))
		return
	}
	matches, err := s.opts.Vectors.SearchArtifacts(r.Context(), tenantFrom(r), req.Embedding, req.TopK)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleGetArtifact observes TTL expiry at the retrieval layer: an expired
// artifact reads as NotFound, it is not eagerly compacted.
func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	artifact, err := s.opts.Stores.Artifacts.Get(r.Context(), tenantFrom(r), artifactID)
	if err != nil {
		writeError(w, err)
		return
	}
	if artifact == nil || artifact.TTL.Expired(artifact.CreatedAt, time.Now().UTC()) {
		writeError(w, caliberr.NotFound("artifact", artifactID.String()))
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Stores.Artifacts.Delete(r.Context(), tenantFrom(r), artifactID); err != nil {
		writeError(w, err)
		return
	}
	s.recordMutation(r, entity.TypeArtifact, artifactID, broadcast.EventArtifactDeleted,
		map[string]any{"artifact_id": artifactID.String()})
	w.WriteHeader(http.StatusNoContent)
}

// ---- notes ----

func (s *Server) noteRoutes(r chi.Router) {
	r.Post("/", s.handleCreateNote)
	r.Post("/search", s.handleSearchNotes)
	r.Get("/{id}", s.handleGetNote)
	r.Delete("/{id}", s.handleDeleteNote)
}

type createNoteRequest struct {
	Type             string                  `json:"type"`
	Title            string                  `json:"title"`
	Content          string                  `json:"content"`
	TTL              entity.TTL              `json:"ttl"`
	AbstractionLevel entity.AbstractionLevel `json:"abstraction_level,omitempty"`
	SourceNoteIDs    []id.ID                 `json:"source_note_ids,omitempty"`
	Embedding        []float32               `json:"embedding,omitempty"`
}

func (s *Server) handleSearchNotes(w http.ResponseWriter, r *http.Request) {
	var req vectorSearchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Embedding) == 0 {
		writeError(w, caliberr.MissingRequiredField("embedding", caliberr.Location{}))
		return
	}
	if req.TopK <= 0 {
		writeError(w, caliberr.MissingRequiredField("top_k", caliberr.Location{}))
		return
	}
	matches, err := s.opts.Vectors.SearchNotes(r.Context(), tenantFrom(r), req.Embedding, req.TopK)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req createNoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tenant := tenantFrom(r)

	var note *entity.Note
	if req.AbstractionLevel != "" && req.AbstractionLevel != entity.AbstractionRaw {
		derived, err := entity.NewDerivedNote(tenant, req.Type, req.Title, req.Content, req.AbstractionLevel, req.SourceNoteIDs, req.TTL)
		if err != nil {
			writeError(w, err)
			return
		}
		note = derived
	} else {
		note = entity.NewNote(tenant, req.Type, req.Title, req.Content, req.TTL)
	}
	note.Embedding = req.Embedding

	if err := s.opts.Stores.Notes.Put(r.Context(), tenant, note.ID, note); err != nil {
		writeError(w, err)
		return
	}
	if len(note.Embedding) > 0 {
		if err := s.opts.Vectors.IndexNote(r.Context(), note); err != nil {
			s.loggerFrom(r).Error("vector index failed", "note_id", note.ID.String(), "error", err)
		}
	}
	s.recordMutation(r, entity.TypeNote, note.ID, broadcast.EventNoteCreated,
		map[string]any{"note_id": note.ID.String(), "title": note.Title})
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	noteID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tenant := tenantFrom(r)
	note, err := s.opts.Stores.Notes.Get(r.Context(), tenant, noteID)
	if err != nil {
		writeError(w, err)
		return
	}
	if note == nil || note.TTL.Expired(note.CreatedAt, time.Now().UTC()) {
		writeError(w, caliberr.NotFound("note", noteID.String()))
		return
	}
	note.RecordAccess(time.Now().UTC())
	if err := s.opts.Stores.Notes.Put(r.Context(), tenant, noteID, note); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	noteID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Stores.Notes.Delete(r.Context(), tenantFrom(r), noteID); err != nil {
		writeError(w, err)
		return
	}
	s.recordMutation(r, entity.TypeNote, noteID, broadcast.EventNoteDeleted,
		map[string]any{"note_id": noteID.String()})
	w.WriteHeader(http.StatusNoContent)
}

// ---- edges ----

func (s *Server) edgeRoutes(r chi.Router) {
	r.Post("/", s.handleCreateEdge)
	r.Get("/{id}", s.handleGetEdge)
}

type createEdgeRequest struct {
	Type         string               `json:"type"`
	Participants []entity.Participant `json:"participants"`
	Provenance   entity.Provenance    `json:"provenance"`
	Weight       *float64             `json:"weight,omitempty"`
	TrajectoryID *id.ID               `json:"trajectory_id,omitempty"`
}

func (s *Server) handleCreateEdge(w http.ResponseWriter, r *http.Request) {
	var req createEdgeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tenant := tenantFrom(r)
	edge, err := entity.NewEdge(tenant, req.Type, req.Participants, req.Provenance)
	if err != nil {
		writeError(w, err)
		return
	}
	edge.Weight = req.Weight
	edge.TrajectoryID = req.TrajectoryID
	if err := s.opts.Stores.Edges.Put(r.Context(), tenant, edge.ID, edge); err != nil {
		writeError(w, err)
		return
	}
	s.recordMutation(r, entity.TypeEdge, edge.ID, broadcast.EventEdgeCreated,
		map[string]any{"edge_id": edge.ID.String(), "type": edge.Type})
	writeJSON(w, http.StatusCreated, edge)
}

func (s *Server) handleGetEdge(w http.ResponseWriter, r *http.Request) {
	edgeID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	edge, err := s.opts.Stores.Edges.Get(r.Context(), tenantFrom(r), edgeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if edge == nil {
		writeError(w, caliberr.NotFound("edge", edgeID.String()))
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

// ---- agents ----

func (s *Server) agentRoutes(r chi.Router) {
	r.Post("/", s.handleRegisterAgent)
	r.Get("/", s.handleListAgents)
	r.Get("/{id}", s.handleGetAgent)
	r.Post("/{id}/heartbeat", s.handleAgentHeartbeat)
	r.Delete("/{id}", s.handleUnregisterAgent)
}

type registerAgentRequest struct {
	Name      string `json:"name"`
	AgentType string `json:"agent_type"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tenant := tenantFrom(r)
	agent, err := entity.NewAgent(tenant, req.Name, req.AgentType)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Stores.Agents.Put(r.Context(), tenant, agent.ID, agent); err != nil {
		writeError(w, err)
		return
	}
	s.recordMutation(r, entity.TypeAgent, agent.ID, broadcast.EventAgentRegistered,
		map[string]any{"agent_id": agent.ID.String(), "name": agent.Name})
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.opts.Stores.Agents.List(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.opts.Stores.Agents.Get(r.Context(), tenantFrom(r), agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if agent == nil {
		writeError(w, caliberr.NotFound("agent", agentID.String()))
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tenant := tenantFrom(r)
	agent, err := s.opts.Stores.Agents.Get(r.Context(), tenant, agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if agent == nil {
		writeError(w, caliberr.NotFound("agent", agentID.String()))
		return
	}
	agent.Heartbeat()
	if err := s.opts.Stores.Agents.Put(r.Context(), tenant, agentID, agent); err != nil {
		writeError(w, err)
		return
	}
	s.recordMutation(r, entity.TypeAgent, agentID, broadcast.EventAgentHeartbeat,
		map[string]any{"agent_id": agentID.String()})
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleUnregisterAgent(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Stores.Agents.Delete(r.Context(), tenantFrom(r), agentID); err != nil {
		writeError(w, err)
		return
	}
	s.recordMutation(r, entity.TypeAgent, agentID, broadcast.EventAgentUnregistered,
		map[string]any{"agent_id": agentID.String()})
	w.WriteHeader(http.StatusNoContent)
}
