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

	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
)

// Coordination resources delegate straight to pkg/coordination: the services
// own the state machines and their journal/broadcast bookkeeping, so the
// handlers here only translate HTTP.

// ---- locks ----

func (s *Server) lockRoutes(r chi.Router) {
	r.Post("/acquire", s.handleAcquireLock)
	r.Post("/release", s.handleReleaseLock)
	r.Post("/extend", s.handleExtendLock)
}

type acquireLockRequest struct {
	ResourceType string          `json:"resource_type"`
	ResourceID   id.ID           `json:"resource_id"`
	Holder       id.ID           `json:"holder"`
	Mode         entity.LockMode `json:"mode"`
	TTLSeconds   int             `json:"ttl_seconds"`
}

func (s *Server) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	var req acquireLockRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	lock, err := s.opts.Coordinator.Locks.Acquire(r.Context(), tenantFrom(r),
		req.ResourceType, req.ResourceID, req.Holder, req.Mode, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lock)
}

type releaseLockRequest struct {
	LockID id.ID `json:"lock_id"`
}

func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	var req releaseLockRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Coordinator.Locks.Release(r.Context(), tenantFrom(r), req.LockID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type extendLockRequest struct {
	LockID    id.ID     `json:"lock_id"`
	NewExpiry time.Time `json:"new_expiry"`
}

func (s *Server) handleExtendLock(w http.ResponseWriter, r *http.Request) {
	var req extendLockRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	lock, err := s.opts.Coordinator.Locks.Extend(r.Context(), tenantFrom(r), req.LockID, req.NewExpiry)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lock)
}

// ---- messages ----

func (s *Server) messageRoutes(r chi.Router) {
	r.Post("/", s.handleSendMessage)
	r.Post("/{id}/deliver", s.handleDeliverMessage)
	r.Post("/{id}/ack", s.handleAckMessage)
}

type sendMessageRequest struct {
	From        id.ID                  `json:"from"`
	ToAgent     *id.ID                 `json:"to_agent,omitempty"`
	ToAgentType *string                `json:"to_agent_type,omitempty"`
	Type        entity.MessageType     `json:"type"`
	Payload     string                 `json:"payload"`
	Priority    entity.MessagePriority `json:"priority"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, err := s.opts.Coordinator.Messages.Send(r.Context(), tenantFrom(r),
		req.From, req.ToAgent, req.ToAgentType, req.Type, req.Payload, req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleDeliverMessage(w http.ResponseWriter, r *http.Request) {
	msgID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	msg, err := s.opts.Coordinator.Messages.Deliver(r.Context(), tenantFrom(r), msgID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleAckMessage(w http.ResponseWriter, r *http.Request) {
	msgID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	msg, err := s.opts.Coordinator.Messages.Acknowledge(r.Context(), tenantFrom(r), msgID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// ---- delegations ----

func (s *Server) delegationRoutes(r chi.Router) {
	r.Post("/", s.handleCreateDelegation)
	r.Post("/{id}/accept", s.handleAcceptDelegation)
	r.Post("/{id}/reject", s.handleRejectDelegation)
	r.Post("/{id}/start", s.handleStartDelegation)
	r.Post("/{id}/complete", s.handleCompleteDelegation)
	r.Post("/{id}/fail", s.handleFailDelegation)
}

type createDelegationRequest struct {
	Delegator        id.ID  `json:"delegator"`
	TaskDescription  string `json:"task_description"`
	ParentTrajectory id.ID  `json:"parent_trajectory"`
}

func (s *Server) handleCreateDelegation(w http.ResponseWriter, r *http.Request) {
	var req createDelegationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.opts.Coordinator.Delegations.Create(r.Context(), tenantFrom(r),
		req.Delegator, req.TaskDescription, req.ParentTrajectory)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

type acceptDelegationRequest struct {
	Delegatee       id.ID `json:"delegatee"`
	ChildTrajectory id.ID `json:"child_trajectory"`
}

func (s *Server) handleAcceptDelegation(w http.ResponseWriter, r *http.Request) {
	delegationID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req acceptDelegationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.opts.Coordinator.Delegations.Accept(r.Context(), tenantFrom(r),
		delegationID, req.Delegatee, req.ChildTrajectory)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRejectDelegation(w http.ResponseWriter, r *http.Request) {
	delegationID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := s.opts.Coordinator.Delegations.Reject(r.Context(), tenantFrom(r), delegationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleStartDelegation(w http.ResponseWriter, r *http.Request) {
	delegationID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := s.opts.Coordinator.Delegations.Start(r.Context(), tenantFrom(r), delegationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCompleteDelegation(w http.ResponseWriter, r *http.Request) {
	delegationID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var result entity.DelegationResult
	if err := decodeBody(r, &result); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.opts.Coordinator.Delegations.Complete(r.Context(), tenantFrom(r), delegationID, result)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type failDelegationRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFailDelegation(w http.ResponseWriter, r *http.Request) {
	delegationID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req failDelegationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.opts.Coordinator.Delegations.Fail(r.Context(), tenantFrom(r), delegationID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ---- handoffs ----

func (s *Server) handoffRoutes(r chi.Router) {
	r.Post("/", s.handleCreateHandoff)
	r.Post("/{id}/accept", s.handleAcceptHandoff)
	r.Post("/{id}/reject", s.handleRejectHandoff)
	r.Post("/{id}/complete", s.handleCompleteHandoff)
}

type createHandoffRequest struct {
	From            id.ID                `json:"from"`
	TrajectoryID    id.ID                `json:"trajectory_id"`
	ScopeID         id.ID                `json:"scope_id"`
	Reason          entity.HandoffReason `json:"reason"`
	ContextSnapshot entity.RawContent    `json:"context_snapshot"`
}

func (s *Server) handleCreateHandoff(w http.ResponseWriter, r *http.Request) {
	var req createHandoffRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h, err := s.opts.Coordinator.Handoffs.Create(r.Context(), tenantFrom(r),
		req.From, req.TrajectoryID, req.ScopeID, req.Reason, req.ContextSnapshot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

type acceptHandoffRequest struct {
	ToAgent id.ID `json:"to_agent"`
}

func (s *Server) handleAcceptHandoff(w http.ResponseWriter, r *http.Request) {
	handoffID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req acceptHandoffRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h, err := s.opts.Coordinator.Handoffs.Accept(r.Context(), tenantFrom(r), handoffID, req.ToAgent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleRejectHandoff(w http.ResponseWriter, r *http.Request) {
	handoffID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := s.opts.Coordinator.Handoffs.Reject(r.Context(), tenantFrom(r), handoffID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleCompleteHandoff(w http.ResponseWriter, r *http.Request) {
	handoffID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := s.opts.Coordinator.Handoffs.Complete(r.Context(), tenantFrom(r), handoffID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}
