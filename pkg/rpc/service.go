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

// Package rpc mirrors the REST resource surface over gRPC for
// bandwidth-sensitive clients. The service is registered from a hand-written
// grpc.ServiceDesc with a JSON codec: the wire messages are the same JSON
// shapes the REST surface serves, so clients share one schema across both
// transports. The tenant travels in x-tenant-id metadata, mirroring the
// HTTP header.
package rpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/coordination"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/toolgate"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "caliber.v1.Caliber"

// jsonCodec serializes RPC messages as JSON. Registered with
// grpc.ForceServerCodec, so the mirror speaks application/grpc+json.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

// Stores groups the entity stores the mirror reads from.
type Stores struct {
	Trajectories coordination.Store[entity.Trajectory]
	Artifacts    coordination.Store[entity.Artifact]
	Notes        coordination.Store[entity.Note]
}

// Service is the gRPC mirror implementation.
type Service struct {
	stores      Stores
	coordinator *coordination.Coordinator
	gate        *toolgate.Gate
}

// NewService constructs the mirror over the same stores, coordinator, and
// gate the REST surface uses.
func NewService(stores Stores, coordinator *coordination.Coordinator, gate *toolgate.Gate) *Service {
	return &Service{stores: stores, coordinator: coordinator, gate: gate}
}

// NewServer returns a grpc.Server with the mirror service registered and the
// JSON codec forced.
func NewServer(svc *Service, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	s := grpc.NewServer(opts...)
	s.RegisterService(&serviceDesc, svc)
	return s
}

func tenantFromMetadata(ctx context.Context) (id.ID, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return id.Nil, status.Error(codes.InvalidArgument, "missing metadata")
	}
	values := md.Get("x-tenant-id")
	if len(values) == 0 {
		return id.Nil, status.Error(codes.InvalidArgument, "missing required field: x-tenant-id")
	}
	tenant, err := id.Parse(values[0])
	if err != nil {
		return id.Nil, status.Error(codes.InvalidArgument, "x-tenant-id is not a valid id")
	}
	return tenant, nil
}

// toStatus maps a caliberr category onto a gRPC status code.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch caliberr.CategoryOf(err) {
	case caliberr.CategoryValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case caliberr.CategoryNotFound:
		return status.Error(codes.NotFound, err.Error())
	case caliberr.CategoryForbidden:
		return status.Error(codes.PermissionDenied, err.Error())
	case caliberr.CategoryConflict:
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ---- messages ----

type GetEntityRequest struct {
	ID id.ID `json:"id"`
}

type ListRequest struct{}

type TrajectoryList struct {
	Trajectories []*entity.Trajectory `json:"trajectories"`
}

type AcquireLockRequest struct {
	ResourceType string          `json:"resource_type"`
	ResourceID   id.ID           `json:"resource_id"`
	Holder       id.ID           `json:"holder"`
	Mode         entity.LockMode `json:"mode"`
	TTLSeconds   int             `json:"ttl_seconds"`
}

type ReleaseLockRequest struct {
	LockID id.ID `json:"lock_id"`
}

type ReleaseLockResponse struct{}

type SendMessageRequest struct {
	From        id.ID                  `json:"from"`
	ToAgent     *id.ID                 `json:"to_agent,omitempty"`
	ToAgentType *string                `json:"to_agent_type,omitempty"`
	Type        entity.MessageType     `json:"type"`
	Payload     string                 `json:"payload"`
	Priority    entity.MessagePriority `json:"priority"`
}

type CallToolRequest struct {
	AgentName string          `json:"agent_name"`
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input,omitempty"`
	ScopeID   *id.ID          `json:"scope_id,omitempty"`
}

type CallToolResponse struct {
	Output     string `json:"output"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
}

// ---- handlers ----

func (s *Service) GetTrajectory(ctx context.Context, req *GetEntityRequest) (*entity.Trajectory, error) {
	tenant, err := tenantFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	traj, err := s.stores.Trajectories.Get(ctx, tenant, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	if traj == nil {
		return nil, status.Error(codes.NotFound, "trajectory not found")
	}
	return traj, nil
}

func (s *Service) ListTrajectories(ctx context.Context, _ *ListRequest) (*TrajectoryList, error) {
	tenant, err := tenantFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	all, err := s.stores.Trajectories.List(ctx, tenant)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TrajectoryList{Trajectories: all}, nil
}

func (s *Service) GetArtifact(ctx context.Context, req *GetEntityRequest) (*entity.Artifact, error) {
	tenant, err := tenantFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	artifact, err := s.stores.Artifacts.Get(ctx, tenant, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	if artifact == nil {
		return nil, status.Error(codes.NotFound, "artifact not found")
	}
	return artifact, nil
}

func (s *Service) AcquireLock(ctx context.Context, req *AcquireLockRequest) (*entity.Lock, error) {
	tenant, err := tenantFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	lock, err := s.coordinator.Locks.Acquire(ctx, tenant, req.ResourceType, req.ResourceID,
		req.Holder, req.Mode, secondsToDuration(req.TTLSeconds))
	if err != nil {
		return nil, toStatus(err)
	}
	return lock, nil
}

func (s *Service) ReleaseLock(ctx context.Context, req *ReleaseLockRequest) (*ReleaseLockResponse, error) {
	tenant, err := tenantFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.coordinator.Locks.Release(ctx, tenant, req.LockID); err != nil {
		return nil, toStatus(err)
	}
	return &ReleaseLockResponse{}, nil
}

func (s *Service) SendMessage(ctx context.Context, req *SendMessageRequest) (*entity.Message, error) {
	tenant, err := tenantFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := s.coordinator.Messages.Send(ctx, tenant, req.From, req.ToAgent, req.ToAgentType,
		req.Type, req.Payload, req.Priority)
	if err != nil {
		return nil, toStatus(err)
	}
	return msg, nil
}

func (s *Service) CallTool(ctx context.Context, req *CallToolRequest) (*CallToolResponse, error) {
	tenant, err := tenantFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	result, err := s.gate.Invoke(ctx, toolgate.Request{
		Tenant:    tenant,
		AgentName: req.AgentName,
		Tool:      req.Tool,
		Input:     req.Input,
		ScopeID:   req.ScopeID,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &CallToolResponse{Output: result.Output, Success: result.Success, DurationMs: result.DurationMs}, nil
}

// ---- service descriptor ----

func unaryHandler[Req any, Resp any](method string, call func(*Service, context.Context, *Req) (Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(*Service), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(*Service), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetTrajectory", Handler: unaryHandler("GetTrajectory", (*Service).GetTrajectory)},
		{MethodName: "ListTrajectories", Handler: unaryHandler("ListTrajectories", (*Service).ListTrajectories)},
		{MethodName: "GetArtifact", Handler: unaryHandler("GetArtifact", (*Service).GetArtifact)},
		{MethodName: "AcquireLock", Handler: unaryHandler("AcquireLock", (*Service).AcquireLock)},
		{MethodName: "ReleaseLock", Handler: unaryHandler("ReleaseLock", (*Service).ReleaseLock)},
		{MethodName: "SendMessage", Handler: unaryHandler("SendMessage", (*Service).SendMessage)},
		{MethodName: "CallTool", Handler: unaryHandler("CallTool", (*Service).CallTool)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "caliber/v1/caliber.json",
}
