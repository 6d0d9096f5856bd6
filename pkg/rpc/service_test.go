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

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/caliberhq/caliber/pkg/broadcast"
	"github.com/caliberhq/caliber/pkg/coordination"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/eventdag"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/journal"
	"github.com/caliberhq/caliber/pkg/pack"
	"github.com/caliberhq/caliber/pkg/toolgate"
)

type nilScopes struct{}

func (nilScopes) GetScope(context.Context, id.ID, id.ID) (*entity.Scope, error) {
	return nil, nil
}

func newTestService(t *testing.T) (*Service, coordination.Store[entity.Trajectory]) {
	t.Helper()
	j := journal.NewEventDagChangeJournal(eventdag.New())
	fabric := broadcast.New(16)
	trajectories := coordination.NewInMemoryStore[entity.Trajectory]()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := toolgate.New(toolgate.Config{StrictPackOnly: true}, pack.NewActiveSet(),
		nilScopes{}, nil, fabric, logger)

	svc := NewService(Stores{
		Trajectories: trajectories,
		Artifacts:    coordination.NewInMemoryStore[entity.Artifact](),
		Notes:        coordination.NewInMemoryStore[entity.Note](),
	}, coordination.NewInMemory(j, fabric), gate)
	return svc, trajectories
}

func dialBufconn(t *testing.T, svc *Service) *grpc.ClientConn {
	t.Helper()
	encoding.RegisterCodec(jsonCodec{})

	listener := bufconn.Listen(1 << 20)
	server := NewServer(svc)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(_ context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(context.Background())
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGetTrajectoryOverGRPC(t *testing.T) {
	svc, trajectories := newTestService(t)
	tenant := id.New()
	traj := entity.NewTrajectory(tenant, "rpc-task", nil)
	require.NoError(t, trajectories.Put(context.Background(), tenant, traj.ID, traj))

	conn := dialBufconn(t, svc)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-tenant-id", tenant.String())

	var got entity.Trajectory
	err := conn.Invoke(ctx, "/"+ServiceName+"/GetTrajectory", &GetEntityRequest{ID: traj.ID}, &got)
	require.NoError(t, err)
	assert.Equal(t, "rpc-task", got.Name)

	// Another tenant cannot see it.
	otherCtx := metadata.AppendToOutgoingContext(context.Background(), "x-tenant-id", id.New().String())
	err = conn.Invoke(otherCtx, "/"+ServiceName+"/GetTrajectory", &GetEntityRequest{ID: traj.ID}, &got)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestMissingTenantMetadata(t *testing.T) {
	svc, _ := newTestService(t)
	conn := dialBufconn(t, svc)

	var got TrajectoryList
	err := conn.Invoke(context.Background(), "/"+ServiceName+"/ListTrajectories", &ListRequest{}, &got)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAcquireLockConflictOverGRPC(t *testing.T) {
	svc, _ := newTestService(t)
	conn := dialBufconn(t, svc)
	tenant := id.New()
	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-tenant-id", tenant.String())

	req := &AcquireLockRequest{
		ResourceType: "artifact",
		ResourceID:   id.New(),
		Holder:       id.New(),
		Mode:         entity.LockExclusive,
		TTLSeconds:   60,
	}
	var lock entity.Lock
	require.NoError(t, conn.Invoke(ctx, "/"+ServiceName+"/AcquireLock", req, &lock))

	req.Holder = id.New()
	err := conn.Invoke(ctx, "/"+ServiceName+"/AcquireLock", req, &lock)
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestGatewayMirrorsService(t *testing.T) {
	svc, trajectories := newTestService(t)
	tenant := id.New()
	traj := entity.NewTrajectory(tenant, "gw-task", nil)
	require.NoError(t, trajectories.Put(context.Background(), tenant, traj.ID, traj))

	handler, err := NewGateway(svc)
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	body, _ := json.Marshal(GetEntityRequest{ID: traj.ID})
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/rpc/v1/GetTrajectory", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("x-tenant-id", tenant.String())
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got entity.Trajectory
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "gw-task", got.Name)

	// Missing tenant header maps to InvalidArgument -> 400.
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/rpc/v1/GetTrajectory", bytes.NewReader(body))
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
