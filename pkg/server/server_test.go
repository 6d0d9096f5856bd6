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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliberhq/caliber/pkg/broadcast"
	"github.com/caliberhq/caliber/pkg/config"
	"github.com/caliberhq/caliber/pkg/coordination"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/eventdag"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/journal"
	"github.com/caliberhq/caliber/pkg/metrics"
	"github.com/caliberhq/caliber/pkg/pack"
	"github.com/caliberhq/caliber/pkg/tokens"
	"github.com/caliberhq/caliber/pkg/toolgate"
	"github.com/caliberhq/caliber/pkg/vectorindex"
)

type testEnv struct {
	server *Server
	http   *httptest.Server
	tenant id.ID
	packs  *pack.ActiveSet
	stores EntityStores
}

type storeScopeReader struct {
	scopes coordination.Store[entity.Scope]
}

func (r *storeScopeReader) GetScope(ctx context.Context, tenant, scopeID id.ID) (*entity.Scope, error) {
	return r.scopes.Get(ctx, tenant, scopeID)
}

func testConfig() *config.Config {
	return &config.Config{
		TokenBudget:              100_000,
		CheckpointRetention:      time.Hour,
		StaleThreshold:           time.Minute,
		ContradictionThreshold:   0.8,
		ContextWindowPersistence: true,
		ValidationMode:           config.ValidationStrict,
		SectionPriorities:        []string{"system", "pcp", "user"},
		LockTimeout:              time.Minute,
		MessageRetention:         24 * time.Hour,
		DelegationTimeout:        time.Hour,
		LLMRetryConfig: config.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j := journal.NewEventDagChangeJournal(eventdag.New())
	fabric := broadcast.New(64)
	stores := NewInMemoryEntityStores()
	packs := pack.NewActiveSet()
	gate := toolgate.New(toolgate.Config{StrictPackOnly: true}, packs,
		&storeScopeReader{scopes: stores.Scopes}, nil, fabric, logger)

	counter, err := tokens.NewCounter(tokens.DefaultEncoding)
	require.NoError(t, err)
	vectors, err := vectorindex.New(vectorindex.Config{})
	require.NoError(t, err)

	srv, err := New(Options{
		Addr:                 "127.0.0.1:0",
		Config:               testConfig(),
		Logger:               logger,
		Journal:              j,
		Fabric:               fabric,
		Coordinator:          coordination.NewInMemory(j, fabric),
		Stores:               stores,
		ActivePacks:          packs,
		Gate:                 gate,
		Metrics:              metrics.NewRegistry(),
		Tokens:               counter,
		Vectors:              vectors,
		AllowUnauthenticated: true,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: srv, http: ts, tenant: id.New(), packs: packs, stores: stores}
}

func (e *testEnv) request(t *testing.T, method, path string, tenant id.ID, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.http.URL+path, &buf)
	require.NoError(t, err)
	if !tenant.IsNil() {
		req.Header.Set("x-tenant-id", tenant.String())
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeResponse[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestMissingTenantHeader(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, http.MethodGet, "/api/v1/trajectories", id.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeResponse[map[string]any](t, resp)
	assert.Equal(t, "missing_required_field", body["code"])
	assert.Contains(t, body["message"], "x-tenant-id")
}

func TestTrajectoryLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/v1/trajectories", env.tenant,
		map[string]any{"name": "research-task"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeResponse[entity.Trajectory](t, resp)
	assert.Equal(t, "research-task", created.Name)
	assert.Equal(t, entity.TrajectoryActive, created.Status)

	resp = env.request(t, http.MethodGet, "/api/v1/trajectories/"+created.ID.String(), env.tenant, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/api/v1/trajectories/"+created.ID.String()+"/complete", env.tenant,
		map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	completed := decodeResponse[entity.Trajectory](t, resp)
	assert.Equal(t, entity.TrajectoryCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
}

func TestTenantIsolationOnReads(t *testing.T) {
	env := newTestEnv(t)
	other := id.New()

	resp := env.request(t, http.MethodPost, "/api/v1/trajectories", env.tenant,
		map[string]any{"name": "mine"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeResponse[entity.Trajectory](t, resp)

	resp = env.request(t, http.MethodGet, "/api/v1/trajectories/"+created.ID.String(), other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTurnRespectsScopeBudget(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/v1/scopes", env.tenant, map[string]any{
		"trajectory_id": id.New().String(),
		"name":          "tight",
		"token_budget":  10,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	scope := decodeResponse[entity.Scope](t, resp)

	resp = env.request(t, http.MethodPost, "/api/v1/turns", env.tenant, map[string]any{
		"scope_id":    scope.ID.String(),
		"role":        "user",
		"content":     "hello",
		"token_count": 8,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	turn := decodeResponse[entity.Turn](t, resp)
	assert.Equal(t, 1, turn.Sequence)

	resp = env.request(t, http.MethodPost, "/api/v1/turns", env.tenant, map[string]any{
		"scope_id":    scope.ID.String(),
		"role":        "assistant",
		"content":     "over budget",
		"token_count": 8,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decodeResponse[map[string]any](t, resp)
	assert.Equal(t, "scope_budget_exceeded", body["code"])
}

func TestScopeCloseDeletesTurns(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/v1/scopes", env.tenant, map[string]any{
		"trajectory_id": id.New().String(),
		"name":          "work",
		"token_budget":  100,
	})
	scope := decodeResponse[entity.Scope](t, resp)

	resp = env.request(t, http.MethodPost, "/api/v1/turns", env.tenant, map[string]any{
		"scope_id": scope.ID.String(), "role": "user", "content": "x", "token_count": 1,
	})
	turn := decodeResponse[entity.Turn](t, resp)

	resp = env.request(t, http.MethodPost, "/api/v1/scopes/"+scope.ID.String()+"/close", env.tenant, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.request(t, http.MethodGet, "/api/v1/turns/"+turn.ID.String(), env.tenant, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Further turns are rejected once the scope is closed.
	resp = env.request(t, http.MethodPost, "/api/v1/turns", env.tenant, map[string]any{
		"scope_id": scope.ID.String(), "role": "user", "content": "y", "token_count": 1,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLockExclusivityOverREST(t *testing.T) {
	env := newTestEnv(t)
	resource := id.New()

	acquire := map[string]any{
		"resource_type": "artifact",
		"resource_id":   resource.String(),
		"holder":        id.New().String(),
		"mode":          "exclusive",
		"ttl_seconds":   60,
	}
	resp := env.request(t, http.MethodPost, "/api/v1/locks/acquire", env.tenant, acquire)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	acquire["holder"] = id.New().String()
	resp = env.request(t, http.MethodPost, "/api/v1/locks/acquire", env.tenant, acquire)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDelegationStateMachineOverREST(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/v1/delegations", env.tenant, map[string]any{
		"delegator":         id.New().String(),
		"task_description":  "summarize findings",
		"parent_trajectory": id.New().String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	d := decodeResponse[entity.Delegation](t, resp)
	assert.Equal(t, entity.DelegationPending, d.Status)

	// Completing a Pending delegation is an invalid transition.
	resp = env.request(t, http.MethodPost, "/api/v1/delegations/"+d.ID.String()+"/complete", env.tenant,
		map[string]any{"summary": "done"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/api/v1/delegations/"+d.ID.String()+"/accept", env.tenant,
		map[string]any{"delegatee": id.New().String(), "child_trajectory": id.New().String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accepted := decodeResponse[entity.Delegation](t, resp)
	assert.Equal(t, entity.DelegationAccepted, accepted.Status)
	assert.NotNil(t, accepted.DelegateeAgentID)
}

func TestDSLValidateSurfacesLocation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/v1/dsl/validate", env.tenant, map[string]any{
		"file":   "pack.dsl",
		"source": "inject notes into system { mode: full }",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeResponse[map[string]any](t, resp)
	assert.Equal(t, "missing_required_field", body["code"])
	assert.Contains(t, body["message"], "missing required field: priority")
	assert.Contains(t, body["details"], "location")

	resp = env.request(t, http.MethodPost, "/api/v1/dsl/validate", env.tenant, map[string]any{
		"source": "inject notes into system { mode: full, priority: 1 }",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPackInspectWithoutActivePack(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, http.MethodGet, "/api/v1/pack/inspect", env.tenant, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestToolCallThroughGate(t *testing.T) {
	env := newTestEnv(t)

	env.packs.Replace(env.tenant, &pack.CompiledConfig{
		Tools: []pack.Tool{{
			ID:              "tools.bin.echo",
			Kind:            pack.ToolExec,
			Cmd:             "/bin/echo gate",
			AllowSubprocess: true,
			TimeoutMs:       5000,
		}},
		Toolsets:   []pack.Toolset{{Name: "core", Tools: []string{"tools.bin.echo"}}},
		PackAgents: []pack.PackAgent{{Name: "researcher", Toolsets: []string{"core"}}},
	})

	req, err := http.NewRequest(http.MethodPost, env.http.URL+"/api/v1/tools/call",
		bytes.NewBufferString(`{"tool": "tools.bin.echo"}`))
	require.NoError(t, err)
	req.Header.Set("x-tenant-id", env.tenant.String())
	req.Header.Set("x-agent-name", "researcher")
	resp, err := env.http.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeResponse[map[string]any](t, resp)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["output"], "gate")

	// An agent outside the pack is forbidden.
	req, err = http.NewRequest(http.MethodPost, env.http.URL+"/api/v1/tools/call",
		bytes.NewBufferString(`{"tool": "tools.bin.echo"}`))
	require.NoError(t, err)
	req.Header.Set("x-tenant-id", env.tenant.String())
	req.Header.Set("x-agent-name", "impostor")
	resp, err = env.http.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j := journal.NewEventDagChangeJournal(eventdag.New())
	fabric := broadcast.New(16)
	stores := NewInMemoryEntityStores()
	packs := pack.NewActiveSet()
	gate := toolgate.New(toolgate.Config{StrictPackOnly: true}, packs,
		&storeScopeReader{scopes: stores.Scopes}, nil, fabric, logger)

	counter, err := tokens.NewCounter(tokens.DefaultEncoding)
	require.NoError(t, err)
	vectors, err := vectorindex.New(vectorindex.Config{})
	require.NoError(t, err)

	srv, err := New(Options{
		Addr:          "127.0.0.1:0",
		Config:        testConfig(),
		Logger:        logger,
		Journal:       j,
		Fabric:        fabric,
		Coordinator:   coordination.NewInMemory(j, fabric),
		Stores:        stores,
		ActivePacks:   packs,
		Gate:          gate,
		Metrics:       metrics.NewRegistry(),
		Tokens:        counter,
		Vectors:       vectors,
		Authenticator: apiKeyAuth{key: "secret"},
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/trajectories", nil)
	req.Header.Set("x-tenant-id", id.New().String())
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req.Header.Set("X-API-Key", "secret")
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type apiKeyAuth struct{ key string }

func (a apiKeyAuth) Authenticate(r *http.Request) error {
	if r.Header.Get("X-API-Key") != a.key {
		return fmt.Errorf("unknown api key")
	}
	return nil
}

func TestArtifactEmbeddingSearch(t *testing.T) {
	env := newTestEnv(t)

	create := func(name string, embedding []float32) {
		resp := env.request(t, http.MethodPost, "/api/v1/artifacts", env.tenant, map[string]any{
			"trajectory_id": id.New().String(),
			"scope_id":      id.New().String(),
			"type":          "code",
			"name":          name,
			"content":       "content " + name,
			"ttl":           map[string]any{"kind": "persistent"},
			"embedding":     embedding,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}
	create("near", []float32{1, 0, 0})
	create("far", []float32{0, 1, 0})

	resp := env.request(t, http.MethodPost, "/api/v1/artifacts/search", env.tenant, map[string]any{
		"embedding": []float32{0.95, 0.05, 0},
		"top_k":     1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	matches := decodeResponse[[]map[string]any](t, resp)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0]["content"], "near")
}
