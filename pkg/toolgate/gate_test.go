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

package toolgate

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliberhq/caliber/pkg/broadcast"
	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/pack"
)

type stubScopes struct {
	scope *entity.Scope
}

func (s *stubScopes) GetScope(_ context.Context, _, _ id.ID) (*entity.Scope, error) {
	return s.scope, nil
}

func compileTestSchema(t *testing.T, raw string) *jsonschema.Schema {
	t.Helper()
	var doc any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	c := jsonschema.NewCompiler()
	require.NoError(t, c.AddResource("test.json", doc))
	schema, err := c.Compile("test.json")
	require.NoError(t, err)
	return schema
}

func testPack(t *testing.T) *pack.CompiledConfig {
	return &pack.CompiledConfig{
		Tools: []pack.Tool{
			{
				ID:              "tools.bin.echo",
				Kind:            pack.ToolExec,
				Cmd:             "/bin/echo hello",
				AllowSubprocess: true,
				TimeoutMs:       5000,
			},
			{
				ID:   "tools.bin.locked",
				Kind: pack.ToolExec,
				Cmd:  "/bin/echo nope",
			},
			{
				ID:        "tools.bin.sleepy",
				Kind:      pack.ToolExec,
				Cmd:       "/bin/sleep 5",
				TimeoutMs: 100,

				AllowSubprocess: true,
			},
			{
				ID:   "tools.prompts.review",
				Kind: pack.ToolPrompt,

				PromptMD: "review.md",
			},
			{
				ID:              "tools.bin.typed",
				Kind:            pack.ToolExec,
				Cmd:             "/bin/echo typed",
				AllowSubprocess: true,
				CompiledSchema: compileTestSchema(t,
					`{"type": "object", "properties": {"text": {"type": "string"}}, "required": ["text"]}`),
			},
		},
		Toolsets: []pack.Toolset{
			{Name: "core", Tools: []string{"tools.bin.echo", "tools.bin.locked", "tools.bin.sleepy", "tools.prompts.review", "tools.bin.typed"}},
		},
		PackAgents: []pack.PackAgent{
			{Name: "researcher", Toolsets: []string{"core"}},
			{Name: "bystander", Toolsets: nil},
		},
		Markdown: map[string]string{
			"review.md": "# System\nreview things\n\n## PCP\np\n\n### User\nu\n",
		},
	}
}

func testGate(t *testing.T, scope *entity.Scope) (*Gate, id.ID, *broadcast.Subscriber) {
	t.Helper()
	tenant := id.New()
	packs := pack.NewActiveSet()
	packs.Replace(tenant, testPack(t))
	fabric := broadcast.New(64)
	sub := fabric.Subscribe(tenant)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := New(Config{StrictPackOnly: true}, packs, &stubScopes{scope: scope}, nil, fabric, logger)
	return gate, tenant, sub
}

func TestInvoke_NoActivePack(t *testing.T) {
	gate, _, _ := testGate(t, nil)
	_, err := gate.Invoke(context.Background(), Request{
		Tenant: id.New(), AgentName: "researcher", Tool: "tools.bin.echo",
	})
	require.Error(t, err)
	assert.Equal(t, caliberr.CategoryNotFound, caliberr.CategoryOf(err))
}

func TestInvoke_UnknownAgentForbidden(t *testing.T) {
	gate, tenant, _ := testGate(t, nil)
	_, err := gate.Invoke(context.Background(), Request{
		Tenant: tenant, AgentName: "impostor", Tool: "tools.bin.echo",
	})
	require.Error(t, err)
	assert.Equal(t, caliberr.CategoryForbidden, caliberr.CategoryOf(err))
}

func TestInvoke_AgentWithoutToolsetsForbidden(t *testing.T) {
	gate, tenant, _ := testGate(t, nil)
	_, err := gate.Invoke(context.Background(), Request{
		Tenant: tenant, AgentName: "bystander", Tool: "tools.bin.echo",
	})
	require.Error(t, err)
	assert.Equal(t, caliberr.CategoryForbidden, caliberr.CategoryOf(err))
}

func TestInvoke_ToolOutsideToolsetsForbidden(t *testing.T) {
	gate, tenant, _ := testGate(t, nil)
	_, err := gate.Invoke(context.Background(), Request{
		Tenant: tenant, AgentName: "researcher", Tool: "tools.bin.unlisted",
	})
	require.Error(t, err)
	assert.Equal(t, caliberr.CategoryForbidden, caliberr.CategoryOf(err))
}

func TestInvoke_ScopeBudgetExceeded(t *testing.T) {
	tenant := id.New()
	scope, err := entity.NewScope(tenant, id.New(), "work", 100)
	require.NoError(t, err)
	require.NoError(t, scope.ReserveTokens(100))

	gate, tenant, _ := testGate(t, scope)
	scopeID := scope.ID
	_, err = gate.Invoke(context.Background(), Request{
		Tenant: tenant, AgentName: "researcher", Tool: "tools.bin.echo", ScopeID: &scopeID,
	})
	require.Error(t, err)

	var cerr *caliberr.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, caliberr.CategoryForbidden, cerr.Category)
	assert.Equal(t, 100, cerr.Details["tokens_used"])
}

func TestInvoke_SchemaValidationFailure(t *testing.T) {
	gate, tenant, _ := testGate(t, nil)
	_, err := gate.Invoke(context.Background(), Request{
		Tenant: tenant, AgentName: "researcher", Tool: "tools.bin.typed",
		Input: json.RawMessage(`{"text": 42}`),
	})
	require.Error(t, err)

	var cerr *caliberr.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, caliberr.CategoryValidation, cerr.Category)
	assert.Contains(t, cerr.Message, "/text")
}

func TestInvoke_ExecSuccessAndAudit(t *testing.T) {
	gate, tenant, sub := testGate(t, nil)
	result, err := gate.Invoke(context.Background(), Request{
		Tenant: tenant, AgentName: "researcher", Tool: "tools.bin.echo",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "exit status 0")
	assert.Contains(t, result.Output, "hello")

	event := <-sub.Recv()
	assert.Equal(t, broadcast.EventToolExecuted, event.Type)
	assert.Equal(t, true, event.Payload["success"])
	assert.Equal(t, "tools.bin.echo", event.Payload["name"])
}

func TestInvoke_SubprocessDisallowed(t *testing.T) {
	gate, tenant, sub := testGate(t, nil)
	_, err := gate.Invoke(context.Background(), Request{
		Tenant: tenant, AgentName: "researcher", Tool: "tools.bin.locked",
	})
	require.Error(t, err)
	assert.Equal(t, caliberr.CategoryForbidden, caliberr.CategoryOf(err))

	// The failed dispatch still produced its audit event.
	event := <-sub.Recv()
	assert.Equal(t, broadcast.EventToolExecuted, event.Type)
	assert.Equal(t, false, event.Payload["success"])
}

func TestInvoke_ExecTimeout(t *testing.T) {
	gate, tenant, _ := testGate(t, nil)
	result, err := gate.Invoke(context.Background(), Request{
		Tenant: tenant, AgentName: "researcher", Tool: "tools.bin.sleepy",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Timed out after 100ms", result.Output)
}

func TestInvoke_PromptRendering(t *testing.T) {
	gate, tenant, _ := testGate(t, nil)

	bare, err := gate.Invoke(context.Background(), Request{
		Tenant: tenant, AgentName: "researcher", Tool: "tools.prompts.review",
	})
	require.NoError(t, err)
	assert.True(t, bare.Success)
	assert.NotContains(t, bare.Output, "input:")

	withInput, err := gate.Invoke(context.Background(), Request{
		Tenant: tenant, AgentName: "researcher", Tool: "tools.prompts.review",
		Input: json.RawMessage(`{"artifact": "a-1"}`),
	})
	require.NoError(t, err)
	assert.Contains(t, withInput.Output, "---\n\ninput:\n{\"artifact\": \"a-1\"}")
}
