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

package pack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/dsl"
)

const validPrompt = `# System
You coordinate research agents.

## PCP
Always cite artifact ids.

### User
Run the echo tool:

` + "```tool\n${tools.bin.echo}\n```\n"

func echoToolIDs() map[string]bool {
	return map[string]bool{"tools.bin.echo": true}
}

func TestParsePromptFile_ValidToolBlock(t *testing.T) {
	doc, err := ParsePromptFile("agent.md", validPrompt, echoToolIDs(), false)
	require.NoError(t, err)
	assert.Equal(t, "You coordinate research agents.", doc.System)
	assert.Equal(t, "Always cite artifact ids.", doc.PCP)
	require.Len(t, doc.Users, 1)
	require.Len(t, doc.Users[0].Blocks, 1)
	assert.Equal(t, FenceTool, doc.Users[0].Blocks[0].Kind)
}

func TestParsePromptFile_UnknownToolID(t *testing.T) {
	src := `# System
s

## PCP
p

### User

` + "```tool\n${tools.bin.missing}\n```\n"

	_, err := ParsePromptFile("agent.md", src, echoToolIDs(), false)
	require.Error(t, err)

	var cerr *caliberr.Error
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Message, "unknown tool id 'tools.bin.missing'")
	// The fence opens on line 9.
	assert.Equal(t, "agent.md:9:1", cerr.Details["location"])
}

func TestParsePromptFile_MisorderedHeadings(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"pcp before system", "## PCP\np\n\n# System\ns\n\n### User\nu\n"},
		{"user before pcp", "# System\ns\n\n### User\nu\n\n## PCP\np\n"},
		{"wrong h1", "# Prelude\ns\n\n## PCP\np\n\n### User\nu\n"},
		{"missing user", "# System\ns\n\n## PCP\np\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePromptFile("agent.md", tc.src, nil, false)
			assert.Error(t, err)
		})
	}
}

func TestParsePromptFile_UnterminatedFence(t *testing.T) {
	src := "# System\ns\n\n## PCP\np\n\n### User\n\n```constraints\nnever guess\n"
	_, err := ParsePromptFile("agent.md", src, nil, false)
	require.Error(t, err)
	var cerr *caliberr.Error
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Message, "unterminated")
}

func TestParsePromptFile_ConstraintsAndToolsBlocks(t *testing.T) {
	src := `# System
s

## PCP
p

### User

` + "```constraints\n# a comment line\nnever fabricate ids\nprefer summaries\n```\n\n```tools\n- tools.bin.echo\n```\n"

	doc, err := ParsePromptFile("agent.md", src, echoToolIDs(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"never fabricate ids", "prefer summaries"}, doc.Extracted.Constraints)
	assert.Equal(t, []string{"tools.bin.echo"}, doc.Extracted.ToolRefs)
}

func TestParsePromptFile_StrictRefsPayload(t *testing.T) {
	src := `# System
s

## PCP
p

### User

` + "```tool\n${tools.bin.echo}\n```\n\n```json\n{\"literal\": true}\n```\n"

	_, err := ParsePromptFile("agent.md", src, echoToolIDs(), true)
	require.Error(t, err)

	_, err = ParsePromptFile("agent.md", src, echoToolIDs(), false)
	assert.NoError(t, err)
}

func writePack(t *testing.T, manifest string, mds map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pack.toml"), []byte(manifest), 0o644))
	for name, content := range mds {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

const testManifest = `
[defaults]
strict_refs = false

[tools.bin.echo]
cmd = "/bin/echo"
timeout_ms = 5000
allow_subprocess = true
input_schema = '{"type": "object", "properties": {"text": {"type": "string"}}, "required": ["text"]}'

[tools.prompts.review]
prompt_md = "agent.md"

[toolsets.core]
tools = ["tools.bin.echo", "tools.prompts.review"]

[agents.researcher]
toolsets = ["core"]
prompt_md = "agent.md"
`

func TestCompile_EndToEnd(t *testing.T) {
	dir := writePack(t, testManifest, map[string]string{"agent.md": validPrompt})

	cfg, err := Compile(dir)
	require.NoError(t, err)

	require.Len(t, cfg.Tools, 2)
	assert.Equal(t, "tools.bin.echo", cfg.Tools[0].ID)
	assert.Equal(t, ToolExec, cfg.Tools[0].Kind)
	assert.Equal(t, "/bin/echo", cfg.Tools[0].Cmd)
	assert.True(t, cfg.Tools[0].AllowSubprocess)
	assert.NotNil(t, cfg.Tools[0].CompiledSchema)
	assert.Equal(t, "tools.prompts.review", cfg.Tools[1].ID)
	assert.Equal(t, ToolPrompt, cfg.Tools[1].Kind)

	require.Len(t, cfg.Toolsets, 1)
	assert.Equal(t, "core", cfg.Toolsets[0].Name)

	require.Len(t, cfg.PackAgents, 1)
	assert.Equal(t, "researcher", cfg.PackAgents[0].Name)
	require.NotNil(t, cfg.PackAgents[0].Prompt)
	assert.Equal(t, "agent.md", cfg.PackAgents[0].Prompt.File)
}

func TestCompile_UnknownToolsetReference(t *testing.T) {
	manifest := `
[tools.bin.echo]
cmd = "/bin/echo"

[toolsets.core]
tools = ["tools.bin.shell"]
`
	dir := writePack(t, manifest, nil)
	_, err := Compile(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool id")
}

func TestCompile_ProfileMatrixViolation(t *testing.T) {
	manifest := `
[[settings.matrix.allowed]]
retention = "persistent"
index = "hnsw"
embeddings = "openai"
format = "json"

[profiles.fast]
retention = "session"
index = "hnsw"
embeddings = "openai"
format = "json"
`
	dir := writePack(t, manifest, nil)
	_, err := Compile(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings.matrix.allowed")
}

func TestCompile_AgentPromptExactMatch(t *testing.T) {
	manifest := `
[agents.researcher]
toolsets = []
prompt_md = "agent.md"
`
	dir := writePack(t, manifest, map[string]string{"agent.md": validPromptNoTools()})
	cfg, err := Compile(dir)
	require.NoError(t, err)
	require.Len(t, cfg.PackAgents, 1)
}

func validPromptNoTools() string {
	return "# System\ns\n\n## PCP\np\n\n### User\nu\n"
}

func TestCompile_DSLInjections(t *testing.T) {
	dir := writePack(t, testManifest, map[string]string{"agent.md": validPrompt})
	dslSrc := `inject notes into system { mode: top_k(3), priority: 5 }`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "memory.dsl"), []byte(dslSrc), 0o644))

	cfg, err := Compile(dir)
	require.NoError(t, err)
	require.Len(t, cfg.PackInjections, 1)
	assert.Equal(t, "notes", cfg.PackInjections[0].Source)
	assert.Equal(t, "system", cfg.PackInjections[0].Target)
	assert.Equal(t, 5, cfg.PackInjections[0].Priority)
	assert.Equal(t, dsl.InjectionTopK, cfg.PackInjections[0].Mode.Kind)
}

const roundtripSrc = `
policy retention {
	on scope_close: [summarize(scope), prune(notes, relevance < 0.2 AND age > 86400)]
	on manual: [notify("ops")]
}

inject artifacts into user { mode: relevant(0.75), priority: 2, max_tokens: 1500 }
inject notes into system { mode: full, priority: 1 }

adapter primary {
	type: postgres
	connection: "postgres://localhost/caliber"
}

cache hot {
	backend: lmdb
	size_mb: 512
}

summarization_policy "nightly" {
	triggers: [dosage_reached(80), scope_close]
	source_level: raw
	target_level: summary
	max_sources: 20
	create_edges: true
}
`

func TestSerialize_RoundtripFixpoint(t *testing.T) {
	doc, err := dsl.Parse("pack.dsl", roundtripSrc)
	require.NoError(t, err)

	first := Serialize(doc)
	reparsed, err := ParseCanonical("pack.md", first)
	require.NoError(t, err)
	second := Serialize(reparsed)
	assert.Equal(t, first, second)

	// A third pass stays fixed too.
	reparsed2, err := ParseCanonical("pack.md", second)
	require.NoError(t, err)
	assert.Equal(t, second, Serialize(reparsed2))
}

func TestSerialize_DeterministicOrdering(t *testing.T) {
	doc, err := dsl.Parse("pack.dsl", roundtripSrc)
	require.NoError(t, err)
	out := Serialize(doc)

	// Injections are ordered by (source, target): artifacts before notes.
	artifactsIdx := indexOf(t, out, "inject artifacts into user")
	notesIdx := indexOf(t, out, "inject notes into system")
	assert.Less(t, artifactsIdx, notesIdx)

	// Adapters precede policies, policies precede injections, caches follow.
	assert.Less(t, indexOf(t, out, "```adapter primary"), indexOf(t, out, "```policy retention"))
	assert.Less(t, indexOf(t, out, "```policy retention"), artifactsIdx)
	assert.Less(t, notesIdx, indexOf(t, out, "```cache hot"))
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	idx := indexString(haystack, needle)
	require.GreaterOrEqual(t, idx, 0, "expected %q in serialized output", needle)
	return idx
}

func indexString(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
