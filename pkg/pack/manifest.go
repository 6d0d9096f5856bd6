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

// Package pack parses, validates, and compiles CALIBER packs: a TOML
// manifest (pack.toml) plus a set of markdown prompt documents. Manifest
// decoding uses BurntSushi/toml; the markdown grammar is a
// hand-rolled line scanner mirroring the pack's own original implementation.
package pack

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/caliberhq/caliber/pkg/caliberr"
)

// Manifest is the decoded form of pack.toml.
type Manifest struct {
	Settings  *Settings               `toml:"settings"`
	Defaults  *Defaults               `toml:"defaults"`
	Profiles  map[string]Profile      `toml:"profiles"`
	Adapters  map[string]AdapterSpec  `toml:"adapters"`
	Memories  map[string]MemorySpec   `toml:"memories"`
	Providers map[string]ProviderSpec `toml:"providers"`
	Caches    map[string]CacheSpec    `toml:"caches"`
	Tools     ToolsSection            `toml:"tools"`
	Toolsets  map[string]ToolsetSpec  `toml:"toolsets"`
	Policies  map[string]PolicySpec   `toml:"policies"`
	Injections []InjectionSpec        `toml:"injections"`
	Agents    map[string]AgentSpec    `toml:"agents"`
}

// Settings is the optional [settings] table.
type Settings struct {
	Matrix *Matrix `toml:"matrix"`
}

// Matrix restricts which (retention, index, embeddings, format) profile
// quadruples a pack's [profiles.*] entries may use.
type Matrix struct {
	Allowed []ProfileQuadruple `toml:"allowed"`
}

// ProfileQuadruple is one allowed combination under settings.matrix.allowed.
type ProfileQuadruple struct {
	Retention  string `toml:"retention"`
	Index      string `toml:"index"`
	Embeddings string `toml:"embeddings"`
	Format     string `toml:"format"`
}

func (q ProfileQuadruple) key() string {
	return q.Retention + "|" + q.Index + "|" + q.Embeddings + "|" + q.Format
}

// Defaults is the optional [defaults] table.
type Defaults struct {
	StrictRefs bool `toml:"strict_refs"`
}

// Profile is one [profiles.<name>] entry.
type Profile struct {
	Retention  string `toml:"retention"`
	Index      string `toml:"index"`
	Embeddings string `toml:"embeddings"`
	Format     string `toml:"format"`
}

// AdapterSpec is one [adapters.<name>] entry.
type AdapterSpec struct {
	Type       string            `toml:"type"`
	Connection string            `toml:"connection"`
	Options    map[string]string `toml:"options"`
}

// MemorySpec is one [memories.<name>] entry.
type MemorySpec struct {
	Type      string   `toml:"type"`
	Retention string    `toml:"retention"`
	Lifecycle string    `toml:"lifecycle"`
	Parent    string    `toml:"parent"`
	InjectOn  []string  `toml:"inject_on"`
}

// ProviderSpec is one [providers.<name>] entry.
type ProviderSpec struct {
	Type   string            `toml:"type"`
	APIKey string            `toml:"api_key"`
	Model  string            `toml:"model"`
	Options map[string]string `toml:"options"`
}

// CacheSpec is one [caches.<name>] entry.
type CacheSpec struct {
	Backend string `toml:"backend"`
	TTLSeconds int `toml:"ttl_seconds"`
}

// ToolsSection is the [tools] table, split into tools.bin.* (Exec tools)
// and tools.prompts.* (Prompt tools).
type ToolsSection struct {
	Bin     map[string]BinToolSpec    `toml:"bin"`
	Prompts map[string]PromptToolSpec `toml:"prompts"`
}

// BinToolSpec declares a subprocess-backed tool.
type BinToolSpec struct {
	Cmd            string `toml:"cmd"`
	TimeoutMs      int    `toml:"timeout_ms"`
	AllowSubprocess bool  `toml:"allow_subprocess"`
	InputSchema    string `toml:"input_schema"` // inline JSON, or a file path opened as given (a relative path resolves against the working directory, not the pack root)
}

// PromptToolSpec declares a markdown-prompt-backed tool.
type PromptToolSpec struct {
	PromptMD    string `toml:"prompt_md"`
	TimeoutMs   int    `toml:"timeout_ms"`
	InputSchema string `toml:"input_schema"`
}

// ToolsetSpec is one [toolsets.<name>] entry: a named group of tool ids.
type ToolsetSpec struct {
	Tools []string `toml:"tools"`
}

// PolicySpec and InjectionSpec mirror the DSL's policy/injection shapes when
// declared directly in TOML rather than in a DSL source fragment; the
// compiler treats manifest-declared injections as "legacy"
// ("injections (legacy)" in CompiledConfig) alongside DSL-declared
// pack_injections.
type PolicySpec struct {
	Rules []PolicyRuleSpec `toml:"rules"`
}

type PolicyRuleSpec struct {
	Trigger string   `toml:"trigger"`
	Actions []string `toml:"actions"`
}

type InjectionSpec struct {
	Source   string `toml:"source"`
	Target   string `toml:"target"`
	Mode     string `toml:"mode"`
	Priority int    `toml:"priority"`
	MaxTokens int   `toml:"max_tokens"`
}

// AgentSpec is one [agents.<name>] entry.
type AgentSpec struct {
	Toolsets []string `toml:"toolsets"`
	PromptMD string   `toml:"prompt_md"`
}

// LoadManifest decodes path as a TOML pack manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, caliberr.Validation("pack_manifest_read_error", err.Error())
	}
	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, caliberr.Validation("pack_manifest_toml_error", err.Error()).
			WithDetail("location", path)
	}
	return &m, nil
}

// collectToolIDs returns every fully-qualified tool id declared under
// tools.bin and tools.prompts ("tools.bin.<name>", "tools.prompts.<name>").
func collectToolIDs(tools ToolsSection) map[string]bool {
	ids := make(map[string]bool, len(tools.Bin)+len(tools.Prompts))
	for name := range tools.Bin {
		ids["tools.bin."+name] = true
	}
	for name := range tools.Prompts {
		ids["tools.prompts."+name] = true
	}
	return ids
}

// ValidateManifest enforces the three manifest validation rules: profile
// matrix membership, toolset tool references, and agent
// toolset/prompt_md references (checked against mds, the already-parsed
// pack markdown documents).
func ValidateManifest(m *Manifest, mds []*PromptDoc) error {
	if err := validateProfiles(m); err != nil {
		return err
	}
	if err := validateToolsets(m); err != nil {
		return err
	}
	return validateAgents(m, mds)
}

func validateProfiles(m *Manifest) error {
	if m.Settings == nil || m.Settings.Matrix == nil {
		return nil
	}
	allowed := make(map[string]bool, len(m.Settings.Matrix.Allowed))
	for _, q := range m.Settings.Matrix.Allowed {
		allowed[q.key()] = true
	}
	for name, p := range m.Profiles {
		q := ProfileQuadruple{Retention: p.Retention, Index: p.Index, Embeddings: p.Embeddings, Format: p.Format}
		if !allowed[q.key()] {
			return caliberr.Validation("pack_profile_not_allowed",
				fmt.Sprintf("profile %q does not satisfy settings.matrix.allowed", name))
		}
	}
	return nil
}

func validateToolsets(m *Manifest) error {
	ids := collectToolIDs(m.Tools)
	for name, set := range m.Toolsets {
		for _, tool := range set.Tools {
			if !ids[tool] {
				return caliberr.Validation("pack_unknown_tool_ref",
					fmt.Sprintf("toolset %q references unknown tool id %q", name, tool))
			}
		}
	}
	return nil
}

func validateAgents(m *Manifest, mds []*PromptDoc) error {
	mdPaths := make(map[string]bool, len(mds))
	for _, d := range mds {
		mdPaths[d.File] = true
	}
	for name, agent := range m.Agents {
		for _, toolset := range agent.Toolsets {
			if _, ok := m.Toolsets[toolset]; !ok {
				return caliberr.Validation("pack_unknown_toolset_ref",
					fmt.Sprintf("agent %q references unknown toolset %q", name, toolset))
			}
		}
		if mdPaths[agent.PromptMD] {
			continue
		}
		found := false
		for p := range mdPaths {
			if hasSuffixPath(p, agent.PromptMD) {
				found = true
				break
			}
		}
		if !found {
			return caliberr.Validation("pack_unknown_prompt_md",
				fmt.Sprintf("agent %q prompt_md %q not found in pack markdowns", name, agent.PromptMD))
		}
	}
	return nil
}

func hasSuffixPath(full, suffix string) bool {
	return full == suffix || filepath.Base(full) == suffix ||
		len(full) > len(suffix) && full[len(full)-len(suffix)-1] == '/' && full[len(full)-len(suffix):] == suffix
}
