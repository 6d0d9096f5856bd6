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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/dsl"
)

// ToolKind discriminates how a compiled Tool is invoked.
type ToolKind int

const (
	ToolExec ToolKind = iota
	ToolPrompt
)

// Tool is a compiled, ready-to-invoke tool definition, consumed by
// pkg/toolgate.
type Tool struct {
	ID              string
	Kind            ToolKind
	Cmd             string // ToolExec
	PromptMD        string // ToolPrompt
	CompiledSchema  *jsonschema.Schema
	RawSchema       json.RawMessage // the schema document CompiledSchema was compiled from
	TimeoutMs       int
	AllowSubprocess bool
}

// Toolset is a compiled named group of tool ids.
type Toolset struct {
	Name  string
	Tools []string
}

// PackAgent is a compiled agent: its toolsets and resolved prompt document.
type PackAgent struct {
	Name     string
	Toolsets []string
	Prompt   *PromptDoc
}

// Provider is a compiled LLM/embedding provider entry.
type Provider struct {
	Name   string
	Type   string
	APIKey string
	Model  string
}

// PackInjection is a DSL-declared "inject ... into ... { ... }" block,
// compiled from dsl.InjectionDef.
type PackInjection struct {
	Source    string
	Target    string
	Mode      dsl.InjectionMode
	Priority  int
	MaxTokens *int
}

// LegacyInjection is a manifest-declared [[injections]] entry: the older,
// pre-DSL injection shape still compiled alongside DSL-declared
// pack_injections.
type LegacyInjection struct {
	Source    string
	Target    string
	Mode      string
	Priority  int
	MaxTokens int
}

// CompiledConfig is the lowered, runtime-ready form of a pack: manifest +
// markdown + DSL fragments folded into one structure.
type CompiledConfig struct {
	Tools           []Tool
	Toolsets        []Toolset
	PackAgents      []PackAgent
	Providers       []Provider
	PackRouting     map[string]string // provider name -> routing target, if declared
	PackInjections  []PackInjection
	Injections      []LegacyInjection

	// Markdown keeps the raw prompt sources by pack-relative path. Prompt
	// tool dispatch resolves prompt_md against this map (exact or suffix
	// match) rather than re-reading the pack directory.
	Markdown map[string]string
}

// FindMarkdown resolves path against the pack's raw prompt sources, by exact
// match first, then by suffix.
func (c *CompiledConfig) FindMarkdown(path string) (string, bool) {
	if content, ok := c.Markdown[path]; ok {
		return content, true
	}
	for p, content := range c.Markdown {
		if hasSuffixPath(p, path) {
			return content, true
		}
	}
	return "", false
}

// FindTool returns the compiled tool with the given id.
func (c *CompiledConfig) FindTool(toolID string) (*Tool, bool) {
	for i := range c.Tools {
		if c.Tools[i].ID == toolID {
			return &c.Tools[i], true
		}
	}
	return nil, false
}

// AgentByName returns the compiled pack agent with the given name.
func (c *CompiledConfig) AgentByName(name string) (*PackAgent, bool) {
	for i := range c.PackAgents {
		if c.PackAgents[i].Name == name {
			return &c.PackAgents[i], true
		}
	}
	return nil, false
}

// AllowedTools computes the union of tool ids across the named toolsets.
func (c *CompiledConfig) AllowedTools(toolsets []string) map[string]bool {
	allowed := make(map[string]bool)
	for _, name := range toolsets {
		for _, set := range c.Toolsets {
			if set.Name == name {
				for _, tool := range set.Tools {
					allowed[tool] = true
				}
			}
		}
	}
	return allowed
}

// Compile reads dir as a pack directory (one pack.toml plus *.md prompt
// files), validates it end to end, and lowers it into a CompiledConfig.
func Compile(dir string) (*CompiledConfig, error) {
	manifest, err := LoadManifest(filepath.Join(dir, "pack.toml"))
	if err != nil {
		return nil, err
	}

	mdFiles, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil, caliberr.Validation("pack_glob_error", err.Error())
	}
	sort.Strings(mdFiles)

	strictRefs := manifest.Defaults != nil && manifest.Defaults.StrictRefs
	toolIDs := collectToolIDs(manifest.Tools)

	var docs []*PromptDoc
	markdown := make(map[string]string, len(mdFiles))
	for _, path := range mdFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, caliberr.Validation("pack_markdown_read_error", err.Error())
		}
		rel, _ := filepath.Rel(dir, path)
		doc, err := ParsePromptFile(rel, string(data), toolIDs, strictRefs)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
		markdown[rel] = string(data)
	}

	if err := ValidateManifest(manifest, docs); err != nil {
		return nil, err
	}

	cfg := &CompiledConfig{Markdown: markdown}

	if err := compileTools(manifest, cfg); err != nil {
		return nil, err
	}
	compileToolsets(manifest, cfg)
	if err := compileAgents(manifest, docs, cfg); err != nil {
		return nil, err
	}
	compileProviders(manifest, cfg)
	compileLegacyInjections(manifest, cfg)

	// DSL-declared injections live in sibling ".dsl" fragment files and are
	// folded into PackInjections alongside the manifest's legacy ones.
	dslFiles, err := filepath.Glob(filepath.Join(dir, "*.dsl"))
	if err != nil {
		return nil, caliberr.Validation("pack_glob_error", err.Error())
	}
	sort.Strings(dslFiles)
	for _, path := range dslFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, caliberr.Validation("pack_dsl_read_error", err.Error())
		}
		rel, _ := filepath.Rel(dir, path)
		doc, err := dsl.Parse(rel, string(data))
		if err != nil {
			return nil, err
		}
		for _, inj := range doc.Injections {
			cfg.PackInjections = append(cfg.PackInjections, PackInjection{
				Source:    inj.Source,
				Target:    inj.Target,
				Mode:      inj.Mode,
				Priority:  inj.Priority,
				MaxTokens: inj.MaxTokens,
			})
		}
	}

	return cfg, nil
}

func compileTools(manifest *Manifest, cfg *CompiledConfig) error {
	names := make([]string, 0, len(manifest.Tools.Bin))
	for name := range manifest.Tools.Bin {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := manifest.Tools.Bin[name]
		schema, rawSchema, err := compileSchema(spec.InputSchema)
		if err != nil {
			return fmt.Errorf("tool tools.bin.%s: %w", name, err)
		}
		cfg.Tools = append(cfg.Tools, Tool{
			ID:              "tools.bin." + name,
			Kind:            ToolExec,
			Cmd:             spec.Cmd,
			CompiledSchema:  schema,
			RawSchema:       rawSchema,
			TimeoutMs:       spec.TimeoutMs,
			AllowSubprocess: spec.AllowSubprocess,
		})
	}

	names = names[:0]
	for name := range manifest.Tools.Prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := manifest.Tools.Prompts[name]
		schema, rawSchema, err := compileSchema(spec.InputSchema)
		if err != nil {
			return fmt.Errorf("tool tools.prompts.%s: %w", name, err)
		}
		cfg.Tools = append(cfg.Tools, Tool{
			ID:             "tools.prompts." + name,
			Kind:           ToolPrompt,
			PromptMD:       spec.PromptMD,
			CompiledSchema: schema,
			RawSchema:      rawSchema,
			TimeoutMs:      spec.TimeoutMs,
		})
	}
	return nil
}

// compileSchema compiles raw (a JSON Schema document, inline or a path to
// one) into a *jsonschema.Schema, returning the raw document alongside so
// protocol surfaces can republish it verbatim. An empty string means "no
// schema", the common case for tools that take no structured input.
func compileSchema(raw string) (*jsonschema.Schema, json.RawMessage, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil, nil
	}

	body := raw
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		data, err := os.ReadFile(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("read input_schema %q: %w", raw, err)
		}
		body = string(data)
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, nil, fmt.Errorf("parse input_schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	resourceID := "pack-tool-schema.json"
	if err := c.AddResource(resourceID, doc); err != nil {
		return nil, nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(resourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("compile input_schema: %w", err)
	}
	return schema, json.RawMessage(body), nil
}

func compileToolsets(manifest *Manifest, cfg *CompiledConfig) {
	names := make([]string, 0, len(manifest.Toolsets))
	for name := range manifest.Toolsets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cfg.Toolsets = append(cfg.Toolsets, Toolset{Name: name, Tools: manifest.Toolsets[name].Tools})
	}
}

func compileAgents(manifest *Manifest, docs []*PromptDoc, cfg *CompiledConfig) error {
	byPath := make(map[string]*PromptDoc, len(docs))
	for _, d := range docs {
		byPath[d.File] = d
	}

	names := make([]string, 0, len(manifest.Agents))
	for name := range manifest.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := manifest.Agents[name]
		doc := byPath[spec.PromptMD]
		if doc == nil {
			for path, d := range byPath {
				if hasSuffixPath(path, spec.PromptMD) {
					doc = d
					break
				}
			}
		}
		if doc == nil {
			return fmt.Errorf("agent %q: prompt_md %q not found after validation (internal error)", name, spec.PromptMD)
		}
		cfg.PackAgents = append(cfg.PackAgents, PackAgent{Name: name, Toolsets: spec.Toolsets, Prompt: doc})
	}
	return nil
}

func compileProviders(manifest *Manifest, cfg *CompiledConfig) {
	names := make([]string, 0, len(manifest.Providers))
	for name := range manifest.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := manifest.Providers[name]
		cfg.Providers = append(cfg.Providers, Provider{Name: name, Type: spec.Type, APIKey: spec.APIKey, Model: spec.Model})
	}
}

func compileLegacyInjections(manifest *Manifest, cfg *CompiledConfig) {
	for _, inj := range manifest.Injections {
		cfg.Injections = append(cfg.Injections, LegacyInjection{
			Source:    inj.Source,
			Target:    inj.Target,
			Mode:      inj.Mode,
			Priority:  inj.Priority,
			MaxTokens: inj.MaxTokens,
		})
	}
}
