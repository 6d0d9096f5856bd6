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
	"fmt"
	"strings"

	"github.com/caliberhq/caliber/pkg/caliberr"
)

// FenceKind discriminates a recognized fenced-code-block info string.
type FenceKind string

const (
	FenceAdapter     FenceKind = "adapter"
	FenceMemory      FenceKind = "memory"
	FencePolicy      FenceKind = "policy"
	FenceInjection   FenceKind = "injection"
	FenceProvider    FenceKind = "provider"
	FenceCache       FenceKind = "cache"
	FenceTrajectory  FenceKind = "trajectory"
	FenceAgent       FenceKind = "agent"
	FenceTool        FenceKind = "tool"
	FenceRag         FenceKind = "rag"
	FenceJSON        FenceKind = "json"
	FenceXML         FenceKind = "xml"
	FenceConstraints FenceKind = "constraints"
	FenceTools       FenceKind = "tools"
	FenceManifest    FenceKind = "manifest"
)

func parseFenceKind(s string) (FenceKind, bool) {
	switch FenceKind(strings.ToLower(s)) {
	case FenceAdapter, FenceMemory, FencePolicy, FenceInjection, FenceProvider, FenceCache,
		FenceTrajectory, FenceAgent, FenceTool, FenceRag, FenceJSON, FenceXML,
		FenceConstraints, FenceTools, FenceManifest:
		return FenceKind(strings.ToLower(s)), true
	default:
		return "", false
	}
}

// FencedBlock is one fenced code block parsed from a User section.
type FencedBlock struct {
	Kind       FenceKind
	HeaderName string
	Content    string
	Line       int
}

// UserSection is one "### User" section of a prompt file.
type UserSection struct {
	Content string
	Blocks  []FencedBlock
}

// ExtractedBlocks is the metadata aggregated across a PromptDoc's fenced
// blocks: per-line constraints, validated tool references, and an optional
// RAG configuration blob.
type ExtractedBlocks struct {
	Constraints []string
	ToolRefs    []string
	RAGConfig   string
}

// PromptDoc is a parsed, validated pack markdown prompt file.
type PromptDoc struct {
	File    string
	System  string
	PCP     string
	Users   []UserSection
	Extracted ExtractedBlocks
}

func markdownErr(file string, line int, msg string) error {
	return caliberr.Validation("pack_markdown_error", msg).
		WithDetail("location", caliberr.Location{File: file, Line: line, Column: 1}.String())
}

// ParsePromptFile parses and validates one pack markdown prompt document,
// enforcing the "# System" / "## PCP" / "### User"+ heading grammar and the
// fenced-block rules strictRefs comes from the manifest's
// [defaults] table.
func ParsePromptFile(file, content string, toolIDs map[string]bool, strictRefs bool) (*PromptDoc, error) {
	var system, pcp strings.Builder
	var users []UserSection
	var currentUser *UserSection

	const (
		sectionNone = iota
		sectionSystem
		sectionPCP
		sectionUser
	)
	section := sectionNone
	lastHeading := 0

	var inBlock *FencedBlock
	lines := strings.Split(content, "\n")

	flushUser := func() {
		if currentUser != nil {
			users = append(users, *currentUser)
			currentUser = nil
		}
	}

	for idx, line := range lines {
		lineNo := idx + 1

		if inBlock != nil {
			if strings.HasPrefix(strings.TrimLeft(line, " \t"), "```") {
				finished := *inBlock
				inBlock = nil
				if section != sectionUser {
					return nil, markdownErr(file, lineNo, "fenced blocks only allowed under ### User")
				}
				if currentUser != nil {
					currentUser.Blocks = append(currentUser.Blocks, finished)
				}
				continue
			}
			inBlock.Content += line + "\n"
			continue
		}

		if level := headingLevel(line); level > 0 {
			switch level {
			case 1:
				if strings.TrimSpace(line) != "# System" {
					return nil, markdownErr(file, lineNo, "first H1 must be '# System'")
				}
				if lastHeading > 1 {
					return nil, markdownErr(file, lineNo, "H1 must come before H2/H3")
				}
				section = sectionSystem
				lastHeading = 1
				continue
			case 2:
				if strings.TrimSpace(line) != "## PCP" {
					return nil, markdownErr(file, lineNo, "H2 must be '## PCP'")
				}
				if lastHeading < 1 {
					return nil, markdownErr(file, lineNo, "H2 must follow '# System'")
				}
				flushUser()
				section = sectionPCP
				lastHeading = 2
				continue
			case 3:
				if strings.TrimSpace(line) != "### User" {
					return nil, markdownErr(file, lineNo, "H3 must be '### User'")
				}
				if lastHeading < 2 {
					return nil, markdownErr(file, lineNo, "H3 must follow '## PCP'")
				}
				flushUser()
				section = sectionUser
				lastHeading = 3
				currentUser = &UserSection{}
				continue
			}
		}

		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "```") {
			info := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "```"))
			if info == "" {
				return nil, markdownErr(file, lineNo, "fenced block must have a type")
			}
			kind, name, err := parseFenceInfo(info)
			if err != nil {
				return nil, markdownErr(file, lineNo, err.Error())
			}
			inBlock = &FencedBlock{Kind: kind, HeaderName: name, Line: lineNo}
			continue
		}

		switch section {
		case sectionSystem:
			system.WriteString(line)
			system.WriteByte('\n')
		case sectionPCP:
			pcp.WriteString(line)
			pcp.WriteByte('\n')
		case sectionUser:
			if currentUser != nil {
				currentUser.Content += line + "\n"
			}
		}
	}

	if inBlock != nil {
		return nil, markdownErr(file, len(lines), "unterminated fenced block")
	}
	flushUser()

	if strings.TrimSpace(system.String()) == "" || strings.TrimSpace(pcp.String()) == "" || len(users) == 0 {
		return nil, markdownErr(file, 1, "missing required sections (# System, ## PCP, ### User)")
	}

	doc := &PromptDoc{
		File:   file,
		System: strings.TrimSpace(system.String()),
		PCP:    strings.TrimSpace(pcp.String()),
		Users:  users,
	}

	for i := range doc.Users {
		extracted, err := validateBlocks(file, &doc.Users[i], toolIDs, strictRefs)
		if err != nil {
			return nil, err
		}
		doc.Extracted.Constraints = append(doc.Extracted.Constraints, extracted.Constraints...)
		doc.Extracted.ToolRefs = append(doc.Extracted.ToolRefs, extracted.ToolRefs...)
		if extracted.RAGConfig != "" {
			doc.Extracted.RAGConfig = extracted.RAGConfig
		}
	}

	return doc, nil
}

func validateBlocks(file string, user *UserSection, toolIDs map[string]bool, strictRefs bool) (ExtractedBlocks, error) {
	var out ExtractedBlocks
	i := 0
	for i < len(user.Blocks) {
		block := user.Blocks[i]
		switch block.Kind {
		case FenceTool:
			ref := strings.TrimSpace(block.Content)
			if !isRef(ref) {
				return out, markdownErr(file, block.Line, "tool block must contain a single ${...} ref")
			}
			toolID := stripRef(ref)
			if !toolIDs[toolID] {
				return out, markdownErr(file, block.Line, fmt.Sprintf("unknown tool id '%s'", toolID))
			}
			if i+1 < len(user.Blocks) {
				next := user.Blocks[i+1]
				if next.Kind == FenceJSON || next.Kind == FenceXML {
					if strictRefs && !isRef(strings.TrimSpace(next.Content)) {
						return out, markdownErr(file, next.Line, "payload block must be a ${...} ref in strict_refs")
					}
					i += 2
					continue
				}
			}
			i++
		case FenceJSON, FenceXML:
			return out, markdownErr(file, block.Line, "payload block must follow a tool block")
		case FenceConstraints:
			for _, line := range strings.Split(block.Content, "\n") {
				trimmed := strings.TrimSpace(line)
				if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
					out.Constraints = append(out.Constraints, trimmed)
				}
			}
			i++
		case FenceTools:
			for _, line := range strings.Split(block.Content, "\n") {
				trimmed := strings.TrimPrefix(strings.TrimSpace(line), "-")
				trimmed = strings.TrimSpace(trimmed)
				if trimmed == "" || strings.HasPrefix(trimmed, "#") {
					continue
				}
				if !toolIDs[trimmed] {
					return out, markdownErr(file, block.Line,
						fmt.Sprintf("tools block references unknown tool '%s'. Must match TOML-declared tool IDs.", trimmed))
				}
				out.ToolRefs = append(out.ToolRefs, trimmed)
			}
			i++
		case FenceRag:
			content := strings.TrimSpace(block.Content)
			if content != "" {
				out.RAGConfig = content
			}
			i++
		default:
			// Adapter/Memory/Policy/Injection/Provider/Cache/Trajectory/Agent/
			// Manifest blocks are accepted and passed through: their fields are
			// interpreted by the DSL/compiler layer, not the markdown grammar.
			i++
		}
	}
	return out, nil
}

func parseFenceInfo(info string) (FenceKind, string, error) {
	parts := strings.Fields(info)
	switch len(parts) {
	case 0:
		return "", "", fmt.Errorf("fence block must have a type")
	case 1:
		kind, ok := parseFenceKind(parts[0])
		if !ok {
			return "", "", fmt.Errorf("unsupported fence type '%s'", parts[0])
		}
		return kind, "", nil
	default:
		kind, ok := parseFenceKind(parts[0])
		if !ok {
			return "", "", fmt.Errorf("unsupported fence type '%s'", parts[0])
		}
		return kind, parts[1], nil
	}
}

func headingLevel(line string) int {
	switch {
	case strings.HasPrefix(line, "### "):
		return 3
	case strings.HasPrefix(line, "## "):
		return 2
	case strings.HasPrefix(line, "# "):
		return 1
	default:
		return 0
	}
}

func isRef(s string) bool {
	return strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}")
}

func stripRef(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "${")
	s = strings.TrimSuffix(s, "}")
	return s
}
