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
	"sort"
	"strconv"
	"strings"

	"github.com/caliberhq/caliber/pkg/dsl"
)

// Serialize renders a parsed config document as canonical markdown: one
// fenced block per definition, grouped by definition type, each group sorted
// alphabetically by name (injections by (source, target), caches by their
// backend field. The output is deterministic: serializing the
// same document always yields byte-identical text, and
// ParseCanonical(Serialize(doc)) reproduces doc, so serialize∘parse is a
// fixpoint after the first pass.
func Serialize(doc *dsl.Document) string {
	var out strings.Builder

	generics := make(map[dsl.GenericKind][]dsl.GenericDef)
	for _, g := range doc.Generics {
		generics[g.Kind] = append(generics[g.Kind], g)
	}
	for kind, defs := range generics {
		if kind == dsl.GenericCache {
			sort.SliceStable(defs, func(i, j int) bool {
				bi, bj := genericFieldString(&defs[i], "backend"), genericFieldString(&defs[j], "backend")
				if bi != bj {
					return bi < bj
				}
				return defs[i].Name < defs[j].Name
			})
			continue
		}
		sort.SliceStable(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	}

	// Fixed type order; within a type, the sorts above.
	for _, kind := range []dsl.GenericKind{dsl.GenericAdapter, dsl.GenericProvider, dsl.GenericMemory} {
		for i := range generics[kind] {
			writeGenericBlock(&out, &generics[kind][i])
		}
	}

	policies := append([]dsl.PolicyDef(nil), doc.Policies...)
	sort.SliceStable(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	for i := range policies {
		writePolicyBlock(&out, &policies[i])
	}

	injections := append([]dsl.InjectionDef(nil), doc.Injections...)
	sort.SliceStable(injections, func(i, j int) bool {
		if injections[i].Source != injections[j].Source {
			return injections[i].Source < injections[j].Source
		}
		return injections[i].Target < injections[j].Target
	})
	for i := range injections {
		writeInjectionBlock(&out, &injections[i])
	}

	summPolicies := append([]dsl.SummarizationPolicyDef(nil), doc.SummarizationPolicies...)
	sort.SliceStable(summPolicies, func(i, j int) bool { return summPolicies[i].Name < summPolicies[j].Name })
	for i := range summPolicies {
		writeSummarizationPolicyBlock(&out, &summPolicies[i])
	}

	for _, kind := range []dsl.GenericKind{dsl.GenericCache, dsl.GenericTrajectory, dsl.GenericAgent, dsl.GenericEvolve} {
		for i := range generics[kind] {
			writeGenericBlock(&out, &generics[kind][i])
		}
	}

	return out.String()
}

// ParseCanonical is the inverse of Serialize: it extracts every fenced block
// from md and parses the concatenated block bodies as config DSL source. It
// accepts any markdown whose fences contain valid DSL, canonical or not,
// which is what makes the round-trip test meaningful.
func ParseCanonical(file, md string) (*dsl.Document, error) {
	var src strings.Builder
	inFence := false
	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			// Keep line numbering stable for parser diagnostics.
			src.WriteByte('\n')
			continue
		}
		if inFence {
			src.WriteString(line)
		}
		src.WriteByte('\n')
	}
	return dsl.Parse(file, src.String())
}

func writeGenericBlock(out *strings.Builder, def *dsl.GenericDef) {
	fmt.Fprintf(out, "```%s %s\n", def.Kind, def.Name)
	fmt.Fprintf(out, "%s %s {\n", def.Kind, quoteNameIfNeeded(def.Name))
	for i := range def.Fields {
		out.WriteString("  ")
		writeGenericField(out, &def.Fields[i])
		out.WriteByte('\n')
	}
	out.WriteString("}\n```\n\n")
}

func writeGenericField(out *strings.Builder, f *dsl.GenericField) {
	fmt.Fprintf(out, "%s: ", f.Key)
	switch f.Kind {
	case dsl.FieldString:
		out.WriteString(quoteString(f.Str))
	case dsl.FieldNumber:
		out.WriteString(formatNumber(f.Num))
	case dsl.FieldBool:
		out.WriteString(strconv.FormatBool(f.Bool))
	case dsl.FieldStringList:
		// A single bare identifier parses back to the same one-element list,
		// so it is printed unbracketed.
		if len(f.StrList) == 1 && isIdent(f.StrList[0]) {
			out.WriteString(f.StrList[0])
			return
		}
		out.WriteByte('[')
		for i, s := range f.StrList {
			if i > 0 {
				out.WriteString(", ")
			}
			out.WriteString(quoteString(s))
		}
		out.WriteByte(']')
	case dsl.FieldNumberList:
		out.WriteByte('[')
		for i, n := range f.NumList {
			if i > 0 {
				out.WriteString(", ")
			}
			out.WriteString(formatNumber(n))
		}
		out.WriteByte(']')
	case dsl.FieldFilter:
		out.WriteByte('(')
		out.WriteString(formatFilterExpr(f.Filter))
		out.WriteByte(')')
	}
}

func writePolicyBlock(out *strings.Builder, def *dsl.PolicyDef) {
	fmt.Fprintf(out, "```policy %s\n", def.Name)
	fmt.Fprintf(out, "policy %s {\n", def.Name)
	for _, rule := range def.Rules {
		fmt.Fprintf(out, "  on %s: [", formatTrigger(rule.Trigger))
		for i := range rule.Actions {
			if i > 0 {
				out.WriteString(", ")
			}
			out.WriteString(formatAction(&rule.Actions[i]))
		}
		out.WriteString("]\n")
	}
	out.WriteString("}\n```\n\n")
}

func writeInjectionBlock(out *strings.Builder, def *dsl.InjectionDef) {
	fmt.Fprintf(out, "```injection %s_%s\n", def.Source, def.Target)
	fmt.Fprintf(out, "inject %s into %s {\n", def.Source, def.Target)
	fmt.Fprintf(out, "  mode: %s\n", formatInjectionMode(def.Mode))
	fmt.Fprintf(out, "  priority: %d\n", def.Priority)
	if def.MaxTokens != nil {
		fmt.Fprintf(out, "  max_tokens: %d\n", *def.MaxTokens)
	}
	if def.Filter != nil {
		fmt.Fprintf(out, "  filter: %s\n", formatFilterExpr(def.Filter))
	}
	out.WriteString("}\n```\n\n")
}

func writeSummarizationPolicyBlock(out *strings.Builder, def *dsl.SummarizationPolicyDef) {
	fmt.Fprintf(out, "```policy %s\n", def.Name)
	fmt.Fprintf(out, "summarization_policy %s {\n", quoteString(def.Name))
	out.WriteString("  triggers: [")
	for i, trig := range def.Triggers {
		if i > 0 {
			out.WriteString(", ")
		}
		out.WriteString(formatSummarizationTrigger(trig))
	}
	out.WriteString("]\n")
	fmt.Fprintf(out, "  source_level: %s\n", formatAbstractionLevel(def.SourceLevel))
	fmt.Fprintf(out, "  target_level: %s\n", formatAbstractionLevel(def.TargetLevel))
	fmt.Fprintf(out, "  max_sources: %d\n", def.MaxSources)
	fmt.Fprintf(out, "  create_edges: %t\n", def.CreateEdges)
	out.WriteString("}\n```\n\n")
}

func formatTrigger(t dsl.Trigger) string {
	switch t.Kind {
	case dsl.TriggerTaskStart:
		return "task_start"
	case dsl.TriggerTaskEnd:
		return "task_end"
	case dsl.TriggerScopeClose:
		return "scope_close"
	case dsl.TriggerTurnEnd:
		return "turn_end"
	case dsl.TriggerManual:
		return "manual"
	case dsl.TriggerSchedule:
		return fmt.Sprintf("schedule(%s)", quoteString(t.Schedule))
	default:
		return "manual"
	}
}

func formatAction(a *dsl.Action) string {
	switch a.Kind {
	case dsl.ActionSummarize:
		return fmt.Sprintf("summarize(%s)", a.Target)
	case dsl.ActionExtractArtifacts:
		return fmt.Sprintf("extract_artifacts(%s)", a.Target)
	case dsl.ActionCheckpoint:
		return fmt.Sprintf("checkpoint(%s)", a.Target)
	case dsl.ActionPrune:
		return fmt.Sprintf("prune(%s, %s)", a.Target, formatFilterExpr(&a.Criteria))
	case dsl.ActionNotify:
		return fmt.Sprintf("notify(%s)", quoteString(a.Channel))
	case dsl.ActionInject:
		return fmt.Sprintf("inject(%s, %s)", a.InjectTarget, formatInjectionMode(a.Mode))
	case dsl.ActionAutoSummarize:
		return fmt.Sprintf("auto_summarize(%s, %s, create_edges: %t)",
			formatAbstractionLevel(a.SourceLevel), formatAbstractionLevel(a.TargetLevel), a.CreateEdges)
	default:
		return ""
	}
}

func formatInjectionMode(m dsl.InjectionMode) string {
	switch m.Kind {
	case dsl.InjectionFull:
		return "full"
	case dsl.InjectionSummary:
		return "summary"
	case dsl.InjectionTopK:
		return fmt.Sprintf("top_k(%d)", m.TopK)
	case dsl.InjectionRelevant:
		return fmt.Sprintf("relevant(%s)", formatNumber(m.Threshold))
	default:
		return "full"
	}
}

func formatAbstractionLevel(l dsl.AbstractionLevel) string {
	switch l {
	case dsl.AbstractionRaw:
		return "raw"
	case dsl.AbstractionSummary:
		return "summary"
	case dsl.AbstractionPrinciple:
		return "principle"
	default:
		return "raw"
	}
}

func formatSummarizationTrigger(t dsl.SummarizationTrigger) string {
	switch t.Kind {
	case dsl.SummarizationDosageThreshold:
		return fmt.Sprintf("dosage_reached(%d)", t.Percent)
	case dsl.SummarizationScopeClose:
		return "scope_close"
	case dsl.SummarizationTurnCount:
		return fmt.Sprintf("turn_count(%d)", t.Count)
	case dsl.SummarizationArtifactCount:
		return fmt.Sprintf("artifact_count(%d)", t.Count)
	case dsl.SummarizationManual:
		return "manual"
	default:
		return "manual"
	}
}

func formatFilterExpr(f *dsl.FilterExpr) string {
	switch f.Kind {
	case dsl.FilterExprComparison:
		return fmt.Sprintf("%s %s %s", f.Field, formatCompareOp(f.Op), formatFilterValue(f.Value))
	case dsl.FilterExprAnd:
		return joinOperands(f.Operands, " AND ")
	case dsl.FilterExprOr:
		return joinOperands(f.Operands, " OR ")
	case dsl.FilterExprNot:
		return "NOT " + formatComparisonOperand(f.Operand)
	default:
		return ""
	}
}

// joinOperands parenthesizes non-leaf operands so precedence survives the
// round trip: "a AND (b OR c)" must not reparse as "(a AND b) OR c".
func joinOperands(operands []dsl.FilterExpr, sep string) string {
	parts := make([]string, len(operands))
	for i := range operands {
		parts[i] = formatComparisonOperand(&operands[i])
	}
	return strings.Join(parts, sep)
}

func formatComparisonOperand(f *dsl.FilterExpr) string {
	s := formatFilterExpr(f)
	if f.Kind == dsl.FilterExprAnd || f.Kind == dsl.FilterExprOr {
		return "(" + s + ")"
	}
	return s
}

func formatCompareOp(op dsl.CompareOp) string {
	switch op {
	case dsl.CompareEq:
		return "=="
	case dsl.CompareNe:
		return "!="
	case dsl.CompareGt:
		return ">"
	case dsl.CompareLt:
		return "<"
	case dsl.CompareGe:
		return ">="
	case dsl.CompareLe:
		return "<="
	case dsl.CompareContains:
		return "contains"
	case dsl.CompareRegex:
		return "matches"
	case dsl.CompareIn:
		return "in"
	default:
		return "=="
	}
}

func formatFilterValue(v dsl.FilterValue) string {
	switch v.Kind {
	case dsl.FilterValString:
		return quoteString(v.Str)
	case dsl.FilterValNumber:
		return formatNumber(v.Num)
	case dsl.FilterValBool:
		return strconv.FormatBool(v.Bool)
	case dsl.FilterValNull:
		return "null"
	case dsl.FilterValCurrentTrajectory:
		return "current_trajectory"
	case dsl.FilterValCurrentScope:
		return "current_scope"
	case dsl.FilterValNow:
		return "now"
	case dsl.FilterValArray:
		parts := make([]string, len(v.Array))
		for i, elem := range v.Array {
			parts[i] = formatFilterValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "null"
	}
}

func genericFieldString(def *dsl.GenericDef, key string) string {
	for i := range def.Fields {
		f := &def.Fields[i]
		if f.Key != key {
			continue
		}
		switch f.Kind {
		case dsl.FieldString:
			return f.Str
		case dsl.FieldStringList:
			if len(f.StrList) > 0 {
				return f.StrList[0]
			}
		}
	}
	return ""
}

func quoteString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

func quoteNameIfNeeded(s string) string {
	if isIdent(s) {
		return s
	}
	return quoteString(s)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !(r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')) {
				return false
			}
			continue
		}
		if !(r == '_' || r == '.' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')) {
			return false
		}
	}
	return true
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}
