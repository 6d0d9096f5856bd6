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

package dsl

// Document is the parsed form of one pack config DSL file: an ordered list
// of top-level definitions. Order is preserved because policy evaluation
// order matters.
type Document struct {
	Policies             []PolicyDef
	Injections           []InjectionDef
	SummarizationPolicies []SummarizationPolicyDef
	Generics             []GenericDef
}

// Trigger is a policy-rule or lifecycle trigger.
type Trigger struct {
	Kind     TriggerKind
	Schedule string // only set when Kind == TriggerSchedule
}

type TriggerKind int

const (
	TriggerTaskStart TriggerKind = iota
	TriggerTaskEnd
	TriggerScopeClose
	TriggerTurnEnd
	TriggerManual
	TriggerSchedule
)

// PolicyDef is a named set of on-trigger rules.
type PolicyDef struct {
	Name  string
	Rules []PolicyRule
	Line  int
	Column int
}

// PolicyRule is one "on <trigger>: [<actions>]" clause.
type PolicyRule struct {
	Trigger Trigger
	Actions []Action
}

// ActionKind discriminates the variants of Action.
type ActionKind int

const (
	ActionSummarize ActionKind = iota
	ActionExtractArtifacts
	ActionCheckpoint
	ActionPrune
	ActionNotify
	ActionInject
	ActionAutoSummarize
)

// Action is one policy-rule action. Only the fields relevant to Kind are
// populated; a single struct with a Kind discriminant keeps the parser
// simpler than a family of interfaces would.
type Action struct {
	Kind ActionKind

	// ActionSummarize / ActionExtractArtifacts / ActionCheckpoint
	Target string

	// ActionPrune
	Criteria FilterExpr

	// ActionNotify
	Channel string

	// ActionInject
	InjectTarget string
	Mode         InjectionMode

	// ActionAutoSummarize
	SourceLevel AbstractionLevel
	TargetLevel AbstractionLevel
	CreateEdges bool
}

// InjectionModeKind discriminates InjectionMode's variants.
type InjectionModeKind int

const (
	InjectionFull InjectionModeKind = iota
	InjectionSummary
	InjectionTopK
	InjectionRelevant
)

// InjectionMode describes how memory is materialized into a prompt
// injection point.
type InjectionMode struct {
	Kind      InjectionModeKind
	TopK      int     // InjectionTopK
	Threshold float64 // InjectionRelevant
}

// InjectionDef is a parsed "inject <source> into <target> { ... }" block.
// Priority is required; there is no default.
type InjectionDef struct {
	Source   string
	Target   string
	Mode     InjectionMode
	Priority int
	MaxTokens *int
	Filter    *FilterExpr
	Line      int
	Column    int
}

// AbstractionLevel is the memory-tier an entity belongs to.
type AbstractionLevel int

const (
	AbstractionRaw AbstractionLevel = iota
	AbstractionSummary
	AbstractionPrinciple
)

// SummarizationTriggerKind discriminates SummarizationTrigger's variants.
type SummarizationTriggerKind int

const (
	SummarizationDosageThreshold SummarizationTriggerKind = iota
	SummarizationScopeClose
	SummarizationTurnCount
	SummarizationArtifactCount
	SummarizationManual
)

// SummarizationTrigger is one entry of a summarization_policy's triggers list.
type SummarizationTrigger struct {
	Kind    SummarizationTriggerKind
	Percent int // SummarizationDosageThreshold, 0-100
	Count   int // SummarizationTurnCount / SummarizationArtifactCount
}

// SummarizationPolicyDef is a parsed "summarization_policy "name" { ... }"
// block. source_level, target_level, max_sources, and create_edges are all
// required; triggers must contain at least one entry.
type SummarizationPolicyDef struct {
	Name        string
	Triggers    []SummarizationTrigger
	SourceLevel AbstractionLevel
	TargetLevel AbstractionLevel
	MaxSources  int
	CreateEdges bool
	Line        int
	Column      int
}

// GenericKind names one of the definition block kinds the grammar allows
// besides policy/injection/summarization_policy: adapter, memory, provider,
// cache, trajectory, agent, and evolve.
type GenericKind string

const (
	GenericAdapter     GenericKind = "adapter"
	GenericMemory      GenericKind = "memory"
	GenericProvider    GenericKind = "provider"
	GenericCache       GenericKind = "cache"
	GenericTrajectory  GenericKind = "trajectory"
	GenericAgent       GenericKind = "agent"
	GenericEvolve      GenericKind = "evolve"
)

// GenericDef is a name { field: value, ... } block for the definition kinds
// that carry no fixed Go-side invariants of their own; their exact field
// sets belong to the pack manifest/compiler, pkg/pack. Field order and
// raw tokens are kept so pkg/pack's compiler can interpret them against a
// kind-specific schema without the DSL parser needing to know it.
type GenericDef struct {
	Kind   GenericKind
	Name   string
	Fields []GenericField
	Line   int
	Column int
}

// GenericField is one "key: value" entry of a GenericDef, in declaration
// order. Exactly one of the value fields is meaningful, chosen by Kind.
type GenericField struct {
	Key       string
	Kind      FieldValueKind
	Str       string
	Num       float64
	Bool      bool
	StrList   []string
	NumList   []float64
	Filter    *FilterExpr
}

type FieldValueKind int

const (
	FieldString FieldValueKind = iota
	FieldNumber
	FieldBool
	FieldStringList
	FieldNumberList
	FieldFilter
)

// CompareOp is a filter-expression comparison operator.
type CompareOp int

const (
	CompareEq CompareOp = iota
	CompareNe
	CompareGt
	CompareLt
	CompareGe
	CompareLe
	CompareContains
	CompareRegex
	CompareIn
)

// FilterValueKind discriminates FilterValue's variants.
type FilterValueKind int

const (
	FilterValString FilterValueKind = iota
	FilterValNumber
	FilterValBool
	FilterValNull
	FilterValCurrentTrajectory
	FilterValCurrentScope
	FilterValNow
	FilterValArray
)

// FilterValue is the right-hand side of a filter comparison.
type FilterValue struct {
	Kind  FilterValueKind
	Str   string
	Num   float64
	Bool  bool
	Array []FilterValue
}

// FilterExprKind discriminates FilterExpr's variants.
type FilterExprKind int

const (
	FilterExprComparison FilterExprKind = iota
	FilterExprAnd
	FilterExprOr
	FilterExprNot
)

// FilterExpr is a boolean expression over entity fields, used by prune
// actions and injection filters.
type FilterExpr struct {
	Kind FilterExprKind

	// FilterExprComparison
	Field string
	Op    CompareOp
	Value FilterValue

	// FilterExprAnd / FilterExprOr (two or more operands, left-associative
	// chains collapse into a single flat slice rather than a binary tree,
	// since evaluation doesn't care about grouping once parsed)
	Operands []FilterExpr

	// FilterExprNot
	Operand *FilterExpr
}
