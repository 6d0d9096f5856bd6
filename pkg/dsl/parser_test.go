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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliberhq/caliber/pkg/caliberr"
)

func TestParse_InjectionMissingPriority(t *testing.T) {
	_, err := Parse("pack.dsl", `inject notes into system { mode: full }`)
	require.Error(t, err)

	var cerr *caliberr.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "missing_required_field", cerr.Code)
	assert.Equal(t, "priority", cerr.Field)
	assert.Contains(t, cerr.Error(), "missing required field: priority")
	assert.Equal(t, "pack.dsl:1:39", cerr.Location.String())
}

func TestParse_InjectionWithPriority(t *testing.T) {
	doc, err := Parse("pack.dsl", `inject notes into system { mode: full, priority: 10 }`)
	require.NoError(t, err)
	require.Len(t, doc.Injections, 1)

	inj := doc.Injections[0]
	assert.Equal(t, "notes", inj.Source)
	assert.Equal(t, "system", inj.Target)
	assert.Equal(t, InjectionFull, inj.Mode.Kind)
	assert.Equal(t, 10, inj.Priority)
	assert.Nil(t, inj.MaxTokens)
}

func TestParse_InjectionTopKAndRelevantModes(t *testing.T) {
	doc, err := Parse("pack.dsl", `inject artifacts into user { mode: top_k(5), priority: 1, max_tokens: 2000 }`)
	require.NoError(t, err)
	inj := doc.Injections[0]
	assert.Equal(t, InjectionTopK, inj.Mode.Kind)
	assert.Equal(t, 5, inj.Mode.TopK)
	require.NotNil(t, inj.MaxTokens)
	assert.Equal(t, 2000, *inj.MaxTokens)

	doc, err = Parse("pack.dsl", `inject artifacts into user { mode: relevant(0.75), priority: 1 }`)
	require.NoError(t, err)
	inj = doc.Injections[0]
	assert.Equal(t, InjectionRelevant, inj.Mode.Kind)
	assert.InDelta(t, 0.75, inj.Mode.Threshold, 1e-9)
}

func TestParse_PolicyWithActions(t *testing.T) {
	src := `
policy retention_policy {
	on scope_close: [
		summarize(scope),
		checkpoint(scope),
		prune(notes, relevance < 0.2 and age > 86400),
		notify("ops_channel")
	]
}`
	doc, err := Parse("pack.dsl", src)
	require.NoError(t, err)
	require.Len(t, doc.Policies, 1)
	pol := doc.Policies[0]
	assert.Equal(t, "retention_policy", pol.Name)
	require.Len(t, pol.Rules, 1)
	rule := pol.Rules[0]
	assert.Equal(t, TriggerScopeClose, rule.Trigger.Kind)
	require.Len(t, rule.Actions, 4)
	assert.Equal(t, ActionSummarize, rule.Actions[0].Kind)
	assert.Equal(t, "scope", rule.Actions[0].Target)
	assert.Equal(t, ActionCheckpoint, rule.Actions[1].Kind)
	assert.Equal(t, ActionPrune, rule.Actions[2].Kind)
	assert.Equal(t, "notes", rule.Actions[2].Target)
	assert.Equal(t, FilterExprAnd, rule.Actions[2].Criteria.Kind)
	assert.Equal(t, ActionNotify, rule.Actions[3].Kind)
	assert.Equal(t, "ops_channel", rule.Actions[3].Channel)
}

func TestParse_AutoSummarizeAction(t *testing.T) {
	src := `
policy p {
	on turn_end: [auto_summarize(raw, summary, create_edges: true)]
}`
	doc, err := Parse("pack.dsl", src)
	require.NoError(t, err)
	act := doc.Policies[0].Rules[0].Actions[0]
	assert.Equal(t, ActionAutoSummarize, act.Kind)
	assert.Equal(t, AbstractionRaw, act.SourceLevel)
	assert.Equal(t, AbstractionSummary, act.TargetLevel)
	assert.True(t, act.CreateEdges)
}

func TestParse_SummarizationPolicyRequiredFields(t *testing.T) {
	_, err := Parse("pack.dsl", `summarization_policy "p" {
		triggers: [scope_close]
		source_level: raw
		target_level: summary
	}`)
	require.Error(t, err)
	var cerr *caliberr.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "max_sources", cerr.Field)
}

func TestParse_SummarizationPolicyComplete(t *testing.T) {
	src := `summarization_policy "nightly" {
		triggers: [dosage_reached(80), turn_count(5), artifact_count(10), manual]
		source_level: raw
		target_level: principle
		max_sources: 20
		create_edges: true
	}`
	doc, err := Parse("pack.dsl", src)
	require.NoError(t, err)
	require.Len(t, doc.SummarizationPolicies, 1)
	sp := doc.SummarizationPolicies[0]
	assert.Equal(t, "nightly", sp.Name)
	require.Len(t, sp.Triggers, 4)
	assert.Equal(t, SummarizationDosageThreshold, sp.Triggers[0].Kind)
	assert.Equal(t, 80, sp.Triggers[0].Percent)
	assert.Equal(t, 20, sp.MaxSources)
	assert.True(t, sp.CreateEdges)
}

func TestParse_SummarizationPolicyRequiresAtLeastOneTrigger(t *testing.T) {
	_, err := Parse("pack.dsl", `summarization_policy "p" {
		triggers: []
		source_level: raw
		target_level: summary
		max_sources: 10
		create_edges: false
	}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one trigger")
}

func TestParse_FilterExprPrecedenceAndGrouping(t *testing.T) {
	doc, err := Parse("pack.dsl", `policy p {
		on manual: [prune(notes, not (a == 1 or b == 2) and c contains "x")]
	}`)
	require.NoError(t, err)
	expr := doc.Policies[0].Rules[0].Actions[0].Criteria
	require.Equal(t, FilterExprAnd, expr.Kind)
	require.Len(t, expr.Operands, 2)
	assert.Equal(t, FilterExprNot, expr.Operands[0].Kind)
	assert.Equal(t, FilterExprComparison, expr.Operands[1].Kind)
	assert.Equal(t, CompareContains, expr.Operands[1].Op)
}

func TestParse_GenericTrajectoryDefinition(t *testing.T) {
	src := `trajectory "customer_support" {
		description: "Multi-turn support interaction"
		agent_type: "support_agent"
		token_budget: 8000
		memory_refs: [artifacts, notes, scopes]
	}`
	doc, err := Parse("pack.dsl", src)
	require.NoError(t, err)
	require.Len(t, doc.Generics, 1)
	gen := doc.Generics[0]
	assert.Equal(t, GenericTrajectory, gen.Kind)
	assert.Equal(t, "customer_support", gen.Name)
	require.Len(t, gen.Fields, 4)
	assert.Equal(t, "token_budget", gen.Fields[2].Key)
	assert.Equal(t, FieldNumber, gen.Fields[2].Kind)
	assert.Equal(t, float64(8000), gen.Fields[2].Num)
}

func TestParse_UnexpectedTopLevelTokenFails(t *testing.T) {
	_, err := Parse("pack.dsl", `not_a_keyword "x" {}`)
	require.Error(t, err)
}
