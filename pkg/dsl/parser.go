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
	"fmt"

	"github.com/caliberhq/caliber/pkg/caliberr"
)

// Parser is a recursive-descent parser over a pre-lexed token stream.
type Parser struct {
	file   string
	tokens []Token
	pos    int
}

// Parse lexes and parses src in one call, the entry point pkg/pack's
// manifest compiler and the /api/v1/dsl/validate endpoint both use.
func Parse(file, src string) (*Document, error) {
	toks, err := NewLexer(file, src).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{file: file, tokens: toks}
	return p.parseDocument()
}

func (p *Parser) current() Token { return p.tokens[p.pos] }

func (p *Parser) loc() caliberr.Location {
	t := p.current()
	return caliberr.Location{File: p.file, Line: t.Line, Column: t.Column}
}

func (p *Parser) advance() Token {
	t := p.tokens[p.pos]
	if p.tokens[p.pos].Kind != TokenEOF {
		p.pos++
	}
	return t
}

func (p *Parser) errorf(format string, args ...any) error {
	return caliberr.Validation("dsl_parse_error", fmt.Sprintf(format, args...)).
		WithDetail("location", p.loc().String())
}

func (p *Parser) missingField(name string) error {
	return caliberr.MissingRequiredField(name, p.loc())
}

func (p *Parser) expectKind(k TokenKind, what string) (Token, error) {
	if p.current().Kind != k {
		return Token{}, p.errorf("expected %s, found %q", what, p.current().Text)
	}
	return p.advance(), nil
}

func (p *Parser) expectKeyword(s string) error {
	if !p.current().Is(s) {
		return p.errorf("expected %q, found %q", s, p.current().Text)
	}
	p.advance()
	return nil
}

func (p *Parser) expectString() (string, error) {
	t, err := p.expectKind(TokenString, "string literal")
	if err != nil {
		return "", err
	}
	return t.Text, nil
}

func (p *Parser) expectNumber() (float64, error) {
	t, err := p.expectKind(TokenNumber, "number literal")
	if err != nil {
		return 0, err
	}
	return t.Num, nil
}

// expectFieldName accepts any bare Ident: keywords and field names share
// the same token kind (see token.go), so this is identical to expecting an
// identifier. Kept as its own method because callers express field-name
// intent distinctly from keyword intent.
func (p *Parser) expectFieldName() (string, error) {
	t, err := p.expectKind(TokenIdent, "field name")
	if err != nil {
		return "", err
	}
	return t.Text, nil
}

func (p *Parser) expectIdentifier() (string, error) {
	return p.expectFieldName()
}

func (p *Parser) optionalComma() {
	if p.current().Kind == TokenComma {
		p.advance()
	}
}

func (p *Parser) parseBool() (bool, error) {
	switch {
	case p.current().Is("true"):
		p.advance()
		return true, nil
	case p.current().Is("false"):
		p.advance()
		return false, nil
	default:
		return false, p.errorf("expected boolean (true or false)")
	}
}

// parseDocument parses the whole file as an ordered sequence of top-level
// definitions, preserving declaration order (policies evaluate in the order
// they were declared).
func (p *Parser) parseDocument() (*Document, error) {
	doc := &Document{}
	for p.current().Kind != TokenEOF {
		switch {
		case p.current().Is("policy"):
			def, err := p.parsePolicy()
			if err != nil {
				return nil, err
			}
			doc.Policies = append(doc.Policies, *def)
		case p.current().Is("inject"):
			def, err := p.parseInjection()
			if err != nil {
				return nil, err
			}
			doc.Injections = append(doc.Injections, *def)
		case p.current().Is("summarization_policy"):
			def, err := p.parseSummarizationPolicy()
			if err != nil {
				return nil, err
			}
			doc.SummarizationPolicies = append(doc.SummarizationPolicies, *def)
		case isGenericKeyword(p.current().Text) && p.current().Kind == TokenIdent:
			def, err := p.parseGeneric(GenericKind(p.current().Text))
			if err != nil {
				return nil, err
			}
			doc.Generics = append(doc.Generics, *def)
		default:
			return nil, p.errorf("expected a top-level definition, found %q", p.current().Text)
		}
	}
	return doc, nil
}

func isGenericKeyword(s string) bool {
	switch GenericKind(s) {
	case GenericAdapter, GenericMemory, GenericProvider, GenericCache, GenericTrajectory, GenericAgent, GenericEvolve:
		return true
	default:
		return false
	}
}

// parsePolicy parses "policy <name> { on <trigger>: [<actions>] ... }".
func (p *Parser) parsePolicy() (*PolicyDef, error) {
	line, col := p.current().Line, p.current().Column
	if err := p.expectKeyword("policy"); err != nil {
		return nil, err
	}
	name, err := p.expectIdentifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKind(TokenLBrace, "{"); err != nil {
		return nil, err
	}

	var rules []PolicyRule
	for p.current().Kind != TokenRBrace {
		if !p.current().Is("on") {
			return nil, p.errorf("expected 'on' trigger, found %q", p.current().Text)
		}
		p.advance()
		trig, err := p.parseTrigger()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenColon, ":"); err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenLBracket, "["); err != nil {
			return nil, err
		}
		var actions []Action
		for p.current().Kind != TokenRBracket {
			act, err := p.parseAction()
			if err != nil {
				return nil, err
			}
			actions = append(actions, *act)
			p.optionalComma()
		}
		if _, err := p.expectKind(TokenRBracket, "]"); err != nil {
			return nil, err
		}
		rules = append(rules, PolicyRule{Trigger: *trig, Actions: actions})
	}
	if _, err := p.expectKind(TokenRBrace, "}"); err != nil {
		return nil, err
	}
	return &PolicyDef{Name: name, Rules: rules, Line: line, Column: col}, nil
}

func (p *Parser) parseTrigger() (*Trigger, error) {
	t := p.current()
	switch {
	case t.Is("task_start"):
		p.advance()
		return &Trigger{Kind: TriggerTaskStart}, nil
	case t.Is("task_end"):
		p.advance()
		return &Trigger{Kind: TriggerTaskEnd}, nil
	case t.Is("scope_close"):
		p.advance()
		return &Trigger{Kind: TriggerScopeClose}, nil
	case t.Is("turn_end"):
		p.advance()
		return &Trigger{Kind: TriggerTurnEnd}, nil
	case t.Is("manual"):
		p.advance()
		return &Trigger{Kind: TriggerManual}, nil
	case t.Is("schedule"):
		p.advance()
		if _, err := p.expectKind(TokenLParen, "("); err != nil {
			return nil, err
		}
		cron, err := p.expectString()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &Trigger{Kind: TriggerSchedule, Schedule: cron}, nil
	default:
		return nil, p.errorf("expected trigger, found %q", t.Text)
	}
}

func (p *Parser) parseAction() (*Action, error) {
	t := p.current()
	switch {
	case t.Is("summarize"):
		p.advance()
		target, err := p.parseParenField()
		if err != nil {
			return nil, err
		}
		return &Action{Kind: ActionSummarize, Target: target}, nil
	case t.Is("extract_artifacts"):
		p.advance()
		target, err := p.parseParenField()
		if err != nil {
			return nil, err
		}
		return &Action{Kind: ActionExtractArtifacts, Target: target}, nil
	case t.Is("checkpoint"):
		p.advance()
		target, err := p.parseParenField()
		if err != nil {
			return nil, err
		}
		return &Action{Kind: ActionCheckpoint, Target: target}, nil
	case t.Is("prune"):
		p.advance()
		if _, err := p.expectKind(TokenLParen, "("); err != nil {
			return nil, err
		}
		target, err := p.expectFieldName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenComma, ","); err != nil {
			return nil, err
		}
		criteria, err := p.parseFilterExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &Action{Kind: ActionPrune, Target: target, Criteria: *criteria}, nil
	case t.Is("notify"):
		p.advance()
		if _, err := p.expectKind(TokenLParen, "("); err != nil {
			return nil, err
		}
		channel, err := p.expectString()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &Action{Kind: ActionNotify, Channel: channel}, nil
	case t.Is("inject"):
		p.advance()
		if _, err := p.expectKind(TokenLParen, "("); err != nil {
			return nil, err
		}
		target, err := p.expectFieldName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenComma, ","); err != nil {
			return nil, err
		}
		mode, err := p.parseInjectionMode()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &Action{Kind: ActionInject, InjectTarget: target, Mode: *mode}, nil
	case t.Is("auto_summarize"):
		p.advance()
		if _, err := p.expectKind(TokenLParen, "("); err != nil {
			return nil, err
		}
		source, err := p.parseAbstractionLevel()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenComma, ","); err != nil {
			return nil, err
		}
		target, err := p.parseAbstractionLevel()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenComma, ","); err != nil {
			return nil, err
		}
		field, err := p.expectFieldName()
		if err != nil {
			return nil, err
		}
		if field != "create_edges" {
			return nil, p.errorf("expected 'create_edges:' parameter, found %q", field)
		}
		if _, err := p.expectKind(TokenColon, ":"); err != nil {
			return nil, err
		}
		createEdges, err := p.parseBool()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &Action{
			Kind:        ActionAutoSummarize,
			SourceLevel: source,
			TargetLevel: target,
			CreateEdges: createEdges,
		}, nil
	default:
		return nil, p.errorf("expected action, found %q", t.Text)
	}
}

// parseParenField parses the common "(<field_name>)" shape shared by
// summarize/extract_artifacts/checkpoint.
func (p *Parser) parseParenField() (string, error) {
	if _, err := p.expectKind(TokenLParen, "("); err != nil {
		return "", err
	}
	target, err := p.expectFieldName()
	if err != nil {
		return "", err
	}
	if _, err := p.expectKind(TokenRParen, ")"); err != nil {
		return "", err
	}
	return target, nil
}

// parseInjection parses "inject <source> into <target> { ... }". priority
// is required; there is no default.
func (p *Parser) parseInjection() (*InjectionDef, error) {
	line, col := p.current().Line, p.current().Column
	if err := p.expectKeyword("inject"); err != nil {
		return nil, err
	}
	source, err := p.expectFieldName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("into"); err != nil {
		return nil, err
	}
	target, err := p.expectFieldName()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKind(TokenLBrace, "{"); err != nil {
		return nil, err
	}

	mode := InjectionMode{Kind: InjectionFull}
	var priority *int
	var maxTokens *int
	var filter *FilterExpr

	for p.current().Kind != TokenRBrace {
		field, err := p.expectFieldName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenColon, ":"); err != nil {
			return nil, err
		}
		switch field {
		case "mode":
			m, err := p.parseInjectionMode()
			if err != nil {
				return nil, err
			}
			mode = *m
		case "priority":
			n, err := p.expectNumber()
			if err != nil {
				return nil, err
			}
			v := int(n)
			priority = &v
		case "max_tokens":
			n, err := p.expectNumber()
			if err != nil {
				return nil, err
			}
			v := int(n)
			maxTokens = &v
		case "filter":
			f, err := p.parseFilterExpr()
			if err != nil {
				return nil, err
			}
			filter = f
		default:
			return nil, p.errorf("unknown field: %s", field)
		}
		p.optionalComma()
	}
	closeLine, closeCol := p.current().Line, p.current().Column
	if _, err := p.expectKind(TokenRBrace, "}"); err != nil {
		return nil, err
	}

	if priority == nil {
		return nil, caliberr.MissingRequiredField("priority",
			caliberr.Location{File: p.file, Line: closeLine, Column: closeCol})
	}

	return &InjectionDef{
		Source:    source,
		Target:    target,
		Mode:      mode,
		Priority:  *priority,
		MaxTokens: maxTokens,
		Filter:    filter,
		Line:      line,
		Column:    col,
	}, nil
}

func (p *Parser) parseInjectionMode() (*InjectionMode, error) {
	t := p.current()
	switch {
	case t.Is("full"):
		p.advance()
		return &InjectionMode{Kind: InjectionFull}, nil
	case t.Is("summary"):
		p.advance()
		return &InjectionMode{Kind: InjectionSummary}, nil
	case t.Is("top_k"):
		p.advance()
		if _, err := p.expectKind(TokenLParen, "("); err != nil {
			return nil, err
		}
		n, err := p.expectNumber()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &InjectionMode{Kind: InjectionTopK, TopK: int(n)}, nil
	case t.Is("relevant"):
		p.advance()
		if _, err := p.expectKind(TokenLParen, "("); err != nil {
			return nil, err
		}
		n, err := p.expectNumber()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &InjectionMode{Kind: InjectionRelevant, Threshold: n}, nil
	default:
		return nil, p.errorf("expected injection mode, found %q", t.Text)
	}
}

func (p *Parser) parseAbstractionLevel() (AbstractionLevel, error) {
	t := p.current()
	switch {
	case t.Is("raw"):
		p.advance()
		return AbstractionRaw, nil
	case t.Is("summary"):
		p.advance()
		return AbstractionSummary, nil
	case t.Is("principle"):
		p.advance()
		return AbstractionPrinciple, nil
	default:
		return 0, p.errorf("expected abstraction level (raw, summary, principle), found %q", t.Text)
	}
}

// parseSummarizationPolicy parses "summarization_policy <name> { ... }".
// source_level, target_level, max_sources, and create_edges are all
// required; triggers must contain at least one entry.
func (p *Parser) parseSummarizationPolicy() (*SummarizationPolicyDef, error) {
	line, col := p.current().Line, p.current().Column
	if err := p.expectKeyword("summarization_policy"); err != nil {
		return nil, err
	}
	name, err := p.expectString()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKind(TokenLBrace, "{"); err != nil {
		return nil, err
	}

	var triggers []SummarizationTrigger
	var sourceLevel, targetLevel *AbstractionLevel
	var maxSources *int
	var createEdges *bool

	for p.current().Kind != TokenRBrace {
		fieldLine, fieldCol := p.current().Line, p.current().Column
		field, err := p.expectFieldName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenColon, ":"); err != nil {
			return nil, err
		}
		switch field {
		case "triggers":
			if _, err := p.expectKind(TokenLBracket, "["); err != nil {
				return nil, err
			}
			for p.current().Kind != TokenRBracket {
				trig, err := p.parseSummarizationTrigger()
				if err != nil {
					return nil, err
				}
				triggers = append(triggers, *trig)
				p.optionalComma()
			}
			if _, err := p.expectKind(TokenRBracket, "]"); err != nil {
				return nil, err
			}
		case "source_level":
			lvl, err := p.parseAbstractionLevel()
			if err != nil {
				return nil, err
			}
			sourceLevel = &lvl
		case "target_level":
			lvl, err := p.parseAbstractionLevel()
			if err != nil {
				return nil, err
			}
			targetLevel = &lvl
		case "max_sources":
			n, err := p.expectNumber()
			if err != nil {
				return nil, err
			}
			v := int(n)
			maxSources = &v
		case "create_edges":
			b, err := p.parseBool()
			if err != nil {
				return nil, err
			}
			createEdges = &b
		default:
			return nil, caliberr.Validation("dsl_parse_error", "unknown summarization_policy field: "+field).
				WithDetail("location", caliberr.Location{File: p.file, Line: fieldLine, Column: fieldCol}.String())
		}
	}
	closeLine, closeCol := p.current().Line, p.current().Column
	if _, err := p.expectKind(TokenRBrace, "}"); err != nil {
		return nil, err
	}

	closeLoc := caliberr.Location{File: p.file, Line: closeLine, Column: closeCol}
	if sourceLevel == nil {
		return nil, caliberr.MissingRequiredField("source_level", closeLoc)
	}
	if targetLevel == nil {
		return nil, caliberr.MissingRequiredField("target_level", closeLoc)
	}
	if maxSources == nil {
		return nil, caliberr.MissingRequiredField("max_sources", closeLoc)
	}
	if createEdges == nil {
		return nil, caliberr.MissingRequiredField("create_edges", closeLoc)
	}
	if len(triggers) == 0 {
		return nil, caliberr.Validation("dsl_parse_error", "triggers must contain at least one trigger").
			WithDetail("location", closeLoc.String())
	}

	return &SummarizationPolicyDef{
		Name:        name,
		Triggers:    triggers,
		SourceLevel: *sourceLevel,
		TargetLevel: *targetLevel,
		MaxSources:  *maxSources,
		CreateEdges: *createEdges,
		Line:        line,
		Column:      col,
	}, nil
}

func (p *Parser) parseSummarizationTrigger() (*SummarizationTrigger, error) {
	t := p.current()
	switch {
	case t.Is("dosage_reached"):
		p.advance()
		if _, err := p.expectKind(TokenLParen, "("); err != nil {
			return nil, err
		}
		n, err := p.expectNumber()
		if err != nil {
			return nil, err
		}
		if n < 0 || n > 100 {
			return nil, p.errorf("dosage_reached percent must be 0-100")
		}
		if _, err := p.expectKind(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &SummarizationTrigger{Kind: SummarizationDosageThreshold, Percent: int(n)}, nil
	case t.Is("scope_close"):
		p.advance()
		return &SummarizationTrigger{Kind: SummarizationScopeClose}, nil
	case t.Is("turn_count"):
		p.advance()
		if _, err := p.expectKind(TokenLParen, "("); err != nil {
			return nil, err
		}
		n, err := p.expectNumber()
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, p.errorf("turn_count must be positive")
		}
		if _, err := p.expectKind(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &SummarizationTrigger{Kind: SummarizationTurnCount, Count: int(n)}, nil
	case t.Is("artifact_count"):
		p.advance()
		if _, err := p.expectKind(TokenLParen, "("); err != nil {
			return nil, err
		}
		n, err := p.expectNumber()
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, p.errorf("artifact_count must be positive")
		}
		if _, err := p.expectKind(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &SummarizationTrigger{Kind: SummarizationArtifactCount, Count: int(n)}, nil
	case t.Is("manual"):
		p.advance()
		return &SummarizationTrigger{Kind: SummarizationManual}, nil
	default:
		return nil, p.errorf("expected summarization trigger (dosage_reached, scope_close, turn_count, artifact_count, manual), found %q", t.Text)
	}
}

// parseGeneric parses one of the loosely-typed definition blocks (adapter,
// memory, provider, cache, trajectory, agent, evolve): "<kind> <name> {
// field: value, ... }". Field interpretation against a kind-specific schema
// is pkg/pack's job, not the DSL parser's; this only has to preserve
// structure faithfully.
func (p *Parser) parseGeneric(kind GenericKind) (*GenericDef, error) {
	line, col := p.current().Line, p.current().Column
	p.advance() // the kind keyword itself

	var name string
	var err error
	if p.current().Kind == TokenString {
		name, err = p.expectString()
	} else {
		name, err = p.expectIdentifier()
	}
	if err != nil {
		return nil, err
	}

	if _, err := p.expectKind(TokenLBrace, "{"); err != nil {
		return nil, err
	}

	var fields []GenericField
	for p.current().Kind != TokenRBrace {
		key, err := p.expectFieldName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenColon, ":"); err != nil {
			return nil, err
		}
		field, err := p.parseGenericValue(key)
		if err != nil {
			return nil, err
		}
		fields = append(fields, *field)
		p.optionalComma()
	}
	if _, err := p.expectKind(TokenRBrace, "}"); err != nil {
		return nil, err
	}

	return &GenericDef{Kind: kind, Name: name, Fields: fields, Line: line, Column: col}, nil
}

func (p *Parser) parseGenericValue(key string) (*GenericField, error) {
	switch p.current().Kind {
	case TokenString:
		t := p.advance()
		return &GenericField{Key: key, Kind: FieldString, Str: t.Text}, nil
	case TokenNumber:
		t := p.advance()
		return &GenericField{Key: key, Kind: FieldNumber, Num: t.Num}, nil
	case TokenIdent:
		if p.current().Is("true") || p.current().Is("false") {
			b, err := p.parseBool()
			if err != nil {
				return nil, err
			}
			return &GenericField{Key: key, Kind: FieldBool, Bool: b}, nil
		}
		// A bare identifier value (e.g. a filter field reference, or an
		// enum-like keyword) is carried through as a single-element
		// string list so callers can tell it apart from a quoted string.
		t := p.advance()
		return &GenericField{Key: key, Kind: FieldStringList, StrList: []string{t.Text}}, nil
	case TokenLBracket:
		p.advance()
		var strs []string
		var nums []float64
		isNumeric := p.current().Kind == TokenNumber
		for p.current().Kind != TokenRBracket {
			if isNumeric {
				n, err := p.expectNumber()
				if err != nil {
					return nil, err
				}
				nums = append(nums, n)
			} else if p.current().Kind == TokenString {
				s, err := p.expectString()
				if err != nil {
					return nil, err
				}
				strs = append(strs, s)
			} else {
				t := p.advance()
				strs = append(strs, t.Text)
			}
			p.optionalComma()
		}
		if _, err := p.expectKind(TokenRBracket, "]"); err != nil {
			return nil, err
		}
		if isNumeric {
			return &GenericField{Key: key, Kind: FieldNumberList, NumList: nums}, nil
		}
		return &GenericField{Key: key, Kind: FieldStringList, StrList: strs}, nil
	case TokenLParen:
		// filter(...)-shaped value
		p.advance()
		f, err := p.parseFilterExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &GenericField{Key: key, Kind: FieldFilter, Filter: f}, nil
	default:
		return nil, p.errorf("expected a field value for %q", key)
	}
}

// parseFilterExpr parses a boolean filter expression, delegating down
// through or/and/comparison in ascending precedence, the same grammar as
// prune()'s criteria and an injection's filter field.
func (p *Parser) parseFilterExpr() (*FilterExpr, error) {
	return p.parseOrExpr()
}

func (p *Parser) parseOrExpr() (*FilterExpr, error) {
	left, err := p.parseAndExpr()
	if err != nil {
		return nil, err
	}
	operands := []FilterExpr{*left}
	for p.current().Is("or") || p.current().Is("OR") {
		p.advance()
		right, err := p.parseAndExpr()
		if err != nil {
			return nil, err
		}
		operands = append(operands, *right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return &FilterExpr{Kind: FilterExprOr, Operands: operands}, nil
}

func (p *Parser) parseAndExpr() (*FilterExpr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	operands := []FilterExpr{*left}
	for p.current().Is("and") || p.current().Is("AND") {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		operands = append(operands, *right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return &FilterExpr{Kind: FilterExprAnd, Operands: operands}, nil
}

func (p *Parser) parseComparison() (*FilterExpr, error) {
	if p.current().Is("not") || p.current().Is("NOT") {
		p.advance()
		expr, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		return &FilterExpr{Kind: FilterExprNot, Operand: expr}, nil
	}

	if p.current().Kind == TokenLParen {
		p.advance()
		expr, err := p.parseFilterExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return expr, nil
	}

	field, err := p.expectFieldName()
	if err != nil {
		return nil, err
	}
	op, err := p.parseCompareOp()
	if err != nil {
		return nil, err
	}
	value, err := p.parseFilterValue()
	if err != nil {
		return nil, err
	}
	return &FilterExpr{Kind: FilterExprComparison, Field: field, Op: op, Value: *value}, nil
}

func (p *Parser) parseCompareOp() (CompareOp, error) {
	t := p.current()
	switch t.Kind {
	case TokenEq:
		p.advance()
		return CompareEq, nil
	case TokenNotEq:
		p.advance()
		return CompareNe, nil
	case TokenGt:
		p.advance()
		return CompareGt, nil
	case TokenLt:
		p.advance()
		return CompareLt, nil
	case TokenGte:
		p.advance()
		return CompareGe, nil
	case TokenLte:
		p.advance()
		return CompareLe, nil
	}
	switch {
	case t.Is("contains"):
		p.advance()
		return CompareContains, nil
	case t.Is("matches"):
		p.advance()
		return CompareRegex, nil
	case t.Is("in"):
		p.advance()
		return CompareIn, nil
	default:
		return 0, p.errorf("expected comparison operator, found %q", t.Text)
	}
}

func (p *Parser) parseFilterValue() (*FilterValue, error) {
	t := p.current()
	switch {
	case t.Kind == TokenString:
		p.advance()
		return &FilterValue{Kind: FilterValString, Str: t.Text}, nil
	case t.Kind == TokenNumber:
		p.advance()
		return &FilterValue{Kind: FilterValNumber, Num: t.Num}, nil
	case t.Is("true"):
		p.advance()
		return &FilterValue{Kind: FilterValBool, Bool: true}, nil
	case t.Is("false"):
		p.advance()
		return &FilterValue{Kind: FilterValBool, Bool: false}, nil
	case t.Is("null"):
		p.advance()
		return &FilterValue{Kind: FilterValNull}, nil
	case t.Is("current_trajectory"):
		p.advance()
		return &FilterValue{Kind: FilterValCurrentTrajectory}, nil
	case t.Is("current_scope"):
		p.advance()
		return &FilterValue{Kind: FilterValCurrentScope}, nil
	case t.Is("now"):
		p.advance()
		return &FilterValue{Kind: FilterValNow}, nil
	case t.Kind == TokenLBracket:
		p.advance()
		var values []FilterValue
		for p.current().Kind != TokenRBracket {
			v, err := p.parseFilterValue()
			if err != nil {
				return nil, err
			}
			values = append(values, *v)
			p.optionalComma()
		}
		if _, err := p.expectKind(TokenRBracket, "]"); err != nil {
			return nil, err
		}
		return &FilterValue{Kind: FilterValArray, Array: values}, nil
	default:
		return nil, p.errorf("expected filter value, found %q", t.Text)
	}
}
