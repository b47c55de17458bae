// Package parser turns an AXON token stream into the cognitive AST.
//
// Recursive descent, one function per grammar production, single-token
// lookahead. There is no error recovery: the parser stops at the first
// parse error. Field vocabularies inside blocks are closed — an unknown
// field name is a parse error, not a warning.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/axonlang/axon/internal/ast"
	"github.com/axonlang/axon/internal/token"
)

// #region error

// Error is a parse error with the expected/found pair and exact position.
type Error struct {
	Message  string
	Expected string
	Found    string
	Line     int
	Column   int
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Expected != "" && e.Found != "" {
		msg = fmt.Sprintf("%s (expected %s, found %s)", msg, e.Expected, e.Found)
	}
	return fmt.Sprintf("ParseError [line %d, col %d]: %s", e.Line, e.Column, msg)
}

// #endregion error

// #region parser

// Parser holds the token vector and a cursor into it.
type Parser struct {
	tokens []token.Token
	pos    int
}

// New creates a parser over a token list (must be EOF-terminated).
func New(tokens []token.Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse consumes the full token stream and returns the program root.
func (p *Parser) Parse() (*ast.Program, error) {
	program := &ast.Program{Position: ast.Position{Line: 1, Column: 1}}
	for !p.check(token.EOF) {
		decl, err := p.parseDeclaration()
		if err != nil {
			return nil, err
		}
		program.Declarations = append(program.Declarations, decl)
	}
	return program, nil
}

// #endregion parser

// #region top-level

func (p *Parser) parseDeclaration() (ast.Node, error) {
	tok := p.peek()
	switch tok.Kind {
	case token.IMPORT:
		return p.parseImport()
	case token.PERSONA:
		return p.parsePersona()
	case token.CONTEXT:
		return p.parseContext()
	case token.ANCHOR:
		return p.parseAnchor()
	case token.MEMORY:
		return p.parseMemory()
	case token.TOOL:
		return p.parseTool()
	case token.TYPE:
		return p.parseType()
	case token.FLOW:
		return p.parseFlow()
	case token.INTENT:
		return p.parseIntent()
	case token.RUN:
		return p.parseRun()
	default:
		return nil, p.errorf(tok, "declaration (persona, context, anchor, flow, run, ...)",
			"unexpected token at top level")
	}
}

// parseImport handles: import axon.anchors.{NoHallucination, NoBias}
// The dot immediately before '{' separates the path from the named-import
// list; it is not another path segment.
func (p *Parser) parseImport() (*ast.Import, error) {
	tok, _ := p.expect(token.IMPORT)
	node := &ast.Import{Position: pos(tok)}

	first, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node.ModulePath = []string{first.Lexeme}
	for p.check(token.DOT) {
		p.advance()
		if p.check(token.LBRACE) {
			break
		}
		part, err := p.expect(token.IDENTIFIER)
		if err != nil {
			return nil, err
		}
		node.ModulePath = append(node.ModulePath, part.Lexeme)
	}

	if p.check(token.LBRACE) {
		p.advance()
		names, err := p.identifierList()
		if err != nil {
			return nil, err
		}
		node.Names = names
		if _, err := p.expect(token.RBRACE); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// #endregion top-level

// #region persona

func (p *Parser) parsePersona() (*ast.Persona, error) {
	tok, _ := p.expect(token.PERSONA)
	name, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node := &ast.Persona{Position: pos(tok), Name: name.Lexeme}
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}

	for !p.check(token.RBRACE) {
		field := p.advance()
		if _, err := p.expect(token.COLON); err != nil {
			return nil, err
		}
		switch field.Lexeme {
		case "domain":
			node.Domain, err = p.stringList()
		case "tone":
			node.Tone, err = p.identifierOrKeyword()
		case "confidence_threshold":
			node.ConfidenceThreshold, err = p.floatPtr()
		case "cite_sources":
			node.CiteSources, err = p.boolPtr()
		case "refuse_if":
			node.RefuseIf, err = p.bracketedIdentifiers()
		case "language":
			node.Language, err = p.stringValue()
		case "description":
			node.Description, err = p.stringValue()
		default:
			return nil, p.errorf(field,
				"domain, tone, confidence_threshold, cite_sources, refuse_if, language, description",
				"unknown field %q in persona block", field.Lexeme)
		}
		if err != nil {
			return nil, err
		}
	}
	p.advance() // RBRACE
	return node, nil
}

// #endregion persona

// #region context

func (p *Parser) parseContext() (*ast.Context, error) {
	tok, _ := p.expect(token.CONTEXT)
	name, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node := &ast.Context{Position: pos(tok), Name: name.Lexeme}
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}

	for !p.check(token.RBRACE) {
		field := p.advance()
		if _, err := p.expect(token.COLON); err != nil {
			return nil, err
		}
		switch field.Lexeme {
		case "memory":
			node.MemoryScope, err = p.identifierOrKeyword()
		case "language":
			node.Language, err = p.stringValue()
		case "depth":
			node.Depth, err = p.identifierOrKeyword()
		case "max_tokens":
			node.MaxTokens, err = p.intPtr()
		case "temperature":
			node.Temperature, err = p.floatPtr()
		case "cite_sources":
			node.CiteSources, err = p.boolPtr()
		default:
			return nil, p.errorf(field,
				"memory, language, depth, max_tokens, temperature, cite_sources",
				"unknown field %q in context block", field.Lexeme)
		}
		if err != nil {
			return nil, err
		}
	}
	p.advance()
	return node, nil
}

// #endregion context

// #region anchor

func (p *Parser) parseAnchor() (*ast.Anchor, error) {
	tok, _ := p.expect(token.ANCHOR)
	name, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node := &ast.Anchor{Position: pos(tok), Name: name.Lexeme}
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}

	for !p.check(token.RBRACE) {
		field := p.advance()
		if _, err := p.expect(token.COLON); err != nil {
			return nil, err
		}
		switch field.Lexeme {
		case "require":
			node.Require, err = p.identifierOrKeyword()
		case "reject":
			node.Reject, err = p.bracketedIdentifiers()
		case "enforce":
			node.Enforce, err = p.identifierOrKeyword()
		case "confidence_floor":
			node.ConfidenceFloor, err = p.floatPtr()
		case "unknown_response":
			node.UnknownResponse, err = p.stringValue()
		case "on_violation":
			node.OnViolation, node.OnViolationTarget, err = p.violationAction()
		default:
			return nil, p.errorf(field,
				"require, reject, enforce, confidence_floor, unknown_response, on_violation",
				"unknown field %q in anchor block", field.Lexeme)
		}
		if err != nil {
			return nil, err
		}
	}
	p.advance()
	return node, nil
}

// violationAction parses: raise Err | warn | log | escalate |
// fallback("...") | retry(n)
func (p *Parser) violationAction() (action, target string, err error) {
	tok := p.peek()
	switch tok.Lexeme {
	case "raise":
		p.advance()
		t, err := p.expect(token.IDENTIFIER)
		if err != nil {
			return "", "", err
		}
		return "raise", t.Lexeme, nil
	case "warn", "log", "escalate":
		p.advance()
		return tok.Lexeme, "", nil
	case "fallback":
		p.advance()
		if _, err := p.expect(token.LPAREN); err != nil {
			return "", "", err
		}
		msg, err := p.expect(token.STRING)
		if err != nil {
			return "", "", err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return "", "", err
		}
		return "fallback", msg.Lexeme, nil
	case "retry":
		p.advance()
		if _, err := p.expect(token.LPAREN); err != nil {
			return "", "", err
		}
		n, err := p.expect(token.INTEGER)
		if err != nil {
			return "", "", err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return "", "", err
		}
		return "retry", n.Lexeme, nil
	default:
		return "", "", p.errorf(tok, "raise, warn, log, escalate, fallback, retry",
			"unknown violation action %q", tok.Lexeme)
	}
}

// #endregion anchor

// #region memory

func (p *Parser) parseMemory() (*ast.Memory, error) {
	tok, _ := p.expect(token.MEMORY)
	name, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node := &ast.Memory{Position: pos(tok), Name: name.Lexeme}
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}

	for !p.check(token.RBRACE) {
		field := p.advance()
		if _, err := p.expect(token.COLON); err != nil {
			return nil, err
		}
		switch field.Lexeme {
		case "store":
			node.Store, err = p.identifierOrKeyword()
		case "backend":
			node.Backend, err = p.identifierOrKeyword()
		case "retrieval":
			node.Retrieval, err = p.identifierOrKeyword()
		case "decay":
			if p.check(token.DURATION) {
				node.Decay = p.advance().Lexeme
			} else {
				node.Decay, err = p.identifierOrKeyword()
			}
		default:
			return nil, p.errorf(field, "store, backend, retrieval, decay",
				"unknown field %q in memory block", field.Lexeme)
		}
		if err != nil {
			return nil, err
		}
	}
	p.advance()
	return node, nil
}

// #endregion memory

// #region tool

func (p *Parser) parseTool() (*ast.Tool, error) {
	tok, _ := p.expect(token.TOOL)
	name, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node := &ast.Tool{Position: pos(tok), Name: name.Lexeme}
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}

	for !p.check(token.RBRACE) {
		field := p.advance()
		if _, err := p.expect(token.COLON); err != nil {
			return nil, err
		}
		switch field.Lexeme {
		case "provider":
			node.Provider, err = p.identifierOrKeyword()
		case "max_results":
			node.MaxResults, err = p.intPtr()
		case "filter":
			node.FilterExpr, err = p.filterExpression()
		case "timeout":
			var t token.Token
			t, err = p.expect(token.DURATION)
			node.Timeout = t.Lexeme
		case "runtime":
			node.Runtime, err = p.identifierOrKeyword()
		case "sandbox":
			node.Sandbox, err = p.boolPtr()
		default:
			return nil, p.errorf(field,
				"provider, max_results, filter, timeout, runtime, sandbox",
				"unknown field %q in tool block", field.Lexeme)
		}
		if err != nil {
			return nil, err
		}
	}
	p.advance()
	return node, nil
}

// filterExpression parses: recent(days: 30) or a bare identifier.
func (p *Parser) filterExpression() (string, error) {
	name, err := p.identifierOrKeyword()
	if err != nil {
		return "", err
	}
	if !p.check(token.LPAREN) {
		return name, nil
	}
	p.advance()
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteString("(")
	for !p.check(token.RPAREN) {
		if p.check(token.EOF) {
			return "", p.errorf(p.peek(), ")", "unterminated filter expression")
		}
		t := p.advance()
		sb.WriteString(t.Lexeme)
		if t.Kind == token.COLON {
			sb.WriteString(" ")
		}
	}
	p.advance()
	sb.WriteString(")")
	return sb.String(), nil
}

// #endregion tool

// #region type

func (p *Parser) parseType() (*ast.TypeDef, error) {
	tok, _ := p.expect(token.TYPE)
	name, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node := &ast.TypeDef{Position: pos(tok), Name: name.Lexeme}

	// Optional range constraint: (0.0..1.0)
	if p.check(token.LPAREN) {
		p.advance()
		lo, err := p.number()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.DOTDOT); err != nil {
			return nil, err
		}
		hi, err := p.number()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		node.Range = &ast.RangeConstraint{Position: pos(tok), Min: lo, Max: hi}
	}

	// Optional where clause: a structural predicate tree.
	if p.check(token.WHERE) {
		p.advance()
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		node.Where = pred
	}

	// Optional structured body: { field: Type, ... }
	if p.check(token.LBRACE) {
		p.advance()
		for !p.check(token.RBRACE) {
			fieldName, err := p.expect(token.IDENTIFIER)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.COLON); err != nil {
				return nil, err
			}
			typeExpr, err := p.parseTypeExpr()
			if err != nil {
				return nil, err
			}
			node.Fields = append(node.Fields, &ast.TypeField{
				Position: pos(fieldName),
				Name:     fieldName.Lexeme,
				Type:     typeExpr,
			})
			if p.check(token.COMMA) {
				p.advance()
			}
		}
		p.advance()
	}
	return node, nil
}

func (p *Parser) parseTypeExpr() (*ast.TypeExpr, error) {
	name, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node := &ast.TypeExpr{Position: pos(name), Name: name.Lexeme}

	if p.check(token.LT) {
		p.advance()
		param, err := p.expect(token.IDENTIFIER)
		if err != nil {
			return nil, err
		}
		node.GenericParam = param.Lexeme
		if _, err := p.expect(token.GT); err != nil {
			return nil, err
		}
	}
	if p.check(token.QUESTION) {
		p.advance()
		node.Optional = true
	}
	return node, nil
}

// #endregion type

// #region predicate

// parsePredicate parses a where-clause tree: terms joined by "and".
func (p *Parser) parsePredicate() (*ast.Predicate, error) {
	left, err := p.parsePredicateTerm()
	if err != nil {
		return nil, err
	}
	for p.check(token.IDENTIFIER) && p.peek().Lexeme == "and" {
		andTok := p.advance()
		right, err := p.parsePredicateTerm()
		if err != nil {
			return nil, err
		}
		left = &ast.Predicate{
			Position: pos(andTok),
			Kind:     ast.PredAnd,
			Left:     left,
			Right:    right,
		}
	}
	return left, nil
}

// parsePredicateTerm parses one of:
//
//	field.path <op> literal
//	field in [a, b, c]
//	name(args)           — carried as PredCall; the checker rejects it
func (p *Parser) parsePredicateTerm() (*ast.Predicate, error) {
	start := p.peek()
	field, err := p.dottedIdentifier()
	if err != nil {
		return nil, err
	}

	if p.peek().IsComparison() {
		op := p.advance().Lexeme
		val := p.peek()
		switch val.Kind {
		case token.INTEGER, token.FLOAT, token.STRING, token.BOOL:
			p.advance()
		default:
			return nil, p.errorf(val, "literal", "where-clause comparisons must be against literals")
		}
		return &ast.Predicate{
			Position: pos(start), Kind: ast.PredCompare,
			Field: field, Op: op, Value: val.Lexeme,
		}, nil
	}

	if p.check(token.IDENTIFIER) && p.peek().Lexeme == "in" {
		p.advance()
		members, err := p.bracketedIdentifiers()
		if err != nil {
			return nil, err
		}
		return &ast.Predicate{
			Position: pos(start), Kind: ast.PredIn,
			Field: field, Members: members,
		}, nil
	}

	if p.check(token.LPAREN) {
		p.advance()
		var args []string
		for !p.check(token.RPAREN) {
			if p.check(token.EOF) {
				return nil, p.errorf(p.peek(), ")", "unterminated predicate call")
			}
			args = append(args, p.advance().Lexeme)
			if p.check(token.COMMA) {
				p.advance()
			}
		}
		p.advance()
		return &ast.Predicate{
			Position: pos(start), Kind: ast.PredCall,
			Field: field, Members: args,
		}, nil
	}

	return nil, p.errorf(p.peek(), "comparison, 'in', or '('",
		"malformed where-clause predicate after %q", field)
}

// #endregion predicate

// #region intent

func (p *Parser) parseIntent() (*ast.Intent, error) {
	tok, _ := p.expect(token.INTENT)
	name, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node := &ast.Intent{Position: pos(tok), Name: name.Lexeme}
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}

	for !p.check(token.RBRACE) {
		field := p.advance()
		if _, err := p.expect(token.COLON); err != nil {
			return nil, err
		}
		switch field.Lexeme {
		case "given":
			var t token.Token
			t, err = p.expect(token.IDENTIFIER)
			node.Given = t.Lexeme
		case "ask":
			node.Ask, err = p.stringValue()
		case "output":
			node.OutputType, err = p.parseTypeExpr()
		case "confidence_floor":
			node.ConfidenceFloor, err = p.floatPtr()
		default:
			return nil, p.errorf(field, "given, ask, output, confidence_floor",
				"unknown field %q in intent block", field.Lexeme)
		}
		if err != nil {
			return nil, err
		}
	}
	p.advance()
	return node, nil
}

// #endregion intent

// #region flow

func (p *Parser) parseFlow() (*ast.Flow, error) {
	tok, _ := p.expect(token.FLOW)
	name, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node := &ast.Flow{Position: pos(tok), Name: name.Lexeme}

	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	if !p.check(token.RPAREN) {
		params, err := p.parseParamList()
		if err != nil {
			return nil, err
		}
		node.Parameters = params
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}

	if p.check(token.ARROW) {
		p.advance()
		ret, err := p.parseTypeExpr()
		if err != nil {
			return nil, err
		}
		node.ReturnType = ret
	}

	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}
	for !p.check(token.RBRACE) {
		step, err := p.parseFlowStep()
		if err != nil {
			return nil, err
		}
		node.Body = append(node.Body, step)
	}
	p.advance()
	return node, nil
}

func (p *Parser) parseParamList() ([]*ast.Parameter, error) {
	var params []*ast.Parameter
	for {
		name, err := p.expect(token.IDENTIFIER)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.COLON); err != nil {
			return nil, err
		}
		typeExpr, err := p.parseTypeExpr()
		if err != nil {
			return nil, err
		}
		params = append(params, &ast.Parameter{
			Position: pos(name), Name: name.Lexeme, Type: typeExpr,
		})
		if !p.check(token.COMMA) {
			return params, nil
		}
		p.advance()
	}
}

// #endregion flow

// #region flow-steps

func (p *Parser) parseFlowStep() (ast.Node, error) {
	tok := p.peek()
	switch tok.Kind {
	case token.STEP:
		return p.parseStep()
	case token.PROBE:
		return p.parseProbe()
	case token.REASON:
		return p.parseReason()
	case token.VALIDATE:
		return p.parseValidate()
	case token.REFINE:
		return p.parseRefine()
	case token.WEAVE:
		return p.parseWeave()
	case token.USE:
		return p.parseUseTool()
	case token.REMEMBER:
		return p.parseRemember()
	case token.RECALL:
		return p.parseRecall()
	case token.IF:
		return p.parseIf()
	default:
		return nil, p.errorf(tok,
			"step, probe, reason, validate, refine, weave, use, remember, recall, if",
			"unexpected token in flow body")
	}
}

func (p *Parser) parseStep() (*ast.Step, error) {
	tok, _ := p.expect(token.STEP)
	name, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node := &ast.Step{Position: pos(tok), Name: name.Lexeme}
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}

	for !p.check(token.RBRACE) {
		inner := p.peek()
		switch {
		case inner.Kind == token.GIVEN:
			p.advance()
			if _, err := p.expect(token.COLON); err != nil {
				return nil, err
			}
			node.Given, err = p.expressionString()
		case inner.Kind == token.ASK:
			p.advance()
			if _, err := p.expect(token.COLON); err != nil {
				return nil, err
			}
			node.Ask, err = p.stringValue()
		case inner.Kind == token.USE:
			node.UseTool, err = p.parseUseTool()
		case inner.Kind == token.PROBE:
			node.Probe, err = p.parseProbe()
		case inner.Kind == token.REASON:
			node.Reason, err = p.parseReason()
		case inner.Kind == token.WEAVE:
			node.Weave, err = p.parseWeave()
		case inner.Kind == token.OUTPUT:
			p.advance()
			if _, err := p.expect(token.COLON); err != nil {
				return nil, err
			}
			var t token.Token
			t, err = p.expect(token.IDENTIFIER)
			node.OutputType = t.Lexeme
		case inner.Kind == token.IDENTIFIER && inner.Lexeme == "confidence_floor":
			p.advance()
			if _, err := p.expect(token.COLON); err != nil {
				return nil, err
			}
			node.ConfidenceFloor, err = p.floatPtr()
		default:
			return nil, p.errorf(inner,
				"given, ask, use, probe, reason, weave, output, confidence_floor",
				"unexpected token in step body")
		}
		if err != nil {
			return nil, err
		}
	}
	p.advance()
	return node, nil
}

func (p *Parser) parseProbe() (*ast.Probe, error) {
	tok, _ := p.expect(token.PROBE)
	target, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.FOR); err != nil {
		return nil, err
	}
	fields, err := p.bracketedIdentifiers()
	if err != nil {
		return nil, err
	}
	return &ast.Probe{Position: pos(tok), Target: target.Lexeme, Fields: fields}, nil
}

func (p *Parser) parseReason() (*ast.Reason, error) {
	tok, _ := p.expect(token.REASON)
	node := &ast.Reason{Position: pos(tok), Depth: 1}

	if p.check(token.ABOUT) {
		p.advance()
		about, err := p.expect(token.IDENTIFIER)
		if err != nil {
			return nil, err
		}
		node.About = about.Lexeme
	} else if p.check(token.IDENTIFIER) {
		node.Name = p.advance().Lexeme
	}

	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}
	var err error
	for !p.check(token.RBRACE) {
		field := p.advance()
		if _, err := p.expect(token.COLON); err != nil {
			return nil, err
		}
		switch field.Lexeme {
		case "given":
			node.Given, err = p.givenList()
		case "about":
			node.About, err = p.stringValue()
		case "ask":
			node.Ask, err = p.stringValue()
		case "depth":
			var t token.Token
			t, err = p.expect(token.INTEGER)
			if err == nil {
				node.Depth, _ = strconv.Atoi(t.Lexeme)
			}
		case "show_work":
			node.ShowWork, err = p.boolValue()
		case "chain_of_thought":
			node.ChainOfThought, err = p.boolValue()
		case "output":
			var t token.Token
			t, err = p.expect(token.IDENTIFIER)
			node.OutputType = t.Lexeme
		default:
			return nil, p.errorf(field,
				"given, about, ask, depth, show_work, chain_of_thought, output",
				"unknown field %q in reason block", field.Lexeme)
		}
		if err != nil {
			return nil, err
		}
	}
	p.advance()
	return node, nil
}

func (p *Parser) parseValidate() (*ast.ValidateGate, error) {
	tok, _ := p.expect(token.VALIDATE)
	target, err := p.dottedIdentifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.AGAINST); err != nil {
		return nil, err
	}
	schema, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node := &ast.ValidateGate{Position: pos(tok), Target: target, Schema: schema.Lexeme}
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}
	for !p.check(token.RBRACE) {
		rule, err := p.parseValidateRule()
		if err != nil {
			return nil, err
		}
		node.Rules = append(node.Rules, rule)
	}
	p.advance()
	return node, nil
}

func (p *Parser) parseValidateRule() (*ast.ValidateRule, error) {
	tok, err := p.expect(token.IF)
	if err != nil {
		return nil, err
	}
	rule := &ast.ValidateRule{Position: pos(tok), ActionParams: map[string]string{}}

	cond, err := p.identifierOrKeyword()
	if err != nil {
		return nil, err
	}
	rule.Condition = cond
	if p.peek().IsComparison() {
		rule.ComparisonOp = p.advance().Lexeme
		rule.ComparisonValue = p.advance().Lexeme
	}

	if _, err := p.expect(token.ARROW); err != nil {
		return nil, err
	}

	action := p.peek()
	switch {
	case action.Kind == token.REFINE || action.Lexeme == "refine":
		p.advance()
		rule.Action = "refine"
		if p.check(token.LPAREN) {
			p.advance()
			for !p.check(token.RPAREN) {
				key, err := p.identifierOrKeyword()
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(token.COLON); err != nil {
					return nil, err
				}
				rule.ActionParams[key] = p.advance().Lexeme
				if p.check(token.COMMA) {
					p.advance()
				}
			}
			p.advance()
		}
	case action.Lexeme == "raise":
		p.advance()
		rule.Action = "raise"
		t, err := p.expect(token.IDENTIFIER)
		if err != nil {
			return nil, err
		}
		rule.ActionTarget = t.Lexeme
	case action.Lexeme == "warn":
		p.advance()
		rule.Action = "warn"
		t, err := p.expect(token.STRING)
		if err != nil {
			return nil, err
		}
		rule.ActionTarget = t.Lexeme
	case action.Lexeme == "pass":
		p.advance()
		rule.Action = "pass"
	default:
		return nil, p.errorf(action, "refine, raise, warn, pass",
			"unknown validate-rule action %q", action.Lexeme)
	}
	return rule, nil
}

func (p *Parser) parseRefine() (*ast.Refine, error) {
	tok, _ := p.expect(token.REFINE)
	node := &ast.Refine{
		Position:           pos(tok),
		MaxAttempts:        3,
		PassFailureContext: true,
		Backoff:            "none",
	}
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}
	var err error
	for !p.check(token.RBRACE) {
		field := p.advance()
		if _, err := p.expect(token.COLON); err != nil {
			return nil, err
		}
		switch field.Lexeme {
		case "max_attempts":
			var t token.Token
			t, err = p.expect(token.INTEGER)
			if err == nil {
				node.MaxAttempts, _ = strconv.Atoi(t.Lexeme)
			}
		case "pass_failure_context":
			node.PassFailureContext, err = p.boolValue()
		case "backoff":
			node.Backoff, err = p.identifierOrKeyword()
		case "on_exhaustion":
			node.OnExhaustion, node.OnExhaustionTarget, err = p.violationAction()
		default:
			return nil, p.errorf(field,
				"max_attempts, pass_failure_context, backoff, on_exhaustion",
				"unknown field %q in refine block", field.Lexeme)
		}
		if err != nil {
			return nil, err
		}
	}
	p.advance()
	return node, nil
}

func (p *Parser) parseWeave() (*ast.Weave, error) {
	tok, _ := p.expect(token.WEAVE)
	sources, err := p.bracketedDotIdentifiers()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.INTO); err != nil {
		return nil, err
	}
	target, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node := &ast.Weave{Position: pos(tok), Sources: sources, Target: target.Lexeme}

	if p.check(token.LBRACE) {
		p.advance()
		for !p.check(token.RBRACE) {
			field := p.advance()
			if _, err := p.expect(token.COLON); err != nil {
				return nil, err
			}
			switch field.Lexeme {
			case "format":
				var t token.Token
				t, err = p.expect(token.IDENTIFIER)
				node.FormatType = t.Lexeme
			case "priority":
				node.Priority, err = p.bracketedIdentifiers()
			case "style":
				node.Style, err = p.stringValue()
			default:
				return nil, p.errorf(field, "format, priority, style",
					"unknown field %q in weave block", field.Lexeme)
			}
			if err != nil {
				return nil, err
			}
		}
		p.advance()
	}
	return node, nil
}

func (p *Parser) parseUseTool() (*ast.UseTool, error) {
	tok, _ := p.expect(token.USE)
	name, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	arg := ""
	if p.check(token.STRING) {
		arg = p.advance().Lexeme
	} else if !p.check(token.RPAREN) {
		arg, err = p.identifierOrKeyword()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return &ast.UseTool{Position: pos(tok), ToolName: name.Lexeme, Argument: arg}, nil
}

func (p *Parser) parseRemember() (*ast.Remember, error) {
	tok, _ := p.expect(token.REMEMBER)
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	expr, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.ARROW); err != nil {
		return nil, err
	}
	target, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	return &ast.Remember{
		Position: pos(tok), Expression: expr.Lexeme, MemoryTarget: target.Lexeme,
	}, nil
}

func (p *Parser) parseRecall() (*ast.Recall, error) {
	tok, _ := p.expect(token.RECALL)
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	var query string
	if p.check(token.STRING) {
		query = p.advance().Lexeme
	} else {
		q, err := p.expect(token.IDENTIFIER)
		if err != nil {
			return nil, err
		}
		query = q.Lexeme
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.FROM); err != nil {
		return nil, err
	}
	source, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	return &ast.Recall{
		Position: pos(tok), Query: query, MemorySource: source.Lexeme,
	}, nil
}

func (p *Parser) parseIf() (*ast.Conditional, error) {
	tok, _ := p.expect(token.IF)
	node := &ast.Conditional{Position: pos(tok)}

	cond, err := p.identifierOrKeyword()
	if err != nil {
		return nil, err
	}
	node.Condition = cond
	if p.peek().IsComparison() {
		node.ComparisonOp = p.advance().Lexeme
		node.ComparisonValue = p.advance().Lexeme
	}

	if _, err := p.expect(token.ARROW); err != nil {
		return nil, err
	}
	node.Then, err = p.parseFlowStep()
	if err != nil {
		return nil, err
	}

	if p.check(token.ELSE) {
		p.advance()
		if _, err := p.expect(token.ARROW); err != nil {
			return nil, err
		}
		node.Else, err = p.parseFlowStep()
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// #endregion flow-steps

// #region run

func (p *Parser) parseRun() (*ast.Run, error) {
	tok, _ := p.expect(token.RUN)
	flowName, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	node := &ast.Run{
		Position: pos(tok), FlowName: flowName.Lexeme,
		OnFailureParams: map[string]string{},
	}

	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	if !p.check(token.RPAREN) {
		args, err := p.argumentList()
		if err != nil {
			return nil, err
		}
		node.Arguments = args
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}

	for p.isRunModifier() {
		mod := p.peek()
		switch mod.Kind {
		case token.AS:
			p.advance()
			t, err := p.expect(token.IDENTIFIER)
			if err != nil {
				return nil, err
			}
			node.Persona = t.Lexeme
		case token.WITHIN:
			p.advance()
			t, err := p.expect(token.IDENTIFIER)
			if err != nil {
				return nil, err
			}
			node.Context = t.Lexeme
		case token.CONSTRAINED_BY:
			p.advance()
			anchors, err := p.bracketedIdentifiers()
			if err != nil {
				return nil, err
			}
			node.Anchors = anchors
		case token.ON_FAILURE:
			p.advance()
			if _, err := p.expect(token.COLON); err != nil {
				return nil, err
			}
			action, params, err := p.failureStrategy()
			if err != nil {
				return nil, err
			}
			node.OnFailure = action
			node.OnFailureParams = params
		case token.OUTPUT_TO:
			p.advance()
			if _, err := p.expect(token.COLON); err != nil {
				return nil, err
			}
			node.OutputTo, err = p.stringValue()
			if err != nil {
				return nil, err
			}
		case token.EFFORT:
			p.advance()
			if _, err := p.expect(token.COLON); err != nil {
				return nil, err
			}
			node.Effort, err = p.identifierOrKeyword()
			if err != nil {
				return nil, err
			}
		}
	}
	return node, nil
}

func (p *Parser) isRunModifier() bool {
	switch p.peek().Kind {
	case token.AS, token.WITHIN, token.CONSTRAINED_BY,
		token.ON_FAILURE, token.OUTPUT_TO, token.EFFORT:
		return true
	}
	return false
}

// failureStrategy parses: log | retry(backoff: exponential) | escalate | raise X
func (p *Parser) failureStrategy() (string, map[string]string, error) {
	tok := p.peek()
	params := map[string]string{}
	switch tok.Lexeme {
	case "retry":
		p.advance()
		if p.check(token.LPAREN) {
			p.advance()
			for !p.check(token.RPAREN) {
				key, err := p.identifierOrKeyword()
				if err != nil {
					return "", nil, err
				}
				if _, err := p.expect(token.COLON); err != nil {
					return "", nil, err
				}
				val, err := p.identifierOrKeyword()
				if err != nil {
					return "", nil, err
				}
				params[key] = val
				if p.check(token.COMMA) {
					p.advance()
				}
			}
			p.advance()
		}
		return "retry", params, nil
	case "raise":
		p.advance()
		t, err := p.expect(token.IDENTIFIER)
		if err != nil {
			return "", nil, err
		}
		params["target"] = t.Lexeme
		return "raise", params, nil
	case "log", "escalate":
		p.advance()
		return tok.Lexeme, params, nil
	default:
		return "", nil, p.errorf(tok, "log, retry, escalate, raise",
			"unknown failure strategy %q", tok.Lexeme)
	}
}

// #endregion run

// #region primitives

func (p *Parser) peek() token.Token {
	if p.pos >= len(p.tokens) {
		return token.Token{Kind: token.EOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() token.Token {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *Parser) check(kind token.Kind) bool {
	return p.peek().Kind == kind
}

func (p *Parser) expect(kind token.Kind) (token.Token, error) {
	tok := p.peek()
	if tok.Kind != kind {
		return token.Token{}, p.errorf(tok, kind.String(), "unexpected token")
	}
	return p.advance(), nil
}

func (p *Parser) errorf(tok token.Token, expected, format string, args ...interface{}) error {
	return &Error{
		Message:  fmt.Sprintf(format, args...),
		Expected: expected,
		Found:    fmt.Sprintf("%s(%q)", tok.Kind, tok.Lexeme),
		Line:     tok.Line,
		Column:   tok.Column,
	}
}

func pos(tok token.Token) ast.Position {
	return ast.Position{Line: tok.Line, Column: tok.Column}
}

// #endregion primitives

// #region value-helpers

// identifierOrKeyword consumes an identifier or a keyword used as a field
// value (e.g. tone: precise, backoff: none).
func (p *Parser) identifierOrKeyword() (string, error) {
	tok := p.peek()
	switch tok.Kind {
	case token.IDENTIFIER, token.BOOL, token.STRING, token.INTEGER, token.FLOAT:
		return p.advance().Lexeme, nil
	}
	if isWordLexeme(tok.Lexeme) {
		return p.advance().Lexeme, nil
	}
	return "", p.errorf(tok, "identifier or keyword value", "expected identifier or keyword value")
}

func isWordLexeme(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
	}
	return true
}

func (p *Parser) number() (float64, error) {
	tok := p.peek()
	switch tok.Kind {
	case token.FLOAT, token.INTEGER:
		p.advance()
		v, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			return 0, p.errorf(tok, "number", "malformed number %q", tok.Lexeme)
		}
		return v, nil
	}
	return 0, p.errorf(tok, "number", "expected number")
}

func (p *Parser) floatPtr() (*float64, error) {
	tok, err := p.expect(token.FLOAT)
	if err != nil {
		return nil, err
	}
	v, _ := strconv.ParseFloat(tok.Lexeme, 64)
	return &v, nil
}

func (p *Parser) intPtr() (*int, error) {
	tok, err := p.expect(token.INTEGER)
	if err != nil {
		return nil, err
	}
	v, _ := strconv.Atoi(tok.Lexeme)
	return &v, nil
}

func (p *Parser) boolValue() (bool, error) {
	tok, err := p.expect(token.BOOL)
	if err != nil {
		return false, err
	}
	return tok.Lexeme == "true", nil
}

func (p *Parser) boolPtr() (*bool, error) {
	v, err := p.boolValue()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (p *Parser) stringValue() (string, error) {
	tok, err := p.expect(token.STRING)
	if err != nil {
		return "", err
	}
	return tok.Lexeme, nil
}

func (p *Parser) identifierList() ([]string, error) {
	var names []string
	first, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return nil, err
	}
	names = append(names, first.Lexeme)
	for p.check(token.COMMA) {
		p.advance()
		next, err := p.expect(token.IDENTIFIER)
		if err != nil {
			return nil, err
		}
		names = append(names, next.Lexeme)
	}
	return names, nil
}

func (p *Parser) bracketedIdentifiers() ([]string, error) {
	if _, err := p.expect(token.LBRACKET); err != nil {
		return nil, err
	}
	var items []string
	if !p.check(token.RBRACKET) {
		first, err := p.identifierOrKeyword()
		if err != nil {
			return nil, err
		}
		items = append(items, first)
		for p.check(token.COMMA) {
			p.advance()
			next, err := p.identifierOrKeyword()
			if err != nil {
				return nil, err
			}
			items = append(items, next)
		}
	}
	if _, err := p.expect(token.RBRACKET); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *Parser) bracketedDotIdentifiers() ([]string, error) {
	if _, err := p.expect(token.LBRACKET); err != nil {
		return nil, err
	}
	var items []string
	first, err := p.dottedIdentifier()
	if err != nil {
		return nil, err
	}
	items = append(items, first)
	for p.check(token.COMMA) {
		p.advance()
		next, err := p.dottedIdentifier()
		if err != nil {
			return nil, err
		}
		items = append(items, next)
	}
	if _, err := p.expect(token.RBRACKET); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *Parser) dottedIdentifier() (string, error) {
	first, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return "", err
	}
	parts := []string{first.Lexeme}
	for p.check(token.DOT) {
		p.advance()
		next, err := p.identifierOrKeyword()
		if err != nil {
			return "", err
		}
		parts = append(parts, next)
	}
	return strings.Join(parts, "."), nil
}

func (p *Parser) stringList() ([]string, error) {
	if _, err := p.expect(token.LBRACKET); err != nil {
		return nil, err
	}
	items := []string{}
	if !p.check(token.RBRACKET) {
		first, err := p.expect(token.STRING)
		if err != nil {
			return nil, err
		}
		items = append(items, first.Lexeme)
		for p.check(token.COMMA) {
			p.advance()
			next, err := p.expect(token.STRING)
			if err != nil {
				return nil, err
			}
			items = append(items, next.Lexeme)
		}
	}
	if _, err := p.expect(token.RBRACKET); err != nil {
		return nil, err
	}
	return items, nil
}

// givenList parses either a single expression or a bracketed list of
// dotted identifiers.
func (p *Parser) givenList() ([]string, error) {
	if p.check(token.LBRACKET) {
		return p.bracketedDotIdentifiers()
	}
	single, err := p.dottedIdentifier()
	if err != nil {
		return nil, err
	}
	return []string{single}, nil
}

// argumentList parses run() arguments: strings, numbers, dotted names,
// and key: value pairs.
func (p *Parser) argumentList() ([]string, error) {
	var args []string
	for !p.check(token.RPAREN) {
		tok := p.peek()
		switch tok.Kind {
		case token.STRING, token.INTEGER, token.FLOAT:
			args = append(args, p.advance().Lexeme)
		case token.IDENTIFIER:
			val := p.advance().Lexeme
			if p.check(token.DOT) {
				p.advance()
				next, err := p.identifierOrKeyword()
				if err != nil {
					return nil, err
				}
				val += "." + next
			} else if p.check(token.COLON) {
				p.advance()
				val += ":" + p.advance().Lexeme
			}
			args = append(args, val)
		case token.EOF:
			return nil, p.errorf(tok, ")", "unterminated argument list")
		default:
			key := p.advance().Lexeme
			if p.check(token.COLON) {
				p.advance()
				args = append(args, key+":"+p.advance().Lexeme)
			} else {
				args = append(args, key)
			}
		}
		if p.check(token.COMMA) {
			p.advance()
		}
	}
	return args, nil
}

// expressionString parses an identifier, dotted path, or bracketed list
// and returns its canonical textual form.
func (p *Parser) expressionString() (string, error) {
	if p.check(token.LBRACKET) {
		items, err := p.bracketedDotIdentifiers()
		if err != nil {
			return "", err
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	}
	return p.dottedIdentifier()
}

// #endregion value-helpers
