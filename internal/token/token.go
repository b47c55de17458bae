package token

import "fmt"

// #region kind

// Kind identifies a lexical token class.
type Kind int

const (
	// Keywords — cognitive primitives and language constructs.
	PERSONA Kind = iota
	CONTEXT
	INTENT
	FLOW
	REASON
	ANCHOR
	VALIDATE
	REFINE
	MEMORY
	TOOL
	PROBE
	WEAVE
	STEP
	TYPE
	IMPORT
	RUN
	IF
	ELSE
	USE
	REMEMBER
	RECALL

	// Run statement modifiers.
	AS
	WITHIN
	CONSTRAINED_BY
	ON_FAILURE
	OUTPUT_TO
	EFFORT

	// Contextual keywords.
	FOR
	INTO
	AGAINST
	ABOUT
	FROM
	WHERE

	// Field keywords inside blocks.
	GIVEN
	ASK
	OUTPUT

	// Literals.
	STRING
	INTEGER
	FLOAT
	BOOL
	DURATION
	IDENTIFIER

	// Symbols.
	LBRACE   // {
	RBRACE   // }
	LPAREN   // (
	RPAREN   // )
	LBRACKET // [
	RBRACKET // ]
	COLON    // :
	COMMA    // ,
	DOT      // .
	ARROW    // ->
	DOTDOT   // ..
	QUESTION // ?

	// Comparison operators.
	LT  // <
	GT  // >
	LTE // <=
	GTE // >=
	EQ  // ==
	NEQ // !=

	EOF
)

// #endregion

// #region names

var kindNames = map[Kind]string{
	PERSONA: "PERSONA", CONTEXT: "CONTEXT", INTENT: "INTENT", FLOW: "FLOW",
	REASON: "REASON", ANCHOR: "ANCHOR", VALIDATE: "VALIDATE", REFINE: "REFINE",
	MEMORY: "MEMORY", TOOL: "TOOL", PROBE: "PROBE", WEAVE: "WEAVE",
	STEP: "STEP", TYPE: "TYPE", IMPORT: "IMPORT", RUN: "RUN",
	IF: "IF", ELSE: "ELSE", USE: "USE", REMEMBER: "REMEMBER", RECALL: "RECALL",
	AS: "AS", WITHIN: "WITHIN", CONSTRAINED_BY: "CONSTRAINED_BY",
	ON_FAILURE: "ON_FAILURE", OUTPUT_TO: "OUTPUT_TO", EFFORT: "EFFORT",
	FOR: "FOR", INTO: "INTO", AGAINST: "AGAINST", ABOUT: "ABOUT",
	FROM: "FROM", WHERE: "WHERE",
	GIVEN: "GIVEN", ASK: "ASK", OUTPUT: "OUTPUT",
	STRING: "STRING", INTEGER: "INTEGER", FLOAT: "FLOAT", BOOL: "BOOL",
	DURATION: "DURATION", IDENTIFIER: "IDENTIFIER",
	LBRACE: "LBRACE", RBRACE: "RBRACE", LPAREN: "LPAREN", RPAREN: "RPAREN",
	LBRACKET: "LBRACKET", RBRACKET: "RBRACKET", COLON: "COLON", COMMA: "COMMA",
	DOT: "DOT", ARROW: "ARROW", DOTDOT: "DOTDOT", QUESTION: "QUESTION",
	LT: "LT", GT: "GT", LTE: "LTE", GTE: "GTE", EQ: "EQ", NEQ: "NEQ",
	EOF: "EOF",
}

// String returns the token kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// #endregion

// #region keyword-table

// Keywords maps raw source text to its keyword kind. Identifiers are
// reclassified through this table after scanning.
var Keywords = map[string]Kind{
	"persona":        PERSONA,
	"context":        CONTEXT,
	"intent":         INTENT,
	"flow":           FLOW,
	"reason":         REASON,
	"anchor":         ANCHOR,
	"validate":       VALIDATE,
	"refine":         REFINE,
	"memory":         MEMORY,
	"tool":           TOOL,
	"probe":          PROBE,
	"weave":          WEAVE,
	"step":           STEP,
	"type":           TYPE,
	"import":         IMPORT,
	"run":            RUN,
	"if":             IF,
	"else":           ELSE,
	"use":            USE,
	"remember":       REMEMBER,
	"recall":         RECALL,
	"as":             AS,
	"within":         WITHIN,
	"constrained_by": CONSTRAINED_BY,
	"on_failure":     ON_FAILURE,
	"output_to":      OUTPUT_TO,
	"effort":         EFFORT,
	"for":            FOR,
	"into":           INTO,
	"against":        AGAINST,
	"about":          ABOUT,
	"from":           FROM,
	"where":          WHERE,
	"given":          GIVEN,
	"ask":            ASK,
	"output":         OUTPUT,
	"true":           BOOL,
	"false":          BOOL,
}

// DurationSuffixes are the unit suffixes the lexer accepts on a duration
// literal. The suffix must immediately follow the digits.
var DurationSuffixes = map[string]bool{
	"s": true, "ms": true, "m": true, "h": true, "d": true,
}

// #endregion

// #region token

// Token is a single lexical token with the source position of its first
// character. Position-only tokens (EOF) carry an empty lexeme.
type Token struct {
	Kind   Kind
	Lexeme string
	Line   int
	Column int
}

func (t Token) String() string {
	return fmt.Sprintf("Token(%s, %q, L%d:C%d)", t.Kind, t.Lexeme, t.Line, t.Column)
}

// IsComparison reports whether the token is one of the six comparison
// operators.
func (t Token) IsComparison() bool {
	switch t.Kind {
	case LT, GT, LTE, GTE, EQ, NEQ:
		return true
	}
	return false
}

// #endregion
