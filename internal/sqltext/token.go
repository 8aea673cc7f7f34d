// Package sqltext tokenizes SQL text for query-shape analysis.
//
// It is not a parser: the normalizer and scorer only need a faithful token
// stream (comments dropped, literals classified, keywords recognised) to
// canonicalize queries and count structural features. Unknown input never
// fails; unrecognised bytes become TokenIllegal and are kept verbatim.
package sqltext

import "fmt"

// TokenType represents the type of a lexical token.
type TokenType int

// Token types produced by the lexer.
const (
	TokenEOF     TokenType = iota // end of input
	TokenIllegal                  // unexpected byte

	TokenIdent  // identifier or non-structural keyword
	TokenNumber // 123, 45.67, 1e10, 0x1F
	TokenString // 'hello'
	TokenParam  // $1, ?, :name

	TokenOperator // + - / % || = != <> < > <= >= :: -> etc.
	TokenStar     // *
	TokenDot      // .
	TokenComma    // ,
	TokenSemicolon
	TokenLParen
	TokenRParen

	// Keywords the analyzers care about.
	TokenAll
	TokenBy
	TokenCross
	TokenDistinct
	TokenFetch
	TokenFrom
	TokenGroup
	TokenHaving
	TokenJoin
	TokenLimit
	TokenNatural
	TokenOn
	TokenOrder
	TokenOver
	TokenQualify
	TokenSelect
	TokenTop
	TokenUnion
	TokenUsing
	TokenWhere
	TokenWindow
)

// Token is one lexical unit. Pos is the byte offset of the token in the input.
// Quoted is set for delimited identifiers, whose Literal has the quotes removed.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
	Quoted  bool
}

// Is reports whether the token has the given type.
func (t Token) Is(tt TokenType) bool { return t.Type == tt }

// IsKeyword reports whether the token is one of the recognised keywords.
func (t Token) IsKeyword() bool { return t.Type >= TokenAll }

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TOKEN(%d)", t)
}

var tokenNames = map[TokenType]string{
	TokenEOF:       "EOF",
	TokenIllegal:   "ILLEGAL",
	TokenIdent:     "IDENT",
	TokenNumber:    "NUMBER",
	TokenString:    "STRING",
	TokenParam:     "PARAM",
	TokenOperator:  "OPERATOR",
	TokenStar:      "*",
	TokenDot:       ".",
	TokenComma:     ",",
	TokenSemicolon: ";",
	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenAll:       "ALL",
	TokenBy:        "BY",
	TokenCross:     "CROSS",
	TokenDistinct:  "DISTINCT",
	TokenFetch:     "FETCH",
	TokenFrom:      "FROM",
	TokenGroup:     "GROUP",
	TokenHaving:    "HAVING",
	TokenJoin:      "JOIN",
	TokenLimit:     "LIMIT",
	TokenNatural:   "NATURAL",
	TokenOn:        "ON",
	TokenOrder:     "ORDER",
	TokenOver:      "OVER",
	TokenQualify:   "QUALIFY",
	TokenSelect:    "SELECT",
	TokenTop:       "TOP",
	TokenUnion:     "UNION",
	TokenUsing:     "USING",
	TokenWhere:     "WHERE",
	TokenWindow:    "WINDOW",
}

var keywords = map[string]TokenType{
	"all":      TokenAll,
	"by":       TokenBy,
	"cross":    TokenCross,
	"distinct": TokenDistinct,
	"fetch":    TokenFetch,
	"from":     TokenFrom,
	"group":    TokenGroup,
	"having":   TokenHaving,
	"join":     TokenJoin,
	"limit":    TokenLimit,
	"natural":  TokenNatural,
	"on":       TokenOn,
	"order":    TokenOrder,
	"over":     TokenOver,
	"qualify":  TokenQualify,
	"select":   TokenSelect,
	"top":      TokenTop,
	"union":    TokenUnion,
	"using":    TokenUsing,
	"where":    TokenWhere,
	"window":   TokenWindow,
}

// lookupKeyword returns the keyword type for a lower-cased word, or TokenIdent.
func lookupKeyword(lower string) TokenType {
	if tt, ok := keywords[lower]; ok {
		return tt
	}
	return TokenIdent
}
