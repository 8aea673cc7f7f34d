// Package normalize turns raw query text into a canonical template and a
// stable pattern hash.
//
// Two queries that differ only in literal values, letter case, comments or
// whitespace produce the same hash. The hash input and the display template
// are built from the same token stream so they always agree on structure.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"querypulse/internal/domain"
	"querypulse/internal/sqltext"
)

// Placeholders substituted for literals in the hash input. They are distinct
// so that `x = 1` and `x = '1'` remain different patterns.
const (
	NumberPlaceholder = "<num>"
	StringPlaceholder = "<str>"

	// TemplateMarker replaces every literal in the display template.
	TemplateMarker = "?"
)

// Result is the canonical identity of one query text.
type Result struct {
	// Hash is the hex SHA-256 of Normalized.
	Hash string
	// Normalized is the case-folded, comment-free, single-spaced text with
	// literals replaced by placeholders. It is the hash input.
	Normalized string
	// Template is the human-readable shape with literals replaced by "?".
	Template string
	// Tokens is the case-folded token stream, with literal tokens intact.
	Tokens []sqltext.Token
}

// Normalize canonicalizes text. Empty, whitespace-only and comment-only
// input is rejected with an InvalidInputError.
func Normalize(text string) (*Result, error) {
	// (1) case-fold and trim.
	folded := strings.ToLower(strings.TrimSpace(text))
	if folded == "" {
		return nil, domain.ErrInvalidInput("", "query text is empty")
	}

	// (2) comments and (3) whitespace are dropped by the tokenizer; tokens
	// are re-joined below with single separators.
	tokens := sqltext.Tokenize(folded)
	tokens = foldSignedNumbers(trimTrailingSemicolons(tokens))
	if len(tokens) == 0 {
		return nil, domain.ErrInvalidInput("", "query text contains no tokens")
	}

	hashParts := make([]string, len(tokens))
	var tmpl strings.Builder
	for i, tok := range tokens {
		switch tok.Type {
		case sqltext.TokenNumber: // (4)
			hashParts[i] = NumberPlaceholder
		case sqltext.TokenString: // (5)
			hashParts[i] = StringPlaceholder
		default:
			hashParts[i] = canonicalLiteral(tok)
		}

		if i > 0 && needsSpace(tokens[i-1], tok) {
			tmpl.WriteByte(' ')
		}
		if tok.Type == sqltext.TokenNumber || tok.Type == sqltext.TokenString {
			tmpl.WriteString(TemplateMarker)
		} else {
			tmpl.WriteString(canonicalLiteral(tok))
		}
	}

	normalized := strings.Join(hashParts, " ")
	// (6) digest.
	sum := sha256.Sum256([]byte(normalized))

	return &Result{
		Hash:       hex.EncodeToString(sum[:]),
		Normalized: normalized,
		Template:   tmpl.String(),
		Tokens:     tokens,
	}, nil
}

// Hash is shorthand for Normalize(text).Hash.
func Hash(text string) (string, error) {
	res, err := Normalize(text)
	if err != nil {
		return "", err
	}
	return res.Hash, nil
}

// canonicalLiteral renders a non-literal token. Delimited identifiers keep
// double quotes so that "order" and order stay distinguishable.
func canonicalLiteral(tok sqltext.Token) string {
	if tok.Quoted {
		return `"` + strings.ReplaceAll(tok.Literal, `"`, `""`) + `"`
	}
	return tok.Literal
}

// wordOperators are identifiers that read as operators, so a following
// parenthesis is an operand list rather than a call.
var wordOperators = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "exists": true,
	"as": true, "is": true, "any": true, "some": true, "values": true,
	"when": true, "then": true, "else": true, "case": true, "like": true,
	"between": true, "with": true, "into": true, "set": true, "table": true,
}

// needsSpace decides the separator between two adjacent template tokens.
func needsSpace(prev, cur sqltext.Token) bool {
	switch cur.Type {
	case sqltext.TokenComma, sqltext.TokenRParen, sqltext.TokenSemicolon, sqltext.TokenDot:
		return false
	case sqltext.TokenLParen:
		// Function calls hug their argument list.
		return prev.Type != sqltext.TokenIdent || prev.Quoted || wordOperators[prev.Literal]
	}
	switch prev.Type {
	case sqltext.TokenLParen, sqltext.TokenDot:
		return false
	}
	return true
}

// foldSignedNumbers merges a unary + or - into the numeric literal that
// follows it, so `x = -1` and `x = 1` share a shape. A sign is unary at the
// start of the text or after an operator, an opening parenthesis, a comma or
// a keyword.
func foldSignedNumbers(tokens []sqltext.Token) []sqltext.Token {
	out := tokens[:0:0]
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if isSign(tok) && i+1 < len(tokens) && tokens[i+1].Type == sqltext.TokenNumber &&
			(len(out) == 0 || startsOperand(out[len(out)-1])) {
			num := tokens[i+1]
			num.Literal = tok.Literal + num.Literal
			num.Pos = tok.Pos
			out = append(out, num)
			i++
			continue
		}
		out = append(out, tok)
	}
	return out
}

func isSign(tok sqltext.Token) bool {
	return tok.Type == sqltext.TokenOperator && (tok.Literal == "-" || tok.Literal == "+")
}

// startsOperand reports whether an operand is expected after prev.
func startsOperand(prev sqltext.Token) bool {
	switch prev.Type {
	case sqltext.TokenOperator, sqltext.TokenLParen, sqltext.TokenComma, sqltext.TokenStar:
		return true
	case sqltext.TokenIdent:
		return !prev.Quoted && wordOperators[prev.Literal]
	}
	return prev.IsKeyword()
}

func trimTrailingSemicolons(tokens []sqltext.Token) []sqltext.Token {
	for len(tokens) > 0 && tokens[len(tokens)-1].Type == sqltext.TokenSemicolon {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}
