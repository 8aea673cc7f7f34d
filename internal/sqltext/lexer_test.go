package sqltext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexer_Punctuation(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType TokenType
		wantLit  string
	}{
		{"star", "*", TokenStar, "*"},
		{"dot", ".", TokenDot, "."},
		{"comma", ",", TokenComma, ","},
		{"semicolon", ";", TokenSemicolon, ";"},
		{"lparen", "(", TokenLParen, "("},
		{"rparen", ")", TokenRParen, ")"},
		{"eq", "=", TokenOperator, "="},
		{"ne_bang", "!=", TokenOperator, "!="},
		{"ne_diamond", "<>", TokenOperator, "<>"},
		{"ge", ">=", TokenOperator, ">="},
		{"dcolon", "::", TokenOperator, "::"},
		{"arrow", "->", TokenOperator, "->"},
		{"dpipe", "||", TokenOperator, "||"},
		{"json_text", "->>", TokenOperator, "->>"},
		{"named_arg", "=>", TokenOperator, "=>"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := NewLexer(tc.input)
			tok := l.NextToken()
			assert.Equal(t, tc.wantType, tok.Type, "token type")
			assert.Equal(t, tc.wantLit, tok.Literal, "token literal")
			assert.Equal(t, TokenEOF, l.NextToken().Type)
		})
	}
}

func TestLexer_Numbers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLit string
	}{
		{"integer", "42", "42"},
		{"decimal", "3.14", "3.14"},
		{"leading_dot", ".5", ".5"},
		{"scientific", "1e10", "1e10"},
		{"scientific_negative", "1e-3", "1e-3"},
		{"hex", "0x1F", "0x1F"},
		{"underscores", "1_000_000", "1_000_000"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tok := NewLexer(tc.input).NextToken()
			assert.Equal(t, TokenNumber, tok.Type)
			assert.Equal(t, tc.wantLit, tok.Literal)
		})
	}
}

func TestLexer_Strings(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLit string
	}{
		{"simple", "'hello'", "hello"},
		{"doubled_quote", "'it''s'", "it's"},
		{"backslash_is_literal", `'C:\'`, `C:\`},
		{"escape_string", `E'a\'b'`, `a\'b`},
		{"empty", "''", ""},
		{"unterminated", "'abc", "abc"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tok := NewLexer(tc.input).NextToken()
			assert.Equal(t, TokenString, tok.Type)
			assert.Equal(t, tc.wantLit, tok.Literal)
		})
	}
}

func TestLexer_BackslashDoesNotHideStructure(t *testing.T) {
	toks := Tokenize(`SELECT a FROM t WHERE p = 'C:\' AND x = 1`)
	require.Len(t, toks, 12)
	assert.Equal(t, TokenString, toks[7].Type)
	assert.Equal(t, "AND", toks[8].Literal)
	assert.Equal(t, TokenNumber, toks[11].Type)
}

func TestLexer_OperatorRunsSplit(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"eq_minus", "x=-1", []string{"x", "=", "-", "1"}},
		{"ne_minus", "x<>-5", []string{"x", "<>", "-", "5"}},
		{"le_plus", "x<=+2", []string{"x", "<=", "+", "2"}},
		{"cast_then_minus", "x::int*-1", []string{"x", "::", "int", "*", "-", "1"}},
		{"json_arrow", "doc->>'k'", []string{"doc", "->>", "k"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			for _, tok := range Tokenize(tc.input) {
				got = append(got, tok.Literal)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLexer_QuotedIdentifiers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLit string
	}{
		{"double_quoted", `"Order Items"`, "Order Items"},
		{"backtick", "`events`", "events"},
		{"bracket", "[dbo]", "dbo"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tok := NewLexer(tc.input).NextToken()
			assert.Equal(t, TokenIdent, tok.Type)
			assert.Equal(t, tc.wantLit, tok.Literal)
			assert.True(t, tok.Quoted)
		})
	}
}

func TestLexer_Params(t *testing.T) {
	toks := Tokenize("a = $1 AND b = ? AND c = :name")
	var params []string
	for _, tok := range toks {
		if tok.Type == TokenParam {
			params = append(params, tok.Literal)
		}
	}
	assert.Equal(t, []string{"$1", "?", ":name"}, params)
}

func TestLexer_Keywords(t *testing.T) {
	toks := Tokenize("select DISTINCT a FROM t Order By a")
	require.Len(t, toks, 8)
	assert.Equal(t, TokenSelect, toks[0].Type)
	assert.Equal(t, TokenDistinct, toks[1].Type)
	assert.Equal(t, "DISTINCT", toks[1].Literal, "literal keeps source case")
	assert.Equal(t, TokenIdent, toks[2].Type)
	assert.Equal(t, TokenFrom, toks[3].Type)
	assert.Equal(t, TokenOrder, toks[5].Type)
	assert.Equal(t, TokenBy, toks[6].Type)
	assert.True(t, toks[6].IsKeyword())
	assert.False(t, toks[2].IsKeyword())
}

func TestLexer_Comments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"line_comment", "SELECT 1 -- trailing\nFROM t", []string{"SELECT", "1", "FROM", "t"}},
		{"block_comment", "SELECT /* hint */ a FROM t", []string{"SELECT", "a", "FROM", "t"}},
		{"unterminated_block", "SELECT a /* never closed", []string{"SELECT", "a"}},
		{"comment_only", "-- nothing here", nil},
		{"operator_before_comment", "a=--x\nb", []string{"a", "=", "b"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			for _, tok := range Tokenize(tc.input) {
				got = append(got, tok.Literal)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLexer_Positions(t *testing.T) {
	toks := Tokenize("SELECT  a,b")
	require.Len(t, toks, 4)
	assert.Equal(t, 0, toks[0].Pos)
	assert.Equal(t, 8, toks[1].Pos)
	assert.Equal(t, 9, toks[2].Pos)
	assert.Equal(t, 10, toks[3].Pos)
}

func TestLexer_IllegalByte(t *testing.T) {
	toks := Tokenize("a { b")
	require.Len(t, toks, 3)
	assert.Equal(t, TokenIllegal, toks[1].Type)
	assert.Equal(t, "{", toks[1].Literal)
}

func TestTokenType_String(t *testing.T) {
	assert.Equal(t, "SELECT", TokenSelect.String())
	assert.Equal(t, "IDENT", TokenIdent.String())
	assert.Equal(t, "TOKEN(999)", TokenType(999).String())
}
