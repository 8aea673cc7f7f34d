package sqltext

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes SQL input.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

// Tokenize returns every token in input, excluding the trailing EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var out []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenEOF {
			return out
		}
		out = append(out, tok)
	}
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	start := l.pos
	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: start}
	}

	switch ch := l.ch; {
	case ch == '\'':
		return Token{Type: TokenString, Literal: l.readQuoted('\'', false), Pos: start}
	case (ch == 'e' || ch == 'E') && l.peekChar() == '\'':
		l.readChar()
		return Token{Type: TokenString, Literal: l.readQuoted('\'', true), Pos: start}
	case ch == '"' || ch == '`':
		return Token{Type: TokenIdent, Literal: l.readQuoted(ch, false), Pos: start, Quoted: true}
	case ch == '[' && l.isBracketIdent():
		return Token{Type: TokenIdent, Literal: l.readBracketIdent(), Pos: start, Quoted: true}
	case isDigit(ch) || (ch == '.' && isDigit(l.peekChar())):
		return Token{Type: TokenNumber, Literal: l.readNumber(), Pos: start}
	case isIdentStart(ch):
		word := l.readIdentifier()
		return Token{Type: lookupKeyword(strings.ToLower(word)), Literal: word, Pos: start}
	case ch == '$' && isDigit(l.peekChar()):
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenParam, Literal: l.input[start:l.pos], Pos: start}
	case ch == '?':
		l.readChar()
		return Token{Type: TokenParam, Literal: "?", Pos: start}
	case ch == ':' && isIdentStart(l.peekChar()):
		l.readChar()
		l.readIdentifier()
		return Token{Type: TokenParam, Literal: l.input[start:l.pos], Pos: start}
	}

	var tok Token
	switch l.ch {
	case '*':
		tok = Token{Type: TokenStar, Literal: "*"}
	case '.':
		tok = Token{Type: TokenDot, Literal: "."}
	case ',':
		tok = Token{Type: TokenComma, Literal: ","}
	case ';':
		tok = Token{Type: TokenSemicolon, Literal: ";"}
	case '(':
		tok = Token{Type: TokenLParen, Literal: "("}
	case ')':
		tok = Token{Type: TokenRParen, Literal: ")"}
	default:
		if isOperatorChar(l.ch) {
			op := l.readOperator()
			return Token{Type: TokenOperator, Literal: op, Pos: start}
		}
		tok = Token{Type: TokenIllegal, Literal: string(l.ch)}
	}
	tok.Pos = start
	l.readChar()
	return tok
}

// multiCharOperators lists the operators longer than one byte, longest
// first. Any other run of operator bytes is split into single-byte tokens,
// so `x=-1` and `x = -1` lex identically.
var multiCharOperators = []string{
	"!~~*", "!~~", "~~*", "->>", "!~*",
	"<=", ">=", "<>", "!=", "==", "||", "::", "->", "=>", "**", "//",
	"<<", ">>", "@>", "<@", "&&", "^@", "~~", "!~", "~*",
}

// readOperator consumes the longest known operator at the current position.
func (l *Lexer) readOperator() string {
	rest := l.input[l.pos:]
	n := 1
	for _, op := range multiCharOperators {
		if strings.HasPrefix(rest, op) {
			n = len(op)
			break
		}
	}
	for i := 0; i < n; i++ {
		l.readChar()
	}
	return rest[:n]
}

// skipWhitespaceAndComments skips whitespace, -- line comments and /* */ block comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for isSpace(l.ch) && !l.atEOF() {
			l.readChar()
		}
		if l.ch == '-' && l.peekChar() == '-' {
			for l.ch != '\n' && !l.atEOF() {
				l.readChar()
			}
			continue
		}
		if l.ch == '/' && l.peekChar() == '*' {
			l.readChar()
			l.readChar()
			for !l.atEOF() {
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					break
				}
				l.readChar()
			}
			continue
		}
		return
	}
}

// readQuoted reads a literal delimited by q, treating a doubled q as an
// escaped quote. Backslash escapes apply only to E'...' strings. An
// unterminated literal runs to end of input.
func (l *Lexer) readQuoted(q byte, backslash bool) string {
	l.readChar() // opening quote
	var b strings.Builder
	for !l.atEOF() {
		if l.ch == q {
			if l.peekChar() == q {
				b.WriteByte(q)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // closing quote
			break
		}
		if backslash && l.ch == '\\' && l.peekChar() != 0 {
			b.WriteByte(l.ch)
			l.readChar()
		}
		b.WriteByte(l.ch)
		l.readChar()
	}
	return b.String()
}

// isBracketIdent distinguishes T-SQL style [identifiers] from array
// subscripts: only a letter or underscore may follow the bracket.
func (l *Lexer) isBracketIdent() bool {
	next := l.peekChar()
	return isIdentStart(next) && strings.IndexByte(l.input[l.pos:], ']') > 0
}

func (l *Lexer) readBracketIdent() string {
	l.readChar() // [
	start := l.pos
	for l.ch != ']' && !l.atEOF() {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	l.readChar() // ]
	return lit
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for !l.atEOF() && (isIdentStart(l.ch) || isDigit(l.ch) || l.ch == '$') {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads integer, decimal, scientific and hexadecimal literals.
func (l *Lexer) readNumber() string {
	start := l.pos
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) {
			l.readChar()
		}
		return l.input[start:l.pos]
	}
	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	} else if l.ch == '.' && l.pos > start {
		l.readChar() // trailing dot: 1.
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
	return l.input[start:l.pos]
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v'
}

func isIdentStart(ch byte) bool {
	if ch >= utf8.RuneSelf {
		return true
	}
	return ch == '_' || unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

func isOperatorChar(ch byte) bool {
	return strings.IndexByte("+-/%|=!<>:~^&#@", ch) >= 0 && ch != 0
}
