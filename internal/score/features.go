package score

import (
	"strings"

	"querypulse/internal/sqltext"
)

// Features are the structural facts the scorer derives from one normalized
// query. They depend only on the token stream, so every execution of a
// pattern shares them.
type Features struct {
	Selects  int
	Joins    int
	Wheres   int
	GroupBys int
	OrderBys int
	Unions   int
	Windows  int
	Length   int

	SelectAll           bool
	UnboundedSort       bool
	CartesianJoin       bool
	UnpartitionedFilter bool
	RedundantDistinct   bool
	UnionWithoutAll     bool
}

// AntiPattern reports whether any structural anti-pattern was detected.
func (f Features) AntiPattern() bool {
	return f.SelectAll || f.UnboundedSort || f.CartesianJoin ||
		f.UnpartitionedFilter || f.RedundantDistinct || f.UnionWithoutAll
}

// joinModifiers may sit between a join's leading keyword and JOIN.
var joinModifiers = map[string]bool{
	"left": true, "right": true, "full": true, "inner": true, "outer": true,
	"semi": true, "anti": true, "asof": true, "lateral": true,
}

// clauseBoundary ends the search for a join condition or a filter column.
func clauseBoundary(tt sqltext.TokenType) bool {
	switch tt {
	case sqltext.TokenJoin, sqltext.TokenWhere, sqltext.TokenGroup, sqltext.TokenOrder,
		sqltext.TokenLimit, sqltext.TokenUnion, sqltext.TokenHaving, sqltext.TokenQualify,
		sqltext.TokenWindow, sqltext.TokenFetch, sqltext.TokenSemicolon:
		return true
	}
	return false
}

// Extract walks tokens once and collects keyword counts and anti-pattern
// flags. normalizedLen is the length of the normalized text. Identifiers in
// partitionColumns, or ending in _date or _dt, count as partition filters.
func Extract(tokens []sqltext.Token, normalizedLen int, partitionColumns map[string]bool) Features {
	f := Features{Length: normalizedLen}

	var (
		hasDistinctSelect bool
		hasLimit          bool
		sortOutsideCall   bool
		filterHinted      bool
		// parens records, per open parenthesis, whether it opened a call or
		// window specification rather than a subquery or list.
		parens []bool
	)

	insideCall := func() bool {
		for _, call := range parens {
			if call {
				return true
			}
		}
		return false
	}

	for i, tok := range tokens {
		next := peek(tokens, i+1)
		switch tok.Type {
		case sqltext.TokenLParen:
			prev := peek(tokens, i-1)
			call := prev.Type == sqltext.TokenOver ||
				(prev.Type == sqltext.TokenIdent && !prev.Quoted && !isWordOperator(prev.Literal))
			parens = append(parens, call)
		case sqltext.TokenRParen:
			if len(parens) > 0 {
				parens = parens[:len(parens)-1]
			}
		case sqltext.TokenSelect:
			f.Selects++
			if next.Type == sqltext.TokenDistinct {
				hasDistinctSelect = true
			}
		case sqltext.TokenJoin:
			f.Joins++
			if joinWithoutCondition(tokens, i) {
				f.CartesianJoin = true
			}
		case sqltext.TokenWhere:
			f.Wheres++
			if whereHasPartitionColumn(tokens, i, partitionColumns) {
				filterHinted = true
			}
		case sqltext.TokenGroup:
			if next.Type == sqltext.TokenBy {
				f.GroupBys++
			}
		case sqltext.TokenOrder:
			if next.Type == sqltext.TokenBy {
				f.OrderBys++
				if !insideCall() {
					sortOutsideCall = true
				}
			}
		case sqltext.TokenUnion:
			f.Unions++
			if next.Type != sqltext.TokenAll {
				f.UnionWithoutAll = true
			}
		case sqltext.TokenOver:
			f.Windows++
		case sqltext.TokenWindow:
			f.Windows++
		case sqltext.TokenLimit, sqltext.TokenFetch, sqltext.TokenTop:
			hasLimit = true
		case sqltext.TokenStar:
			switch peek(tokens, i-1).Type {
			case sqltext.TokenSelect, sqltext.TokenDistinct, sqltext.TokenComma, sqltext.TokenDot:
				f.SelectAll = true
			}
		}
	}

	f.UnboundedSort = sortOutsideCall && !hasLimit
	f.UnpartitionedFilter = f.Wheres > 0 && !filterHinted
	f.RedundantDistinct = hasDistinctSelect && f.GroupBys > 0
	return f
}

func peek(tokens []sqltext.Token, i int) sqltext.Token {
	if i < 0 || i >= len(tokens) {
		return sqltext.Token{Type: sqltext.TokenEOF}
	}
	return tokens[i]
}

// joinWithoutCondition reports whether the JOIN at index i has neither ON
// nor USING before the next clause. CROSS joins always qualify; NATURAL and
// POSITIONAL joins never do.
func joinWithoutCondition(tokens []sqltext.Token, i int) bool {
	for j := i - 1; j >= 0; j-- {
		tok := tokens[j]
		if tok.Type == sqltext.TokenCross {
			return true
		}
		if tok.Type == sqltext.TokenNatural || (tok.Type == sqltext.TokenIdent && tok.Literal == "positional") {
			return false
		}
		if tok.Type != sqltext.TokenIdent || !joinModifiers[tok.Literal] {
			break
		}
	}

	depth := 0
	for j := i + 1; j < len(tokens); j++ {
		switch tt := tokens[j].Type; {
		case tt == sqltext.TokenLParen:
			depth++
		case tt == sqltext.TokenRParen:
			if depth == 0 {
				return true
			}
			depth--
		case depth > 0:
			continue
		case tt == sqltext.TokenOn || tt == sqltext.TokenUsing:
			return false
		case clauseBoundary(tt):
			return true
		}
	}
	return true
}

// whereHasPartitionColumn scans the WHERE clause starting at index i for an
// identifier that looks like a partition column.
func whereHasPartitionColumn(tokens []sqltext.Token, i int, partitionColumns map[string]bool) bool {
	depth := 0
	for j := i + 1; j < len(tokens); j++ {
		tok := tokens[j]
		switch {
		case tok.Type == sqltext.TokenLParen:
			depth++
		case tok.Type == sqltext.TokenRParen:
			if depth == 0 {
				return false
			}
			depth--
		case depth == 0 && clauseBoundary(tok.Type):
			return false
		case tok.Type == sqltext.TokenIdent && isPartitionColumn(tok.Literal, partitionColumns):
			return true
		}
	}
	return false
}

func isPartitionColumn(ident string, partitionColumns map[string]bool) bool {
	ident = strings.ToLower(ident)
	return partitionColumns[ident] || strings.HasSuffix(ident, "_date") || strings.HasSuffix(ident, "_dt")
}

var wordOperators = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "exists": true,
	"as": true, "is": true, "any": true, "some": true, "values": true,
	"when": true, "then": true, "else": true, "case": true, "like": true,
	"between": true, "with": true, "into": true, "lateral": true,
}

func isWordOperator(s string) bool { return wordOperators[strings.ToLower(s)] }
