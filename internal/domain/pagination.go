package domain

import (
	"encoding/base64"
	"strconv"
)

// DefaultPageSize is used when a list request does not specify a size.
const DefaultPageSize = 100

// MaxPageSize caps list requests from the read API.
const MaxPageSize = 1000

// Page selects a slice of an ordered result set. Token is an opaque
// base64-encoded offset handed back to clients as next_page_token.
type Page struct {
	Size  int
	Token string
}

// Limit returns the effective page size, clamped to [1, MaxPageSize].
func (p Page) Limit() int {
	switch {
	case p.Size <= 0:
		return DefaultPageSize
	case p.Size > MaxPageSize:
		return MaxPageSize
	default:
		return p.Size
	}
}

// Offset decodes Token. Garbage tokens restart at the first row.
func (p Page) Offset() int {
	if p.Token == "" {
		return 0
	}
	raw, err := base64.RawURLEncoding.DecodeString(p.Token)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Next returns the token for the page after this one, or "" when the
// current page came back short.
func (p Page) Next(returned int) string {
	if returned < p.Limit() {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(p.Offset() + returned)))
}
