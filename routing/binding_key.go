package routing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wildcard tokens recognized in binding keys.
const (
	// TokenStar matches any single token at its position.
	TokenStar = "*"
	// TokenSharp matches the remainder of the routing content. It is
	// only valid as the final token of a binding key.
	TokenSharp = "#"
)

// BindingKey is an ordered sequence of match tokens. The zero value is
// the empty binding key, which matches every routing content.
//
// Token order is preserved across serialization; keys marshal as JSON
// string arrays.
type BindingKey struct {
	parts []string
}

// EmptyBindingKey matches every routing content of its subscription's type.
var EmptyBindingKey = BindingKey{}

// NewBindingKey builds a binding key from tokens in order.
func NewBindingKey(parts ...string) BindingKey {
	if len(parts) == 0 {
		return BindingKey{}
	}
	copied := make([]string, len(parts))
	copy(copied, parts)
	return BindingKey{parts: copied}
}

// ParseBindingKey parses a dot-separated textual key ("a.*.b", "a.#").
// An empty string yields the empty binding key.
func ParseBindingKey(s string) BindingKey {
	if s == "" {
		return BindingKey{}
	}
	return BindingKey{parts: strings.Split(s, ".")}
}

// MustBindingKey parses a textual key and panics if it is invalid.
// Intended for package-level subscription declarations.
func MustBindingKey(s string) BindingKey {
	bk := ParseBindingKey(s)
	if err := bk.Validate(); err != nil {
		panic(fmt.Sprintf("routing: invalid binding key %q: %v", s, err))
	}
	return bk
}

// IsEmpty reports whether the key has no tokens.
func (bk BindingKey) IsEmpty() bool {
	return len(bk.parts) == 0
}

// PartCount returns the number of tokens.
func (bk BindingKey) PartCount() int {
	return len(bk.parts)
}

// PartToken returns the token at position i, and false when i is out of
// range.
func (bk BindingKey) PartToken(i int) (string, bool) {
	if i < 0 || i >= len(bk.parts) {
		return "", false
	}
	return bk.parts[i], true
}

// Parts returns a copy of the tokens in order.
func (bk BindingKey) Parts() []string {
	if len(bk.parts) == 0 {
		return nil
	}
	copied := make([]string, len(bk.parts))
	copy(copied, bk.parts)
	return copied
}

// Validate checks wildcard placement: "#" may only appear as the final
// token.
func (bk BindingKey) Validate() error {
	for i, part := range bk.parts {
		if part == TokenSharp && i != len(bk.parts)-1 {
			return fmt.Errorf("token %q at position %d: must be last", TokenSharp, i)
		}
	}
	return nil
}

// String returns the dot-joined textual form. The empty key renders as
// "#" since both match everything.
func (bk BindingKey) String() string {
	if len(bk.parts) == 0 {
		return TokenSharp
	}
	return strings.Join(bk.parts, ".")
}

// Equals reports structural equality token by token.
func (bk BindingKey) Equals(other BindingKey) bool {
	if len(bk.parts) != len(other.parts) {
		return false
	}
	for i, part := range bk.parts {
		if part != other.parts[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the key as an ordered string array.
func (bk BindingKey) MarshalJSON() ([]byte, error) {
	if bk.parts == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(bk.parts)
}

// UnmarshalJSON decodes an ordered string array.
func (bk *BindingKey) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) == 0 {
		bk.parts = nil
		return nil
	}
	bk.parts = parts
	return nil
}
