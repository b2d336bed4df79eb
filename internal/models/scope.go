package models

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Scope is a normalized set of permission names: sorted, without duplicates.
type Scope []string

// ParseScope parses a space-delimited scope string (RFC 6749 section 3.3).
// An empty string yields an empty scope.
func ParseScope(raw string) (Scope, error) {
	seen := make(map[string]struct{})
	var scope Scope
	for _, token := range strings.Fields(raw) {
		if !validScopeToken(token) {
			return nil, fmt.Errorf("invalid scope token %q", token)
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		scope = append(scope, token)
	}
	sort.Strings(scope)
	return scope, nil
}

// MustParseScope is like ParseScope but panics on malformed input.
func MustParseScope(raw string) Scope {
	scope, err := ParseScope(raw)
	if err != nil {
		panic(err)
	}
	return scope
}

// scope-token = 1*( %x21 / %x23-5B / %x5D-7E )
func validScopeToken(token string) bool {
	for i := 0; i < len(token); i++ {
		c := token[i]
		if c < 0x21 || c > 0x7e || c == 0x22 || c == 0x5c {
			return false
		}
	}
	return token != ""
}

// IsEmpty reports whether the scope names no permissions.
func (s Scope) IsEmpty() bool {
	return len(s) == 0
}

// Contains reports whether the scope names the given permission. It does
// not rely on s being sorted.
func (s Scope) Contains(token string) bool {
	return slices.Contains(s, token)
}

// IsSubsetOf reports whether every permission of s is also in other.
func (s Scope) IsSubsetOf(other Scope) bool {
	for _, token := range s {
		if !other.Contains(token) {
			return false
		}
	}
	return true
}

// String returns the space-delimited wire form.
func (s Scope) String() string {
	return strings.Join(s, " ")
}
