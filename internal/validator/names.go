package validator

import (
	"sort"
	"strings"
)

// suspiciousTokens may not appear anywhere in a player name.
var suspiciousTokens = []string{"admin", "test", "bot", "cheat", "hack", "null", "undefined"}

func validName(name string, minLen, maxLen int) bool {
	if len(name) < minLen || len(name) > maxLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !allowedNameByte(name[i]) {
			return false
		}
	}
	lower := strings.ToLower(name)
	for _, tok := range suspiciousTokens {
		if strings.Contains(lower, tok) {
			return false
		}
	}
	return true
}

func allowedNameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == ' ', c == '.', c == '_', c == '-':
		return true
	default:
		return false
	}
}

// PairKey canonicalizes an unordered player pair: lower-cased, sorted, "|"-joined.
func PairKey(a, b string) string {
	p := []string{strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))}
	sort.Strings(p)
	return p[0] + "|" + p[1]
}
