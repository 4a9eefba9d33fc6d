// Package fingerprint turns raw query text into a stable grouping key.
//
// Two queries that differ only in literal values and whitespace produce the
// same fingerprint hash; queries that differ in clause structure do not. The
// canonical form strips literals, the display form substitutes type tags for
// bound values so humans can still tell what shape of value was passed.
package fingerprint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Canonicalization is an ordered regex pass. The order matters: literals are
// stripped before IN clauses are collapsed so that "IN (1, 2, 3)" has already
// become "IN (?, ?, ?)" when the collapse rule runs.
var (
	numberLiteral      = regexp.MustCompile(`\b\d+\b`)
	singleQuoteLiteral = regexp.MustCompile(`'[^']*'`)
	doubleQuoteLiteral = regexp.MustCompile(`"[^"]*"`)
	inClause           = regexp.MustCompile(`(?i)in\s*\([^)]+\)`)
	whitespaceRun      = regexp.MustCompile(`\s+`)
)

// Canonicalize returns the literal-stripped, lower-cased, whitespace-collapsed
// form of raw. Malformed input (for example unbalanced quotes) degrades
// gracefully: unmatched constructs are left as-is and no error is possible.
func Canonicalize(raw string) string {
	s := numberLiteral.ReplaceAllString(raw, "?")
	s = singleQuoteLiteral.ReplaceAllString(s, "?")
	s = doubleQuoteLiteral.ReplaceAllString(s, "?")
	s = inClause.ReplaceAllString(s, "IN (?)")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// Fingerprint returns the grouping hash and the canonical text for raw.
// The hash is a 64-bit content hash rendered as 16 hex digits — collision
// resistant enough for grouping, not for security.
func Fingerprint(raw string) (hash string, canonical string) {
	canonical = Canonicalize(raw)
	return fmt.Sprintf("%016x", xxhash.Sum64String(canonical)), canonical
}

// Normalize returns the human-readable display form of raw: the canonical
// text with each positional placeholder substituted, in order, by a type tag
// derived from the corresponding bound value. Placeholders without a
// corresponding value are left as "?".
func Normalize(raw string, bound []any) string {
	s := Canonicalize(raw)
	for _, val := range bound {
		if !strings.Contains(s, "?") {
			break
		}
		s = strings.Replace(s, "?", typeTag(val), 1)
	}
	return s
}

func typeTag(val any) string {
	switch val.(type) {
	case nil:
		return "NULL"
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return ":number"
	case string:
		return ":string"
	default:
		return ":value"
	}
}
