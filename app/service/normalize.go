package service

import "strings"

// NormalizeEmail produces the canonical form used for storage and lookup:
// surrounding whitespace stripped, everything lower-cased. Email comparisons
// are always case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
