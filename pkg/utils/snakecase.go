package utils

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts a mixed-case identifier ("estimateOptions") to its
// underscore-separated wire form ("estimate_options").
func ToSnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MapToSnakeCase returns a copy of m with every key converted by ToSnakeCase.
// Update payloads are built in domain casing and converted mechanically at
// the backend boundary.
func MapToSnakeCase(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[ToSnakeCase(k)] = v
	}
	return out
}
