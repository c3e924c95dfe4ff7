package rules

import "strings"

// Normalize canonicalizes a key-field value before grouping so cosmetic
// variants of the same identifier collide: surrounding whitespace is
// trimmed, runs of inner whitespace collapse to one space, and letters are
// case-folded.
func Normalize(field, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if field == phoneField {
		return normalizePhone(value)
	}
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

const phoneField = "phone"

// normalizePhone strips separators and keeps digits, preserving a single
// leading + so "+237 6 99 99 99 99" and "237699999999" stay distinct.
func normalizePhone(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i, r := range value {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
