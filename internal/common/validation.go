package common

import (
	"regexp"
	"strings"
	"unicode"
)

var reNonSlug = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)

// DigitsOnly strips every non-digit rune from s.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsTaxID reports whether s holds exactly 14 digits once punctuation is removed.
func IsTaxID(s string) bool {
	return len(DigitsOnly(s)) == 14
}

// SanitizeTaxID returns the digits of a tax ID, or "unknown" when none are present.
// The result is safe to use as a path segment.
func SanitizeTaxID(s string) string {
	d := DigitsOnly(s)
	if d == "" {
		return "unknown"
	}
	return d
}

// Slug strips punctuation from a party name, collapses whitespace to underscores
// and truncates to max runes.
func Slug(name string, max int) string {
	cleaned := reNonSlug.ReplaceAllString(strings.TrimSpace(name), "")
	fields := strings.FieldsFunc(cleaned, unicode.IsSpace)
	out := []rune(strings.Join(fields, "_"))
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return strings.Trim(string(out), "_")
}

// SafeFilename keeps the base name of a client-provided filename.
func SafeFilename(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "documento"
	}
	return name
}
