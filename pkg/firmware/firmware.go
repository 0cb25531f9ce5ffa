// Package firmware normalizes slash-delimited firmware strings.
//
// A full firmware string has four fields (PDA, CSC, modem and a build field). Upstream
// sources often drop trailing fields that repeat the first one, so a two or
// three field string is padded back to four by repeating the first field.
package firmware

import "strings"

const separator = "/"

// Segments splits a firmware string on "/" and drops blank segments.
// Kept segments are not trimmed.
func Segments(raw string) []string {
	parts := strings.Split(raw, separator)
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		segments = append(segments, p)
	}
	return segments
}

// Normalize restores the canonical four field form of a firmware string.
//
//	"A/B"     -> "A/B/A/A"
//	"A/B/C"   -> "A/B/C/A"
//	"A/B/C/D" -> "A/B/C/D"
//
// Strings with zero, one, or more than three segments are only cleaned of
// blank segments, so the result may have fewer than four fields.
func Normalize(raw string) string {
	segments := Segments(raw)

	switch len(segments) {
	case 2:
		segments = append(segments, segments[0], segments[0])
	case 3:
		segments = append(segments, segments[0])
	}

	return strings.Join(segments, separator)
}

// BuildPrefix returns the first segment of a firmware string. Changelogs are
// keyed by it.
func BuildPrefix(fw string) string {
	prefix, _, _ := strings.Cut(fw, separator)
	return prefix
}

// SortKey returns the last four characters of a firmware string, which carry
// the build year/month/revision code. Shorter strings are their own key.
func SortKey(fw string) string {
	r := []rune(fw)
	if len(r) < 4 {
		return fw
	}
	return string(r[len(r)-4:])
}
