package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// GenerateSlug creates a URL-friendly slug, used for keyword refs
func GenerateSlug(title string) string {
	slug := strings.ToLower(title)
	slug = slugPattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")

	// Limit length
	if len(slug) > 50 {
		slug = slug[:50]
		slug = strings.Trim(slug, "-")
	}

	return slug
}

// ParseKeywords splits a free-form keyword list on commas, semicolons and
// newlines, dropping quotes, brackets, blanks and repeats.
func ParseKeywords(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}

	s = strings.Trim(s, "[]")
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r'
	})

	seen := make(map[string]bool, len(parts))
	var keywords []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, "\"'")
		part = strings.TrimSpace(part)
		if part == "" || seen[strings.ToLower(part)] {
			continue
		}
		seen[strings.ToLower(part)] = true
		keywords = append(keywords, part)
	}

	return keywords
}

// TruncateWords shortens s to at most max runes, cutting at the last word
// boundary when there is one.
func TruncateWords(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:max])
	if i := strings.LastIndexAny(cut, " \t"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \t,;:")
}
