package normalize

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxValueLength is the longest accepted field value
	MaxValueLength = 200
	// MaxValueLines is the most newline separated lines a value may span
	MaxValueLines = 3
	// maxRawCaptionLength bounds the stored raw caption
	maxRawCaptionLength = 4000
)

var (
	breakTag    = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li|/h[1-6])\s*/?\s*>`)
	scriptBlock = regexp.MustCompile(`(?is)<\s*(script|style)[^>]*>.*?<\s*/\s*(script|style)\s*>`)
	anyTag      = regexp.MustCompile(`<[^>]*>`)
	spaceRun    = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)

	injectionMarkers = []string{
		"<script", "javascript:", "onerror=", "onload=", "{{", "}}", "${",
		"function(", "=>", "document.", "window.", "eval(",
	}

	uiStrings = map[string]bool{
		"loading": true, "loading...": true, "please wait": true,
		"click to enlarge": true, "click here": true, "share": true,
		"download": true, "add to cart": true, "add to lightbox": true,
		"sign in": true, "log in": true, "login": true, "register": true,
		"accept": true, "accept all": true, "accept cookies": true,
		"see more": true, "show more": true, "read more": true, "view all": true,
		"close": true, "menu": true, "search": true, "next": true, "previous": true,
		"null": true, "undefined": true, "none": true, "n/a": true, "-": true,
		"unknown": true, "untitled": true,
	}
)

// StripMarkup removes tags, decodes entities and normalizes whitespace while
// keeping line structure.
func StripMarkup(s string) string {
	s = scriptBlock.ReplaceAllString(s, "")
	s = breakTag.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Sanitize returns a cleaned single value, or "" when the value is absent or
// rejected: injection markers, UI strings, more than MaxValueLength
// characters or more than MaxValueLines lines.
func Sanitize(s string) string {
	cleaned := StripMarkup(s)
	if cleaned == "" {
		return ""
	}
	if strings.Count(cleaned, "\n")+1 > MaxValueLines {
		return ""
	}

	cleaned = strings.ReplaceAll(cleaned, "\n", " ")
	if utf8.RuneCountInString(cleaned) > MaxValueLength {
		return ""
	}
	if looksInjected(cleaned) || isUIString(cleaned) {
		return ""
	}
	return cleaned
}

// sanitizeBlock cleans multi-line text such as a raw caption
func sanitizeBlock(s string) string {
	cleaned := StripMarkup(s)
	if cleaned == "" || looksInjected(cleaned) {
		return ""
	}
	if utf8.RuneCountInString(cleaned) > maxRawCaptionLength {
		r := []rune(cleaned)
		cleaned = strings.TrimSpace(string(r[:maxRawCaptionLength]))
	}
	return cleaned
}

func looksInjected(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range injectionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isUIString(s string) bool {
	return uiStrings[strings.ToLower(strings.TrimSpace(s))]
}
