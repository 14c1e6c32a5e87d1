package brain

import (
	"regexp"
	"strings"
)

const summaryMaxRunes = 220

var spaceRun = regexp.MustCompile(`\s+`)

var summaryReplacer = strings.NewReplacer(
	"\r", " ",
	"\n", " ",
	"\\", " ",
	`"`, "'",
)

// sanitizeSummary normalizes a model-produced summary into a single clean
// line: no quotes, backslashes or newlines, collapsed whitespace, at most 220
// runes with an ellipsis marker.
func sanitizeSummary(s string) string {
	s = summaryReplacer.Replace(s)
	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))

	r := []rune(s)
	if len(r) > summaryMaxRunes {
		s = strings.TrimRight(string(r[:summaryMaxRunes-3]), " ") + "…"
	}
	return s
}

// sanitizeLine collapses a string to one whitespace-normalized line.
func sanitizeLine(s string) string {
	s = strings.ReplaceAll(strings.ReplaceAll(s, "\r", " "), "\n", " ")
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// clipRunes cuts s to at most max runes with a clean cut, never splitting a
// multibyte character.
func clipRunes(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimRight(string(r[:max]), " ")
}

func firstRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
