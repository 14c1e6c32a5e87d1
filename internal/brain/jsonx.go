package brain

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceOpen = regexp.MustCompile("^```[a-zA-Z0-9_-]*\\s*")

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = fenceOpen.ReplaceAllString(s, "")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// extractJSONArray pulls the first '['..last ']' slice out of model output
// (fences stripped) and unmarshals it into v. Returns false when no valid
// array can be recovered; the caller decides whether to attempt a repair.
func extractJSONArray(text string, v any) bool {
	t := stripCodeFences(text)

	i := strings.Index(t, "[")
	j := strings.LastIndex(t, "]")
	if i == -1 || j == -1 || j <= i {
		return false
	}

	return json.Unmarshal([]byte(t[i:j+1]), v) == nil
}
