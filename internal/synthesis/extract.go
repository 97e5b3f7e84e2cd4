package synthesis

import (
	"regexp"
	"strings"
)

// The info string is only recognised when a newline follows it, so a
// single-line fence keeps its whole body.
var anyFence = regexp.MustCompile("(?s)```(?:[A-Za-z0-9_+.-]*[ \t]*\r?\n)?(.*?)```")

// ExtractCode pulls a payload out of a model response. A fenced block tagged
// with language wins (case-insensitive), then the first fenced block of any
// kind, then the whole response.
func ExtractCode(text, language string) string {
	if language != "" {
		tagged := regexp.MustCompile("(?is)```" + regexp.QuoteMeta(language) + `(?:[ \t]*\r?\n|[ \t]+)(.*?)` + "```")
		if m := tagged.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	if m := anyFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}
