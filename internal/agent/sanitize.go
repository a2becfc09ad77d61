package agent

import (
	"regexp"
	"strings"
)

var (
	thinkRe      = regexp.MustCompile(`(?s)<think>.*?</think>`)
	dataPrefixRe = regexp.MustCompile(`(?m)^data:\s?`)
)

// sanitizeResponse strips model thinking spans and any SSE protocol
// prefixes that leaked into the generated text.
func sanitizeResponse(s string) string {
	s = thinkRe.ReplaceAllString(s, "")
	s = dataPrefixRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
