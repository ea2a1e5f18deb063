package metrics

import (
	"regexp"
	"strings"
)

// volatileTokens strip run-specific noise from error text so repeats of the
// same failure fingerprint identically across occurrences.
var volatileTokens = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`), "<uuid>"},
	{regexp.MustCompile(`(/[\w.\-]+)+`), "<path>"},
	{regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`), "<hex>"},
	{regexp.MustCompile(`\b\d+(\.\d+)?\b`), "<n>"},
	{regexp.MustCompile(`\s+`), " "},
}

const fingerprintLimit = 160

// Fingerprint normalizes an error message into a stable key: lowercased,
// volatile tokens replaced, whitespace collapsed, capped in length.
func Fingerprint(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	for _, v := range volatileTokens {
		s = v.re.ReplaceAllString(s, v.repl)
	}
	s = strings.TrimSpace(s)
	if len(s) > fingerprintLimit {
		s = s[:fingerprintLimit]
	}
	return s
}
