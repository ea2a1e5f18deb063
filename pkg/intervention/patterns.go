package intervention

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/yokeflow/yokeflow/pkg/config"
)

// excerptLimit caps the matched-output excerpt carried into BlockerInfo.
const excerptLimit = 300

// criticalPattern is one compiled known-fatal output signature.
type criticalPattern struct {
	name     string
	re       *regexp.Regexp
	recovery string
}

// compilePatterns builds the critical-error registry. Entries that fail to
// compile are logged and skipped rather than failing the session.
func compilePatterns(logger *slog.Logger, patterns []config.CriticalErrorPattern) []*criticalPattern {
	out := make([]*criticalPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			logger.Warn("skipping invalid critical error pattern",
				"pattern_name", p.Name,
				"error", err)
			continue
		}
		out = append(out, &criticalPattern{name: p.Name, re: re, recovery: p.Recovery})
	}
	return out
}

// matchCritical scans text against the registry and returns the first
// matching pattern with the offending line.
func matchCritical(patterns []*criticalPattern, text string) (*criticalPattern, string) {
	for _, p := range patterns {
		loc := p.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		return p, matchedLine(text, loc[0])
	}
	return nil, ""
}

// matchedLine returns the line containing offset, capped to excerptLimit.
func matchedLine(text string, offset int) string {
	start := strings.LastIndexByte(text[:offset], '\n') + 1
	end := strings.IndexByte(text[offset:], '\n')
	if end < 0 {
		end = len(text)
	} else {
		end += offset
	}
	line := strings.TrimSpace(text[start:end])
	if len(line) > excerptLimit {
		line = line[:excerptLimit]
	}
	return line
}
