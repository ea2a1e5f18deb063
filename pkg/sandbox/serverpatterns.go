package sandbox

import (
	"log/slog"
	"regexp"
	"sync"

	"github.com/yokeflow/yokeflow/pkg/config"
)

var (
	serverStartRes  []*regexp.Regexp
	serverStartOnce sync.Once
)

func compileServerStartPatterns() {
	patterns := config.GetBuiltinConfig().ServerStartPatterns
	serverStartRes = make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			slog.Error("Failed to compile server start pattern, skipping",
				"pattern", p, "error", err)
			continue
		}
		serverStartRes = append(serverStartRes, re)
	}
}

// DetectServerStart reports whether a command line looks like it starts a
// long-lived server (dev server, database). Servers launched as short-lived
// foreground commands die with the call; the tool surface records a warning
// on the session stream so the agent learns to use the init script instead.
func DetectServerStart(command string) (pattern string, ok bool) {
	serverStartOnce.Do(compileServerStartPatterns)
	for _, re := range serverStartRes {
		if re.MatchString(command) {
			return re.String(), true
		}
	}
	return "", false
}
