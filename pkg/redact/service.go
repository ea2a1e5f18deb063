// Package redact masks secrets in text before it is persisted or broadcast.
// Event payloads pass through here on their way to the events table and the
// NOTIFY wire, so API keys, tokens, passwords, and PEM blocks that an agent
// prints never land in storage or reach SSE subscribers.
package redact

import (
	"log/slog"
	"regexp"

	"github.com/yokeflow/yokeflow/pkg/config"
)

// CompiledPattern holds a pre-compiled redaction regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// Service applies the built-in redaction patterns to text. Created once at
// application startup. Thread-safe and stateless aside from compiled
// patterns.
type Service struct {
	patterns []*CompiledPattern
}

// NewService creates a redaction service with all built-in patterns
// compiled eagerly. Invalid patterns are logged and skipped.
func NewService() *Service {
	builtin := config.GetBuiltinConfig().RedactionPatterns

	s := &Service{patterns: make([]*CompiledPattern, 0, len(builtin))}
	for _, pattern := range builtin {
		compiled, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("Failed to compile redaction pattern, skipping",
				"pattern", pattern.Name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        pattern.Name,
			Regex:       compiled,
			Replacement: pattern.Replacement,
		})
	}

	slog.Info("Redaction service initialized",
		"builtin_patterns", len(builtin),
		"compiled_patterns", len(s.patterns))

	return s
}

// Redact applies every compiled pattern to s and returns the result.
// Patterns replace matched value text only, so surrounding structure
// (JSON, YAML, log lines) survives.
func (r *Service) Redact(s string) string {
	if s == "" {
		return s
	}
	for _, pattern := range r.patterns {
		s = pattern.Regex.ReplaceAllString(s, pattern.Replacement)
	}
	return s
}

// PatternCount returns the number of compiled patterns. Exposed for startup
// diagnostics.
func (r *Service) PatternCount() int {
	return len(r.patterns)
}
