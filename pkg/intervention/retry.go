package intervention

import (
	"regexp"
	"strings"
)

// Volatile tokens must not defeat repeat detection: curl against port 3001
// and then 3002 is still the same stuck attempt.
var (
	retryDigits     = regexp.MustCompile(`\d+`)
	retryWhitespace = regexp.MustCompile(`\s+`)
)

// normalizeCommand folds a shell command to its repeat-detection key:
// lowercased, numbers replaced with a placeholder, whitespace collapsed.
func normalizeCommand(cmd string) string {
	n := strings.ToLower(strings.TrimSpace(cmd))
	n = retryDigits.ReplaceAllString(n, "<n>")
	n = retryWhitespace.ReplaceAllString(n, " ")
	return n
}

// retryTracker counts consecutive failures per normalized command. A success
// resets that command's counter and leaves the others alone. Not safe for
// concurrent use; the monitor serializes access.
type retryTracker struct {
	counts map[string]int
}

func newRetryTracker() *retryTracker {
	return &retryTracker{counts: make(map[string]int)}
}

// fail records a failed run and returns the new consecutive count.
func (t *retryTracker) fail(cmd string) int {
	key := normalizeCommand(cmd)
	t.counts[key]++
	return t.counts[key]
}

// succeed clears the counter for cmd.
func (t *retryTracker) succeed(cmd string) {
	delete(t.counts, normalizeCommand(cmd))
}

// snapshot copies the live counters for a PausedSession record.
func (t *retryTracker) snapshot() map[string]int {
	if len(t.counts) == 0 {
		return nil
	}
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}
