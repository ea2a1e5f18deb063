package sandbox

import (
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/yokeflow/yokeflow/pkg/config"
)

// compiledRule is one blocklist entry with its argument pattern compiled.
type compiledRule struct {
	name        string
	command     string // program name, or prefix when isPrefix
	isPrefix    bool
	argRe       *regexp.Regexp // nil when the command alone triggers
	description string
}

// Blocklist screens command lines before they spawn. Matching is
// token-based, not substring-based: a command line is split into pipeline
// segments, each segment's program token is resolved (env-assignment
// prefixes skipped, directory part stripped), and rules are checked against
// that token plus the segment's arguments. "echo sudo" therefore passes
// while "sudo echo" does not.
type Blocklist struct {
	rules []compiledRule
}

// NewBlocklist compiles the built-in rules plus any additional command
// names from config. Invalid argument patterns are logged and skipped.
func NewBlocklist(additionalCommands []string) *Blocklist {
	builtin := config.GetBuiltinConfig().BlockedCommandRules

	bl := &Blocklist{rules: make([]compiledRule, 0, len(builtin)+len(additionalCommands))}
	for _, rule := range builtin {
		compiled := compiledRule{
			name:        rule.Name,
			command:     rule.Command,
			description: rule.Description,
		}
		if strings.HasSuffix(rule.Command, "*") {
			compiled.command = strings.TrimSuffix(rule.Command, "*")
			compiled.isPrefix = true
		}
		if rule.ArgPattern != "" {
			re, err := regexp.Compile(rule.ArgPattern)
			if err != nil {
				slog.Error("Failed to compile blocklist argument pattern, skipping rule",
					"rule", rule.Name, "error", err)
				continue
			}
			compiled.argRe = re
		}
		bl.rules = append(bl.rules, compiled)
	}

	for _, cmd := range additionalCommands {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		bl.rules = append(bl.rules, compiledRule{
			name:        "custom:" + cmd,
			command:     cmd,
			description: "blocked by project security configuration",
		})
	}

	return bl
}

// RuleCount returns the number of active rules. Exposed for startup
// diagnostics.
func (b *Blocklist) RuleCount() int {
	return len(b.rules)
}

// Check screens a command line. It returns nil when the command is allowed,
// or a *BlockedCommandError naming the first rule that matched.
func (b *Blocklist) Check(command string) *BlockedCommandError {
	for _, segment := range splitSegments(command) {
		program, args := splitProgram(segment)
		if program == "" {
			continue
		}
		for i := range b.rules {
			rule := &b.rules[i]
			if !rule.matchesProgram(program) {
				continue
			}
			if rule.argRe == nil {
				return &BlockedCommandError{Command: command, Rule: rule.name, Description: rule.description}
			}
			for _, arg := range args {
				if rule.argRe.MatchString(arg) {
					return &BlockedCommandError{Command: command, Rule: rule.name, Description: rule.description}
				}
			}
		}
	}
	return nil
}

func (r *compiledRule) matchesProgram(program string) bool {
	if r.isPrefix {
		return strings.HasPrefix(program, r.command)
	}
	return program == r.command
}

// segmentSeparators split a shell command line into the simple commands a
// shell would run: pipes, logical operators, sequencing, subshell starts.
var segmentSeparators = regexp.MustCompile(`\|\||&&|[;|&\n]|\$\(|^\(|\s\(`)

// splitSegments breaks a command line into pipeline segments. Quoting is
// intentionally not honored: a blocklisted token hidden inside quotes still
// counts, which errs toward rejection rather than escape.
func splitSegments(command string) []string {
	parts := segmentSeparators.Split(command, -1)
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// envAssignment matches VAR=value prefixes that precede the program token.
var envAssignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// splitProgram resolves a segment into its program token and arguments.
// Leading env assignments are skipped and any directory part is stripped,
// so "FOO=1 /usr/bin/sudo ls" resolves to program "sudo".
func splitProgram(segment string) (string, []string) {
	fields := strings.Fields(segment)
	for len(fields) > 0 && envAssignment.MatchString(fields[0]) {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return "", nil
	}
	program := strings.Trim(path.Base(fields[0]), `"'()`)
	args := make([]string, 0, len(fields)-1)
	for _, f := range fields[1:] {
		args = append(args, strings.Trim(f, `"'()`))
	}
	return program, args
}
