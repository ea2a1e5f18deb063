package config

import "sync"

// BlockedCommandRule is one entry of the command blocklist. Matching is
// token-based: Command is compared against the program token of each pipeline
// segment (after env-assignment prefixes), and ArgPattern, when set, must
// match at least one argument of that segment.
type BlockedCommandRule struct {
	// Name is the stable rule identifier reported in rejections.
	Name string
	// Command is the exact program name, or a prefix when ending in '*'.
	Command string
	// ArgPattern is an optional regex matched against each argument. Empty
	// means the command alone triggers the rule.
	ArgPattern string
	// Description is the rationale surfaced to the agent.
	Description string
}

// CriticalErrorPattern is one entry of the critical-error registry. Recovery
// names the auto-recovery rule to try, "" when no known fix exists.
type CriticalErrorPattern struct {
	Name     string
	Pattern  string
	Recovery string
}

// RedactionPattern is one entry of the secret-redaction registry applied to
// persisted event payload text.
type RedactionPattern struct {
	Name        string
	Pattern     string
	Replacement string
}

// BuiltinConfig holds the pattern registries compiled into the binary. User
// config extends but never replaces them.
type BuiltinConfig struct {
	BlockedCommandRules   []BlockedCommandRule
	CriticalErrorPatterns []CriticalErrorPattern
	ServerStartPatterns   []string
	DevServerKillPatterns []string
	RedactionPatterns     []RedactionPattern
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe,
// lazy-initialized).
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		BlockedCommandRules: []BlockedCommandRule{
			{
				Name:        "privilege_escalation",
				Command:     "sudo",
				Description: "privilege escalation is not available inside sessions",
			},
			{
				Name:        "privilege_escalation_su",
				Command:     "su",
				Description: "privilege escalation is not available inside sessions",
			},
			{
				Name:        "privilege_escalation_doas",
				Command:     "doas",
				Description: "privilege escalation is not available inside sessions",
			},
			{
				Name:        "rm_system_path",
				Command:     "rm",
				ArgPattern:  `^/+(bin|boot|dev|etc|home|lib|lib64|opt|proc|root|sbin|srv|sys|usr|var)?/*$`,
				Description: "removing system paths destroys the workspace host",
			},
			{
				Name:        "mkfs",
				Command:     "mkfs*",
				Description: "filesystem creation wipes devices",
			},
			{
				Name:        "dd_to_device",
				Command:     "dd",
				ArgPattern:  `^of=/dev/`,
				Description: "writing to raw devices wipes them",
			},
			{
				Name:        "host_shutdown",
				Command:     "shutdown",
				Description: "host power control is outside session scope",
			},
			{
				Name:        "host_reboot",
				Command:     "reboot",
				Description: "host power control is outside session scope",
			},
			{
				Name:        "host_halt",
				Command:     "halt",
				Description: "host power control is outside session scope",
			},
			{
				Name:        "host_package_manager",
				Command:     "apt*",
				ArgPattern:  `^(install|remove|purge|upgrade|dist-upgrade|autoremove)$`,
				Description: "system package changes belong in the sandbox setup script",
			},
			{
				Name:        "host_package_manager_rpm",
				Command:     "yum",
				ArgPattern:  `^(install|remove|erase|upgrade|update)$`,
				Description: "system package changes belong in the sandbox setup script",
			},
			{
				Name:        "host_package_manager_dnf",
				Command:     "dnf",
				ArgPattern:  `^(install|remove|erase|upgrade|update)$`,
				Description: "system package changes belong in the sandbox setup script",
			},
			{
				Name:        "kill_system_process",
				Command:     "kill",
				ArgPattern:  `^(1|-9 1|init|systemd|sshd|dockerd|containerd)$`,
				Description: "killing system processes breaks the sandbox",
			},
			{
				Name:        "pkill_system_process",
				Command:     "pkill",
				ArgPattern:  `^(init|systemd|sshd|dockerd|containerd)$`,
				Description: "killing system processes breaks the sandbox",
			},
			{
				Name:        "killall_system_process",
				Command:     "killall",
				ArgPattern:  `^(init|systemd|sshd|dockerd|containerd)$`,
				Description: "killing system processes breaks the sandbox",
			},
			{
				Name:        "kernel_module_insmod",
				Command:     "insmod",
				Description: "kernel module operations are not permitted",
			},
			{
				Name:        "kernel_module_rmmod",
				Command:     "rmmod",
				Description: "kernel module operations are not permitted",
			},
			{
				Name:        "kernel_module_modprobe",
				Command:     "modprobe",
				Description: "kernel module operations are not permitted",
			},
			{
				Name:        "user_management",
				Command:     "useradd",
				Description: "user management is not permitted",
			},
			{
				Name:        "user_management_del",
				Command:     "userdel",
				Description: "user management is not permitted",
			},
			{
				Name:        "user_management_mod",
				Command:     "usermod",
				Description: "user management is not permitted",
			},
			{
				Name:        "user_management_passwd",
				Command:     "passwd",
				Description: "user management is not permitted",
			},
			{
				Name:        "mount",
				Command:     "mount",
				Description: "mount operations are not permitted",
			},
			{
				Name:        "umount",
				Command:     "umount",
				Description: "mount operations are not permitted",
			},
		},
		CriticalErrorPatterns: []CriticalErrorPattern{
			{
				Name:     "database_unreachable",
				Pattern:  `(?i)(connection refused|could not connect|connection reset|ECONNREFUSED)[^\n]{0,120}(postgres|database|:5432)`,
				Recovery: "restart_service",
			},
			{
				Name:    "schema_validation_failed",
				Pattern: `(?i)(schema validation failed|relation "[^"]+" does not exist|column "[^"]+" does not exist)`,
			},
			{
				Name:     "missing_core_dependency",
				Pattern:  `(?i)(cannot find module|ModuleNotFoundError|ImportError: No module named|package [^\s]+ is not in)`,
				Recovery: "install_module",
			},
			{
				Name:     "port_in_use",
				Pattern:  `(?i)(address already in use|EADDRINUSE|port is already allocated)`,
				Recovery: "free_port",
			},
		},
		ServerStartPatterns: []string{
			`\bnpm\s+(run\s+)?(dev|start)\b`,
			`\byarn\s+(dev|start)\b`,
			`\bpnpm\s+(run\s+)?dev\b`,
			`\bvite\b`,
			`\bnext\s+(dev|start)\b`,
			`\bnodemon\b`,
			`\bwebpack[- ]dev[- ]server\b`,
			`\bflask\s+run\b`,
			`\buvicorn\b`,
			`\bpython[0-9.]*\s+-m\s+http\.server\b`,
			`\brails\s+s(erver)?\b`,
			`\bpg_ctl\s+start\b`,
			`\bredis-server\b`,
			`\bmongod\b`,
		},
		DevServerKillPatterns: []string{
			"vite",
			"next-server",
			"next dev",
			"nodemon",
			"webpack",
			"react-scripts",
			"uvicorn",
			"flask run",
		},
		RedactionPatterns: []RedactionPattern{
			{
				Name:        "bearer_token",
				Pattern:     `(?i)bearer\s+[A-Za-z0-9\-._~+/]{16,}=*`,
				Replacement: "Bearer [REDACTED]",
			},
			{
				Name:        "credential_assignment",
				Pattern:     `(?i)\b(api[_-]?key|apikey|secret[_-]?key|access[_-]?token|auth[_-]?token)\b["':\s=]+[^\s"']{12,}`,
				Replacement: "[REDACTED_CREDENTIAL]",
			},
			{
				Name:        "password_assignment",
				Pattern:     `(?i)\b(password|passwd|pwd)\b["':\s=]+[^\s"']+`,
				Replacement: "[REDACTED_PASSWORD]",
			},
			{
				Name:        "private_key_block",
				Pattern:     `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`,
				Replacement: "[REDACTED_PRIVATE_KEY]",
			},
			{
				Name:        "aws_access_key",
				Pattern:     `\bAKIA[0-9A-Z]{16}\b`,
				Replacement: "[REDACTED_AWS_KEY]",
			},
			{
				Name:        "github_token",
				Pattern:     `\bgh[pousr]_[A-Za-z0-9]{20,}\b`,
				Replacement: "[REDACTED_GITHUB_TOKEN]",
			},
		},
	}
}
