// Package config loads, merges, and validates the yokeflow configuration.
//
// Behavior settings come from a single YAML file layered over built-in
// defaults; infrastructure settings (database, listen address, log level)
// come from environment variables and are handled by their owning packages.
package config

// Config is the umbrella configuration object returned by Initialize() and
// passed explicitly to every service that needs it.
type Config struct {
	configPath string // YAML file path, "" when running on pure defaults

	Models        ModelsConfig        `yaml:"models"`
	Timing        TimingConfig        `yaml:"timing"`
	Review        ReviewConfig        `yaml:"review"`
	EpicTesting   EpicTestingConfig   `yaml:"epic_testing"`
	EpicRetesting EpicRetestingConfig `yaml:"epic_retesting"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Security      SecurityConfig      `yaml:"security"`
	Intervention  InterventionConfig  `yaml:"intervention"`
	Execution     ExecutionConfig     `yaml:"execution"`
	Agent         AgentConfig         `yaml:"agent"`
	Retention     RetentionConfig     `yaml:"retention"`
	Server        ServerConfig        `yaml:"server"`
}

// ConfigPath returns the loaded YAML file path ("" for defaults-only).
func (c *Config) ConfigPath() string {
	return c.configPath
}

// Stats contains counts useful for the startup log line.
type Stats struct {
	BlockedCommandRules   int
	CriticalErrorPatterns int
	RedactionPatterns     int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	builtin := GetBuiltinConfig()
	return Stats{
		BlockedCommandRules:   len(builtin.BlockedCommandRules) + len(c.Security.AdditionalBlockedCommands),
		CriticalErrorPatterns: len(builtin.CriticalErrorPatterns),
		RedactionPatterns:     len(builtin.RedactionPatterns),
	}
}

// Default returns a Config carrying only the built-in defaults. Tests use it
// to stand up services without a YAML file.
func Default() *Config {
	return &Config{
		Models:        DefaultModelsConfig(),
		Timing:        DefaultTimingConfig(),
		Review:        DefaultReviewConfig(),
		EpicTesting:   DefaultEpicTestingConfig(),
		EpicRetesting: DefaultEpicRetestingConfig(),
		Sandbox:       DefaultSandboxConfig(),
		Security:      SecurityConfig{},
		Intervention:  DefaultInterventionConfig(),
		Execution:     DefaultExecutionConfig(),
		Agent:         DefaultAgentConfig(),
		Retention:     DefaultRetentionConfig(),
		Server:        DefaultServerConfig(),
	}
}
