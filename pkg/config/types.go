package config

import "time"

// ModelsConfig names the model identifier used for each session type. Values
// are opaque to the core; they pass straight through to the agent runner.
type ModelsConfig struct {
	Initializer       string `yaml:"initializer"`
	Coding            string `yaml:"coding"`
	Review            string `yaml:"review"`
	PromptImprovement string `yaml:"prompt_improvement"`
}

// DefaultModelsConfig returns the built-in model defaults.
func DefaultModelsConfig() ModelsConfig {
	return ModelsConfig{
		Initializer:       "default",
		Coding:            "default",
		Review:            "default",
		PromptImprovement: "default",
	}
}

// ForSessionType returns the configured model for a session type string.
func (m ModelsConfig) ForSessionType(sessionType string) string {
	switch sessionType {
	case "initializer":
		return m.Initializer
	case "review":
		return m.Review
	default:
		return m.Coding
	}
}

// TimingConfig controls the session loop's clocks. All keys are in seconds so
// the YAML surface stays unit-explicit.
type TimingConfig struct {
	AutoContinueDelaySeconds  int `yaml:"auto_continue_delay_seconds"`
	CheckpointIntervalSeconds int `yaml:"checkpoint_interval_seconds"`
	HeartbeatIntervalSeconds  int `yaml:"heartbeat_interval_seconds"`
	OrphanThresholdSeconds    int `yaml:"orphan_threshold_seconds"`
	OrphanScanIntervalSeconds int `yaml:"orphan_scan_interval_seconds"`
}

// DefaultTimingConfig returns the built-in timing defaults.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		AutoContinueDelaySeconds:  3,
		CheckpointIntervalSeconds: 300,
		HeartbeatIntervalSeconds:  30,
		OrphanThresholdSeconds:    300,
		OrphanScanIntervalSeconds: 60,
	}
}

// AutoContinueDelay returns the pause between consecutive coding sessions.
func (t TimingConfig) AutoContinueDelay() time.Duration {
	return time.Duration(t.AutoContinueDelaySeconds) * time.Second
}

// CheckpointInterval returns the periodic checkpoint cadence.
func (t TimingConfig) CheckpointInterval() time.Duration {
	return time.Duration(t.CheckpointIntervalSeconds) * time.Second
}

// HeartbeatInterval returns the session heartbeat cadence.
func (t TimingConfig) HeartbeatInterval() time.Duration {
	return time.Duration(t.HeartbeatIntervalSeconds) * time.Second
}

// OrphanThreshold returns how long a running session may go without a
// heartbeat before the sweeper declares it orphaned.
func (t TimingConfig) OrphanThreshold() time.Duration {
	return time.Duration(t.OrphanThresholdSeconds) * time.Second
}

// OrphanScanInterval returns the orphan sweep cadence.
func (t TimingConfig) OrphanScanInterval() time.Duration {
	return time.Duration(t.OrphanScanIntervalSeconds) * time.Second
}

// ReviewConfig controls the deep-review pipeline.
type ReviewConfig struct {
	MinReviewsForAnalysis int `yaml:"min_reviews_for_analysis"`
}

// DefaultReviewConfig returns the built-in review defaults.
func DefaultReviewConfig() ReviewConfig {
	return ReviewConfig{MinReviewsForAnalysis: 5}
}

// EpicTestingMode selects how strictly epic tests gate epic completion.
type EpicTestingMode string

const (
	// EpicTestingStrict requires every epic test passing before completion.
	EpicTestingStrict EpicTestingMode = "strict"
	// EpicTestingAutonomous tolerates a bounded number of failures when all
	// of them are classified flaky or test_quality.
	EpicTestingAutonomous EpicTestingMode = "autonomous"
)

// IsValid checks if the epic testing mode is valid.
func (m EpicTestingMode) IsValid() bool {
	return m == EpicTestingStrict || m == EpicTestingAutonomous
}

// EpicTestingConfig controls epic test gating.
type EpicTestingConfig struct {
	Mode EpicTestingMode `yaml:"mode"`
	// CriticalEpics are name substrings; matching epics are treated as
	// foundation tier for retest prioritization regardless of stored tier.
	CriticalEpics        []string `yaml:"critical_epics"`
	AutoFailureTolerance int      `yaml:"auto_failure_tolerance"`
}

// DefaultEpicTestingConfig returns the built-in epic testing defaults.
func DefaultEpicTestingConfig() EpicTestingConfig {
	return EpicTestingConfig{
		Mode:                 EpicTestingStrict,
		AutoFailureTolerance: 3,
	}
}

// EpicRetestingConfig controls periodic re-testing of completed epics.
type EpicRetestingConfig struct {
	Enabled              bool `yaml:"enabled"`
	TriggerFrequency     int  `yaml:"trigger_frequency"`
	FoundationRetestDays int  `yaml:"foundation_retest_days"`
	MaxRetestsPerTrigger int  `yaml:"max_retests_per_trigger"`
	StabilityWindow      int  `yaml:"stability_window"`
}

// DefaultEpicRetestingConfig returns the built-in retest defaults.
func DefaultEpicRetestingConfig() EpicRetestingConfig {
	return EpicRetestingConfig{
		Enabled:              true,
		TriggerFrequency:     2,
		FoundationRetestDays: 7,
		MaxRetestsPerTrigger: 2,
		StabilityWindow:      10,
	}
}

// SandboxType selects the workspace isolation backend.
type SandboxType string

const (
	// SandboxTypeContainer runs commands in a per-project container.
	SandboxTypeContainer SandboxType = "container"
	// SandboxTypeNone runs commands directly on the host (development only).
	SandboxTypeNone SandboxType = "none"
)

// IsValid checks if the sandbox type is valid.
func (t SandboxType) IsValid() bool {
	return t == SandboxTypeContainer || t == SandboxTypeNone
}

// SandboxConfig controls workspace containers.
type SandboxConfig struct {
	Type          SandboxType `yaml:"type"`
	Image         string      `yaml:"image"`
	MemoryLimit   string      `yaml:"memory_limit"`
	CPULimit      float64     `yaml:"cpu_limit"`
	WorkspaceRoot string      `yaml:"workspace_root"`
}

// DefaultSandboxConfig returns the built-in sandbox defaults.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Type:          SandboxTypeContainer,
		Image:         "ghcr.io/yokeflow/workspace:latest",
		MemoryLimit:   "3g",
		CPULimit:      2,
		WorkspaceRoot: "./workspaces",
	}
}

// SecurityConfig extends the built-in command blocklist.
type SecurityConfig struct {
	AdditionalBlockedCommands []string `yaml:"additional_blocked_commands"`
}

// InterventionConfig controls pause triggers.
type InterventionConfig struct {
	// RetryLimit is the tolerated consecutive-failure count for one
	// normalized command; the next failure pauses the session.
	RetryLimit int `yaml:"retry_limit"`
	// ViolationPauseThreshold is the tolerated quality-violation count;
	// exceeding it pauses the session.
	ViolationPauseThreshold int  `yaml:"violation_pause_threshold"`
	AutoRecovery            bool `yaml:"auto_recovery"`
}

// DefaultInterventionConfig returns the built-in intervention defaults.
func DefaultInterventionConfig() InterventionConfig {
	return InterventionConfig{
		RetryLimit:              3,
		ViolationPauseThreshold: 3,
		AutoRecovery:            true,
	}
}

// AgentConfig locates the external agent runner executable.
type AgentConfig struct {
	// Command is the agent binary spawned once per session.
	Command string `yaml:"command"`
	// Args are fixed arguments placed before the per-session flags.
	Args []string `yaml:"args"`
}

// DefaultAgentConfig returns the built-in agent defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{Command: "yokeflow-agent"}
}

// ExecutionConfig controls sandboxed command execution.
type ExecutionConfig struct {
	DefaultTimeoutSeconds int   `yaml:"default_timeout_seconds"`
	SigtermGraceSeconds   int   `yaml:"sigterm_grace_seconds"`
	MaxOutputBytes        int64 `yaml:"max_output_bytes"`
}

// DefaultExecutionConfig returns the built-in execution defaults.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		DefaultTimeoutSeconds: 120,
		SigtermGraceSeconds:   2,
		MaxOutputBytes:        1 << 20,
	}
}

// DefaultTimeout returns the per-call exec timeout.
func (e ExecutionConfig) DefaultTimeout() time.Duration {
	return time.Duration(e.DefaultTimeoutSeconds) * time.Second
}

// SigtermGrace returns the SIGTERM-to-SIGKILL grace period.
func (e ExecutionConfig) SigtermGrace() time.Duration {
	return time.Duration(e.SigtermGraceSeconds) * time.Second
}

// RetentionConfig controls the retention sweeper.
type RetentionConfig struct {
	EventTTLHours        int `yaml:"event_ttl_hours"`
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
	SessionRetentionDays int `yaml:"session_retention_days"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		EventTTLHours:        24,
		SweepIntervalMinutes: 60,
		SessionRetentionDays: 30,
	}
}

// EventTTL returns how long event rows are kept.
func (r RetentionConfig) EventTTL() time.Duration {
	return time.Duration(r.EventTTLHours) * time.Hour
}

// SweepInterval returns the sweeper cadence.
func (r RetentionConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalMinutes) * time.Minute
}

// ServerConfig controls the control API listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{Host: "0.0.0.0", Port: 8080}
}
