package config

import (
	"fmt"
	"regexp"
	"strings"
)

var memoryLimitPattern = regexp.MustCompile(`^[0-9]+[bkmg]?$`)

// Validate checks every section for values outside their allowed ranges. The
// first failing field is reported; validation stops there.
func (c *Config) Validate() error {
	if err := c.validateModels(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := c.validateTiming(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := c.validateReview(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := c.validateEpicTesting(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := c.validateEpicRetesting(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := c.validateSandbox(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := c.validateIntervention(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := c.validateExecution(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := c.validateAgent(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := c.validateRetention(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := c.validateServer(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return nil
}

func (c *Config) validateModels() error {
	fields := map[string]string{
		"initializer":        c.Models.Initializer,
		"coding":             c.Models.Coding,
		"review":             c.Models.Review,
		"prompt_improvement": c.Models.PromptImprovement,
	}
	for field, value := range fields {
		if strings.TrimSpace(value) == "" {
			return NewValidationError("models", field, fmt.Errorf("%w: must not be empty", ErrInvalidValue))
		}
	}
	return nil
}

func (c *Config) validateTiming() error {
	if c.Timing.AutoContinueDelaySeconds < 0 {
		return NewValidationError("timing", "auto_continue_delay_seconds", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	positive := map[string]int{
		"checkpoint_interval_seconds":  c.Timing.CheckpointIntervalSeconds,
		"heartbeat_interval_seconds":   c.Timing.HeartbeatIntervalSeconds,
		"orphan_threshold_seconds":     c.Timing.OrphanThresholdSeconds,
		"orphan_scan_interval_seconds": c.Timing.OrphanScanIntervalSeconds,
	}
	for field, value := range positive {
		if value <= 0 {
			return NewValidationError("timing", field, fmt.Errorf("%w: must be > 0", ErrInvalidValue))
		}
	}
	if c.Timing.OrphanThresholdSeconds <= c.Timing.HeartbeatIntervalSeconds {
		return NewValidationError("timing", "orphan_threshold_seconds",
			fmt.Errorf("%w: must exceed heartbeat_interval_seconds", ErrInvalidValue))
	}
	return nil
}

func (c *Config) validateReview() error {
	if c.Review.MinReviewsForAnalysis < 1 {
		return NewValidationError("review", "min_reviews_for_analysis", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	return nil
}

func (c *Config) validateEpicTesting() error {
	if !c.EpicTesting.Mode.IsValid() {
		return NewValidationError("epic_testing", "mode",
			fmt.Errorf("%w: %q (must be %q or %q)", ErrInvalidValue, c.EpicTesting.Mode, EpicTestingStrict, EpicTestingAutonomous))
	}
	if c.EpicTesting.AutoFailureTolerance < 0 {
		return NewValidationError("epic_testing", "auto_failure_tolerance", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	return nil
}

func (c *Config) validateEpicRetesting() error {
	positive := map[string]int{
		"trigger_frequency":       c.EpicRetesting.TriggerFrequency,
		"foundation_retest_days":  c.EpicRetesting.FoundationRetestDays,
		"max_retests_per_trigger": c.EpicRetesting.MaxRetestsPerTrigger,
	}
	for field, value := range positive {
		if value < 1 {
			return NewValidationError("epic_retesting", field, fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
		}
	}
	if c.EpicRetesting.StabilityWindow < 2 {
		return NewValidationError("epic_retesting", "stability_window", fmt.Errorf("%w: must be >= 2", ErrInvalidValue))
	}
	return nil
}

func (c *Config) validateSandbox() error {
	if !c.Sandbox.Type.IsValid() {
		return NewValidationError("sandbox", "type",
			fmt.Errorf("%w: %q (must be %q or %q)", ErrInvalidValue, c.Sandbox.Type, SandboxTypeContainer, SandboxTypeNone))
	}
	if c.Sandbox.WorkspaceRoot == "" {
		return NewValidationError("sandbox", "workspace_root", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	if c.Sandbox.Type == SandboxTypeContainer {
		if c.Sandbox.Image == "" {
			return NewValidationError("sandbox", "image", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
		}
		if !memoryLimitPattern.MatchString(strings.ToLower(c.Sandbox.MemoryLimit)) {
			return NewValidationError("sandbox", "memory_limit",
				fmt.Errorf("%w: %q (expected a number with optional b/k/m/g suffix)", ErrInvalidValue, c.Sandbox.MemoryLimit))
		}
		if c.Sandbox.CPULimit <= 0 {
			return NewValidationError("sandbox", "cpu_limit", fmt.Errorf("%w: must be > 0", ErrInvalidValue))
		}
	}
	return nil
}

func (c *Config) validateSecurity() error {
	for i, name := range c.Security.AdditionalBlockedCommands {
		if strings.TrimSpace(name) == "" {
			return NewValidationError("security", fmt.Sprintf("additional_blocked_commands[%d]", i),
				fmt.Errorf("%w: must not be empty", ErrInvalidValue))
		}
	}
	return nil
}

func (c *Config) validateIntervention() error {
	if c.Intervention.RetryLimit < 1 {
		return NewValidationError("intervention", "retry_limit", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if c.Intervention.ViolationPauseThreshold < 1 {
		return NewValidationError("intervention", "violation_pause_threshold", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	return nil
}

func (c *Config) validateExecution() error {
	if c.Execution.DefaultTimeoutSeconds < 1 {
		return NewValidationError("execution", "default_timeout_seconds", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if c.Execution.SigtermGraceSeconds < 0 {
		return NewValidationError("execution", "sigterm_grace_seconds", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	if c.Execution.MaxOutputBytes < 1024 {
		return NewValidationError("execution", "max_output_bytes", fmt.Errorf("%w: must be >= 1024", ErrInvalidValue))
	}
	return nil
}

func (c *Config) validateAgent() error {
	if strings.TrimSpace(c.Agent.Command) == "" {
		return NewValidationError("agent", "command", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	return nil
}

func (c *Config) validateRetention() error {
	positive := map[string]int{
		"event_ttl_hours":        c.Retention.EventTTLHours,
		"sweep_interval_minutes": c.Retention.SweepIntervalMinutes,
		"session_retention_days": c.Retention.SessionRetentionDays,
	}
	for field, value := range positive {
		if value < 1 {
			return NewValidationError("retention", field, fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Host == "" {
		return NewValidationError("server", "host", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("%w: must be in 1..65535", ErrInvalidValue))
	}
	return nil
}
