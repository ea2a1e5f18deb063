package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML document. Sections are pointers so an absent
// section leaves the built-in defaults untouched.
type fileConfig struct {
	Models        *ModelsConfig      `yaml:"models"`
	Timing        *TimingConfig      `yaml:"timing"`
	Review        *ReviewConfig      `yaml:"review"`
	EpicTesting   *EpicTestingConfig `yaml:"epic_testing"`
	EpicRetesting *epicRetestingFile `yaml:"epic_retesting"`
	Sandbox       *SandboxConfig     `yaml:"sandbox"`
	Security      *SecurityConfig    `yaml:"security"`
	Intervention  *interventionFile  `yaml:"intervention"`
	Execution     *ExecutionConfig   `yaml:"execution"`
	Agent         *AgentConfig       `yaml:"agent"`
	Retention     *RetentionConfig   `yaml:"retention"`
	Server        *ServerConfig      `yaml:"server"`
}

// epicRetestingFile keeps Enabled as a pointer so "enabled: false" survives
// the merge over the default of true.
type epicRetestingFile struct {
	Enabled              *bool `yaml:"enabled"`
	TriggerFrequency     int   `yaml:"trigger_frequency"`
	FoundationRetestDays int   `yaml:"foundation_retest_days"`
	MaxRetestsPerTrigger int   `yaml:"max_retests_per_trigger"`
	StabilityWindow      int   `yaml:"stability_window"`
}

type interventionFile struct {
	RetryLimit              int   `yaml:"retry_limit"`
	ViolationPauseThreshold int   `yaml:"violation_pause_threshold"`
	AutoRecovery            *bool `yaml:"auto_recovery"`
}

// Initialize loads configuration from the given YAML file, expands {{.VAR}}
// environment references, merges the result over built-in defaults and
// validates it. An empty path yields the defaults unchanged.
func Initialize(ctx context.Context, path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		slog.InfoContext(ctx, "No config file given, using built-in defaults")
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded, err := ExpandEnv(data)
	if err != nil {
		return nil, err
	}

	var file fileConfig
	if err := yaml.Unmarshal(expanded, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if err := cfg.apply(&file); err != nil {
		return nil, err
	}
	cfg.configPath = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Configuration loaded",
		slog.String("path", path),
		slog.String("sandbox_type", string(cfg.Sandbox.Type)),
		slog.String("epic_testing_mode", string(cfg.EpicTesting.Mode)))
	return cfg, nil
}

// apply merges file sections over the defaults already present in c.
func (c *Config) apply(file *fileConfig) error {
	if err := mergeSection("models", &c.Models, file.Models); err != nil {
		return err
	}
	if err := mergeSection("timing", &c.Timing, file.Timing); err != nil {
		return err
	}
	if err := mergeSection("review", &c.Review, file.Review); err != nil {
		return err
	}
	if err := mergeSection("epic_testing", &c.EpicTesting, file.EpicTesting); err != nil {
		return err
	}
	if err := mergeSection("sandbox", &c.Sandbox, file.Sandbox); err != nil {
		return err
	}
	if err := mergeSection("security", &c.Security, file.Security); err != nil {
		return err
	}
	if err := mergeSection("execution", &c.Execution, file.Execution); err != nil {
		return err
	}
	if err := mergeSection("agent", &c.Agent, file.Agent); err != nil {
		return err
	}
	if err := mergeSection("retention", &c.Retention, file.Retention); err != nil {
		return err
	}
	if err := mergeSection("server", &c.Server, file.Server); err != nil {
		return err
	}

	if s := file.EpicRetesting; s != nil {
		if s.Enabled != nil {
			c.EpicRetesting.Enabled = *s.Enabled
		}
		if s.TriggerFrequency != 0 {
			c.EpicRetesting.TriggerFrequency = s.TriggerFrequency
		}
		if s.FoundationRetestDays != 0 {
			c.EpicRetesting.FoundationRetestDays = s.FoundationRetestDays
		}
		if s.MaxRetestsPerTrigger != 0 {
			c.EpicRetesting.MaxRetestsPerTrigger = s.MaxRetestsPerTrigger
		}
		if s.StabilityWindow != 0 {
			c.EpicRetesting.StabilityWindow = s.StabilityWindow
		}
	}

	if s := file.Intervention; s != nil {
		if s.RetryLimit != 0 {
			c.Intervention.RetryLimit = s.RetryLimit
		}
		if s.ViolationPauseThreshold != 0 {
			c.Intervention.ViolationPauseThreshold = s.ViolationPauseThreshold
		}
		if s.AutoRecovery != nil {
			c.Intervention.AutoRecovery = *s.AutoRecovery
		}
	}
	return nil
}

// mergeSection overrides dst fields with the non-zero fields of src. A nil
// src leaves dst untouched.
func mergeSection[T any](name string, dst, src *T) error {
	if src == nil {
		return nil
	}
	if err := mergo.Merge(dst, *src, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge %s config: %w", name, err)
	}
	return nil
}
