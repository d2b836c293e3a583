package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig is the operator-owned engine configuration parsed from
// forge YAML. It carries everything the orchestrator needs that is not
// part of an individual compilation request.
type EngineConfig struct {
	// Images maps each target to its compiler image reference.
	Images map[Target]string `yaml:"images"`
	// StagingDir is the base directory for per-job staging scopes.
	// Empty means the system temp directory.
	StagingDir string `yaml:"staging_dir"`
	// StageTimeout bounds the wall-clock duration of one stage.
	StageTimeout string `yaml:"stage_timeout"`
	// MaxJobs caps the number of concurrently running jobs.
	MaxJobs int `yaml:"max_jobs"`
	// FailOnValidation makes a failed output-validation stage abort the
	// job instead of downgrading it to partial.
	FailOnValidation bool `yaml:"fail_on_validation"`
	// DatabaseURL enables the Postgres job archive when set.
	DatabaseURL string `yaml:"database_url"`
}

// DefaultImages is the stock target→image table, used when the engine
// config does not override it.
func DefaultImages() map[Target]string {
	return map[Target]string{
		TargetCUDA:   "iree-compiler:cuda-latest",
		TargetCPU:    "iree-compiler:cpu-latest",
		TargetVulkan: "iree-compiler:vulkan-latest",
		TargetMetal:  "iree-compiler:metal-latest",
	}
}

// LoadEngine reads an engine configuration from a YAML file and applies
// defaults for unset values.
func LoadEngine(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading engine config: %w", err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing engine config YAML: %w", err)
	}

	applyEngineDefaults(&cfg)
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEngineDefault searches standard locations for an engine config and
// loads the first one found, falling back to built-in defaults when none
// exists. Search order: ./forge.yaml, ~/.forge/config.yaml
func LoadEngineDefault() (*EngineConfig, error) {
	candidates := []string{"forge.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".forge", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return LoadEngine(path)
		}
	}

	cfg := &EngineConfig{}
	applyEngineDefaults(cfg)
	return cfg, nil
}

// ParsedStageTimeout returns the stage timeout as a duration.
func (c *EngineConfig) ParsedStageTimeout() time.Duration {
	d, err := time.ParseDuration(c.StageTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

func applyEngineDefaults(cfg *EngineConfig) {
	defaults := DefaultImages()
	if cfg.Images == nil {
		cfg.Images = defaults
	} else {
		for target, image := range defaults {
			if cfg.Images[target] == "" {
				cfg.Images[target] = image
			}
		}
	}
	if cfg.StageTimeout == "" {
		cfg.StageTimeout = "10m"
	}
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = 4
	}
}

func (c *EngineConfig) check() error {
	for target := range c.Images {
		if FeaturesFor(target) == nil {
			return fmt.Errorf("engine config: unknown target %q in images", target)
		}
	}
	if _, err := time.ParseDuration(c.StageTimeout); err != nil {
		return fmt.Errorf("engine config: invalid stage_timeout %q: %w", c.StageTimeout, err)
	}
	return nil
}
