package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const engineYAML = `
images:
  cuda: registry.local/iree/cuda:v3
  cpu: registry.local/iree/cpu:v3
staging_dir: /var/lib/forge/staging
stage_timeout: "20m"
max_jobs: 8
fail_on_validation: true
`

func writeEngineConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEngine(t *testing.T) {
	path := writeEngineConfig(t, engineYAML)
	cfg, err := LoadEngine(path)
	if err != nil {
		t.Fatalf("LoadEngine() error: %v", err)
	}

	if cfg.Images[TargetCUDA] != "registry.local/iree/cuda:v3" {
		t.Errorf("cuda image = %q, want override", cfg.Images[TargetCUDA])
	}
	// Targets not overridden keep stock images.
	if cfg.Images[TargetVulkan] != "iree-compiler:vulkan-latest" {
		t.Errorf("vulkan image = %q, want default", cfg.Images[TargetVulkan])
	}
	if cfg.MaxJobs != 8 {
		t.Errorf("MaxJobs = %d, want 8", cfg.MaxJobs)
	}
	if !cfg.FailOnValidation {
		t.Error("FailOnValidation = false, want true")
	}
	if got := cfg.ParsedStageTimeout(); got != 20*time.Minute {
		t.Errorf("ParsedStageTimeout() = %s, want 20m", got)
	}
}

func TestLoadEngineDefaults(t *testing.T) {
	path := writeEngineConfig(t, "max_jobs: 0\n")
	cfg, err := LoadEngine(path)
	if err != nil {
		t.Fatalf("LoadEngine() error: %v", err)
	}

	for _, target := range Targets() {
		if cfg.Images[target] == "" {
			t.Errorf("no default image for %s", target)
		}
	}
	if cfg.MaxJobs != 4 {
		t.Errorf("MaxJobs = %d, want default 4", cfg.MaxJobs)
	}
	if got := cfg.ParsedStageTimeout(); got != 10*time.Minute {
		t.Errorf("ParsedStageTimeout() = %s, want default 10m", got)
	}
}

func TestLoadEngineRejectsUnknownTarget(t *testing.T) {
	path := writeEngineConfig(t, "images:\n  riscv: img:latest\n")
	if _, err := LoadEngine(path); err == nil {
		t.Fatal("LoadEngine() expected error for unknown target")
	}
}

func TestLoadEngineRejectsBadTimeout(t *testing.T) {
	path := writeEngineConfig(t, "stage_timeout: \"soon\"\n")
	if _, err := LoadEngine(path); err == nil {
		t.Fatal("LoadEngine() expected error for invalid stage_timeout")
	}
}
