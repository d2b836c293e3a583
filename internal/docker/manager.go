package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/modelforge/internal/config"
	"github.com/lucasnoah/modelforge/internal/staging"
)

// Stage names one step of the compilation pipeline executed inside an
// isolated environment.
type Stage string

const (
	StageCompile   Stage = "compile"
	StageValidate  Stage = "validate"
	StageBenchmark Stage = "benchmark"
)

// UnavailableError reports that the container runtime itself could not
// be reached, as opposed to a failure inside a launched container.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("container runtime unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// UnsupportedTargetError reports a target with no mapped image.
type UnsupportedTargetError struct {
	Target config.Target
}

func (e *UnsupportedTargetError) Error() string {
	return fmt.Sprintf("no image mapped for target %q", e.Target)
}

// Handle describes one finished container run: what was launched, how
// it exited, and what it printed. Handles are transient; the container
// itself is removed as soon as the run returns.
type Handle struct {
	Image    string
	Stage    Stage
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Success reports whether the run exited cleanly within its deadline.
func (h *Handle) Success() bool {
	return h.ExitCode == 0 && !h.TimedOut
}

// Output returns the combined captured streams for diagnostics.
func (h *Handle) Output() string {
	if h.Stderr == "" {
		return h.Stdout
	}
	return h.Stdout + "\n" + h.Stderr
}

// ImageStatus describes a compiler image known to the local runtime.
type ImageStatus struct {
	Image     string
	Available bool
	ID        string
	Size      string
	Created   string
}

// Manager resolves targets to compiler images and drives container runs.
// The image table is injected at construction; there is no process-wide
// registry.
type Manager struct {
	images map[config.Target]string
	runner CommandRunner
}

// NewManager creates a Manager with the given target→image table.
func NewManager(images map[config.Target]string, runner CommandRunner) *Manager {
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &Manager{images: images, runner: runner}
}

// Image resolves a target to its image reference.
func (m *Manager) Image(target config.Target) (string, error) {
	image, ok := m.images[target]
	if !ok || image == "" {
		return "", &UnsupportedTargetError{Target: target}
	}
	return image, nil
}

// Ping verifies that the container runtime is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	_, stderr, exitCode, err := m.runner.Run(ctx, "info", "--format", "{{.ServerVersion}}")
	if err != nil {
		return &UnavailableError{Err: err}
	}
	if exitCode != 0 {
		return &UnavailableError{Err: fmt.Errorf("docker info failed: %s", strings.TrimSpace(stderr))}
	}
	return nil
}

// RunOpts configures one stage run inside an isolated environment.
type RunOpts struct {
	Target     config.Target
	Stage      Stage
	Scope      *staging.Scope
	ConfigFile string // container path of the job config, e.g. /config/compile.json
	Args       []string
	Timeout    time.Duration
}

// Run launches the target's compiler image for one stage and blocks
// until it exits or the timeout fires. The scope's input tree is
// mounted read-only; output and config are read-write for the stage.
// Timeouts terminate the container and are reported on the handle, not
// retried.
func (m *Manager) Run(ctx context.Context, opts RunOpts) (*Handle, error) {
	image, err := m.Image(opts.Target)
	if err != nil {
		return nil, err
	}

	args := []string{
		"run", "--rm",
		"--network", "none",
		"-v", opts.Scope.InputDir + ":/input:ro",
		"-v", opts.Scope.OutputDir + ":/output",
		"-v", opts.Scope.ConfigDir + ":/config:ro",
	}
	if opts.ConfigFile != "" {
		args = append(args, "-e", "CONFIG_FILE="+opts.ConfigFile)
	}
	args = append(args, image, string(opts.Stage))
	args = append(args, opts.Args...)

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	stdout, stderr, exitCode, err := m.runner.Run(runCtx, args...)
	duration := time.Since(start)

	handle := &Handle{
		Image:    image,
		Stage:    opts.Stage,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: duration,
	}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			handle.TimedOut = true
			handle.ExitCode = -1
			return handle, nil
		}
		return nil, &UnavailableError{Err: err}
	}
	if runCtx.Err() == context.DeadlineExceeded {
		handle.TimedOut = true
		handle.ExitCode = -1
	}
	return handle, nil
}

// Status inspects the image mapped to a target. A missing image is not
// an error; Available is false.
func (m *Manager) Status(ctx context.Context, target config.Target) (*ImageStatus, error) {
	image, err := m.Image(target)
	if err != nil {
		return nil, err
	}

	stdout, _, exitCode, err := m.runner.Run(ctx,
		"image", "inspect", image,
		"--format", "{{.Id}}\t{{.Size}}\t{{.Created}}")
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	if exitCode != 0 {
		return &ImageStatus{Image: image, Available: false}, nil
	}

	status := &ImageStatus{Image: image, Available: true}
	fields := strings.SplitN(strings.TrimSpace(stdout), "\t", 3)
	if len(fields) == 3 {
		status.ID = shortID(fields[0])
		status.Size = FormatSize(parseInt64(fields[1]))
		status.Created = fields[2]
	}
	return status, nil
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func parseInt64(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}

// FormatSize renders a byte count as a human-readable string.
func FormatSize(size int64) string {
	if size <= 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	value := float64(size)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", value, units[i])
}
