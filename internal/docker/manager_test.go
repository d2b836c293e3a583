package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/modelforge/internal/config"
	"github.com/lucasnoah/modelforge/internal/staging"
)

// fakeRunner records docker invocations and plays back canned results.
type fakeRunner struct {
	calls    [][]string
	stdout   string
	stderr   string
	exitCode int
	err      error
	// block makes Run wait until the context is cancelled, to exercise
	// timeout handling.
	block bool
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) (string, string, int, error) {
	f.calls = append(f.calls, args)
	if f.block {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	}
	return f.stdout, f.stderr, f.exitCode, f.err
}

func testImages() map[config.Target]string {
	return map[config.Target]string{
		config.TargetCUDA: "iree-compiler:cuda-latest",
		config.TargetCPU:  "iree-compiler:cpu-latest",
	}
}

func testScope(t *testing.T) *staging.Scope {
	t.Helper()
	st := staging.NewStager(t.TempDir())
	scope, err := st.Open("job-1")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close(scope) })
	return scope
}

func TestRunBuildsDockerArgs(t *testing.T) {
	runner := &fakeRunner{stdout: "SUCCESS"}
	m := NewManager(testImages(), runner)
	scope := testScope(t)

	handle, err := m.Run(context.Background(), RunOpts{
		Target:     config.TargetCUDA,
		Stage:      StageCompile,
		Scope:      scope,
		ConfigFile: "/config/compile.json",
		Timeout:    time.Minute,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !handle.Success() {
		t.Errorf("handle not successful: %+v", handle)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("docker invoked %d times, want 1", len(runner.calls))
	}
	got := strings.Join(runner.calls[0], " ")

	for _, want := range []string{
		"run --rm",
		"--network none",
		scope.InputDir + ":/input:ro",
		scope.OutputDir + ":/output",
		scope.ConfigDir + ":/config:ro",
		"CONFIG_FILE=/config/compile.json",
		"iree-compiler:cuda-latest compile",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("docker args missing %q:\n%s", want, got)
		}
	}
}

func TestRunUnsupportedTarget(t *testing.T) {
	m := NewManager(testImages(), &fakeRunner{})

	_, err := m.Run(context.Background(), RunOpts{
		Target: config.TargetMetal,
		Stage:  StageCompile,
		Scope:  testScope(t),
	})
	var unsupported *UnsupportedTargetError
	if !errors.As(err, &unsupported) {
		t.Fatalf("error = %v, want *UnsupportedTargetError", err)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	runner := &fakeRunner{stderr: "compilation error: invalid IR", exitCode: 1}
	m := NewManager(testImages(), runner)

	handle, err := m.Run(context.Background(), RunOpts{
		Target: config.TargetCPU,
		Stage:  StageCompile,
		Scope:  testScope(t),
	})
	if err != nil {
		t.Fatalf("Run() error: %v (a failed compile is a handle, not an error)", err)
	}
	if handle.Success() {
		t.Error("handle reports success for exit code 1")
	}
	if !strings.Contains(handle.Output(), "invalid IR") {
		t.Errorf("diagnostic output not captured: %q", handle.Output())
	}
}

func TestRunTimeout(t *testing.T) {
	runner := &fakeRunner{block: true}
	m := NewManager(testImages(), runner)

	handle, err := m.Run(context.Background(), RunOpts{
		Target:  config.TargetCPU,
		Stage:   StageCompile,
		Scope:   testScope(t),
		Timeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run() error: %v (timeout must be reported on the handle)", err)
	}
	if !handle.TimedOut {
		t.Error("handle.TimedOut = false after deadline")
	}
	if handle.Success() {
		t.Error("timed-out handle reports success")
	}
}

func TestRunRuntimeUnavailable(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("exec docker: executable file not found")}
	m := NewManager(testImages(), runner)

	_, err := m.Run(context.Background(), RunOpts{
		Target: config.TargetCPU,
		Stage:  StageCompile,
		Scope:  testScope(t),
	})
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want *UnavailableError", err)
	}
}

func TestPing(t *testing.T) {
	m := NewManager(testImages(), &fakeRunner{stdout: "27.1.1\n"})
	if err := m.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}

	m = NewManager(testImages(), &fakeRunner{stderr: "permission denied", exitCode: 1})
	err := m.Ping(context.Background())
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Errorf("Ping() error = %v, want *UnavailableError", err)
	}
}

func TestStatus(t *testing.T) {
	runner := &fakeRunner{stdout: "sha256:0123456789abcdef\t1572864\t2026-07-01T10:00:00Z\n"}
	m := NewManager(testImages(), runner)

	status, err := m.Status(context.Background(), config.TargetCUDA)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if !status.Available {
		t.Error("Available = false")
	}
	if status.ID != "0123456789ab" {
		t.Errorf("ID = %q, want truncated id", status.ID)
	}
	if status.Size != "1.5 MB" {
		t.Errorf("Size = %q, want 1.5 MB", status.Size)
	}

	// Missing image: inspect exits non-zero but that is not an error.
	m = NewManager(testImages(), &fakeRunner{stderr: "No such image", exitCode: 1})
	status, err = m.Status(context.Background(), config.TargetCUDA)
	if err != nil {
		t.Fatalf("Status() error for missing image: %v", err)
	}
	if status.Available {
		t.Error("Available = true for missing image")
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512.0 B"},
		{1536, "1.5 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.in); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
