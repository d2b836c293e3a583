package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/modelforge/internal/config"
	"github.com/lucasnoah/modelforge/internal/db"
	"github.com/lucasnoah/modelforge/internal/docker"
	"github.com/lucasnoah/modelforge/internal/staging"
)

// Markers the compiler images print on stdout for the orchestrator to
// pick up.
const (
	markerValidation = "VALIDATION_RESULT:"
	markerLatency    = "BENCHMARK_LATENCY:"
	markerThroughput = "BENCHMARK_THROUGHPUT:"
	markerToolchain  = "TOOLCHAIN_VERSION:"
)

// jobConfigName is the filename of the job config inside the scope's
// config tree; containers read it via CONFIG_FILE=/config/compile.json.
const jobConfigName = "compile.json"

// InvalidRequestError reports that a compilation request failed
// validation. It carries the full accumulated error list.
type InvalidRequestError struct {
	Errors []config.ValidationError
}

func (e *InvalidRequestError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("invalid request: %s", e.Errors[0].Error())
	}
	return fmt.Sprintf("invalid request: %d errors", len(e.Errors))
}

// Orchestrator drives compilation jobs through the compile, validate
// and benchmark stages inside isolated environments.
type Orchestrator struct {
	engine   *config.EngineConfig
	stager   *staging.Stager
	envs     *docker.Manager
	archive  *db.Archive
	progress io.Writer
}

// New creates an Orchestrator. archive may be nil.
func New(engine *config.EngineConfig, stager *staging.Stager, envs *docker.Manager, archive *db.Archive) *Orchestrator {
	return &Orchestrator{
		engine:  engine,
		stager:  stager,
		envs:    envs,
		archive: archive,
	}
}

// SetProgress directs human-readable progress lines to w. Progress is
// silent when unset.
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, format+"\n", args...)
	}
}

// RunOpts holds options for running one compilation job.
type RunOpts struct {
	JobID      string // generated when empty
	Request    *config.Request
	Validation config.Options
}

// Run executes one compilation job end to end: normalize the request,
// check the runtime, stage the input into a fresh scope, run the
// enabled stages in order, and aggregate the result. Validation and
// environment errors are returned; stage failures and timeouts are
// reported in the Result. The staging scope is removed on every exit
// path.
func (o *Orchestrator) Run(ctx context.Context, opts RunOpts) (*Result, error) {
	cfg, errs, warnings := config.Normalize(opts.Request, opts.Validation)
	for _, w := range warnings {
		o.logf("warning: %s", w)
	}
	if len(errs) > 0 {
		return nil, &InvalidRequestError{Errors: errs}
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.NewString()[:8]
	}
	o.logf("job %s: target=%s optimization=%s format=%s",
		jobID, cfg.Target, cfg.OptimizationLevel, cfg.OutputFormat)

	// The runtime check comes before any staging so an unreachable
	// runtime never leaves a scope behind.
	if err := o.envs.Ping(ctx); err != nil {
		return nil, err
	}

	_ = o.archive.LogJobEvent(jobID, "started", "", string(cfg.Target))

	scope, err := o.stager.Open(jobID)
	if err != nil {
		return nil, err
	}
	defer o.stager.Close(scope)

	stagedInput, err := scope.StageInput(cfg.InputPath)
	if err != nil {
		_ = o.archive.LogJobEvent(jobID, "failed", "staging", err.Error())
		return nil, err
	}

	outputName := outputFileName(cfg)
	containerCfg := *cfg
	containerCfg.InputPath = "/input/" + stagedInput
	containerCfg.OutputPath = "/output/" + outputName
	if err := staging.WriteJSON(scope.ConfigPath(jobConfigName), &containerCfg); err != nil {
		return nil, fmt.Errorf("write job config: %w", err)
	}

	timeout := o.engine.ParsedStageTimeout()
	var stages []StageResult

	o.logf("job %s: compiling", jobID)
	handle, err := o.runStage(ctx, cfg.Target, docker.StageCompile, scope, timeout)
	if err != nil {
		return nil, err
	}
	meta := ResultMetadata{
		ToolchainVersion: toolchainVersion(handle.Stdout),
		TargetArch:       string(cfg.Target),
	}

	compiled := compileResult(handle, scope, outputName)
	if compiled.Status != StageCompiled {
		stages = append(stages, compiled,
			SkipResult(docker.StageValidate), SkipResult(docker.StageBenchmark))
		o.logf("job %s: compile failed: %s", jobID, compiled.Message)
		return o.finish(jobID, cfg, stages, meta)
	}

	dest := cfg.OutputPath
	if dest == "" {
		dest = defaultOutputPath(cfg)
	}
	if err := scope.ExportOutput(outputName, dest); err != nil {
		return nil, err
	}
	compiled.OutputFile = dest
	stages = append(stages, compiled)
	o.logf("job %s: compiled %s (%s)", jobID, dest, docker.FormatSize(compiled.ModuleSize))

	if cfg.Validate {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o.logf("job %s: validating", jobID)
		handle, err := o.runStage(ctx, cfg.Target, docker.StageValidate, scope, timeout)
		if err != nil {
			return nil, err
		}
		validated := validateResult(handle)
		stages = append(stages, validated)

		failed := validated.Status == StageFailed ||
			(validated.Status == StageValidated && !validated.Passed)
		if failed && o.engine.FailOnValidation {
			o.logf("job %s: validation failed, stopping", jobID)
			stages = append(stages, SkipResult(docker.StageBenchmark))
			return o.finish(jobID, cfg, stages, meta)
		}
	} else {
		stages = append(stages, SkipResult(docker.StageValidate))
	}

	if cfg.Benchmark {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o.logf("job %s: benchmarking", jobID)
		handle, err := o.runStage(ctx, cfg.Target, docker.StageBenchmark, scope, timeout)
		if err != nil {
			return nil, err
		}
		stages = append(stages, benchmarkResult(handle))
	} else {
		stages = append(stages, SkipResult(docker.StageBenchmark))
	}

	return o.finish(jobID, cfg, stages, meta)
}

func (o *Orchestrator) runStage(ctx context.Context, target config.Target, stage docker.Stage, scope *staging.Scope, timeout time.Duration) (*docker.Handle, error) {
	return o.envs.Run(ctx, docker.RunOpts{
		Target:     target,
		Stage:      stage,
		Scope:      scope,
		ConfigFile: "/config/" + jobConfigName,
		Timeout:    timeout,
	})
}

// finish aggregates the stage results and archives the outcome.
func (o *Orchestrator) finish(jobID string, cfg *config.Config, stages []StageResult, meta ResultMetadata) (*Result, error) {
	result := Aggregate(stages, meta)
	o.logf("job %s: %s", jobID, result.Status)

	_ = o.archive.LogJobEvent(jobID, "finished", "", result.Status)
	if data, err := json.Marshal(result); err == nil {
		_ = o.archive.SaveResult(jobID, string(cfg.Target), result.Status, data)
	}
	return result, nil
}

// compileResult inspects the compile stage handle and verifies the
// artifact it claims to have produced.
func compileResult(handle *docker.Handle, scope *staging.Scope, outputName string) StageResult {
	sr := StageResult{Stage: docker.StageCompile, Duration: handle.Duration}

	if handle.TimedOut {
		sr.Status = StageFailed
		sr.Code = CodeTimeout
		sr.Message = fmt.Sprintf("compile stage timed out after %s", handle.Duration.Round(time.Second))
		return sr
	}
	if !handle.Success() {
		sr.Status = StageFailed
		sr.Code = CodeStageFailure
		sr.Message = stageDiagnostic(handle)
		return sr
	}

	info, err := os.Stat(scope.OutputPath(outputName))
	if err != nil || info.Size() == 0 {
		sr.Status = StageFailed
		sr.Code = CodeStageFailure
		sr.Message = "compile reported success but produced no output artifact"
		return sr
	}

	sr.Status = StageCompiled
	sr.OutputFile = scope.OutputPath(outputName)
	sr.ModuleSize = info.Size()
	return sr
}

// validateResult reads the validation verdict from the stage's stdout
// marker. A clean exit without a marker counts as passed; the exit code
// is authoritative.
func validateResult(handle *docker.Handle) StageResult {
	sr := StageResult{Stage: docker.StageValidate, Duration: handle.Duration}

	if handle.TimedOut {
		sr.Status = StageFailed
		sr.Code = CodeTimeout
		sr.Message = "validate stage timed out"
		return sr
	}
	if !handle.Success() {
		sr.Status = StageFailed
		sr.Code = CodeStageFailure
		sr.Message = stageDiagnostic(handle)
		return sr
	}

	sr.Status = StageValidated
	verdict, ok := parseMarker(handle.Stdout, markerValidation)
	sr.Passed = !ok || strings.EqualFold(verdict, "passed")
	if !sr.Passed {
		sr.Diagnostic = stageDiagnostic(handle)
	}
	return sr
}

// benchmarkResult parses the measured numbers from the stage's stdout
// markers.
func benchmarkResult(handle *docker.Handle) StageResult {
	sr := StageResult{Stage: docker.StageBenchmark, Duration: handle.Duration}

	if handle.TimedOut {
		sr.Status = StageFailed
		sr.Code = CodeTimeout
		sr.Message = "benchmark stage timed out"
		return sr
	}
	if !handle.Success() {
		sr.Status = StageFailed
		sr.Code = CodeStageFailure
		sr.Message = stageDiagnostic(handle)
		return sr
	}

	latency, okL := parseFloatMarker(handle.Stdout, markerLatency)
	throughput, okT := parseFloatMarker(handle.Stdout, markerThroughput)
	if !okL || !okT {
		sr.Status = StageFailed
		sr.Code = CodeStageFailure
		sr.Message = "benchmark output missing latency or throughput"
		return sr
	}

	sr.Status = StageBenchmarked
	sr.LatencyMs = latency
	sr.ThroughputOpsPerSec = throughput
	return sr
}

// parseMarker finds the first stdout line starting with marker and
// returns the trimmed remainder.
func parseMarker(stdout, marker string) (string, bool) {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker)), true
		}
	}
	return "", false
}

func parseFloatMarker(stdout, marker string) (float64, bool) {
	s, ok := parseMarker(stdout, marker)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func toolchainVersion(stdout string) string {
	if v, ok := parseMarker(stdout, markerToolchain); ok && v != "" {
		return v
	}
	return "unknown"
}

// stageDiagnostic extracts the most useful diagnostic text from a
// failed stage handle: stderr when present, stdout otherwise.
func stageDiagnostic(handle *docker.Handle) string {
	if s := strings.TrimSpace(handle.Stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(handle.Stdout); s != "" {
		return s
	}
	return fmt.Sprintf("stage exited with code %d", handle.ExitCode)
}

// outputFileName names the artifact the container writes under
// /output.
func outputFileName(cfg *config.Config) string {
	if cfg.OutputPath != "" {
		return filepath.Base(cfg.OutputPath)
	}
	stem := strings.TrimSuffix(filepath.Base(cfg.InputPath), filepath.Ext(cfg.InputPath))
	return stem + "." + string(cfg.OutputFormat)
}

// defaultOutputPath places the artifact next to the input when the
// request names no output path.
func defaultOutputPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.InputPath), outputFileName(cfg))
}

// Plan describes what a compile run would do without launching
// anything.
type Plan struct {
	Target            string   `json:"target"`
	Image             string   `json:"image"`
	Input             string   `json:"input"`
	Output            string   `json:"output"`
	OptimizationLevel string   `json:"optimization_level"`
	TargetFeatures    []string `json:"target_features,omitempty"`
	Stages            []string `json:"stages"`
	StageTimeout      string   `json:"stage_timeout"`
}

// DryRun validates the request and resolves the execution plan without
// side effects.
func (o *Orchestrator) DryRun(opts RunOpts) (*Plan, error) {
	cfg, errs, _ := config.Normalize(opts.Request, opts.Validation)
	if len(errs) > 0 {
		return nil, &InvalidRequestError{Errors: errs}
	}

	image, err := o.envs.Image(cfg.Target)
	if err != nil {
		return nil, err
	}

	output := cfg.OutputPath
	if output == "" {
		output = defaultOutputPath(cfg)
	}

	stages := []string{string(docker.StageCompile)}
	if cfg.Validate {
		stages = append(stages, string(docker.StageValidate))
	}
	if cfg.Benchmark {
		stages = append(stages, string(docker.StageBenchmark))
	}

	return &Plan{
		Target:            string(cfg.Target),
		Image:             image,
		Input:             cfg.InputPath,
		Output:            output,
		OptimizationLevel: string(cfg.OptimizationLevel),
		TargetFeatures:    cfg.TargetFeatures,
		Stages:            stages,
		StageTimeout:      o.engine.ParsedStageTimeout().String(),
	}, nil
}
