package orchestrator

import (
	"fmt"
	"time"

	"github.com/lucasnoah/modelforge/internal/docker"
)

// StageStatus tags a StageResult variant.
type StageStatus string

const (
	StageCompiled    StageStatus = "compiled"
	StageValidated   StageStatus = "validated"
	StageBenchmarked StageStatus = "benchmarked"
	StageSkipped     StageStatus = "skipped"
	StageFailed      StageStatus = "failed"
)

// Failure codes carried by StageFailed results.
const (
	CodeTimeout      = "timeout"
	CodeStageFailure = "stage_failure"
)

// StageResult records the outcome of one pipeline stage. Which fields
// are meaningful depends on Status: Compiled carries the artifact path
// and size, Validated the pass/fail verdict, Benchmarked the measured
// numbers, Failed a code and message.
type StageResult struct {
	Stage  docker.Stage
	Status StageStatus

	OutputFile string
	ModuleSize int64

	Passed     bool
	Diagnostic string

	LatencyMs           float64
	ThroughputOpsPerSec float64

	Code    string
	Message string

	Duration time.Duration
}

// SkipResult marks a stage that was not run.
func SkipResult(stage docker.Stage) StageResult {
	return StageResult{Stage: stage, Status: StageSkipped}
}

// BenchmarkResults holds the numbers measured by the benchmark stage.
type BenchmarkResults struct {
	LatencyMs           float64 `json:"latency_ms"`
	ThroughputOpsPerSec float64 `json:"throughput_ops_per_sec"`
}

// ResultMetadata describes the toolchain and target a job ran against.
type ResultMetadata struct {
	ToolchainVersion string `json:"toolchain_version"`
	TargetArch       string `json:"target_arch"`
}

// Result is the immutable final report of one compilation job.
type Result struct {
	Status           string            `json:"status"`
	OutputFile       *string           `json:"output_file"`
	CompilationTime  string            `json:"compilation_time"`
	ModuleSize       *string           `json:"module_size"`
	ValidationResult string            `json:"validation_result"`
	BenchmarkResults *BenchmarkResults `json:"benchmark_results"`
	Metadata         ResultMetadata    `json:"metadata"`
}

// Job status values.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailure = "failure"
)

// Aggregate folds the ordered stage results of one job into its final
// report. Status is failure when the compile stage failed, partial when
// compile succeeded but validation or benchmarking did not, success
// otherwise. Aggregate performs no I/O.
func Aggregate(stages []StageResult, meta ResultMetadata) *Result {
	res := &Result{
		Status:           StatusSuccess,
		CompilationTime:  formatDuration(0),
		ValidationResult: "skipped",
		Metadata:         meta,
	}

	for _, sr := range stages {
		switch sr.Stage {
		case docker.StageCompile:
			res.CompilationTime = formatDuration(sr.Duration)
			if sr.Status == StageCompiled {
				out := sr.OutputFile
				res.OutputFile = &out
				size := docker.FormatSize(sr.ModuleSize)
				res.ModuleSize = &size
			} else {
				res.Status = StatusFailure
			}
		case docker.StageValidate:
			switch sr.Status {
			case StageValidated:
				if sr.Passed {
					res.ValidationResult = "passed"
				} else {
					res.ValidationResult = "failed"
				}
			case StageFailed:
				res.ValidationResult = "failed"
			}
		case docker.StageBenchmark:
			if sr.Status == StageBenchmarked {
				res.BenchmarkResults = &BenchmarkResults{
					LatencyMs:           sr.LatencyMs,
					ThroughputOpsPerSec: sr.ThroughputOpsPerSec,
				}
			}
		}
	}

	if res.Status == StatusFailure {
		return res
	}
	for _, sr := range stages {
		if sr.Stage == docker.StageCompile {
			continue
		}
		failed := sr.Status == StageFailed ||
			(sr.Status == StageValidated && !sr.Passed)
		if failed {
			res.Status = StatusPartial
		}
	}
	return res
}

// formatDuration renders a wall-clock duration as seconds with one
// decimal, matching the report format.
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
