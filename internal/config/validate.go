package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ValidationError represents a single validation issue with a request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// SchemaError reports a request that could not be parsed at all, before
// field validation begins.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("malformed request: %v", e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Options controls validation behaviour.
type Options struct {
	// Strict rejects unknown top-level keys; lenient mode reports them
	// as warnings instead.
	Strict bool
	// SchemaOnly skips filesystem checks, for configs not yet bound to
	// a concrete job.
	SchemaOnly bool
}

// Request is a raw, not-yet-validated compilation request. It preserves
// the original keys so unknown-key policy and per-field type errors can
// be reported precisely.
type Request struct {
	fields map[string]json.RawMessage
}

// ParseRequest parses raw JSON into a Request. A parse failure is a
// *SchemaError, distinct from field-level validation errors.
func ParseRequest(data []byte) (*Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &SchemaError{Err: err}
	}
	return &Request{fields: fields}, nil
}

// RequestFromConfig converts an already-canonical config back into a
// request, so normalization can be re-applied to its own output.
func RequestFromConfig(cfg *Config) *Request {
	data, _ := json.Marshal(cfg)
	req, _ := ParseRequest(data)
	return req
}

// knownKeys is the set of recognized top-level request fields.
var knownKeys = setOf(
	"input_path", "output_path", "target", "optimization_level",
	"target_features", "output_format", "validate", "benchmark",
	"target_specific", "metadata",
)

// Validate checks a request against the schema and returns every
// violation found, plus unknown-key warnings in lenient mode.
func Validate(req *Request, opts Options) ([]ValidationError, []string) {
	_, errs, warnings := decodeAndCheck(req, opts)
	return errs, warnings
}

// Normalize validates a request and, if it is valid, canonicalizes it:
// defaults applied, target_features sorted, paths trimmed. Normalizing
// an already-normalized config yields an identical value.
func Normalize(req *Request, opts Options) (*Config, []ValidationError, []string) {
	cfg, errs, warnings := decodeAndCheck(req, opts)
	if len(errs) > 0 {
		return nil, errs, warnings
	}
	sort.Strings(cfg.TargetFeatures)
	return cfg, nil, warnings
}

// decodeAndCheck decodes the raw fields into a Config with defaults
// applied, accumulating every type and semantic violation.
func decodeAndCheck(req *Request, opts Options) (*Config, []ValidationError, []string) {
	var errs []ValidationError
	var warnings []string

	for _, key := range sortedKeys(req.fields) {
		if knownKeys[key] {
			continue
		}
		if opts.Strict {
			errs = append(errs, ValidationError{Field: key, Message: "unknown field"})
		} else {
			warnings = append(warnings, fmt.Sprintf("ignoring unknown field %q", key))
		}
	}

	cfg := &Config{
		OptimizationLevel: OptO3,
		OutputFormat:      FormatVMFB,
		Validate:          true,
		Benchmark:         false,
	}

	decodeField(req, "input_path", &cfg.InputPath, &errs)
	decodeField(req, "output_path", &cfg.OutputPath, &errs)
	decodeField(req, "target", &cfg.Target, &errs)
	decodeField(req, "optimization_level", &cfg.OptimizationLevel, &errs)
	decodeField(req, "target_features", &cfg.TargetFeatures, &errs)
	decodeField(req, "output_format", &cfg.OutputFormat, &errs)
	decodeField(req, "validate", &cfg.Validate, &errs)
	decodeField(req, "benchmark", &cfg.Benchmark, &errs)
	decodeField(req, "target_specific", &cfg.TargetSpecific, &errs)
	decodeField(req, "metadata", &cfg.Metadata, &errs)

	cfg.InputPath = strings.TrimSpace(cfg.InputPath)
	cfg.OutputPath = strings.TrimSpace(cfg.OutputPath)

	checkRequired(cfg, &errs)
	checkEnums(cfg, &errs)
	checkTargetFeatures(cfg, &errs)
	checkOutputFormat(cfg, &errs)
	checkTargetSpecific(cfg, &errs)
	if !opts.SchemaOnly {
		checkInputFile(cfg, &errs)
	}

	return cfg, errs, warnings
}

func decodeField(req *Request, key string, dst interface{}, errs *[]ValidationError) {
	raw, ok := req.fields[key]
	if !ok {
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		*errs = append(*errs, ValidationError{Field: key, Message: fmt.Sprintf("invalid value: %v", err)})
	}
}

func checkRequired(cfg *Config, errs *[]ValidationError) {
	if cfg.InputPath == "" {
		*errs = append(*errs, ValidationError{Field: "input_path", Message: "is required"})
	}
	if cfg.Target == "" {
		*errs = append(*errs, ValidationError{Field: "target", Message: "is required"})
	}
}

func checkEnums(cfg *Config, errs *[]ValidationError) {
	if cfg.Target != "" && FeaturesFor(cfg.Target) == nil {
		*errs = append(*errs, ValidationError{
			Field:   "target",
			Message: fmt.Sprintf("unsupported target %q (supported: cuda, cpu, vulkan, metal)", cfg.Target),
		})
	}
	switch cfg.OptimizationLevel {
	case OptO0, OptO1, OptO2, OptO3:
	default:
		*errs = append(*errs, ValidationError{
			Field:   "optimization_level",
			Message: fmt.Sprintf("invalid level %q (expected O0-O3)", cfg.OptimizationLevel),
		})
	}
	switch cfg.OutputFormat {
	case FormatVMFB, FormatSO, FormatDylib:
	default:
		*errs = append(*errs, ValidationError{
			Field:   "output_format",
			Message: fmt.Sprintf("invalid format %q (expected vmfb, so or dylib)", cfg.OutputFormat),
		})
	}
}

func checkTargetFeatures(cfg *Config, errs *[]ValidationError) {
	valid := FeaturesFor(cfg.Target)
	if valid == nil {
		return
	}
	seen := make(map[string]bool)
	for i, f := range cfg.TargetFeatures {
		field := fmt.Sprintf("target_features[%d]", i)
		if seen[f] {
			*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate feature %q", f)})
			continue
		}
		seen[f] = true
		if !valid[f] {
			*errs = append(*errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("feature %q not valid for target %q", f, cfg.Target),
			})
		}
	}
}

func checkOutputFormat(cfg *Config, errs *[]ValidationError) {
	if FeaturesFor(cfg.Target) == nil {
		return
	}
	switch cfg.OutputFormat {
	case FormatVMFB, FormatSO, FormatDylib:
	default:
		return
	}
	if !FormatSupported(cfg.Target, cfg.OutputFormat) {
		*errs = append(*errs, ValidationError{
			Field:   "output_format",
			Message: fmt.Sprintf("format %q not supported for target %q", cfg.OutputFormat, cfg.Target),
		})
	}
	if cfg.OutputPath != "" && !strings.HasSuffix(cfg.OutputPath, "."+string(cfg.OutputFormat)) {
		*errs = append(*errs, ValidationError{
			Field:   "output_path",
			Message: fmt.Sprintf("extension must match output format %q", cfg.OutputFormat),
		})
	}
}

func checkTargetSpecific(cfg *Config, errs *[]ValidationError) {
	// Only the block matching the active target is checked; sibling
	// blocks are preserved untouched.
	switch cfg.Target {
	case TargetCUDA:
		if cfg.TargetSpecific.CUDA != nil {
			checkCUDAOptions(cfg, cfg.TargetSpecific.CUDA, errs)
		}
	case TargetCPU:
		if cfg.TargetSpecific.CPU != nil {
			checkCPUOptions(cfg.TargetSpecific.CPU, errs)
		}
	case TargetVulkan:
		if cfg.TargetSpecific.Vulkan != nil {
			checkVulkanOptions(cfg.TargetSpecific.Vulkan, errs)
		}
	case TargetMetal:
		if cfg.TargetSpecific.Metal != nil {
			checkMetalOptions(cfg.TargetSpecific.Metal, errs)
		}
	}
}

func checkCUDAOptions(cfg *Config, opts *CUDAOptions, errs *[]ValidationError) {
	features := setOf(cfg.TargetFeatures...)
	for _, cc := range opts.ComputeCapability {
		if !targetFeatures[TargetCUDA][cc] {
			*errs = append(*errs, ValidationError{
				Field:   "target_specific.cuda.compute_capability",
				Message: fmt.Sprintf("invalid compute capability %q", cc),
			})
			continue
		}
		if len(cfg.TargetFeatures) > 0 && !features[cc] {
			*errs = append(*errs, ValidationError{
				Field:   "target_specific.cuda.compute_capability",
				Message: fmt.Sprintf("compute capability %q not listed in target_features", cc),
			})
		}
	}
	if n := opts.MaxThreadsPerBlock; n != 0 {
		if n < warpSize || n > maxThreadsPerBlockCeiling {
			*errs = append(*errs, ValidationError{
				Field:   "target_specific.cuda.max_threads_per_block",
				Message: fmt.Sprintf("must be between %d and %d", warpSize, maxThreadsPerBlockCeiling),
			})
		} else if n%warpSize != 0 {
			*errs = append(*errs, ValidationError{
				Field:   "target_specific.cuda.max_threads_per_block",
				Message: fmt.Sprintf("must be a multiple of the warp size (%d)", warpSize),
			})
		}
	}
}

func checkCPUOptions(opts *CPUOptions, errs *[]ValidationError) {
	for _, ext := range opts.VectorExtensions {
		if !targetFeatures[TargetCPU][ext] {
			*errs = append(*errs, ValidationError{
				Field:   "target_specific.cpu.vector_extensions",
				Message: fmt.Sprintf("invalid vector extension %q", ext),
			})
			continue
		}
		if opts.TargetCPU == "arm64" && x86VectorExtensions[ext] {
			*errs = append(*errs, ValidationError{
				Field:   "target_specific.cpu.vector_extensions",
				Message: fmt.Sprintf("x86 extension %q not compatible with arm64", ext),
			})
		}
	}
	if opts.NumThreads < 0 || opts.NumThreads > maxCPUThreads {
		*errs = append(*errs, ValidationError{
			Field:   "target_specific.cpu.num_threads",
			Message: fmt.Sprintf("must be between 0 and %d", maxCPUThreads),
		})
	}
}

func checkVulkanOptions(opts *VulkanOptions, errs *[]ValidationError) {
	if opts.SPIRVVersion != "" && !spirvVersions[opts.SPIRVVersion] {
		*errs = append(*errs, ValidationError{
			Field:   "target_specific.vulkan.spirv_version",
			Message: fmt.Sprintf("invalid SPIR-V version %q", opts.SPIRVVersion),
		})
	}
	if opts.VulkanVersion != "" && !vulkanVersions[opts.VulkanVersion] {
		*errs = append(*errs, ValidationError{
			Field:   "target_specific.vulkan.vulkan_version",
			Message: fmt.Sprintf("invalid Vulkan version %q", opts.VulkanVersion),
		})
	}
	// SPIR-V 1.4+ needs Vulkan 1.1 or newer.
	if spirvVersions[opts.SPIRVVersion] && opts.SPIRVVersion >= "1.4" && opts.VulkanVersion == "1.0" {
		*errs = append(*errs, ValidationError{
			Field:   "target_specific.vulkan.spirv_version",
			Message: fmt.Sprintf("SPIR-V %s requires Vulkan 1.1 or higher", opts.SPIRVVersion),
		})
	}
}

func checkMetalOptions(opts *MetalOptions, errs *[]ValidationError) {
	if opts.MetalVersion != "" && !metalVersions[opts.MetalVersion] {
		*errs = append(*errs, ValidationError{
			Field:   "target_specific.metal.metal_version",
			Message: fmt.Sprintf("invalid Metal version %q", opts.MetalVersion),
		})
		return
	}
	if opts.MetalVersion != "3.0" {
		return
	}
	if v, ok := parseVersion(opts.IOSDeploymentTarget); ok && v < 15.0 {
		*errs = append(*errs, ValidationError{
			Field:   "target_specific.metal.ios_deployment_target",
			Message: "Metal 3.0 requires iOS 15.0 or higher",
		})
	}
	if v, ok := parseVersion(opts.MacOSDeploymentTarget); ok && v < 12.0 {
		*errs = append(*errs, ValidationError{
			Field:   "target_specific.metal.macos_deployment_target",
			Message: "Metal 3.0 requires macOS 12.0 or higher",
		})
	}
}

func checkInputFile(cfg *Config, errs *[]ValidationError) {
	if cfg.InputPath == "" {
		return
	}
	info, err := os.Stat(cfg.InputPath)
	if err != nil {
		*errs = append(*errs, ValidationError{
			Field:   "input_path",
			Message: fmt.Sprintf("input file not readable: %v", err),
		})
		return
	}
	if info.IsDir() {
		*errs = append(*errs, ValidationError{Field: "input_path", Message: "is a directory, not a file"})
	}
}

func parseVersion(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
