package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeInputFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.mlir")
	content := "module @main {\n  func.func @forward() { return }\n}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func parseRequest(t *testing.T, body string) *Request {
	t.Helper()
	req, err := ParseRequest([]byte(body))
	if err != nil {
		t.Fatalf("ParseRequest() error: %v", err)
	}
	return req
}

func hasFieldError(errs []ValidationError, field string) bool {
	for _, e := range errs {
		if e.Field == field || strings.HasPrefix(e.Field, field+"[") {
			return true
		}
	}
	return false
}

func TestParseRequestMalformed(t *testing.T) {
	_, err := ParseRequest([]byte("{not json"))
	if err == nil {
		t.Fatal("ParseRequest() expected error for malformed input")
	}
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Errorf("error = %T, want *SchemaError", err)
	}
}

func TestValidateMissingRequiredFields(t *testing.T) {
	req := parseRequest(t, `{}`)
	errs, _ := Validate(req, Options{SchemaOnly: true})

	if !hasFieldError(errs, "input_path") {
		t.Errorf("missing error for input_path, got %v", errs)
	}
	if !hasFieldError(errs, "target") {
		t.Errorf("missing error for target, got %v", errs)
	}
}

func TestValidateAccumulatesAllErrors(t *testing.T) {
	req := parseRequest(t, `{
		"target": "gpu",
		"optimization_level": "O9",
		"output_format": "exe"
	}`)
	errs, _ := Validate(req, Options{SchemaOnly: true})

	for _, field := range []string{"input_path", "target", "optimization_level", "output_format"} {
		if !hasFieldError(errs, field) {
			t.Errorf("missing error for %s, got %v", field, errs)
		}
	}
}

func TestValidateUnknownFeature(t *testing.T) {
	req := parseRequest(t, `{
		"input_path": "model.mlir",
		"target": "cuda",
		"target_features": ["sm_80", "sm_999"]
	}`)
	errs, _ := Validate(req, Options{SchemaOnly: true})

	if len(errs) == 0 {
		t.Fatal("expected validation error for sm_999")
	}
	found := false
	for _, e := range errs {
		if strings.Contains(e.Message, "sm_999") {
			found = true
		}
	}
	if !found {
		t.Errorf("no error names sm_999: %v", errs)
	}
}

func TestValidateDuplicateFeatures(t *testing.T) {
	req := parseRequest(t, `{
		"input_path": "model.mlir",
		"target": "cuda",
		"target_features": ["sm_80", "sm_80"]
	}`)
	errs, _ := Validate(req, Options{SchemaOnly: true})

	if !hasFieldError(errs, "target_features") {
		t.Errorf("expected duplicate-feature error, got %v", errs)
	}
}

func TestValidateFormatTargetPair(t *testing.T) {
	req := parseRequest(t, `{
		"input_path": "model.mlir",
		"target": "metal",
		"output_format": "so"
	}`)
	errs, _ := Validate(req, Options{SchemaOnly: true})

	if !hasFieldError(errs, "output_format") {
		t.Errorf("expected format/target pair error, got %v", errs)
	}
}

func TestValidateUnknownKeysStrict(t *testing.T) {
	body := `{"input_path": "model.mlir", "target": "cpu", "bogus": 1}`

	req := parseRequest(t, body)
	errs, warnings := Validate(req, Options{Strict: true, SchemaOnly: true})
	if !hasFieldError(errs, "bogus") {
		t.Errorf("strict mode: expected unknown-field error, got %v", errs)
	}
	if len(warnings) != 0 {
		t.Errorf("strict mode: unexpected warnings %v", warnings)
	}

	req = parseRequest(t, body)
	errs, warnings = Validate(req, Options{SchemaOnly: true})
	if hasFieldError(errs, "bogus") {
		t.Errorf("lenient mode: unknown field should not be an error: %v", errs)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "bogus") {
		t.Errorf("lenient mode: warnings = %v, want one naming bogus", warnings)
	}
}

func TestValidateWrongFieldType(t *testing.T) {
	req := parseRequest(t, `{"input_path": "model.mlir", "target": "cpu", "benchmark": "yes"}`)
	errs, _ := Validate(req, Options{SchemaOnly: true})

	if !hasFieldError(errs, "benchmark") {
		t.Errorf("expected type error for benchmark, got %v", errs)
	}
}

func TestValidateInputFileExistence(t *testing.T) {
	req := parseRequest(t, `{"input_path": "/nonexistent/model.mlir", "target": "cpu"}`)

	errs, _ := Validate(req, Options{})
	if !hasFieldError(errs, "input_path") {
		t.Errorf("job mode: expected missing-file error, got %v", errs)
	}

	errs, _ = Validate(req, Options{SchemaOnly: true})
	if hasFieldError(errs, "input_path") {
		t.Errorf("schema-only mode: unexpected file error %v", errs)
	}
}

func TestValidateCUDAOptions(t *testing.T) {
	tests := []struct {
		name  string
		block string
		field string
	}{
		{
			name:  "threads not multiple of warp",
			block: `{"max_threads_per_block": 100}`,
			field: "target_specific.cuda.max_threads_per_block",
		},
		{
			name:  "threads above ceiling",
			block: `{"max_threads_per_block": 2048}`,
			field: "target_specific.cuda.max_threads_per_block",
		},
		{
			name:  "capability not in features",
			block: `{"compute_capability": ["sm_70"]}`,
			field: "target_specific.cuda.compute_capability",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := parseRequest(t, `{
				"input_path": "model.mlir",
				"target": "cuda",
				"target_features": ["sm_80"],
				"target_specific": {"cuda": `+tt.block+`}
			}`)
			errs, _ := Validate(req, Options{SchemaOnly: true})
			if !hasFieldError(errs, tt.field) {
				t.Errorf("expected error on %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestValidateCPUOptionsARM64(t *testing.T) {
	req := parseRequest(t, `{
		"input_path": "model.mlir",
		"target": "cpu",
		"target_specific": {"cpu": {"target_cpu": "arm64", "vector_extensions": ["avx2"]}}
	}`)
	errs, _ := Validate(req, Options{SchemaOnly: true})

	if !hasFieldError(errs, "target_specific.cpu.vector_extensions") {
		t.Errorf("expected arm64/x86 incompatibility error, got %v", errs)
	}
}

func TestValidateVulkanVersionPair(t *testing.T) {
	req := parseRequest(t, `{
		"input_path": "model.mlir",
		"target": "vulkan",
		"target_specific": {"vulkan": {"spirv_version": "1.5", "vulkan_version": "1.0"}}
	}`)
	errs, _ := Validate(req, Options{SchemaOnly: true})

	if !hasFieldError(errs, "target_specific.vulkan.spirv_version") {
		t.Errorf("expected SPIR-V/Vulkan pairing error, got %v", errs)
	}
}

func TestValidateMetalDeploymentTargets(t *testing.T) {
	req := parseRequest(t, `{
		"input_path": "model.mlir",
		"target": "metal",
		"output_format": "vmfb",
		"target_specific": {"metal": {"metal_version": "3.0", "macos_deployment_target": "11.0"}}
	}`)
	errs, _ := Validate(req, Options{SchemaOnly: true})

	if !hasFieldError(errs, "target_specific.metal.macos_deployment_target") {
		t.Errorf("expected deployment-target floor error, got %v", errs)
	}
}

func TestNormalizeAppliesDefaults(t *testing.T) {
	input := writeInputFile(t)
	data, _ := json.Marshal(map[string]string{"input_path": input, "target": "cpu"})
	req := parseRequest(t, string(data))

	cfg, errs, _ := Normalize(req, Options{})
	if len(errs) > 0 {
		t.Fatalf("Normalize() errors: %v", errs)
	}

	if cfg.OptimizationLevel != OptO3 {
		t.Errorf("OptimizationLevel = %q, want O3", cfg.OptimizationLevel)
	}
	if cfg.OutputFormat != FormatVMFB {
		t.Errorf("OutputFormat = %q, want vmfb", cfg.OutputFormat)
	}
	if !cfg.Validate {
		t.Error("Validate = false, want true")
	}
	if cfg.Benchmark {
		t.Error("Benchmark = true, want false")
	}
}

func TestNormalizeSortsFeaturesAndTrimsPaths(t *testing.T) {
	req := parseRequest(t, `{
		"input_path": "  model.mlir ",
		"target": "cuda",
		"target_features": ["sm_86", "sm_80"]
	}`)
	cfg, errs, _ := Normalize(req, Options{SchemaOnly: true})
	if len(errs) > 0 {
		t.Fatalf("Normalize() errors: %v", errs)
	}

	if cfg.InputPath != "model.mlir" {
		t.Errorf("InputPath = %q, want trimmed", cfg.InputPath)
	}
	if !reflect.DeepEqual(cfg.TargetFeatures, []string{"sm_80", "sm_86"}) {
		t.Errorf("TargetFeatures = %v, want sorted", cfg.TargetFeatures)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	req := parseRequest(t, `{
		"input_path": "model.mlir",
		"target": "cuda",
		"target_features": ["sm_86", "sm_80"],
		"target_specific": {
			"cuda": {"max_threads_per_block": 256},
			"cpu": {"target_cpu": "generic"}
		}
	}`)
	first, errs, _ := Normalize(req, Options{SchemaOnly: true})
	if len(errs) > 0 {
		t.Fatalf("first Normalize() errors: %v", errs)
	}

	second, errs, _ := Normalize(RequestFromConfig(first), Options{SchemaOnly: true})
	if len(errs) > 0 {
		t.Fatalf("second Normalize() errors: %v", errs)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("normalization not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestNormalizePreservesSiblingTargetBlocks(t *testing.T) {
	req := parseRequest(t, `{
		"input_path": "model.mlir",
		"target": "cuda",
		"target_specific": {
			"cpu": {"target_cpu": "arm64", "vector_extensions": ["avx2"]}
		}
	}`)
	cfg, errs, _ := Normalize(req, Options{SchemaOnly: true})
	if len(errs) > 0 {
		t.Fatalf("Normalize() errors: %v (inactive cpu block must not be validated)", errs)
	}

	if cfg.TargetSpecific.CPU == nil || cfg.TargetSpecific.CPU.TargetCPU != "arm64" {
		t.Errorf("sibling cpu block not preserved: %+v", cfg.TargetSpecific)
	}
}

func TestGenerateExample(t *testing.T) {
	for _, target := range Targets() {
		cfg, err := GenerateExample(target)
		if err != nil {
			t.Fatalf("GenerateExample(%s) error: %v", target, err)
		}
		if cfg.Target != target {
			t.Errorf("Target = %q, want %q", cfg.Target, target)
		}

		// Every example must survive its own schema validation.
		errs, _ := Validate(RequestFromConfig(cfg), Options{Strict: true, SchemaOnly: true})
		if len(errs) > 0 {
			t.Errorf("example for %s does not validate: %v", target, errs)
		}
	}

	if _, err := GenerateExample(Target("riscv")); err == nil {
		t.Error("GenerateExample(riscv) expected error")
	}
}
