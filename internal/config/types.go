package config

// Target identifies a hardware backend a module can be compiled for.
type Target string

const (
	TargetCUDA   Target = "cuda"
	TargetCPU    Target = "cpu"
	TargetVulkan Target = "vulkan"
	TargetMetal  Target = "metal"
)

// Targets lists all supported compilation targets in a stable order.
func Targets() []Target {
	return []Target{TargetCUDA, TargetCPU, TargetVulkan, TargetMetal}
}

// OptimizationLevel is the optimizer setting passed to the toolchain.
type OptimizationLevel string

const (
	OptO0 OptimizationLevel = "O0"
	OptO1 OptimizationLevel = "O1"
	OptO2 OptimizationLevel = "O2"
	OptO3 OptimizationLevel = "O3"
)

// OutputFormat is the container format of the compiled module.
type OutputFormat string

const (
	FormatVMFB  OutputFormat = "vmfb"
	FormatSO    OutputFormat = "so"
	FormatDylib OutputFormat = "dylib"
)

// Config is the canonical, validated form of a compilation request.
// Values of this type are produced only by Normalize; downstream
// components never re-inspect raw request data.
type Config struct {
	InputPath         string            `json:"input_path"`
	OutputPath        string            `json:"output_path,omitempty"`
	Target            Target            `json:"target"`
	OptimizationLevel OptimizationLevel `json:"optimization_level,omitempty"`
	TargetFeatures    []string          `json:"target_features,omitempty"`
	OutputFormat      OutputFormat      `json:"output_format,omitempty"`
	Validate          bool              `json:"validate"`
	Benchmark         bool              `json:"benchmark"`
	TargetSpecific    TargetSpecific    `json:"target_specific"`
	Metadata          *Metadata         `json:"metadata,omitempty"`
}

// TargetSpecific holds per-backend option blocks. Entries for targets
// other than Config.Target are preserved but ignored.
type TargetSpecific struct {
	CUDA   *CUDAOptions   `json:"cuda,omitempty"`
	CPU    *CPUOptions    `json:"cpu,omitempty"`
	Vulkan *VulkanOptions `json:"vulkan,omitempty"`
	Metal  *MetalOptions  `json:"metal,omitempty"`
}

// CUDAOptions configures CUDA code generation.
type CUDAOptions struct {
	ComputeCapability  []string `json:"compute_capability,omitempty"`
	MaxThreadsPerBlock int      `json:"max_threads_per_block,omitempty"`
	UseFastMath        bool     `json:"use_fast_math,omitempty"`
}

// CPUOptions configures CPU code generation.
type CPUOptions struct {
	TargetCPU        string   `json:"target_cpu,omitempty"`
	VectorExtensions []string `json:"vector_extensions,omitempty"`
	NumThreads       int      `json:"num_threads,omitempty"`
}

// VulkanOptions configures SPIR-V code generation.
type VulkanOptions struct {
	SPIRVVersion  string `json:"spirv_version,omitempty"`
	VulkanVersion string `json:"vulkan_version,omitempty"`
}

// MetalOptions configures Metal shading language code generation.
type MetalOptions struct {
	MetalVersion          string `json:"metal_version,omitempty"`
	IOSDeploymentTarget   string `json:"ios_deployment_target,omitempty"`
	MacOSDeploymentTarget string `json:"macos_deployment_target,omitempty"`
}

// Metadata is free-form descriptive information carried through to the
// result record.
type Metadata struct {
	Description string   `json:"description,omitempty"`
	Version     string   `json:"version,omitempty"`
	Author      string   `json:"author,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}
