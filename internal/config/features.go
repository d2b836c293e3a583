package config

// targetFeatures maps each target to its recognized feature flags.
// CUDA features are compute capabilities; the rest are backend version
// or instruction-set selectors the toolchain understands.
var targetFeatures = map[Target]map[string]bool{
	TargetCUDA: setOf(
		"sm_30", "sm_35", "sm_37", "sm_50", "sm_52", "sm_53",
		"sm_60", "sm_61", "sm_62", "sm_70", "sm_72", "sm_75",
		"sm_80", "sm_86", "sm_87", "sm_89", "sm_90",
	),
	TargetCPU: setOf(
		"sse", "sse2", "sse3", "ssse3", "sse4.1", "sse4.2",
		"avx", "avx2", "avx512", "neon", "fma", "f16c",
		"bmi", "bmi2", "generic", "native",
	),
	TargetVulkan: setOf(
		"spirv1.0", "spirv1.1", "spirv1.2", "spirv1.3",
		"spirv1.4", "spirv1.5", "spirv1.6",
	),
	TargetMetal: setOf(
		"metal2.0", "metal2.1", "metal2.2", "metal2.3",
		"metal2.4", "metal3.0",
	),
}

// targetFormats maps each target to the output formats its toolchain
// can emit. vmfb is the portable bytecode container and works everywhere;
// native shared objects are platform-bound.
var targetFormats = map[Target]map[OutputFormat]bool{
	TargetCUDA:   {FormatVMFB: true, FormatSO: true},
	TargetCPU:    {FormatVMFB: true, FormatSO: true, FormatDylib: true},
	TargetVulkan: {FormatVMFB: true, FormatSO: true},
	TargetMetal:  {FormatVMFB: true, FormatDylib: true},
}

// x86VectorExtensions are CPU features invalid for ARM target CPUs.
var x86VectorExtensions = setOf(
	"sse", "sse2", "sse3", "ssse3", "sse4.1", "sse4.2",
	"avx", "avx2", "avx512",
)

var spirvVersions = setOf("1.0", "1.1", "1.2", "1.3", "1.4", "1.5", "1.6")
var vulkanVersions = setOf("1.0", "1.1", "1.2", "1.3")
var metalVersions = setOf("2.0", "2.1", "2.2", "2.3", "2.4", "3.0")

const (
	// maxThreadsPerBlockCeiling is the hardware limit for CUDA block sizing.
	maxThreadsPerBlockCeiling = 1024
	// warpSize is the CUDA warp width; block sizes must be a multiple of it.
	warpSize = 32
	// maxCPUThreads caps the num_threads sub-option.
	maxCPUThreads = 128
)

func setOf(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// FeaturesFor returns the recognized feature set for a target, or nil
// for an unknown target.
func FeaturesFor(target Target) map[string]bool {
	return targetFeatures[target]
}

// FormatSupported reports whether a target's toolchain can emit the
// given output format.
func FormatSupported(target Target, format OutputFormat) bool {
	return targetFormats[target][format]
}
