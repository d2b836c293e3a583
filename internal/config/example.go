package config

import "fmt"

// GenerateExample produces a complete example configuration for the
// given target, suitable as a starting point for a request file.
func GenerateExample(target Target) (*Config, error) {
	base := Config{
		InputPath:         "model.mlir",
		OutputPath:        "model.vmfb",
		OptimizationLevel: OptO3,
		OutputFormat:      FormatVMFB,
		Validate:          true,
		Benchmark:         false,
		Metadata: &Metadata{
			Description: fmt.Sprintf("Example %s compilation configuration", target),
			Version:     "1.0",
		},
	}

	switch target {
	case TargetCUDA:
		base.Target = TargetCUDA
		base.TargetFeatures = []string{"sm_80", "sm_86"}
		base.TargetSpecific.CUDA = &CUDAOptions{
			ComputeCapability:  []string{"sm_80", "sm_86"},
			MaxThreadsPerBlock: 256,
		}
	case TargetCPU:
		base.Target = TargetCPU
		base.TargetFeatures = []string{"avx2", "fma"}
		base.TargetSpecific.CPU = &CPUOptions{
			TargetCPU:        "generic",
			VectorExtensions: []string{"avx2", "fma"},
		}
	case TargetVulkan:
		base.Target = TargetVulkan
		base.TargetFeatures = []string{"spirv1.3"}
		base.TargetSpecific.Vulkan = &VulkanOptions{
			SPIRVVersion:  "1.3",
			VulkanVersion: "1.1",
		}
	case TargetMetal:
		base.Target = TargetMetal
		base.TargetFeatures = []string{"metal2.4"}
		base.TargetSpecific.Metal = &MetalOptions{
			MetalVersion:          "2.4",
			MacOSDeploymentTarget: "11.0",
		}
	default:
		return nil, fmt.Errorf("unsupported target %q", target)
	}

	return &base, nil
}
