package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/modelforge/internal/config"
	"github.com/lucasnoah/modelforge/internal/orchestrator"
)

var compileFlags struct {
	input        string
	output       string
	target       string
	optimization string
	features     []string
	format       string
	validate     bool
	benchmark    bool
	configs      []string
	strict       bool
	dryRun       bool
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile model IR for a hardware target",
	Long: `Compile a model IR file inside the target's isolated compiler
environment. The request comes either from flags or from one or more
JSON config files (--config); config files take precedence over flags
and multiple configs run as concurrent jobs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		requests, ids, err := compileRequests()
		if err != nil {
			return err
		}

		orch, cleanup, err := newOrchestrator(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer cleanup()

		vopts := config.Options{Strict: compileFlags.strict}

		if compileFlags.dryRun {
			return printPlans(cmd, orch, requests, vopts)
		}

		if len(requests) == 1 {
			res, err := orch.Run(cmd.Context(), orchestrator.RunOpts{
				Request:    requests[0],
				Validation: vopts,
			})
			if err != nil {
				return describeRunError(err)
			}
			printJSON(cmd, res)
			if res.Status == orchestrator.StatusFailure {
				return fmt.Errorf("compilation failed")
			}
			return nil
		}

		jobs := make([]orchestrator.JobSpec, len(requests))
		for i, req := range requests {
			jobs[i] = orchestrator.JobSpec{ID: ids[i], Request: req}
		}
		outcomes := orch.RunAll(cmd.Context(), jobs, vopts)

		failed := 0
		for _, oc := range outcomes {
			if oc.Err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "job %s: %v\n", oc.ID, describeRunError(oc.Err))
				failed++
				continue
			}
			printJSON(cmd, oc.Result)
			if oc.Result.Status == orchestrator.StatusFailure {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d jobs failed", failed, len(outcomes))
		}
		return nil
	},
}

// compileRequests assembles the request list from --config files or,
// when none are given, from the flag set.
func compileRequests() ([]*config.Request, []string, error) {
	if len(compileFlags.configs) > 0 {
		requests := make([]*config.Request, len(compileFlags.configs))
		ids := make([]string, len(compileFlags.configs))
		for i, path := range compileFlags.configs {
			req, err := config.LoadRequest(path)
			if err != nil {
				return nil, nil, err
			}
			requests[i] = req
			ids[i] = path
		}
		return requests, ids, nil
	}

	if compileFlags.input == "" {
		return nil, nil, fmt.Errorf("either --input or --config is required")
	}
	cfg := &config.Config{
		InputPath:         compileFlags.input,
		OutputPath:        compileFlags.output,
		Target:            config.Target(compileFlags.target),
		OptimizationLevel: config.OptimizationLevel(compileFlags.optimization),
		TargetFeatures:    compileFlags.features,
		OutputFormat:      config.OutputFormat(compileFlags.format),
		Validate:          compileFlags.validate,
		Benchmark:         compileFlags.benchmark,
	}
	return []*config.Request{config.RequestFromConfig(cfg)}, []string{compileFlags.input}, nil
}

func printPlans(cmd *cobra.Command, orch *orchestrator.Orchestrator, requests []*config.Request, vopts config.Options) error {
	for _, req := range requests {
		plan, err := orch.DryRun(orchestrator.RunOpts{Request: req, Validation: vopts})
		if err != nil {
			return describeRunError(err)
		}
		printJSON(cmd, plan)
	}
	return nil
}

// describeRunError flattens an InvalidRequestError into its field
// errors so the user sees every problem at once.
func describeRunError(err error) error {
	if invalid, ok := err.(*orchestrator.InvalidRequestError); ok {
		msg := "invalid request:"
		for _, ve := range invalid.Errors {
			msg += fmt.Sprintf("\n  - %s", ve.Error())
		}
		return fmt.Errorf("%s", msg)
	}
	return err
}

func printJSON(cmd *cobra.Command, v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
}

func init() {
	compileCmd.Flags().StringVarP(&compileFlags.input, "input", "i", "", "Input model IR file (.mlir)")
	compileCmd.Flags().StringVarP(&compileFlags.output, "output", "o", "", "Output artifact path (default: next to input)")
	compileCmd.Flags().StringVarP(&compileFlags.target, "target", "t", "", "Hardware target: cuda, cpu, vulkan, metal")
	compileCmd.Flags().StringVar(&compileFlags.optimization, "optimization", "", "Optimization level: O0, O1, O2, O3 (default O3)")
	compileCmd.Flags().StringSliceVar(&compileFlags.features, "target-features", nil, "Target features, e.g. sm_80 or avx2")
	compileCmd.Flags().StringVar(&compileFlags.format, "format", "", "Output format: vmfb, so, dylib (default vmfb)")
	compileCmd.Flags().BoolVar(&compileFlags.validate, "validate", true, "Run the output validation stage")
	compileCmd.Flags().BoolVar(&compileFlags.benchmark, "benchmark", false, "Run the benchmark stage")
	compileCmd.Flags().StringSliceVarP(&compileFlags.configs, "config", "c", nil, "JSON request file; repeat for concurrent jobs (overrides flags)")
	compileCmd.Flags().BoolVar(&compileFlags.strict, "strict", false, "Reject unknown config keys instead of warning")
	compileCmd.Flags().BoolVar(&compileFlags.dryRun, "dry-run", false, "Print the execution plan without launching anything")
}
