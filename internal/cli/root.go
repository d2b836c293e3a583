package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	engineConfigPath string
	verbose          bool
)

// parsed flips once flag and argument parsing succeeded, so Execute can
// tell usage errors apart from runtime failures.
var parsed bool

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "forge compiles model IR for hardware targets in isolated environments",
	Long: `forge compiles model IR into hardware-specific modules by driving
isolated compiler environments, one per target backend (cuda, cpu,
vulkan, metal). Each job stages its input into a private scope, runs
compile, validate and benchmark stages in a container, and reports a
structured result.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		parsed = true
	},
}

// Execute runs the CLI and returns the process exit code: 0 on
// success, 1 on a failed operation, 2 on a usage error.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if !parsed {
			return 2
		}
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&engineConfigPath, "engine-config", "", "Path to the engine config YAML (default: ./forge.yaml, ~/.forge/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print progress to stderr")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(generateConfigCmd)
	rootCmd.AddCommand(statusCmd)
}
