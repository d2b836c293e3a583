package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/modelforge/internal/config"
	"github.com/lucasnoah/modelforge/internal/staging"
)

var (
	validateStrict     bool
	validateSchemaOnly bool
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config <config.json>",
	Short: "Validate a compilation config without running anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := config.LoadRequest(args[0])
		if err != nil {
			return err
		}

		errs, warnings := config.Validate(req, config.Options{
			Strict:     validateStrict,
			SchemaOnly: validateSchemaOnly,
		})
		for _, w := range warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
		}
		if len(errs) == 0 {
			cmd.Println("Configuration is valid.")
			return nil
		}

		cmd.Println("Validation errors:")
		for _, e := range errs {
			cmd.Printf("  - %s\n", e.Error())
		}
		return fmt.Errorf("config has %d validation error(s)", len(errs))
	},
}

var generateOutput string

var generateConfigCmd = &cobra.Command{
	Use:   "generate-config <target>",
	Short: "Generate an example config for a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.GenerateExample(config.Target(args[0]))
		if err != nil {
			return err
		}

		if generateOutput != "" {
			if err := staging.WriteJSON(generateOutput, cfg); err != nil {
				return err
			}
			cmd.Printf("Wrote example config to %s\n", generateOutput)
			return nil
		}
		printJSON(cmd, cfg)
		return nil
	},
}

func init() {
	validateConfigCmd.Flags().BoolVar(&validateStrict, "strict", false, "Reject unknown config keys instead of warning")
	validateConfigCmd.Flags().BoolVar(&validateSchemaOnly, "schema-only", false, "Skip checks that touch the filesystem")

	generateConfigCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "Write the example config to a file")
}
