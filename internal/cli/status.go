package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/modelforge/internal/config"
	"github.com/lucasnoah/modelforge/internal/docker"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show runtime availability and compiler images per target",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine()
		if err != nil {
			return err
		}
		manager := docker.NewManager(engine.Images, nil)

		w := cmd.OutOrStdout()
		if err := manager.Ping(cmd.Context()); err != nil {
			fmt.Fprintf(w, "Runtime: unavailable (%v)\n", err)
			return fmt.Errorf("container runtime unreachable")
		}
		fmt.Fprintln(w, "Runtime: available")
		fmt.Fprintln(w)

		fmt.Fprintf(w, "%-8s %-28s %-10s %-10s %s\n", "TARGET", "IMAGE", "STATUS", "SIZE", "ID")
		fmt.Fprintf(w, "%-8s %-28s %-10s %-10s %s\n",
			strings.Repeat("-", 8),
			strings.Repeat("-", 28),
			strings.Repeat("-", 10),
			strings.Repeat("-", 10),
			strings.Repeat("-", 12))
		for _, target := range config.Targets() {
			st, err := manager.Status(cmd.Context(), target)
			if err != nil {
				fmt.Fprintf(w, "%-8s %-28s %-10s\n", target, "?", "error")
				continue
			}
			if !st.Available {
				fmt.Fprintf(w, "%-8s %-28s %-10s\n", target, st.Image, "missing")
				continue
			}
			fmt.Fprintf(w, "%-8s %-28s %-10s %-10s %s\n", target, st.Image, "ready", st.Size, st.ID)
		}
		return nil
	},
}
