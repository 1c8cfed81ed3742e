package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qqhmm2-web/NexusAI/cmd/nexus/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if outputJSON {
			return outputResult(out, build.Get())
		}
		fmt.Fprintln(out, build.String())
		if verbose {
			fmt.Fprintf(out, "  go:     %s\n", build.Get().Go)
			if cfg, err := getConfig(); err == nil {
				fmt.Fprintf(out, "  config: %s\n", cfg.Path())
			} else {
				fmt.Fprintf(out, "  config: (unavailable: %v)\n", err)
			}
		}
		return nil
	},
}
