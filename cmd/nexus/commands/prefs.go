package commands

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/qqhmm2-web/NexusAI/pkg/cli"
	"github.com/qqhmm2-web/NexusAI/pkg/prefs"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show and change preferences",
	Long: `Show and change preferences.

Settings:
  theme     light, dark or amoled
  persona   professional, creative, technical or friendly
  user      the operator name used in answers
  mode      general, coding, creative or search`,
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show all preferences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return outputResult(cmd.OutOrStdout(), a.prefs.Values())
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a preference",
	Args:  cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return prefs.Keys, cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if !slices.Contains(prefs.Keys, key) {
			return fmt.Errorf("unknown setting %q (want one of %v)", key, prefs.Keys)
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.prefs.Set(key, value); err != nil {
			return err
		}
		if err := a.savePrefs(cmd.Context()); err != nil {
			return err
		}
		cli.PrintSuccess("%s set to %q", key, a.prefs.Values()[key])
		return nil
	},
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
}
