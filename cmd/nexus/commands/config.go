package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qqhmm2-web/NexusAI/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage CLI configuration and contexts.

Contexts allow you to manage multiple API configurations,
similar to kubectl's context management.

Configuration is stored in ~/.nexus/nexus/config.yaml`,
}

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Add a new context",
	Long: `Add a new context with the specified name. The first context added
becomes the current one.

When --api-key is omitted the key is read from API_KEY, then from
GEMINI_API_KEY or OPENAI_API_KEY depending on the provider.

Example:
  nexus config add-context default --api-key YOUR_API_KEY
  nexus config add-context local --provider openai --base-url http://localhost:8080/v1 --model llama3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		flags := cmd.Flags()

		provider, _ := flags.GetString("provider")
		apiKey, _ := flags.GetString("api-key")
		baseURL, _ := flags.GetString("base-url")
		timeout, _ := flags.GetInt("timeout")
		model, _ := flags.GetString("model")
		codingModel, _ := flags.GetString("coding-model")
		imageModel, _ := flags.GetString("image-model")
		speechModel, _ := flags.GetString("speech-model")
		voice, _ := flags.GetString("voice")
		triggers, _ := flags.GetStringSlice("image-trigger")

		ctx := &cli.Context{
			Provider: cli.Provider(strings.ToLower(provider)),
			APIKey:   apiKey,
			BaseURL:  baseURL,
			Timeout:  timeout,
			Models: cli.Models{
				Default: model,
				Coding:  codingModel,
				Image:   imageModel,
				Speech:  speechModel,
			},
			Voice:         voice,
			ImageTriggers: triggers,
		}

		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.AddContext(name, ctx); err != nil {
			return err
		}

		cli.PrintSuccess("Context %q added successfully", name)
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.DeleteContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Context %q deleted", args[0])
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.UseContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Switched to context %q", args[0])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"list-contexts", "get-contexts"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if len(cfg.Contexts) == 0 {
			fmt.Fprintln(out, "No contexts configured")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tPROVIDER\tBASE_URL\tDEFAULT_MODEL")
		for _, name := range cfg.ListContexts() {
			ctx := cfg.Contexts[name]
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			baseURL := ctx.BaseURL
			if baseURL == "" {
				baseURL = "(default)"
			}
			model := ctx.Models.Default
			if model == "" {
				model = "(default)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", current, name, ctx.ProviderName(), baseURL, model)
		}
		return w.Flush()
	},
}

var configShowCmd = &cobra.Command{
	Use:     "show [name]",
	Aliases: []string{"view"},
	Short:   "Show a context (default: current context)",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		name := contextName
		if len(args) == 1 {
			name = args[0]
		}
		ctx, err := cfg.ResolveContext(name)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Config file: %s\n", cfg.Path())
		fmt.Fprintf(out, "Context: %s", ctx.Name)
		if ctx.Name == cfg.CurrentContext {
			fmt.Fprint(out, " (current)")
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  Provider: %s\n", ctx.ProviderName())
		if ctx.APIKey != "" {
			fmt.Fprintf(out, "  API Key: %s\n", cli.MaskAPIKey(ctx.APIKey))
		} else {
			fmt.Fprintf(out, "  API Key: (from environment)\n")
		}
		if ctx.BaseURL != "" {
			fmt.Fprintf(out, "  Base URL: %s\n", ctx.BaseURL)
		}
		if ctx.Timeout > 0 {
			fmt.Fprintf(out, "  Timeout: %ds\n", ctx.Timeout)
		}
		for _, m := range []struct{ label, value string }{
			{"Default Model", ctx.Models.Default},
			{"Coding Model", ctx.Models.Coding},
			{"Image Model", ctx.Models.Image},
			{"Speech Model", ctx.Models.Speech},
			{"Voice", ctx.Voice},
		} {
			if m.value != "" {
				fmt.Fprintf(out, "  %s: %s\n", m.label, m.value)
			}
		}
		if len(ctx.ImageTriggers) > 0 {
			fmt.Fprintf(out, "  Image Triggers: %s\n", strings.Join(ctx.ImageTriggers, ", "))
		}
		return nil
	},
}

func init() {
	configAddContextCmd.Flags().String("provider", string(cli.ProviderGemini), "inference provider (gemini, openai)")
	configAddContextCmd.Flags().String("api-key", "", "API key")
	configAddContextCmd.Flags().String("base-url", "", "API base URL")
	configAddContextCmd.Flags().Int("timeout", 0, "generation timeout in seconds")
	configAddContextCmd.Flags().String("model", "", "default model")
	configAddContextCmd.Flags().String("coding-model", "", "model for coding mode")
	configAddContextCmd.Flags().String("image-model", "", "model for image synthesis")
	configAddContextCmd.Flags().String("speech-model", "", "model for speech synthesis")
	configAddContextCmd.Flags().String("voice", "", "speech voice")
	configAddContextCmd.Flags().StringSlice("image-trigger", nil, "phrase that routes a prompt to image synthesis (repeatable)")

	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configShowCmd)
}
