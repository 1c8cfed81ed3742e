package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/qqhmm2-web/NexusAI/pkg/cli"
)

const appName = "nexus"

var (
	// Global flags
	cfgFile     string
	contextName string
	dataDir     string
	outputJSON  bool
	verbose     bool

	// Global configuration
	globalConfig *cli.Config

	// configLoadErr stores the error from config loading for deferred
	// reporting, so 'nexus version' works without a readable config.
	configLoadErr error
)

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Nexus AI terminal client",
	Long: `Nexus - a multi-session AI chat client for the terminal.

Prompts are routed by mode:
  general   streamed reasoning with the default model
  coding    streamed answers from the coding model
  search    streamed answers grounded on web search, with sources
  creative  image synthesis

Sessions and preferences are stored in ~/.nexus/nexus/data.
Configuration is stored in ~/.nexus/nexus/config.yaml and supports multiple
contexts, similar to kubectl's context management.

Examples:
  # Set up a context
  nexus config add-context default --api-key YOUR_API_KEY

  # Ask a question in a new session
  nexus chat --new "explain goroutine leaks"

  # Continue the active session interactively
  nexus chat

  # Read the last answer aloud
  nexus speak --session SESSION_ID -o answer.wav`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogging, initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.nexus/nexus/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default is ~/.nexus/nexus/data)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(speakCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func initLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func initConfig() {
	globalConfig, configLoadErr = cli.LoadConfigWithPath(appName, cfgFile)
}

// getConfig returns the global configuration
func getConfig() (*cli.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, err := cli.LoadConfigWithPath(appName, cfgFile)
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

// getContext returns the context configuration to use. With no -c flag and
// no contexts configured at all, an empty gemini context is returned so the
// API key can come from the environment alone.
func getContext() (*cli.Context, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	if contextName == "" && len(cfg.Contexts) == 0 {
		return &cli.Context{Name: "(env)"}, nil
	}
	ctx, err := cfg.ResolveContext(contextName)
	if err != nil {
		if contextName == "" {
			return nil, fmt.Errorf("no context specified. Use -c flag or set a default context with 'nexus config use-context'")
		}
		return nil, err
	}
	return ctx, nil
}

// getDataDir returns the directory holding the session archive.
func getDataDir() (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	paths, err := cli.NewPaths(appName)
	if err != nil {
		return "", fmt.Errorf("failed to resolve data directory: %w", err)
	}
	return paths.DataDir(), nil
}

// outputResult writes result as JSON or YAML depending on --json.
func outputResult(w io.Writer, result any) error {
	enc := cli.EncodingYAML
	if outputJSON {
		enc = cli.EncodingJSON
	}
	return cli.WriteResult(w, result, enc)
}
