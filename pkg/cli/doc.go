// Package cli provides common CLI utilities for the nexus command-line tool.
//
// This package includes:
//   - Configuration management (contexts, providers, models)
//   - Result encoding (YAML, JSON) and status lines
//   - Themed transcript rendering (light, dark, amoled)
//
// Configuration is stored in ~/.nexus/<app>/ directory, supporting
// multiple contexts similar to kubectl.
//
// Example usage:
//
//	cfg, err := cli.LoadConfig("nexus")
//
//	// Get current context
//	ctx, err := cfg.GetCurrentContext()
//
//	// Write a result
//	cli.WriteResult(os.Stdout, sessions, cli.EncodingJSON)
package cli
