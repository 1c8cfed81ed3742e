// Package main provides the Nexus CLI.
//
// Usage:
//
//	nexus [flags] <command> [args]
//
// Commands:
//
//	chat      - Send a prompt or start an interactive session
//	sessions  - List, show, rename and delete sessions
//	speak     - Synthesize speech to a WAV file
//	prefs     - Show and change preferences
//	config    - Configuration management
//	version   - Version information
//
// Configuration:
//
//	The CLI stores configuration in ~/.nexus/nexus/
//	Use 'nexus config' commands to manage contexts.
package main

import (
	"fmt"
	"os"

	"github.com/qqhmm2-web/NexusAI/cmd/nexus/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
