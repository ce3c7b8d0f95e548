// Package main is the entry point for researchd, the research session
// runtime. It owns multi-turn research conversations: a loop driver calls
// LLM vendors through a typed dispatcher, executes tools with credit
// accounting, and streams progress to clients over websockets.
//
// Start the server:
//
//	researchd serve --config researchd.yaml
//
// Configuration can also be provided via environment variables; see
// internal/config for the full set. The most common ones:
//
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key
//   - BRAVE_API_KEY: Brave Search API key for the web tools
//   - RESEARCHD_STORE_DSN: sqlite database path
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "researchd",
		Short: "Research session runtime",
		Long:  "researchd drives multi-turn research sessions: typed LLM calls, tool execution with credit accounting, and live progress streaming.",
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("researchd %s (commit %s, built %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
