// Package main provides the journey_agent entry point: the HTTP API server
// and the operator commands for inspecting and driving career journeys.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. A fresh tree per call keeps flag state
// out of package globals.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "journey_agent",
		Short:         "Career journey API server",
		Long:          "journey_agent runs the staged career journey: assessment questions, career path suggestions and detailed roadmaps, with versioned artifact caching.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a JSON or YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newStagesCmd(),
		newStatusCmd(&configPath),
		newHistoryCmd(&configPath),
		newTopicsCmd(&configPath),
		newInvalidateCmd(&configPath),
		newActCmd(&configPath),
	)
	return root
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
