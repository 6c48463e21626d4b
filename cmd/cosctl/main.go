package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/cos/internal/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cosctl",
	Short: "cosctl - Computing Orchestration Service control plane",
	Long: `cosctl compiles workflow drafts into running instances, dispatches
their tasks to remote HPC execution agents, and moves files between the
service and its storage backends.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"cosctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (defaults are used if omitted)")

	cobra.OnInitialize(func() {}) // logging is initialized per-command inside loadApp, once config is known

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(draftCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(fileCmd)
}

// loadApp reads the --config flag (falling back to defaults) and the
// --log-level/--log-json overrides, then wires a fresh app. Every
// subcommand calls this once at the top of its RunE.
func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if j, _ := cmd.Flags().GetBool("log-json"); j {
		cfg.Log.JSON = j
	}

	return newApp(cfg)
}
