package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "jobsupervisor",
	Short: "Launch and track shell commands as supervised local jobs",
	Long: `jobsupervisor is a reference command line front end over the
embedded job supervisor library: it runs shell commands as tracked
child processes, persists their status across restarts, and exposes
their logs, all under a single caller-supplied base directory.

Examples:
  jobsupervisor run --job-id=build -- make all
  jobsupervisor status build
  jobsupervisor list
  jobsupervisor logs build
  jobsupervisor stop build`,
}

// Execute runs the CLI and returns any top-level error.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to a YAML config file (defaults built in if omitted)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newLogsCmd())
}
