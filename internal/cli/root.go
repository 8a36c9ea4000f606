package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "marksweep",
	Short: "A mark-and-sweep garbage collected stack machine",
	Long: "marksweep runs scripts against a small mark-and-sweep heap, benchmarks it, " +
		"and serves heap sessions over HTTP with a SQLite history of every collection cycle.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(remoteCmd)
}
