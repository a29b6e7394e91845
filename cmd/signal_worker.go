package cmd

import (
	"github.com/spf13/cobra"

	"github.com/signalbridge/signal-bridge/internal/bootstrap"
)

// signalWorkerCmd represents the signalWorker command
var signalWorkerCmd = &cobra.Command{
	Use:   "signal-worker",
	Short: "Start the Signal Worker service",
	Long: `The Signal Worker consumes queued webhook signals from JetStream and
executes them through the same pipeline the gateway uses, with bounded
retries for transient failures.`,
	Run: bootstrap.StartSignalWorker,
}

func init() {
	rootCmd.AddCommand(signalWorkerCmd)
}
