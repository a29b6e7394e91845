package cmd

import (
	"github.com/spf13/cobra"

	"github.com/signalbridge/signal-bridge/internal/bootstrap"
)

// signalGatewayCmd represents the signalGateway command
var signalGatewayCmd = &cobra.Command{
	Use:   "signal-gateway",
	Short: "Start the Signal Gateway service",
	Long: `The Signal Gateway exposes the TradingView webhook endpoint together
with the account, settings, positions and trade history API. Signals are
executed synchronously, or queued to the signal worker via the async
webhook endpoint.`,
	Run: bootstrap.StartSignalGateway,
}

func init() {
	rootCmd.AddCommand(signalGatewayCmd)
}
