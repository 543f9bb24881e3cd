// Command telemetry-gen encodes anemometer reports and replays synthetic
// flights against the webhook, standing in for the satellite modem gateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "telemetry-gen",
		Short:         "Generate anemometer telemetry payloads",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newEncodeCmd(), newSendCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
