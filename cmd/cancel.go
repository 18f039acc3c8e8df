package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zhubert/nbq/internal/control"
	"github.com/zhubert/nbq/internal/logger"
	"github.com/zhubert/nbq/internal/ui"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Stop the worker after the current item",
	Long: `Requests a graceful stop: the worker finishes the item it is running and
exits without starting another one. Pending items stay queued.

The request persists until a worker is started with "nbq run --restart".`,
	Args: cobra.NoArgs,
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	_, m, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	p := ui.NewPrinter(cmd.OutOrStdout())
	s, err := control.Cancel(m)
	if err != nil {
		return err
	}
	if s == nil {
		p.Muted("No sessions found.")
		return nil
	}
	p.Warn("Stop requested. Worker will exit after the current run.")
	return nil
}
