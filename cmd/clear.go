package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/zhubert/nbq/internal/control"
	"github.com/zhubert/nbq/internal/logger"
	"github.com/zhubert/nbq/internal/ui"
)

var clearConfirm bool

var errClearNotConfirmed = errors.New("refusing to clear the queue without --yes")

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every pending item from the queue",
	Long: `Empties the pending queue of the current session and deletes the queued
snapshots. The running item and the history are not touched.

Requires --yes.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().BoolVarP(&clearConfirm, "yes", "y", false, "Confirm clearing the pending queue")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	p := ui.NewPrinter(cmd.OutOrStdout())
	if !clearConfirm {
		p.Warn("Refusing to clear queue without --yes.")
		return errClearNotConfirmed
	}

	_, m, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	n, s, err := control.Clear(m)
	if err != nil {
		return err
	}
	if s == nil {
		p.Muted("No sessions found.")
		return nil
	}
	p.Success("Cleared pending queue (%d item(s) removed).", n)
	return nil
}
