package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zhubert/nbq/internal/config"
	"github.com/zhubert/nbq/internal/control"
	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/logger"
	"github.com/zhubert/nbq/internal/ui"
)

var (
	abortGrace        float64
	abortNoClearQueue bool
)

var abortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Kill the running item, clear the queue and stop the worker",
	Long: `Terminates the running item (recorded as canceled), clears the pending
queue unless --no-clear-queue is given, and requests a stop so the worker
exits.

The stop request persists until a worker is started with "nbq run --restart".`,
	Args: cobra.NoArgs,
	RunE: runAbort,
}

func init() {
	abortCmd.Flags().Float64Var(&abortGrace, "grace", config.DefaultKillGrace.Seconds(), "Seconds to wait before SIGKILL")
	abortCmd.Flags().BoolVar(&abortNoClearQueue, "no-clear-queue", false, "Keep pending items queued")
	rootCmd.AddCommand(abortCmd)
}

func runAbort(cmd *cobra.Command, args []string) error {
	cfg, m, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	grace, err := graceFlag(cmd, abortGrace, cfg)
	if err != nil {
		return err
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	res, err := control.Abort(m, grace, !abortNoClearQueue)
	if err != nil && !nbqerrors.Is(err, nbqerrors.KindSignalFailure) {
		return err
	}
	if res.Kill.Session == nil {
		p.Muted("No sessions found.")
		return nil
	}
	if err != nil {
		p.Warn("Could not signal the running item: %v", err)
	} else if res.Kill.Item != nil {
		printKill(p, res.Kill)
	}
	if !abortNoClearQueue {
		p.Warn("Cleared %d pending item(s).", res.Cleared)
	}
	p.Error("Abort requested. The worker will stop.")
	return nil
}
