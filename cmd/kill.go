package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/nbq/internal/config"
	"github.com/zhubert/nbq/internal/control"
	"github.com/zhubert/nbq/internal/logger"
	"github.com/zhubert/nbq/internal/ui"
)

var killGrace float64

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Terminate the running item",
	Long: `Sends SIGTERM to the process group of the item the worker is running and
SIGKILL after the grace period. The item is recorded as canceled and the
worker continues with the next one.

Use "nbq abort" to also stop the worker.`,
	Args: cobra.NoArgs,
	RunE: runKill,
}

func init() {
	killCmd.Flags().Float64Var(&killGrace, "grace", config.DefaultKillGrace.Seconds(), "Seconds to wait before SIGKILL")
	rootCmd.AddCommand(killCmd)
}

// graceFlag returns the grace period: the flag when given, otherwise the
// configured default.
func graceFlag(cmd *cobra.Command, value float64, cfg *config.Config) (time.Duration, error) {
	if !cmd.Flags().Changed("grace") {
		return cfg.KillGrace, nil
	}
	if value < 0 {
		return 0, fmt.Errorf("--grace must not be negative")
	}
	return time.Duration(value * float64(time.Second)), nil
}

func runKill(cmd *cobra.Command, args []string) error {
	cfg, m, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	grace, err := graceFlag(cmd, killGrace, cfg)
	if err != nil {
		return err
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	res, err := control.Kill(m, grace)
	if err != nil {
		return err
	}
	printKill(p, res)
	return nil
}

func printKill(p *ui.Printer, res *control.KillResult) {
	switch {
	case res.Session == nil:
		p.Muted("No active worker.")
	case res.Item == nil:
		p.Warn("No running process to kill.")
	case res.Orphan:
		p.Warn("Marked %s as canceled. No worker is alive; the next worker cleans it up.", res.Item.Name())
	case res.PGID == 0:
		p.Warn("Marked %s as canceled; the worker stops it as soon as it starts.", res.Item.Name())
	default:
		p.Error("Killed %s (process group %d). Marked as canceled.", res.Item.Name(), res.PGID)
	}
}
