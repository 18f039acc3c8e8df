package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/logger"
	"github.com/zhubert/nbq/internal/ui"
	"github.com/zhubert/nbq/internal/worker"
)

var (
	runTimeout int
	runWatch   bool
	runOnce    bool
	runRestart bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker for the current session",
	Long: `Processes the queue one item at a time in FIFO order until it is empty.

Only one worker runs per session; if one is already running this command does
nothing. A stop requested by "nbq cancel" or "nbq abort" is honoured before
the next item starts and stays in effect until a worker is started with
--restart.

On SIGINT or SIGTERM the running item is terminated and recorded as canceled;
the rest of the queue is kept. A second signal exits immediately.

Examples:
  nbq run                   # Drain the queue and exit
  nbq run --watch           # Keep waiting for new items
  nbq run --once            # Run at most one item
  nbq run --timeout 600     # Per-cell timeout passed to the executor
  nbq run --restart         # Resume after cancel or abort`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "Per-cell execution timeout in seconds (0 = none)")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Keep polling for new items when the queue is empty")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Process at most one item and exit")
	runCmd.Flags().BoolVar(&runRestart, "restart", false, "Clear a pending stop request before starting")
	rootCmd.AddCommand(runCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if runTimeout < 0 {
		return fmt.Errorf("--timeout must not be negative")
	}

	cfg, m, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	p := ui.NewPrinter(cmd.OutOrStdout())
	log := logger.WithComponent("cli")

	if active, err := m.Active(); err != nil {
		return err
	} else if active != nil {
		if pid, ok := active.Lock().Alive(); ok {
			p.Warn("A worker is already running (pid %d). No action taken.", pid)
			return nil
		}
	}

	s, err := m.ForReporting()
	if err != nil {
		return err
	}
	if s == nil {
		if s, err = m.Resolve(); err != nil {
			return err
		}
	}

	// Build worker options
	opts := []worker.Option{
		worker.WithOnce(runOnce),
		worker.WithWatch(runWatch),
		worker.WithRestart(runRestart),
	}
	if runTimeout > 0 {
		opts = append(opts, worker.WithTimeout(time.Duration(runTimeout)*time.Second))
	}
	w := worker.New(cfg, s, opts...)

	// Set up signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down gracefully", "signal", sig)
		p.Warn("Stopping: terminating the current item...")
		cancel()
		// On second signal, force exit
		sig = <-sigCh
		log.Warn("received second signal, force exiting", "signal", sig)
		os.Exit(1)
	}()

	p.Muted("Worker started for session %s", s.ID)
	summary, err := w.Run(ctx)
	if nbqerrors.Is(err, nbqerrors.KindLockBusy) {
		// Lost the race against another worker starting.
		p.Warn("A worker is already running. No action taken.")
		return nil
	}
	if summary != nil {
		printSummary(p, summary)
	}
	return err
}

func printSummary(p *ui.Printer, s *worker.Summary) {
	if s.Recovered > 0 {
		p.Warn("Recovered %d item(s) left by a previous worker", s.Recovered)
	}
	line := fmt.Sprintf("Processed %d item(s): %s", s.Processed, joinCounts(s.Done, s.Failed, s.Canceled))
	switch {
	case s.Failed > 0 || s.Canceled > 0:
		p.Warn("%s", line)
	default:
		p.Success("%s", line)
	}
	if s.StopRequested {
		p.Warn("Stopped on request. Use \"nbq run --restart\" to resume.")
	}
}

func joinCounts(done, failed, canceled int) string {
	parts := []string{fmt.Sprintf("%d done", done)}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	if canceled > 0 {
		parts = append(parts, fmt.Sprintf("%d canceled", canceled))
	}
	return strings.Join(parts, ", ")
}
