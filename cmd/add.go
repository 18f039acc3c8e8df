package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/logger"
	"github.com/zhubert/nbq/internal/process"
	"github.com/zhubert/nbq/internal/queue"
	"github.com/zhubert/nbq/internal/session"
	"github.com/zhubert/nbq/internal/ui"
)

var (
	addTag   string
	addStart bool
)

// errNothingAdded makes add exit non-zero when every path was skipped.
var errNothingAdded = errors.New("nothing was added to the queue")

var addCmd = &cobra.Command{
	Use:   "add PATH...",
	Short: "Add notebooks or scripts to the queue",
	Long: `Snapshots each PATH into the current session's queue.

Notebooks (.ipynb) are stored with their outputs cleared; percent-format
scripts (.py) are stored as is and converted to a notebook when they run.
Missing or unsupported paths are skipped. The command fails only when nothing
was added.

Examples:
  nbq add analysis.ipynb
  nbq add --tag nightly etl.py report.ipynb
  nbq add --start train.ipynb           # also start a background worker`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addTag, "tag", "", "Tag recorded on each item and appended to snapshot names")
	addCmd.Flags().BoolVar(&addStart, "start", false, "Start a background worker if none is running")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	_, m, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	p := ui.NewPrinter(cmd.OutOrStdout())
	q := queue.New(m)

	added := 0
	for _, path := range args {
		item, _, err := q.Enqueue(path, addTag)
		switch {
		case nbqerrors.Is(err, nbqerrors.KindMissingSource):
			p.Warn("Skipping missing path: %s", path)
			continue
		case nbqerrors.Is(err, nbqerrors.KindInvalid):
			p.Warn("Skipping %s: %v", path, err)
			continue
		case err != nil:
			return err
		}
		added++
		p.Success("Enqueued %s -> %s", filepath.Base(path), item.Name())
	}

	if addStart {
		if err := ensureWorker(p, m); err != nil {
			// Items stay queued; a later "nbq run" picks them up.
			p.Warn("Could not start a worker: %v", err)
		}
	}
	if added == 0 {
		return errNothingAdded
	}
	return nil
}

// ensureWorker starts "nbq run --watch" in the background unless a worker is
// already running. Its output goes to a log in the session's logs directory.
func ensureWorker(p *ui.Printer, m *session.Manager) error {
	active, err := m.Active()
	if err != nil {
		return err
	}
	if active != nil {
		if pid, ok := active.Lock().Alive(); ok {
			p.Muted("Worker already running (pid %d)", pid)
		}
		return nil
	}

	s, err := m.Resolve()
	if err != nil {
		return err
	}
	if err := s.EnsureLayout(); err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating nbq executable: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	args := []string{exe, "run", "--watch"}
	if quietMode {
		args = append(args, "--quiet")
	}
	logPath := filepath.Join(s.LogsDir(), "worker-"+time.Now().UTC().Format("20060102-150405")+".log")
	pid, err := process.SpawnDetached(args, cwd, logPath)
	if err != nil {
		return err
	}
	p.Muted("Started worker (pid %d), log: %s", pid, logPath)
	return nil
}
