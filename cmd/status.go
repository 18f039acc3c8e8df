package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/nbq/internal/control"
	"github.com/zhubert/nbq/internal/logger"
	"github.com/zhubert/nbq/internal/state"
	"github.com/zhubert/nbq/internal/ui"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running and queued items",
	Long: `Shows the session a worker is running, or the most recent session when no
worker is running: the current item, the pending queue and whether a stop was
requested.

With --json the full session record, including history, is printed for
scripts.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output machine-readable JSON")
	rootCmd.AddCommand(statusCmd)
}

// statusOutput is the --json document.
type statusOutput struct {
	Version       string             `json:"version"`
	Session       *string            `json:"session"`
	WorkerPID     *int               `json:"worker_pid"`
	Queue         []*state.QueueItem `json:"queue"`
	History       []*state.QueueItem `json:"history"`
	Current       *state.QueueItem   `json:"current"`
	StopRequested bool               `json:"stop_requested"`
}

func newStatusOutput(r *control.Report) statusOutput {
	out := statusOutput{
		Version: version,
		Queue:   []*state.QueueItem{},
		History: []*state.QueueItem{},
	}
	if r == nil {
		return out
	}
	out.Session = &r.Dir
	if r.WorkerPID > 0 {
		pid := r.WorkerPID
		out.WorkerPID = &pid
	}
	if r.Queue != nil {
		out.Queue = r.Queue
	}
	if r.History != nil {
		out.History = r.History
	}
	out.Current = r.Current
	out.StopRequested = r.StopRequested
	return out
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, m, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	r, err := control.Status(m)
	if err != nil {
		return err
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	if statusJSON {
		return p.JSON(newStatusOutput(r))
	}
	if r == nil {
		p.Muted("No sessions found.")
		return nil
	}
	printStatus(p, r, time.Now().UTC())
	return nil
}

func printStatus(p *ui.Printer, r *control.Report, now time.Time) {
	p.Println("%s", p.Render(ui.TitleStyle, "nbq "+version+" status - session "+r.Session))

	var items []*state.QueueItem
	if r.Current != nil {
		items = append(items, r.Current)
	}
	items = append(items, r.Queue...)

	if len(items) == 0 {
		p.Muted("Nothing running or queued.")
	} else {
		fmt.Fprint(p.Writer(), p.Table(items, now))
	}

	if r.WorkerPID > 0 {
		p.Muted("worker pid: %d", r.WorkerPID)
	} else {
		p.Muted("no worker running")
	}
	if r.StopRequested {
		p.Warn("stop requested: the worker exits after the current item (use \"nbq run --restart\" to resume)")
	}
	if n := len(r.History); n > 0 {
		p.Muted("%d finished this session (%s)", n, historySummary(r.History))
	}
}

func historySummary(history []*state.QueueItem) string {
	st := &state.State{History: history}
	counts := st.Counts()
	return joinCounts(counts[state.StatusDone], counts[state.StatusFailed], counts[state.StatusCanceled])
}
