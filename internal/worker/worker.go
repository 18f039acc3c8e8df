// Package worker runs the queue of one session: it holds the session lock,
// executes queued items one at a time in FIFO order and records every
// outcome in the durable state.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhubert/nbq/internal/config"
	"github.com/zhubert/nbq/internal/executor"
	"github.com/zhubert/nbq/internal/lock"
	"github.com/zhubert/nbq/internal/logger"
	"github.com/zhubert/nbq/internal/notebook"
	"github.com/zhubert/nbq/internal/notification"
	"github.com/zhubert/nbq/internal/process"
	"github.com/zhubert/nbq/internal/session"
	"github.com/zhubert/nbq/internal/state"
)

// errStopRequested aborts a claim when the stop flag is set.
var errStopRequested = errors.New("stop requested")

// Summary counts what one Run did.
type Summary struct {
	Processed     int
	Done          int
	Failed        int
	Canceled      int
	Recovered     int
	StopRequested bool // the loop ended on the stop flag
}

func (s *Summary) record(status state.Status) {
	s.Processed++
	switch status {
	case state.StatusDone:
		s.Done++
	case state.StatusFailed:
		s.Failed++
	case state.StatusCanceled:
		s.Canceled++
	}
}

// Worker executes the queue of a single session.
type Worker struct {
	sess  *session.Session
	store *state.Store
	lock  *lock.Lock
	exec  *executor.Executor
	conv  notebook.Converter
	log   *slog.Logger

	once         bool
	watch        bool
	restart      bool
	notify       bool
	pollInterval time.Duration
	killGrace    time.Duration
	now          func() time.Time
	afterLaunch  func(*state.QueueItem)
}

// Option configures the worker.
type Option func(*Worker)

// WithOnce processes at most one item.
func WithOnce(once bool) Option {
	return func(w *Worker) { w.once = once }
}

// WithWatch keeps polling an empty queue instead of exiting.
func WithWatch(watch bool) Option {
	return func(w *Worker) { w.watch = watch }
}

// WithRestart clears a pending stop request before the loop starts.
func WithRestart(restart bool) Option {
	return func(w *Worker) { w.restart = restart }
}

// WithTimeout sets the per-cell execution timeout forwarded to the engine.
func WithTimeout(d time.Duration) Option {
	return func(w *Worker) { w.exec.Timeout = d }
}

// WithPollInterval sets the watch-mode polling interval (mainly for testing).
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollInterval = d }
}

// WithKillGrace sets how long the worker waits after SIGTERM when it has to
// stop a running group itself.
func WithKillGrace(d time.Duration) Option {
	return func(w *Worker) { w.killGrace = d }
}

// WithAfterLaunch registers a hook called once an item's pid and pgid are
// persisted (mainly for testing).
func WithAfterLaunch(fn func(*state.QueueItem)) Option {
	return func(w *Worker) { w.afterLaunch = fn }
}

// New creates a worker for s configured from cfg.
func New(cfg *config.Config, s *session.Session, opts ...Option) *Worker {
	w := &Worker{
		sess:  s,
		store: s.Store(),
		lock:  s.Lock(),
		exec: &executor.Executor{
			Command: cfg.ExecutorCommand,
			Kernel:  cfg.DefaultKernel,
		},
		conv:         notebook.NewConverter(cfg.ConverterCommand, cfg.DefaultKernel),
		log:          logger.WithSession(s.ID).With("component", "worker"),
		notify:       cfg.Notifications,
		pollInterval: cfg.PollInterval,
		killGrace:    cfg.KillGrace,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run acquires the session lock and processes the queue until it is empty
// (or forever in watch mode), the stop flag is set, or ctx is cancelled. A
// live worker already holding the lock yields a LockBusy error. Cancelling
// ctx terminates the running item and leaves the rest queued.
func (w *Worker) Run(ctx context.Context) (*Summary, error) {
	if err := w.lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := w.lock.Release(); err != nil {
			w.log.Error("failed to release lock", "error", err)
		}
	}()

	w.log.Info("worker starting", "once", w.once, "watch", w.watch, "kernel", w.exec.Kernel)
	summary := &Summary{}

	if w.restart {
		if _, err := w.store.Update(func(st *state.State) error {
			st.StopRequested = false
			return nil
		}); err != nil {
			return summary, err
		}
	}

	recovered, err := w.recover()
	if err != nil {
		return summary, err
	}
	summary.Recovered = recovered

	for {
		if ctx.Err() != nil {
			w.log.Info("worker interrupted")
			return summary, nil
		}

		item, run, err := w.claim()
		if errors.Is(err, errStopRequested) {
			w.log.Info("stop requested, exiting")
			summary.StopRequested = true
			return summary, nil
		}
		if err != nil {
			return summary, err
		}

		if item == nil {
			if w.once || !w.watch {
				w.log.Info("queue empty, exiting")
				return summary, nil
			}
			select {
			case <-ctx.Done():
			case <-time.After(w.pollInterval):
			}
			continue
		}

		final, err := w.execute(ctx, item, run)
		if err != nil {
			return summary, err
		}
		summary.record(final.Status)

		if w.once {
			return summary, nil
		}
	}
}

// claim pops the head of the queue and makes it the running item in one
// durable update.
func (w *Worker) claim() (*state.QueueItem, *executor.Run, error) {
	var (
		item *state.QueueItem
		run  *executor.Run
	)
	_, err := w.store.Update(func(st *state.State) error {
		if st.StopRequested {
			return errStopRequested
		}
		next := st.Pop()
		if next == nil {
			return nil
		}
		now := w.now()
		run = executor.NewRun(w.sess.Dir, now)
		if err := next.Start(run.ID, run.Dir, now); err != nil {
			return err
		}
		st.Current = next
		item = next
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if item != nil {
		w.log.Info("starting item", "id", item.ID, "name", item.Name(), "run", run.ID)
	}
	return item, run, nil
}

// execute prepares, launches and supervises one claimed item, then finalizes
// it. Failures of the item itself are recorded on it; only state persistence
// errors are returned.
func (w *Worker) execute(ctx context.Context, item *state.QueueItem, run *executor.Run) (*state.QueueItem, error) {
	log := w.log.With("id", item.ID, "run", run.ID)

	if err := run.Prepare(ctx, item.QueuePath, w.conv); err != nil {
		log.Warn("run preparation failed", "error", err)
		return w.finalize(item, run, outcome{status: state.StatusFailed, code: -1, errMsg: err.Error()})
	}
	if info, err := run.Inspect(); err == nil {
		log.Info("input ready", "code_cells", info.CodeCells, "kernelspec", info.Kernel)
		if info.Kernel != "" && info.Kernel != w.exec.Kernel {
			log.Warn("notebook kernelspec overridden by the configured kernel", "kernelspec", info.Kernel, "kernel", w.exec.Kernel)
		}
	}

	h, err := process.Launch(w.exec.Spec(run))
	if err != nil {
		log.Error("launch failed", "error", err)
		return w.finalize(item, run, outcome{status: state.StatusFailed, code: -1, errMsg: err.Error()})
	}

	st, err := w.store.Update(func(st *state.State) error {
		if st.Current != nil && st.Current.ID == item.ID {
			st.Current.PID = h.PID
			st.Current.PGID = h.PGID
		}
		return nil
	})
	if err != nil {
		// Without a durable pgid nobody else could stop the child.
		_ = process.Terminate(h.PGID, w.killGrace)
		_, _ = h.Wait()
		return nil, err
	}
	// A kill recorded before the pgid was known is honoured now.
	if st.Current != nil && st.Current.ID == item.ID && st.Current.Status == state.StatusCanceled {
		log.Info("kill requested before launch completed, terminating", "pgid", h.PGID)
		if err := process.Terminate(h.PGID, w.killGrace); err != nil {
			log.Warn("terminate failed", "error", err)
		}
	}
	if w.afterLaunch != nil {
		w.afterLaunch(st.Current)
	}

	// One goroutine reaps the child; the other stops its group if the
	// worker is shut down first.
	var (
		g          errgroup.Group
		code       int
		waitErr    error
		terminated bool
	)
	exited := make(chan struct{})
	g.Go(func() error {
		code, waitErr = h.Wait()
		close(exited)
		return nil
	})
	g.Go(func() error {
		select {
		case <-exited:
			return nil
		case <-ctx.Done():
		}
		terminated = true
		log.Info("worker shutting down, terminating running item", "pgid", h.PGID, "grace", w.killGrace)
		return process.Terminate(h.PGID, w.killGrace)
	})
	if err := g.Wait(); err != nil {
		log.Warn("terminate failed", "error", err)
	}

	out := outcome{code: code}
	switch {
	case terminated:
		out.status, out.errMsg = state.StatusCanceled, state.ErrWorkerTerminated
	case waitErr != nil:
		out.status, out.errMsg = state.StatusFailed, waitErr.Error()
	case code == 0:
		out.status = state.StatusDone
	default:
		out.status, out.errMsg = state.StatusFailed, executor.FailureMessage(code, run.Log)
	}
	return w.finalize(item, run, out)
}

type outcome struct {
	status state.Status
	code   int
	errMsg string
}

// finalize records the outcome on the durable current item, writes the run's
// status.json and moves the item to history. A kill intent recorded on the
// durable item overrides the outcome.
func (w *Worker) finalize(item *state.QueueItem, run *executor.Run, out outcome) (*state.QueueItem, error) {
	var final *state.QueueItem
	_, err := w.store.Update(func(st *state.State) error {
		cur := st.Current
		if cur == nil || cur.ID != item.ID {
			w.log.Warn("current item changed under the worker, finalizing own copy", "id", item.ID)
			cur = item
			st.Current = cur
		}
		if err := cur.Finish(out.status, out.code, out.errMsg, w.now()); err != nil {
			return err
		}
		w.writeResult(cur)
		st.Complete()
		final = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(run.Dir); err == nil {
		w.sess.SetLatestRun(run.Dir)
	}
	w.log.Info("item finished", "id", final.ID, "status", final.Status, "returncode", *final.ReturnCode, "error", final.Error)
	if w.notify {
		_ = notification.ItemFinished(final.Name(), string(final.Status))
	}
	return final, nil
}

// writeResult writes status.json for a finished item when its run directory
// exists. Failures are logged; the durable state stays authoritative.
func (w *Worker) writeResult(item *state.QueueItem) {
	if item.RunDir == "" {
		return
	}
	r := executor.Result{
		Success:    item.Success != nil && *item.Success,
		ReturnCode: -1,
	}
	if item.StartedAt != nil {
		r.StartedAt = *item.StartedAt
	}
	if item.EndedAt != nil {
		r.EndedAt = *item.EndedAt
	}
	if item.ReturnCode != nil {
		r.ReturnCode = *item.ReturnCode
	}
	if item.Error != "" {
		msg := item.Error
		r.Error = &msg
	}
	if err := executor.WriteResult(item.RunDir, r); err != nil {
		w.log.Debug("status.json not written", "run_dir", item.RunDir, "error", err)
	}
}

// recover reconciles a current item left behind by a worker that died: its
// process group is stopped if still alive and the item is moved to history.
func (w *Worker) recover() (int, error) {
	snapshot, err := w.store.Load()
	if err != nil || snapshot.Current == nil {
		return 0, err
	}
	orphan := snapshot.Current

	log := w.log.With("id", orphan.ID, "pgid", orphan.PGID)
	log.Warn("recovering item left by a previous worker")
	if orphan.PGID > 1 && process.GroupAlive(orphan.PGID) {
		if err := process.Terminate(orphan.PGID, w.killGrace); err != nil {
			log.Warn("failed to stop orphaned process group", "error", err)
		}
	}

	_, err = w.store.Update(func(st *state.State) error {
		cur := st.Current
		if cur == nil || cur.ID != orphan.ID {
			return nil
		}
		if cur.Status == state.StatusQueued {
			// Never started: give it back to the queue head.
			st.Queue = append([]*state.QueueItem{cur}, st.Queue...)
			st.Current = nil
			return nil
		}
		if err := cur.Finish(state.StatusFailed, -1, state.ErrWorkerInterrupted, w.now()); err != nil {
			return err
		}
		w.writeResult(cur)
		st.Complete()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return 1, nil
}
