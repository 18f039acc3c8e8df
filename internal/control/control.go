// Package control implements the commands that steer a session from outside
// the worker: status, cancel, kill, abort and clear. None of them take the
// worker lock; they read it to find the worker and change the durable state
// through the same atomic update the worker uses.
package control

import (
	"time"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/logger"
	"github.com/zhubert/nbq/internal/process"
	"github.com/zhubert/nbq/internal/queue"
	"github.com/zhubert/nbq/internal/session"
	"github.com/zhubert/nbq/internal/state"
)

// Report is a snapshot of a session for status output.
type Report struct {
	Session       string             `json:"session"`
	Dir           string             `json:"-"`
	WorkerPID     int                `json:"worker_pid,omitempty"`
	Queue         []*state.QueueItem `json:"queue"`
	History       []*state.QueueItem `json:"history"`
	Current       *state.QueueItem   `json:"current"`
	StopRequested bool               `json:"stop_requested"`
}

// Status reports the session status queries should show. It returns nil
// when no session exists yet.
func Status(m *session.Manager) (*Report, error) {
	s, err := m.ForReporting()
	if err != nil || s == nil {
		return nil, err
	}
	st, err := s.Store().Load()
	if err != nil {
		return nil, err
	}
	r := &Report{
		Session:       s.ID,
		Dir:           s.Dir,
		Queue:         st.Queue,
		History:       st.History,
		Current:       st.Current,
		StopRequested: st.StopRequested,
	}
	if pid, alive := s.Lock().Alive(); alive {
		r.WorkerPID = pid
	}
	return r, nil
}

// Cancel asks the worker to exit after its current item. It is idempotent
// and returns the affected session, or nil when there is none.
func Cancel(m *session.Manager) (*session.Session, error) {
	s, err := m.ForReporting()
	if err != nil || s == nil {
		return nil, err
	}
	if _, err := s.Store().Update(func(st *state.State) error {
		st.StopRequested = true
		return nil
	}); err != nil {
		return nil, err
	}
	logger.WithSession(s.ID).Info("stop requested")
	return s, nil
}

// KillResult describes what Kill did.
type KillResult struct {
	Session *session.Session
	Item    *state.QueueItem // the item marked canceled, nil when nothing ran
	PGID    int              // the group signalled, 0 when none was known yet
	Orphan  bool             // no live worker; recovery stops the item later
}

// Kill stops the item the active worker is executing: the kill intent is
// recorded first, then its process group gets SIGTERM and, after grace,
// SIGKILL. The worker records the item as canceled and moves on. Without an
// active worker or a current item it does nothing.
func Kill(m *session.Manager, grace time.Duration) (*KillResult, error) {
	s, err := m.Active()
	if err != nil || s == nil {
		return &KillResult{}, err
	}
	return killCurrent(s, grace, false, true)
}

// killCurrent records the kill intent on the current item of s (and the stop
// flag when stop is set) in one update, then terminates the item's group when
// signal is set. The recorded pgid is only trusted while the worker that
// wrote it is alive.
func killCurrent(s *session.Session, grace time.Duration, stop, signal bool) (*KillResult, error) {
	log := logger.WithSession(s.ID).With("component", "control")
	res := &KillResult{Session: s}

	st, err := s.Store().Update(func(st *state.State) error {
		if stop {
			st.StopRequested = true
		}
		cur := st.Current
		if cur == nil || (cur.Status != state.StatusRunning && cur.Status != state.StatusCanceled) {
			return nil
		}
		if cur.Status == state.StatusRunning {
			if err := cur.Transition(state.StatusCanceled); err != nil {
				return err
			}
		}
		if cur.Error == "" {
			cur.Error = state.ErrKilledByUser
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	cur := st.Current
	if cur == nil || cur.Status != state.StatusCanceled {
		log.Info("nothing to kill")
		return res, nil
	}
	res.Item = cur
	if !signal {
		res.Orphan = true
		log.Info("no live worker, kill recorded without signalling", "id", cur.ID, "pgid", cur.PGID)
		return res, nil
	}

	pgid := cur.PGID
	if pgid == 0 && cur.PID > 0 {
		if found, err := process.Getpgid(cur.PID); err == nil {
			pgid = found
		}
	}
	if pgid <= 1 {
		// The worker terminates the group itself once it persists the pgid.
		log.Info("kill recorded before launch", "id", cur.ID)
		return res, nil
	}

	res.PGID = pgid
	log.Info("killing current item", "id", cur.ID, "pgid", pgid, "grace", grace)
	if err := process.Terminate(pgid, grace); err != nil {
		return res, err
	}
	return res, nil
}

// AbortResult describes what Abort did.
type AbortResult struct {
	Kill    *KillResult
	Cleared int
}

// Abort kills the current item, optionally clears the queue, and leaves the
// stop flag set so the worker exits. The stop flag is written together with
// the kill intent so the worker cannot start another item in between. Without
// a live worker the intent is only recorded; the next worker stops whatever
// is left of the item during recovery.
func Abort(m *session.Manager, grace time.Duration, clearQueue bool) (*AbortResult, error) {
	s, err := m.ForReporting()
	if err != nil || s == nil {
		return &AbortResult{Kill: &KillResult{}}, err
	}

	_, workerAlive := s.Lock().Alive()
	kill, err := killCurrent(s, grace, true, workerAlive)
	res := &AbortResult{Kill: kill}
	if err != nil && !nbqerrors.Is(err, nbqerrors.KindSignalFailure) {
		return res, err
	}
	killErr := err

	if clearQueue {
		n, err := queue.Clear(s)
		if err != nil {
			return res, err
		}
		res.Cleared = n
	}

	if _, err := s.Store().Update(func(st *state.State) error {
		st.StopRequested = true
		return nil
	}); err != nil {
		return res, err
	}
	logger.WithSession(s.ID).Info("aborted", "cleared", res.Cleared, "clear_queue", clearQueue)
	return res, killErr
}

// Clear removes every queued item of the reporting session. It returns the
// number removed and the session, which is nil when none exists.
func Clear(m *session.Manager) (int, *session.Session, error) {
	s, err := m.ForReporting()
	if err != nil || s == nil {
		return 0, nil, err
	}
	n, err := queue.Clear(s)
	return n, s, err
}
