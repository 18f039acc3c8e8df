// Package state defines the durable queue record shared by the worker and the
// control commands, and the store that persists it.
package state

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
)

// Status is the lifecycle status of a queue item.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// IsTerminal returns true for statuses that end an item's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCanceled
}

// validTransitions lists the forward moves allowed from each status.
var validTransitions = map[Status][]Status{
	StatusQueued:  {StatusRunning},
	StatusRunning: {StatusDone, StatusFailed, StatusCanceled},
}

// CanTransition reports whether an item may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Error messages recorded on items by the worker and control commands.
const (
	ErrKilledByUser      = "killed by user"
	ErrWorkerTerminated  = "worker terminated"
	ErrWorkerInterrupted = "interrupted: worker exited before completion"
)

// QueueItem is one unit of work. Optional fields are only populated once the
// item reaches a status where they are meaningful.
type QueueItem struct {
	ID           string     `json:"id"`
	OriginalPath string     `json:"original_path"`
	QueuePath    string     `json:"queue_path"`
	AddedAt      time.Time  `json:"added_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Status       Status     `json:"status"`
	Tag          string     `json:"tag,omitempty"`
	RunID        string     `json:"run_id,omitempty"`
	Success      *bool      `json:"success,omitempty"`
	ReturnCode   *int       `json:"returncode,omitempty"`
	RunDir       string     `json:"run_dir,omitempty"`
	PID          int        `json:"pid,omitempty"`
	PGID         int        `json:"pgid,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// NewItem creates a queued item for a snapshot.
func NewItem(originalPath, queuePath, tag string) *QueueItem {
	return &QueueItem{
		ID:           NewItemID(),
		OriginalPath: originalPath,
		QueuePath:    queuePath,
		AddedAt:      time.Now().UTC(),
		Status:       StatusQueued,
		Tag:          tag,
	}
}

// NewItemID returns a time-ordered unique identifier.
func NewItemID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Name is the display name of the item: the snapshot's file name.
func (q *QueueItem) Name() string {
	if q.QueuePath != "" {
		return filepath.Base(q.QueuePath)
	}
	return filepath.Base(q.OriginalPath)
}

// Ext returns the lower-cased source extension, including the dot.
func (q *QueueItem) Ext() string {
	return strings.ToLower(filepath.Ext(q.QueuePath))
}

// Transition moves the item to a new status, rejecting anything that is not
// a forward move.
func (q *QueueItem) Transition(to Status) error {
	if !CanTransition(q.Status, to) {
		return nbqerrors.InvalidTransition(q.ID, string(q.Status), string(to))
	}
	q.Status = to
	return nil
}

// Start marks a queued item as running under the given run.
func (q *QueueItem) Start(runID, runDir string, now time.Time) error {
	if err := q.Transition(StatusRunning); err != nil {
		return err
	}
	q.StartedAt = &now
	q.RunID = runID
	q.RunDir = runDir
	return nil
}

// Finish records the outcome of a running item. An item whose kill intent was
// already recorded stays canceled whatever the exit code says.
func (q *QueueItem) Finish(status Status, returncode int, errMsg string, now time.Time) error {
	if !status.IsTerminal() {
		return nbqerrors.InvalidTransition(q.ID, string(q.Status), string(status))
	}
	if q.Status == StatusCanceled {
		status = StatusCanceled
		if q.Error != "" {
			errMsg = q.Error
		}
	} else if err := q.Transition(status); err != nil {
		return err
	}
	success := status == StatusDone
	q.Success = &success
	q.ReturnCode = &returncode
	q.EndedAt = &now
	q.Error = errMsg
	return nil
}

// State is the session-wide durable aggregate.
type State struct {
	Queue         []*QueueItem `json:"queue"`
	History       []*QueueItem `json:"history"`
	Current       *QueueItem   `json:"current"`
	StopRequested bool         `json:"stop_requested"`
}

// New returns an empty state.
func New() *State {
	return &State{
		Queue:   []*QueueItem{},
		History: []*QueueItem{},
	}
}

func (s *State) normalize() {
	if s.Queue == nil {
		s.Queue = []*QueueItem{}
	}
	if s.History == nil {
		s.History = []*QueueItem{}
	}
}

// Pop removes and returns the head of the queue, or nil when it is empty.
func (s *State) Pop() *QueueItem {
	if len(s.Queue) == 0 {
		return nil
	}
	item := s.Queue[0]
	s.Queue = s.Queue[1:]
	return item
}

// HasPending returns true when items are queued or one is executing.
func (s *State) HasPending() bool {
	return len(s.Queue) > 0 || s.Current != nil
}

// Complete moves the current item to history.
func (s *State) Complete() *QueueItem {
	item := s.Current
	if item == nil {
		return nil
	}
	s.History = append(s.History, item)
	s.Current = nil
	return item
}

// Counts tallies history items by status.
func (s *State) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, item := range s.History {
		counts[item.Status]++
	}
	return counts
}
