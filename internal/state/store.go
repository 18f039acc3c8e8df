package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/fsutil"
	"github.com/zhubert/nbq/internal/logger"
)

const (
	// FileName is the durable record inside a session directory.
	FileName = "state.json"
	// LockFileName is the advisory lock serializing read-modify-write cycles.
	LockFileName = "state.lock"
)

// Store persists a State to a single JSON file with atomic replacement.
type Store struct {
	path     string
	lockPath string
	log      *slog.Logger
}

// NewStore returns a store for the session directory dir.
func NewStore(dir string) *Store {
	return &Store{
		path:     filepath.Join(dir, FileName),
		lockPath: filepath.Join(dir, LockFileName),
		log:      logger.WithComponent("state"),
	}
}

// Path returns the location of the durable record.
func (s *Store) Path() string {
	return s.path
}

// Load returns the last durable state. A missing or unparseable record
// degrades to an empty state; only an unreadable file is an error.
func (s *Store) Load() (*State, error) {
	st, _, err := s.read()
	return st, err
}

// read returns the parsed state. A corrupt record yields an empty state and
// corrupt=true.
func (s *Store) read() (st *State, corrupt bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(), false, nil
		}
		return nil, false, nbqerrors.E(nbqerrors.Op("state.Load"), nbqerrors.KindIO, fmt.Sprintf("failed to read %s", s.path), err)
	}

	st = &State{}
	if err := json.Unmarshal(data, st); err != nil {
		s.log.Warn("state record corrupt, using empty state", "error", nbqerrors.StateCorrupt(s.path, err))
		return New(), true, nil
	}
	st.normalize()
	return st, false, nil
}

// Save writes the state atomically: readers see either the previous record or
// this one, never a partial write.
func (s *Store) Save(st *State) error {
	st.normalize()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nbqerrors.StateWriteFailed(s.path, err)
	}
	data = append(data, '\n')
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return nbqerrors.StateWriteFailed(s.path, err)
	}
	return nil
}

// Update runs fn against the freshly loaded state and saves the result, all
// while holding an exclusive flock on the session's state.lock. If fn returns
// an error nothing is written. A corrupt record is moved aside before the
// recovered state replaces it.
func (s *Store) Update(fn func(*State) error) (*State, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, corrupt, err := s.read()
	if err != nil {
		return nil, err
	}
	if corrupt {
		s.quarantine()
	}

	if err := fn(st); err != nil {
		return nil, err
	}
	if err := s.Save(st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) quarantine() {
	dest := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, dest); err != nil {
		s.log.Warn("failed to quarantine corrupt state", "path", s.path, "error", err)
		return
	}
	s.log.Warn("quarantined corrupt state record", "path", s.path, "moved_to", dest)
}

func (s *Store) lock() (func(), error) {
	unlock, err := fsutil.Flock(s.lockPath)
	if err != nil {
		return nil, nbqerrors.E(nbqerrors.Op("state.Update"), nbqerrors.KindIO, err)
	}
	return unlock, nil
}
