package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/fsutil"
	"github.com/zhubert/nbq/internal/lock"
	"github.com/zhubert/nbq/internal/logger"
	"github.com/zhubert/nbq/internal/state"
)

const (
	queueDirName   = "queue"
	outputDirName  = "output"
	logsDirName    = "logs"
	latestRunName  = "latest_run"
	resolveLock    = ".resolve.lock"
	idTimeLayout   = "2006-01-02T15-04-05.000Z"
	maxCreateTries = 5
)

// Session is one session directory.
type Session struct {
	ID  string
	Dir string
}

// Open returns the session rooted at base/id without touching the disk.
func Open(base, id string) *Session {
	return &Session{ID: id, Dir: filepath.Join(base, id)}
}

func (s *Session) QueueDir() string  { return filepath.Join(s.Dir, queueDirName) }
func (s *Session) OutputDir() string { return filepath.Join(s.Dir, outputDirName) }
func (s *Session) LogsDir() string   { return filepath.Join(s.Dir, logsDirName) }

// RunDir returns the directory for a run id.
func (s *Session) RunDir(runID string) string {
	return filepath.Join(s.Dir, runID)
}

// LatestRunLink returns the path of the latest_run symlink.
func (s *Session) LatestRunLink() string {
	return filepath.Join(s.Dir, latestRunName)
}

// Store returns the durable state store of the session.
func (s *Session) Store() *state.Store {
	return state.NewStore(s.Dir)
}

// Lock returns the worker lock of the session.
func (s *Session) Lock() *lock.Lock {
	return lock.New(s.Dir)
}

// SetLatestRun points latest_run at runDir. Failures are logged, not returned.
func (s *Session) SetLatestRun(runDir string) {
	if err := fsutil.Symlink(runDir, s.LatestRunLink()); err != nil {
		logger.WithSession(s.ID).Warn("failed to update latest_run", "target", runDir, "error", err)
	}
}

// EnsureLayout creates the session's subdirectories and an empty state record
// if none exists yet.
func (s *Session) EnsureLayout() error {
	for _, dir := range []string{s.Dir, s.QueueDir(), s.OutputDir(), s.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nbqerrors.E(nbqerrors.Op("session.EnsureLayout"), nbqerrors.KindIO, err)
		}
	}
	store := s.Store()
	if _, err := os.Stat(store.Path()); errors.Is(err, fs.ErrNotExist) {
		return store.Save(state.New())
	}
	return nil
}

// Manager finds and creates sessions under a base directory.
type Manager struct {
	base string
	log  *slog.Logger
}

// NewManager returns a manager for base.
func NewManager(base string) *Manager {
	return &Manager{base: base, log: logger.WithComponent("session")}
}

// Base returns the base directory.
func (m *Manager) Base() string {
	return m.base
}

// List returns every session, oldest first. Directories without a state
// record are not sessions.
func (m *Manager) List() ([]*Session, error) {
	entries, err := os.ReadDir(m.base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, nbqerrors.E(nbqerrors.Op("session.List"), nbqerrors.KindIO, err)
	}

	var sessions []*Session
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		s := Open(m.base, entry.Name())
		if _, err := os.Stat(filepath.Join(s.Dir, state.FileName)); err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

// Active returns the newest session whose lock names a live worker, or nil.
func (m *Manager) Active() (*Session, error) {
	sessions, err := m.List()
	if err != nil {
		return nil, err
	}
	for i := len(sessions) - 1; i >= 0; i-- {
		if _, alive := sessions[i].Lock().Alive(); alive {
			return sessions[i], nil
		}
	}
	return nil, nil
}

// Latest returns the most recently created session, or nil.
func (m *Manager) Latest() (*Session, error) {
	sessions, err := m.List()
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return sessions[len(sessions)-1], nil
}

// New creates a session directory with exclusive mkdir, retrying with a new
// suffix on collision.
func (m *Manager) New() (*Session, error) {
	if err := os.MkdirAll(m.base, 0o755); err != nil {
		return nil, nbqerrors.E(nbqerrors.Op("session.New"), nbqerrors.KindIO, err)
	}
	for attempt := 0; attempt < maxCreateTries; attempt++ {
		s := Open(m.base, NewID(time.Now()))
		if err := os.Mkdir(s.Dir, 0o755); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return nil, nbqerrors.E(nbqerrors.Op("session.New"), nbqerrors.KindIO, err)
		}
		if err := s.EnsureLayout(); err != nil {
			return nil, err
		}
		m.log.Info("created session", "id", s.ID, "dir", s.Dir)
		return s, nil
	}
	return nil, nbqerrors.E(nbqerrors.Op("session.New"), nbqerrors.KindIO, fmt.Sprintf("could not allocate a session id after %d attempts", maxCreateTries))
}

// NewID formats a sortable session id for t.
func NewID(t time.Time) string {
	return t.UTC().Format(idTimeLayout) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
}

// Resolve returns the session a mutating command should act on: the active
// session, else the latest one if it has pending work or a pending stop,
// else a new session.
func (m *Manager) Resolve() (*Session, error) {
	var resolved *Session
	err := m.WithResolved(func(s *Session) error {
		resolved = s
		return nil
	})
	return resolved, err
}

// WithResolved resolves the session and runs fn while still holding the
// resolution lock, so work fn records is visible to the next resolver.
func (m *Manager) WithResolved(fn func(*Session) error) error {
	unlock, err := fsutil.Flock(filepath.Join(m.base, resolveLock))
	if err != nil {
		return nbqerrors.E(nbqerrors.Op("session.Resolve"), nbqerrors.KindIO, err)
	}
	defer unlock()

	s, err := m.resolveLocked()
	if err != nil {
		return err
	}
	return fn(s)
}

func (m *Manager) resolveLocked() (*Session, error) {
	if s, err := m.Active(); err != nil || s != nil {
		return s, err
	}

	latest, err := m.Latest()
	if err != nil {
		return nil, err
	}
	if latest != nil {
		st, err := latest.Store().Load()
		if err != nil {
			return nil, err
		}
		if st.HasPending() || st.StopRequested {
			m.log.Debug("reusing latest session", "id", latest.ID, "stop_requested", st.StopRequested)
			return latest, nil
		}
	}
	return m.New()
}

// ForReporting returns the session status queries should show: the active
// session, else the latest one, else nil.
func (m *Manager) ForReporting() (*Session, error) {
	if s, err := m.Active(); err != nil || s != nil {
		return s, err
	}
	return m.Latest()
}
