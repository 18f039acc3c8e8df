// Package lock enforces a single worker per session with a PID file.
//
// The record is created with exclusive-create semantics: the PID is written to
// a private temp file which is then hard-linked to lock.pid, so the record
// never exists without its content. Stale records (dead PID, empty or garbage
// content) are moved aside while holding a flock on a guard file, which keeps
// two recovering workers from stealing each other's fresh record.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/fsutil"
	"github.com/zhubert/nbq/internal/logger"
	"github.com/zhubert/nbq/internal/process"
)

const (
	// FileName is the lock record inside a session directory.
	FileName = "lock.pid"

	guardSuffix = ".guard"
	staleSuffix = ".stale"
)

// Lock is the worker lock of one session.
type Lock struct {
	path string
	pid  int
	log  *slog.Logger
}

// New returns the lock for a session directory. The lock is not acquired.
func New(dir string) *Lock {
	return &Lock{
		path: filepath.Join(dir, FileName),
		pid:  os.Getpid(),
		log:  logger.WithComponent("lock"),
	}
}

// Path returns the location of the lock record.
func (l *Lock) Path() string {
	return l.path
}

// Acquire creates the lock record for this process. It fails with a
// KindLockBusy error when a live process holds the lock.
func (l *Lock) Acquire() error {
	if err := l.create(); err == nil {
		l.log.Info("lock acquired", "path", l.path, "pid", l.pid)
		return nil
	} else if !errors.Is(err, fs.ErrExist) {
		return err
	}

	unlock, err := l.guard()
	if err != nil {
		return err
	}
	defer unlock()

	// Re-check under the guard: another worker may have replaced the record.
	for attempt := 0; attempt < 3; attempt++ {
		pid, readErr := l.PID()
		if readErr == nil && process.Alive(pid) {
			return nbqerrors.LockBusy(pid)
		}
		if readErr != nil && nbqerrors.Is(readErr, nbqerrors.KindIO) {
			return readErr
		}
		if readErr == nil || !nbqerrors.Is(readErr, nbqerrors.KindNotFound) {
			l.log.Warn("recovering stale lock", "error", nbqerrors.StaleLock(l.path, pid))
			if err := os.Rename(l.path, l.path+staleSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nbqerrors.E(nbqerrors.Op("lock.Acquire"), nbqerrors.KindIO, "move stale lock aside", err)
			}
		}

		err := l.create()
		if err == nil {
			l.log.Info("lock acquired after stale recovery", "path", l.path, "pid", l.pid)
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	pid, _ := l.PID()
	return nbqerrors.LockBusy(pid)
}

// create publishes a fully written record with link(2), which fails with
// EEXIST if any record is present.
func (l *Lock) create() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nbqerrors.E(nbqerrors.Op("lock.Acquire"), nbqerrors.KindIO, err)
	}

	tmp, err := os.CreateTemp(dir, "."+FileName+".tmp-*")
	if err != nil {
		return nbqerrors.E(nbqerrors.Op("lock.Acquire"), nbqerrors.KindIO, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := fmt.Fprintf(tmp, "%d\n", l.pid); err != nil {
		tmp.Close()
		return nbqerrors.E(nbqerrors.Op("lock.Acquire"), nbqerrors.KindIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nbqerrors.E(nbqerrors.Op("lock.Acquire"), nbqerrors.KindIO, err)
	}
	if err := tmp.Close(); err != nil {
		return nbqerrors.E(nbqerrors.Op("lock.Acquire"), nbqerrors.KindIO, err)
	}

	if err := os.Link(tmpPath, l.path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return err
		}
		return nbqerrors.E(nbqerrors.Op("lock.Acquire"), nbqerrors.KindIO, err)
	}
	return nil
}

func (l *Lock) guard() (func(), error) {
	unlock, err := fsutil.Flock(l.path + guardSuffix)
	if err != nil {
		return nil, nbqerrors.E(nbqerrors.Op("lock.Acquire"), nbqerrors.KindIO, err)
	}
	return unlock, nil
}

// Release removes the record if it still names this process. Releasing an
// absent lock, or one that now belongs to someone else, is a no-op.
func (l *Lock) Release() error {
	pid, err := l.PID()
	switch {
	case nbqerrors.Is(err, nbqerrors.KindNotFound):
		return nil
	case nbqerrors.Is(err, nbqerrors.KindIO):
		return err
	case err != nil || pid != l.pid:
		l.log.Warn("lock not held by this process, leaving it", "path", l.path, "recorded_pid", pid)
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nbqerrors.E(nbqerrors.Op("lock.Release"), nbqerrors.KindIO, err)
	}
	l.log.Info("lock released", "path", l.path, "pid", l.pid)
	return nil
}

// PID reads the recorded worker pid. A missing record is KindNotFound and
// unparseable content is KindInvalid.
func (l *Lock) PID() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nbqerrors.E(nbqerrors.Op("lock.PID"), nbqerrors.KindNotFound, "no lock record", err)
		}
		return 0, nbqerrors.E(nbqerrors.Op("lock.PID"), nbqerrors.KindIO, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, nbqerrors.E(nbqerrors.Op("lock.PID"), nbqerrors.KindInvalid, fmt.Sprintf("unparseable lock record %q", strings.TrimSpace(string(data))))
	}
	return pid, nil
}

// Alive returns the recorded pid and whether that process is running.
func (l *Lock) Alive() (int, bool) {
	pid, err := l.PID()
	if err != nil {
		return 0, false
	}
	return pid, process.Alive(pid)
}

// IsStale reports whether a record exists that does not name a live process.
func (l *Lock) IsStale() bool {
	if _, err := os.Stat(l.path); err != nil {
		return false
	}
	_, alive := l.Alive()
	return !alive
}
