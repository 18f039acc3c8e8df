// Package queue snapshots sources into a session and manages the queued part
// of its durable state.
package queue

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/fsutil"
	"github.com/zhubert/nbq/internal/logger"
	"github.com/zhubert/nbq/internal/notebook"
	"github.com/zhubert/nbq/internal/session"
	"github.com/zhubert/nbq/internal/state"
)

// Supported source extensions.
const (
	ExtNotebook = ".ipynb"
	ExtScript   = ".py"
)

const maxNameTries = 1000

var (
	unsafeTagRe = regexp.MustCompile(`[^A-Za-z0-9_\-]+`)
	dashRunRe   = regexp.MustCompile(`-{2,}`)
)

// SanitizeTag reduces a tag to [A-Za-z0-9_-]. An empty result means no tag.
func SanitizeTag(tag string) string {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), " ", "-")
	tag = unsafeTagRe.ReplaceAllString(tag, "-")
	tag = dashRunRe.ReplaceAllString(tag, "-")
	return strings.Trim(tag, "-")
}

// SnapshotName returns <stem>[_<tag>]<ext> for a source path and a sanitized
// tag. The extension is lower-cased.
func SnapshotName(src, tag string) string {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if tag != "" {
		stem += "_" + tag
	}
	return stem + strings.ToLower(ext)
}

// Queue enqueues sources into resolved sessions.
type Queue struct {
	manager *session.Manager
	log     *slog.Logger
}

// New returns a queue backed by the sessions of m.
func New(m *session.Manager) *Queue {
	return &Queue{manager: m, log: logger.WithComponent("queue")}
}

// Enqueue snapshots path into the resolved session's queue area and appends a
// queued item for it. Notebooks are stripped of outputs and must look like
// nbformat v4.
func (q *Queue) Enqueue(path, tag string) (*state.QueueItem, *session.Session, error) {
	op := nbqerrors.Op("queue.Enqueue")

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, nbqerrors.E(op, nbqerrors.KindInvalid, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nbqerrors.MissingSource(abs)
		}
		return nil, nil, nbqerrors.E(op, nbqerrors.KindIO, err)
	}
	ext := strings.ToLower(filepath.Ext(abs))
	if info.IsDir() || (ext != ExtNotebook && ext != ExtScript) {
		return nil, nil, nbqerrors.UnsupportedSource(abs)
	}

	content, err := readSnapshot(abs, ext)
	if err != nil {
		return nil, nil, err
	}
	tag = SanitizeTag(tag)

	var (
		item *state.QueueItem
		sess *session.Session
	)
	err = q.manager.WithResolved(func(s *session.Session) error {
		if err := os.MkdirAll(s.QueueDir(), 0o755); err != nil {
			return nbqerrors.E(op, nbqerrors.KindIO, err)
		}
		dst, err := reserve(s.QueueDir(), SnapshotName(abs, tag))
		if err != nil {
			return err
		}
		if err := fsutil.WriteFileAtomic(dst, content, info.Mode().Perm()|0o600); err != nil {
			_ = os.Remove(dst)
			return nbqerrors.E(op, nbqerrors.KindIO, err)
		}

		queued := state.NewItem(abs, dst, tag)
		if _, err := s.Store().Update(func(st *state.State) error {
			st.Queue = append(st.Queue, queued)
			return nil
		}); err != nil {
			_ = os.Remove(dst)
			return err
		}
		item, sess = queued, s
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	logger.WithSession(sess.ID).Info("enqueued", "id", item.ID, "source", abs, "snapshot", item.QueuePath, "tag", tag)
	return item, sess, nil
}

func readSnapshot(path, ext string) ([]byte, error) {
	op := nbqerrors.Op("queue.Snapshot")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nbqerrors.E(op, nbqerrors.KindIO, err)
	}
	if ext != ExtNotebook {
		return data, nil
	}
	stripped, err := notebook.StripOutputs(data)
	if err != nil {
		return nil, nbqerrors.E(op, nbqerrors.KindInvalid, fmt.Sprintf("%s is not a readable notebook", path), err)
	}
	if err := notebook.Validate(stripped); err != nil {
		return nil, nbqerrors.E(op, nbqerrors.KindInvalid, path, err)
	}
	return stripped, nil
}

// reserve claims a free snapshot name in dir, adding _2, _3, ... before the
// extension when name is taken.
func reserve(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; i <= maxNameTries; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nbqerrors.E(nbqerrors.Op("queue.Snapshot"), nbqerrors.KindIO, err)
		}
	}
	return "", nbqerrors.E(nbqerrors.Op("queue.Snapshot"), nbqerrors.KindIO, fmt.Sprintf("no free snapshot name for %s", name))
}

// Clear drops every queued item of s and deletes their snapshots best
// effort. The current item and history are untouched. It returns the number
// of items removed.
func Clear(s *session.Session) (int, error) {
	var removed []*state.QueueItem
	if _, err := s.Store().Update(func(st *state.State) error {
		removed = st.Queue
		st.Queue = []*state.QueueItem{}
		return nil
	}); err != nil {
		return 0, err
	}

	log := logger.WithSession(s.ID)
	for _, item := range removed {
		if err := os.Remove(item.QueuePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("failed to remove snapshot", "path", item.QueuePath, "error", err)
		}
	}
	if len(removed) > 0 {
		log.Info("cleared queue", "count", len(removed))
	}
	return len(removed), nil
}
