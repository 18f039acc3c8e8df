package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/logger"
)

// Spec describes a command to launch under supervision.
type Spec struct {
	Args    []string // Program and arguments
	Dir     string   // Working directory
	Env     []string // Extra environment entries appended to the current environment
	LogPath string   // stdout and stderr are appended here as they are produced
}

// Handle is a launched process group.
type Handle struct {
	PID     int
	PGID    int
	Started time.Time

	cmd     *exec.Cmd
	logFile *os.File

	waitOnce sync.Once
	code     int
	waitErr  error
}

// Launch starts spec as the leader of a new process group. The log file is
// handed to the child as both stdout and stderr, so the two streams share
// one descriptor and land in the order they were written.
func Launch(spec Spec) (*Handle, error) {
	op := nbqerrors.Op("process.Launch")
	if len(spec.Args) == 0 {
		return nil, nbqerrors.E(op, nbqerrors.KindInvalid, "empty command")
	}

	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nbqerrors.E(op, nbqerrors.KindIO, fmt.Sprintf("open log %s", spec.LogPath), err)
	}

	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, nbqerrors.E(op, nbqerrors.KindExecutorFailure, fmt.Sprintf("start %s", spec.Args[0]), err)
	}

	h := &Handle{
		PID:     cmd.Process.Pid,
		PGID:    cmd.Process.Pid,
		Started: time.Now(),
		cmd:     cmd,
		logFile: logFile,
	}
	if pgid, err := unix.Getpgid(h.PID); err == nil {
		h.PGID = pgid
	}

	logger.WithComponent("process").Info("launched", "pid", h.PID, "pgid", h.PGID, "args", spec.Args)
	return h, nil
}

// Wait blocks until the process exits. Descendants that outlive it and keep
// the log open do not delay it. The exit code is the negated signal number
// when the process was killed by a signal. Calling Wait again returns the
// same result.
func (h *Handle) Wait() (int, error) {
	h.waitOnce.Do(func() {
		err := h.cmd.Wait()
		h.code, h.waitErr = exitCode(err)
		if err := h.logFile.Close(); err != nil && h.waitErr == nil {
			h.waitErr = nbqerrors.E(nbqerrors.Op("process.Wait"), nbqerrors.KindIO, "close log", err)
		}
		logger.WithComponent("process").Info("exited", "pid", h.PID, "code", h.code, "duration", time.Since(h.Started))
	})
	return h.code, h.waitErr
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return -int(status.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return -1, nbqerrors.E(nbqerrors.Op("process.Wait"), nbqerrors.KindExecutorFailure, err)
}
