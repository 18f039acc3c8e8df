// Package process supervises the delegated execution: it launches a command as
// the leader of a new process group, streams its output into a log file, and
// terminates the whole group on request.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/logger"
)

// groupPollInterval is how often Terminate re-checks whether the group exited.
const groupPollInterval = 50 * time.Millisecond

// Alive reports whether a process with the given pid exists. A process owned
// by another user (EPERM) counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// procDir is where per-process status files are read from.
var procDir = "/proc"

// GroupAlive reports whether any member of the process group still runs.
// Zombies do not count: a member that exited but was never reaped (common
// under a container init that does not reap) cannot be signalled further.
func GroupAlive(pgid int) bool {
	if pgid <= 0 {
		return false
	}
	err := unix.Kill(-pgid, 0)
	if errors.Is(err, unix.EPERM) {
		return true
	}
	if err != nil {
		return false
	}
	live, ok := groupHasLiveMember(pgid)
	if !ok {
		return true
	}
	return live
}

// groupHasLiveMember scans the process table for a member of pgid that is
// not a zombie. ok is false when no process table is available.
func groupHasLiveMember(pgid int) (live, ok bool) {
	entries, err := os.ReadDir(procDir)
	if err != nil {
		return false, false
	}
	for _, e := range entries {
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(procDir, e.Name(), "stat"))
		if err != nil {
			continue
		}
		ok = true
		state, group, parsed := parseStat(string(data))
		if !parsed || group != pgid {
			continue
		}
		if state != "Z" && state != "X" {
			return true, true
		}
	}
	return false, ok
}

// parseStat extracts the state and process group from a /proc/<pid>/stat
// line. The command name is parenthesised and may itself contain spaces or
// parentheses, so fields are counted from the last ')'.
func parseStat(line string) (state string, pgid int, ok bool) {
	end := strings.LastIndexByte(line, ')')
	if end < 0 {
		return "", 0, false
	}
	fields := strings.Fields(line[end+1:])
	if len(fields) < 3 {
		return "", 0, false
	}
	pgid, err := strconv.Atoi(fields[2])
	if err != nil {
		return "", 0, false
	}
	return fields[0], pgid, true
}

// Getpgid looks up the process group of a live process.
func Getpgid(pid int) (int, error) {
	if pid <= 0 {
		return 0, nbqerrors.E(nbqerrors.Op("process.Getpgid"), nbqerrors.KindInvalid, fmt.Sprintf("invalid pid %d", pid))
	}
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return 0, nbqerrors.E(nbqerrors.Op("process.Getpgid"), nbqerrors.KindNotFound, fmt.Sprintf("pid %d", pid), err)
	}
	return pgid, nil
}

// Terminate sends SIGTERM to the process group, waits up to grace for every
// member to exit, then sends SIGKILL. A group that is already gone counts as
// terminated.
func Terminate(pgid int, grace time.Duration) error {
	log := logger.WithComponent("process")
	if pgid <= 1 {
		return nbqerrors.E(nbqerrors.Op("process.Terminate"), nbqerrors.KindInvalid, fmt.Sprintf("refusing to signal process group %d", pgid))
	}

	log.Info("terminating process group", "pgid", pgid, "grace", grace)
	if err := signalGroup(pgid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			log.Debug("process group already gone", "pgid", pgid)
			return nil
		}
		return nbqerrors.SignalFailed(pgid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !GroupAlive(pgid) {
			log.Debug("process group exited after SIGTERM", "pgid", pgid)
			return nil
		}
		time.Sleep(groupPollInterval)
	}

	log.Warn("grace period elapsed, sending SIGKILL", "pgid", pgid)
	if err := signalGroup(pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return nbqerrors.SignalFailed(pgid, err)
	}
	return nil
}

func signalGroup(pgid int, sig syscall.Signal) error {
	return unix.Kill(-pgid, sig)
}

// SpawnDetached starts args in a new session with output appended to logPath
// and does not wait for it. It returns the child's pid.
func SpawnDetached(args []string, dir, logPath string) (int, error) {
	if len(args) == 0 {
		return 0, nbqerrors.E(nbqerrors.Op("process.SpawnDetached"), nbqerrors.KindInvalid, "empty command")
	}

	out, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, nbqerrors.E(nbqerrors.Op("process.SpawnDetached"), nbqerrors.KindIO, err)
	}
	defer out.Close()

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, nbqerrors.E(nbqerrors.Op("process.SpawnDetached"), nbqerrors.KindIO, fmt.Sprintf("start %s", args[0]), err)
	}

	pid := cmd.Process.Pid
	// The child is reparented when we exit; nothing here reaps it.
	_ = cmd.Process.Release()
	logger.WithComponent("process").Info("spawned detached process", "pid", pid, "args", args)
	return pid, nil
}
