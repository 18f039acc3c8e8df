// Package executor prepares run directories and describes how the notebook
// execution engine is invoked for them.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/google/uuid"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/fsutil"
	"github.com/zhubert/nbq/internal/notebook"
	"github.com/zhubert/nbq/internal/process"
)

// File names inside a run directory.
const (
	SourceStem   = "source"
	InputName    = "input.ipynb"
	ExecutedName = "executed.ipynb"
	LogName      = "run.log"
	ResultName   = "status.json"
)

const tailBytes = 8 * 1024

// Run is a prepared run directory.
type Run struct {
	ID       string
	Dir      string
	Source   string // copy of the queued snapshot
	Input    string // notebook handed to the executor
	Executed string
	Log      string
}

// NewRunID returns "<unix-ms>-<4 hex>".
func NewRunID(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
}

// NewRun lays out a run directory under sessionDir without touching the disk.
func NewRun(sessionDir string, now time.Time) *Run {
	id := NewRunID(now)
	dir := filepath.Join(sessionDir, id)
	return &Run{
		ID:       id,
		Dir:      dir,
		Executed: filepath.Join(dir, ExecutedName),
		Log:      filepath.Join(dir, LogName),
	}
}

// Prepare creates the run directory, copies the snapshot into it as
// source.<ext> and produces the input notebook. Notebook sources are executed
// as is; scripts go through conv.
func (r *Run) Prepare(ctx context.Context, snapshot string, conv notebook.Converter) error {
	op := nbqerrors.Op("executor.Prepare")

	data, err := os.ReadFile(snapshot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nbqerrors.MissingSource(snapshot)
		}
		return nbqerrors.E(op, nbqerrors.KindIO, err)
	}
	if err := os.Mkdir(r.Dir, 0o755); err != nil {
		return nbqerrors.E(op, nbqerrors.KindIO, err)
	}

	ext := strings.ToLower(filepath.Ext(snapshot))
	r.Source = filepath.Join(r.Dir, SourceStem+ext)
	if err := fsutil.WriteFileAtomic(r.Source, data, 0o644); err != nil {
		return nbqerrors.E(op, nbqerrors.KindIO, err)
	}

	if ext == ".ipynb" {
		r.Input = r.Source
		return nil
	}
	r.Input = filepath.Join(r.Dir, InputName)
	if err := conv.Convert(ctx, r.Source, r.Input); err != nil {
		return nbqerrors.E(op, nbqerrors.GetKind(err), fmt.Sprintf("convert %s", filepath.Base(snapshot)), err)
	}
	return nil
}

// InputInfo summarizes the notebook handed to the engine.
type InputInfo struct {
	CodeCells int
	Kernel    string // kernelspec recorded in the notebook, "" when absent
}

// Inspect reads the prepared input notebook.
func (r *Run) Inspect() (*InputInfo, error) {
	data, err := os.ReadFile(r.Input)
	if err != nil {
		return nil, nbqerrors.E(nbqerrors.Op("executor.Inspect"), nbqerrors.KindIO, err)
	}
	return &InputInfo{
		CodeCells: notebook.CodeCellCount(data),
		Kernel:    notebook.KernelName(data),
	}, nil
}

// Executor builds invocations of the execution engine.
type Executor struct {
	Command []string      // e.g. python3 -m papermill
	Kernel  string        // --kernel
	Timeout time.Duration // per-cell --execution-timeout; zero means none
}

// Args returns "<Command...> <input> <executed> --kernel K [--execution-timeout S]".
func (e *Executor) Args(run *Run) []string {
	args := append([]string{}, e.Command...)
	args = append(args, run.Input, run.Executed, "--kernel", e.Kernel)
	if e.Timeout > 0 {
		secs := int64(e.Timeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		args = append(args, "--execution-timeout", strconv.FormatInt(secs, 10))
	}
	return args
}

// Spec returns the supervised launch description for run. The engine runs
// inside the run directory with unbuffered Python output.
func (e *Executor) Spec(run *Run) process.Spec {
	var env []string
	if _, ok := os.LookupEnv("PYTHONUNBUFFERED"); !ok {
		env = append(env, "PYTHONUNBUFFERED=1")
	}
	return process.Spec{
		Args:    e.Args(run),
		Dir:     run.Dir,
		Env:     env,
		LogPath: run.Log,
	}
}

// Result is the status.json record of a finished run.
type Result struct {
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Success    bool      `json:"success"`
	ReturnCode int       `json:"returncode"`
	Error      *string   `json:"error"`
}

// WriteResult atomically writes status.json into dir.
func WriteResult(dir string, r Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nbqerrors.E(nbqerrors.Op("executor.WriteResult"), nbqerrors.KindInvalid, err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, ResultName), append(data, '\n'), 0o644); err != nil {
		return nbqerrors.E(nbqerrors.Op("executor.WriteResult"), nbqerrors.KindIO, err)
	}
	return nil
}

// ReadResult reads status.json from dir.
func ReadResult(dir string) (*Result, error) {
	op := nbqerrors.Op("executor.ReadResult")
	data, err := os.ReadFile(filepath.Join(dir, ResultName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nbqerrors.E(op, nbqerrors.KindNotFound, err)
		}
		return nil, nbqerrors.E(op, nbqerrors.KindIO, err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, nbqerrors.E(op, nbqerrors.KindInvalid, err)
	}
	return &r, nil
}

// LogTail returns the last non-empty line of a run log with terminal escape
// sequences removed, or "" when there is none.
func LogTail(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() > tailBytes {
		_, _ = f.Seek(-tailBytes, io.SeekEnd)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	lines := strings.Split(ansi.Strip(string(data)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(strings.TrimRight(lines[i], "\r")); line != "" {
			return line
		}
	}
	return ""
}

// FailureMessage describes a non-zero exit of the engine, quoting the last
// line of its log when there is one.
func FailureMessage(returncode int, logPath string) string {
	msg := fmt.Sprintf("executor exited with code %d", returncode)
	if returncode < 0 {
		msg = fmt.Sprintf("executor killed by signal %d", -returncode)
	}
	if tail := LogTail(logPath); tail != "" {
		msg += ": " + tail
	}
	return msg
}
