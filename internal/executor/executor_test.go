package executor

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/notebook"
	"github.com/zhubert/nbq/internal/process"
)

type fakeConverter struct {
	err   error
	calls int
}

func (f *fakeConverter) Convert(_ context.Context, src, dst string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte(`{"cells": [], "metadata": {}, "nbformat": 4, "nbformat_minor": 5}`), 0o644)
}

func TestNewRunID(t *testing.T) {
	id := NewRunID(time.UnixMilli(1767366245123))
	if !regexp.MustCompile(`^1767366245123-[0-9a-f]{4}$`).MatchString(id) {
		t.Errorf("NewRunID() = %q", id)
	}
}

func TestPrepare_Notebook(t *testing.T) {
	sessionDir := t.TempDir()
	snapshot := filepath.Join(t.TempDir(), "report.ipynb")
	if err := os.WriteFile(snapshot, []byte(`{"cells": []}`), 0o644); err != nil {
		t.Fatal(err)
	}
	conv := &fakeConverter{}

	run := NewRun(sessionDir, time.Now())
	if err := run.Prepare(context.Background(), snapshot, conv); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if filepath.Dir(run.Dir) != sessionDir || filepath.Base(run.Dir) != run.ID {
		t.Errorf("run dir %s is not directly under the session", run.Dir)
	}
	if run.Source != filepath.Join(run.Dir, "source.ipynb") || run.Input != run.Source {
		t.Errorf("notebook runs should execute source.ipynb, got source=%s input=%s", run.Source, run.Input)
	}
	if run.Executed != filepath.Join(run.Dir, ExecutedName) || run.Log != filepath.Join(run.Dir, LogName) {
		t.Errorf("unexpected paths: %+v", run)
	}
	if conv.calls != 0 {
		t.Error("notebooks must not be converted")
	}
	if data, _ := os.ReadFile(run.Source); string(data) != `{"cells": []}` {
		t.Errorf("source copy = %q", data)
	}
}

func TestPrepare_ScriptIsConverted(t *testing.T) {
	snapshot := filepath.Join(t.TempDir(), "train_v1.py")
	if err := os.WriteFile(snapshot, []byte("# %%\nprint(1)\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	run := NewRun(t.TempDir(), time.Now())
	if err := run.Prepare(context.Background(), snapshot, notebook.NewConverter(nil, "python3")); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if run.Source != filepath.Join(run.Dir, "source.py") {
		t.Errorf("Source = %s", run.Source)
	}
	if run.Input != filepath.Join(run.Dir, InputName) {
		t.Errorf("Input = %s", run.Input)
	}
	data, err := os.ReadFile(run.Input)
	if err != nil {
		t.Fatalf("input notebook missing: %v", err)
	}
	if err := notebook.Validate(data); err != nil {
		t.Errorf("input notebook invalid: %v", err)
	}
}

func TestPrepare_Failures(t *testing.T) {
	t.Run("missing snapshot", func(t *testing.T) {
		sessionDir := t.TempDir()
		err := NewRun(sessionDir, time.Now()).Prepare(context.Background(), filepath.Join(sessionDir, "gone.py"), &fakeConverter{})
		if !nbqerrors.Is(err, nbqerrors.KindMissingSource) {
			t.Errorf("error = %v, want KindMissingSource", err)
		}
		entries, _ := os.ReadDir(sessionDir)
		if len(entries) != 0 {
			t.Errorf("no run directory should be created, found %d entries", len(entries))
		}
	})

	t.Run("run id collision", func(t *testing.T) {
		snapshot := filepath.Join(t.TempDir(), "x.ipynb")
		if err := os.WriteFile(snapshot, []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
		run := NewRun(t.TempDir(), time.Now())
		if err := os.Mkdir(run.Dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := run.Prepare(context.Background(), snapshot, &fakeConverter{}); !nbqerrors.Is(err, nbqerrors.KindIO) {
			t.Errorf("error = %v, want KindIO", err)
		}
	})

	t.Run("converter failure keeps run dir", func(t *testing.T) {
		snapshot := filepath.Join(t.TempDir(), "x.py")
		if err := os.WriteFile(snapshot, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		conv := &fakeConverter{err: nbqerrors.E(nbqerrors.KindExecutorFailure, "jupytext exploded")}
		run := NewRun(t.TempDir(), time.Now())
		err := run.Prepare(context.Background(), snapshot, conv)
		if !nbqerrors.Is(err, nbqerrors.KindExecutorFailure) {
			t.Errorf("error = %v, want KindExecutorFailure", err)
		}
		if _, err := os.Stat(run.Source); err != nil {
			t.Errorf("source copy missing: %v", err)
		}
	})
}

func TestRun_Inspect(t *testing.T) {
	snapshot := filepath.Join(t.TempDir(), "report.ipynb")
	nb := `{"cells": [
		{"cell_type": "markdown", "metadata": {}, "source": "# Title"},
		{"cell_type": "code", "execution_count": null, "metadata": {}, "outputs": [], "source": "a = 1"},
		{"cell_type": "code", "execution_count": null, "metadata": {}, "outputs": [], "source": "print(a)"}
	], "metadata": {"kernelspec": {"name": "ir", "display_name": "R"}}, "nbformat": 4, "nbformat_minor": 5}`
	if err := os.WriteFile(snapshot, []byte(nb), 0o644); err != nil {
		t.Fatal(err)
	}

	run := NewRun(t.TempDir(), time.Now())
	if err := run.Prepare(context.Background(), snapshot, &fakeConverter{}); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	info, err := run.Inspect()
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if diff := cmp.Diff(&InputInfo{CodeCells: 2, Kernel: "ir"}, info); diff != "" {
		t.Errorf("Inspect() mismatch (-want +got):\n%s", diff)
	}

	if _, err := NewRun(t.TempDir(), time.Now()).Inspect(); !nbqerrors.Is(err, nbqerrors.KindIO) {
		t.Errorf("Inspect before Prepare: expected KindIO, got %v", err)
	}
}

func TestExecutor_Args(t *testing.T) {
	run := &Run{Input: "/r/input.ipynb", Executed: "/r/executed.ipynb"}
	tests := []struct {
		name    string
		timeout time.Duration
		want    []string
	}{
		{
			name: "no timeout",
			want: []string{"python3", "-m", "papermill", "/r/input.ipynb", "/r/executed.ipynb", "--kernel", "ir"},
		},
		{
			name:    "with timeout",
			timeout: 90 * time.Second,
			want:    []string{"python3", "-m", "papermill", "/r/input.ipynb", "/r/executed.ipynb", "--kernel", "ir", "--execution-timeout", "90"},
		},
		{
			name:    "sub-second timeout rounds up",
			timeout: 10 * time.Millisecond,
			want:    []string{"python3", "-m", "papermill", "/r/input.ipynb", "/r/executed.ipynb", "--kernel", "ir", "--execution-timeout", "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Executor{Command: []string{"python3", "-m", "papermill"}, Kernel: "ir", Timeout: tt.timeout}
			if diff := cmp.Diff(tt.want, e.Args(run)); diff != "" {
				t.Errorf("Args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExecutor_SpecRunsInRunDir(t *testing.T) {
	t.Setenv("PYTHONUNBUFFERED", "")
	os.Unsetenv("PYTHONUNBUFFERED")

	dir := t.TempDir()
	run := &Run{Dir: dir, Input: filepath.Join(dir, "in.ipynb"), Executed: filepath.Join(dir, "out.ipynb"), Log: filepath.Join(dir, LogName)}
	if err := os.WriteFile(run.Input, []byte("notebook"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A stand-in engine: copy input to output and report its environment.
	e := &Executor{
		Command: []string{"sh", "-c", `cp "$1" "$2" && echo "cwd=$(pwd) unbuffered=$PYTHONUNBUFFERED kernel=$4"`, "engine"},
		Kernel:  "python3",
	}
	spec := e.Spec(run)
	if spec.Dir != dir || spec.LogPath != run.Log {
		t.Errorf("spec = %+v", spec)
	}

	h, err := process.Launch(spec)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if code, err := h.Wait(); err != nil || code != 0 {
		t.Fatalf("Wait() = %d, %v", code, err)
	}

	if data, _ := os.ReadFile(run.Executed); string(data) != "notebook" {
		t.Errorf("executed notebook = %q", data)
	}
	logData, _ := os.ReadFile(run.Log)
	want := "cwd=" + dir + " unbuffered=1 kernel=python3"
	if !strings.Contains(string(logData), want) {
		t.Errorf("log = %q, want it to contain %q", logData, want)
	}
}

func TestResult_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	msg := "killed by user"
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := Result{StartedAt: start, EndedAt: start.Add(time.Minute), ReturnCode: -15, Error: &msg}

	if err := WriteResult(dir, in); err != nil {
		t.Fatalf("WriteResult failed: %v", err)
	}
	out, err := ReadResult(dir)
	if err != nil {
		t.Fatalf("ReadResult failed: %v", err)
	}
	if diff := cmp.Diff(in, *out); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	if err := WriteResult(dir, Result{Success: true}); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(filepath.Join(dir, ResultName))
	if !strings.Contains(string(raw), `"error": null`) {
		t.Errorf("successful result should carry error: null, got %s", raw)
	}

	if _, err := ReadResult(t.TempDir()); !nbqerrors.Is(err, nbqerrors.KindNotFound) {
		t.Errorf("ReadResult on empty dir = %v, want KindNotFound", err)
	}
}

func TestLogTail(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", ""},
		{"last line", "first\nsecond\n", "second"},
		{"skips trailing blanks", "boom\n\n  \r\n", "boom"},
		{"strips ansi", "\x1b[31mPapermillExecutionError\x1b[0m: cell 3\n", "PapermillExecutionError: cell 3"},
		{"large log", strings.Repeat("noise\n", 5000) + "final\n", "final"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "log"+string(rune('a'+i)))
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if got := LogTail(path); got != tt.want {
				t.Errorf("LogTail() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := LogTail(filepath.Join(dir, "missing")); got != "" {
		t.Errorf("LogTail(missing) = %q", got)
	}
}

func TestFailureMessage(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, LogName)
	if err := os.WriteFile(log, []byte("Traceback\nValueError: bad\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := FailureMessage(1, log); got != "executor exited with code 1: ValueError: bad" {
		t.Errorf("FailureMessage(1) = %q", got)
	}
	if got := FailureMessage(-9, filepath.Join(dir, "none")); got != "executor killed by signal 9" {
		t.Errorf("FailureMessage(-9) = %q", got)
	}
}
