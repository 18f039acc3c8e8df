package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"github.com/zhubert/nbq/internal/state"
)

func ptr[T any](v T) *T { return &v }

func TestShortID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"uuid", "0192f0c4-5e1a-7b3c-8d9e-0123456789ab", "456789ab"},
		{"short", "abc", "abc"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShortID(tt.id); got != tt.want {
				t.Errorf("ShortID(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestElapsed(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	started := now.Add(-90 * time.Second)
	ended := started.Add(42 * time.Second)

	tests := []struct {
		name string
		item *state.QueueItem
		want string
	}{
		{"running", &state.QueueItem{StartedAt: &started}, "1m30s"},
		{"finished", &state.QueueItem{StartedAt: &started, EndedAt: &ended}, "42s"},
		{"queued", &state.QueueItem{AddedAt: now.Add(-3 * time.Minute)}, "3 minutes ago"},
		{"no times", &state.QueueItem{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Elapsed(tt.item, now); got != tt.want {
				t.Errorf("Elapsed() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResult(t *testing.T) {
	tests := []struct {
		name string
		item *state.QueueItem
		want string
	}{
		{"done", &state.QueueItem{Status: state.StatusDone, ReturnCode: ptr(0)}, "ok"},
		{"failed", &state.QueueItem{Status: state.StatusFailed, ReturnCode: ptr(3), Error: "executor exited with code 3"}, "rc=3 executor exited with code 3"},
		{"canceled", &state.QueueItem{Status: state.StatusCanceled, ReturnCode: ptr(-15), Error: state.ErrKilledByUser}, "rc=-15 killed by user"},
		{"running", &state.QueueItem{Status: state.StatusRunning, PID: 42}, "pid 42"},
		{"starting", &state.QueueItem{Status: state.StatusRunning}, "starting"},
		{"queued", &state.QueueItem{Status: state.StatusQueued}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Result(tt.item); got != tt.want {
				t.Errorf("Result() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTable_Plain(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	started := now.Add(-5 * time.Second)
	items := []*state.QueueItem{
		{ID: "00000000-0000-0000-0000-0000000000a1", QueuePath: "/q/train.ipynb", Status: state.StatusRunning, StartedAt: &started, PID: 7, Tag: "gpu"},
		{ID: "00000000-0000-0000-0000-0000000000a2", QueuePath: "/q/データ解析.py", Status: state.StatusQueued, AddedAt: now},
	}

	out := NewPlainPrinter(&bytes.Buffer{}).Table(items, now)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[0], "Notebook") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "train.ipynb") || !strings.Contains(lines[1], "running") || !strings.Contains(lines[1], "pid 7") {
		t.Errorf("running row = %q", lines[1])
	}

	// The Status column starts at the same display offset on every row.
	col := func(line, word string) int {
		return runewidth.StringWidth(line[:strings.Index(line, word)])
	}
	if a, b := col(lines[1], "running"), col(lines[2], "queued"); a != b {
		t.Errorf("status column misaligned: %d vs %d\n%s", a, b, out)
	}
	if ansi.Strip(out) != out {
		t.Error("plain printer emitted escape sequences")
	}
}

func TestTable_TruncatesLongNames(t *testing.T) {
	items := []*state.QueueItem{{ID: "x", QueuePath: "/q/" + strings.Repeat("n", 80) + ".ipynb", Status: state.StatusQueued}}
	out := NewPlainPrinter(&bytes.Buffer{}).Table(items, time.Now())
	if !strings.Contains(out, "…") {
		t.Errorf("long name not truncated:\n%s", out)
	}
}

func TestPrinter_PlainMessages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	if p.Color() {
		t.Fatal("a buffer is not a terminal")
	}
	p.Success("added %d", 2)
	p.Warn("careful")
	p.Error("boom")
	p.Muted("quiet")

	want := "added 2\ncareful\nboom\nquiet\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestPrinter_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPlainPrinter(&buf).JSON(map[string]int{"a": 1}); err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if buf.String() != "{\n  \"a\": 1\n}\n" {
		t.Errorf("JSON() = %q", buf.String())
	}
}

func TestHighlight(t *testing.T) {
	code := `{"queue": []}`
	out := Highlight(code, "json")
	if out == code {
		t.Error("expected highlighted output to differ from input")
	}
	if !strings.Contains(ansi.Strip(out), `"queue"`) {
		t.Errorf("highlighting lost the text: %q", ansi.Strip(out))
	}
}

func TestPadRight(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{"ascii", "ab", 4, "ab  "},
		{"wide", "解析", 6, "解析  "},
		{"already wide enough", "abcdef", 3, "abcdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := padRight(tt.in, tt.width); got != tt.want {
				t.Errorf("padRight(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
			}
		})
	}
}
