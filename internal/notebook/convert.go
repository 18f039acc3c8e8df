package notebook

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/fsutil"
)

// Converter turns a script-style source into an executable notebook.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// NewConverter returns the external converter when command is set and the
// built-in percent-format converter otherwise.
func NewConverter(command []string, kernel string) Converter {
	if len(command) > 0 {
		return &CommandConverter{Command: command}
	}
	return &PercentConverter{Kernel: kernel}
}

// PercentConverter converts percent-format scripts ("# %%" cell markers).
type PercentConverter struct {
	Kernel string
}

func (c *PercentConverter) Convert(_ context.Context, src, dst string) error {
	op := nbqerrors.Op("notebook.Convert")
	data, err := os.ReadFile(src)
	if err != nil {
		return nbqerrors.E(op, nbqerrors.KindIO, err)
	}
	out, err := ConvertPercent(data, c.Kernel)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(dst, out, 0o644); err != nil {
		return nbqerrors.E(op, nbqerrors.KindIO, err)
	}
	return nil
}

// CommandConverter runs an external converter as "<Command...> <dst> <src>"
// in the directory of dst, e.g. jupytext --to ipynb --output.
type CommandConverter struct {
	Command []string
}

func (c *CommandConverter) Convert(ctx context.Context, src, dst string) error {
	op := nbqerrors.Op("notebook.Convert")
	args := append(append([]string{}, c.Command[1:]...), dst, src)
	cmd := exec.CommandContext(ctx, c.Command[0], args...)
	cmd.Dir = filepath.Dir(dst)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nbqerrors.E(op, nbqerrors.KindExecutorFailure,
			fmt.Sprintf("%s: %s", c.Command[0], strings.TrimSpace(string(output))), err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		return nbqerrors.E(op, nbqerrors.KindIO, "converter produced no notebook", err)
	}
	return Validate(data)
}

var markerRe = regexp.MustCompile(`^#\s*%%(.*)$`)

var cellKinds = map[string]string{
	"markdown": "markdown",
	"md":       "markdown",
	"raw":      "raw",
}

type nbCell struct {
	ID             string         `json:"id"`
	CellType       string         `json:"cell_type"`
	Metadata       map[string]any `json:"metadata"`
	Source         []string       `json:"source"`
	Outputs        []any          `json:"outputs,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
}

// code cells must carry outputs and execution_count even when empty.
func (c nbCell) MarshalJSON() ([]byte, error) {
	type plain nbCell
	if c.CellType != "code" {
		return json.Marshal(plain(c))
	}
	return json.Marshal(struct {
		plain
		Outputs        []any `json:"outputs"`
		ExecutionCount *int  `json:"execution_count"`
	}{plain: plain(c), Outputs: []any{}})
}

type nbDocument struct {
	Cells         []nbCell       `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}

type pendingCell struct {
	kind  string
	title string
	lines []string
}

// ConvertPercent converts a percent-format script into an nbformat 4.5
// notebook. Text before the first marker becomes a code cell. Markdown and
// raw cells drop their leading comment prefix. Marker titles are kept in the
// cell metadata.
func ConvertPercent(src []byte, kernel string) ([]byte, error) {
	var cells []pendingCell
	cur := pendingCell{kind: "code"}

	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if m := markerRe.FindStringSubmatch(line); m != nil {
			cells = append(cells, cur)
			cur = parseMarker(m[1])
			continue
		}
		cur.lines = append(cur.lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, nbqerrors.E(nbqerrors.Op("notebook.ConvertPercent"), nbqerrors.KindIO, err)
	}
	cells = append(cells, cur)

	doc := nbDocument{
		Cells:         []nbCell{},
		Metadata:      notebookMetadata(kernel),
		NBFormat:      4,
		NBFormatMinor: 5,
	}
	for _, pc := range cells {
		lines := trimBlank(pc.lines)
		if pc.kind != "code" {
			lines = uncomment(lines)
		}
		if len(lines) == 0 && pc.title == "" {
			continue
		}
		meta := map[string]any{}
		if pc.title != "" {
			meta["title"] = pc.title
		}
		doc.Cells = append(doc.Cells, nbCell{
			ID:       cellID(),
			CellType: pc.kind,
			Metadata: meta,
			Source:   sourceLines(lines),
		})
	}

	out, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return nil, nbqerrors.E(nbqerrors.Op("notebook.ConvertPercent"), nbqerrors.KindInvalid, err)
	}
	return append(out, '\n'), nil
}

// parseMarker reads the text after "# %%": an optional title and an
// optional [kind] annotation.
func parseMarker(rest string) pendingCell {
	pc := pendingCell{kind: "code"}
	rest = strings.TrimSpace(rest)
	if open := strings.Index(rest, "["); open >= 0 {
		if end := strings.Index(rest[open:], "]"); end > 0 {
			if kind, ok := cellKinds[strings.ToLower(strings.TrimSpace(rest[open+1:open+end]))]; ok {
				pc.kind = kind
				rest = strings.TrimSpace(rest[:open] + rest[open+end+1:])
			}
		}
	}
	pc.title = rest
	return pc
}

func notebookMetadata(kernel string) map[string]any {
	if kernel == "" {
		kernel = "python3"
	}
	return map[string]any{
		"kernelspec": map[string]any{
			"name":         kernel,
			"display_name": kernel,
			"language":     "python",
		},
		"language_info": map[string]any{"name": "python"},
	}
}

func trimBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func uncomment(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "# "):
			out[i] = line[2:]
		case strings.HasPrefix(line, "#"):
			out[i] = line[1:]
		default:
			out[i] = line
		}
	}
	return out
}

// sourceLines splits cell text the way nbformat stores it: every line but
// the last keeps its newline.
func sourceLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		if i < len(lines)-1 {
			line += "\n"
		}
		out[i] = line
	}
	return out
}

func cellID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
