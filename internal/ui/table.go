package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"

	"github.com/zhubert/nbq/internal/state"
)

// Column limits of the status table, in display cells.
const (
	maxNameWidth   = 36
	maxTagWidth    = 16
	maxResultWidth = 48
	shortIDLen     = 8
	columnGap      = "  "
)

var tableHeaders = []string{"ID", "Notebook", "Tag", "Status", "Elapsed", "Result"}

// ShortID returns the last shortIDLen characters of an item id. Time-ordered
// ids share their prefix, so the tail is the distinguishing part.
func ShortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) <= shortIDLen {
		return id
	}
	return id[len(id)-shortIDLen:]
}

// Elapsed describes how long an item has run, or for a queued item how long
// ago it was added.
func Elapsed(item *state.QueueItem, now time.Time) string {
	if item.StartedAt == nil {
		if item.AddedAt.IsZero() {
			return ""
		}
		return humanize.RelTime(item.AddedAt, now, "ago", "from now")
	}
	end := now
	if item.EndedAt != nil {
		end = *item.EndedAt
	}
	d := end.Sub(*item.StartedAt)
	if d < 0 {
		d = 0
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// Result summarizes the outcome of an item.
func Result(item *state.QueueItem) string {
	switch item.Status {
	case state.StatusDone:
		return "ok"
	case state.StatusRunning:
		if item.PID > 0 {
			return fmt.Sprintf("pid %d", item.PID)
		}
		return "starting"
	case state.StatusQueued:
		return ""
	}
	var parts []string
	if item.ReturnCode != nil {
		parts = append(parts, fmt.Sprintf("rc=%d", *item.ReturnCode))
	}
	if item.Error != "" {
		parts = append(parts, item.Error)
	}
	return strings.Join(parts, " ")
}

// Table renders items as a status table. Cells are truncated to the column
// limits and padded to their display width before styling.
func (p *Printer) Table(items []*state.QueueItem, now time.Time) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			ShortID(item.ID),
			runewidth.Truncate(item.Name(), maxNameWidth, "…"),
			runewidth.Truncate(item.Tag, maxTagWidth, "…"),
			string(item.Status),
			Elapsed(item, now),
			runewidth.Truncate(Result(item), maxResultWidth, "…"),
		})
	}

	widths := make([]int, len(tableHeaders))
	for i, h := range tableHeaders {
		widths[i] = uniseg.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := uniseg.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	b.WriteString(p.row(tableHeaders, widths, func(int) func(string) string {
		return func(s string) string { return p.Render(HeaderStyle, s) }
	}))
	for i, row := range rows {
		status := items[i].Status
		b.WriteString(p.row(row, widths, func(col int) func(string) string {
			switch col {
			case 3:
				return func(s string) string { return p.Render(StatusStyle(status), s) }
			case 0:
				return func(s string) string { return p.Render(MutedStyle, s) }
			}
			return nil
		}))
	}
	return b.String()
}

func (p *Printer) row(cells []string, widths []int, style func(col int) func(string) string) string {
	padded := make([]string, len(cells))
	for i, cell := range cells {
		if i < len(cells)-1 {
			cell = padRight(cell, widths[i])
		}
		if fn := style(i); fn != nil {
			cell = fn(cell)
		}
		padded[i] = cell
	}
	return strings.TrimRight(strings.Join(padded, columnGap), " ") + "\n"
}

// padRight pads s with spaces to width display cells, measuring grapheme
// clusters so emoji sequences in file names count once.
func padRight(s string, width int) string {
	if n := width - uniseg.StringWidth(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}
