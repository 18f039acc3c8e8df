// Package ui formats the output of the nbq commands.
//
// # Overview
//
// Every command writes through a Printer. A Printer styles its output with
// the nbq palette only when it writes to a terminal and NO_COLOR is unset;
// redirected output stays plain so scripts can parse it.
//
// # Components
//
// Styles: the palette and the per-status styles used by every command.
//
// Table: the status table. Columns are padded and truncated by display width
// so wide characters in notebook names keep the columns aligned.
//
// JSON: indented JSON, syntax highlighted on a terminal.
package ui
