package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Table renders rows in aligned columns under a colored header
type Table struct {
	w       io.Writer
	headers []string
	rows    [][]string
	noColor bool
}

// NewTable creates a table with the given column headers
func NewTable(w io.Writer, noColor bool, headers ...string) *Table {
	return &Table{w: w, headers: headers, noColor: noColor}
}

// AddRow appends a row. Cells beyond the header count are dropped.
func (t *Table) AddRow(cells ...string) {
	if len(cells) > len(t.headers) {
		cells = cells[:len(t.headers)]
	}
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the table
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	head := paint(t.noColor, color.Bold, color.FgCyan)
	rule := paint(t.noColor, color.FgHiBlack)

	cells := make([]string, len(t.headers))
	for i, h := range t.headers {
		cells[i] = head.Sprint(pad(h, widths[i], i == len(t.headers)-1))
	}
	fmt.Fprintln(t.w, strings.Join(cells, "  "))

	for i, width := range widths {
		cells[i] = rule.Sprint(strings.Repeat("─", width))
	}
	fmt.Fprintln(t.w, strings.Join(cells, "  "))

	for _, row := range t.rows {
		line := make([]string, len(row))
		for i, cell := range row {
			line[i] = pad(cell, widths[i], i == len(row)-1)
		}
		fmt.Fprintln(t.w, strings.Join(line, "  "))
	}
}

// pad right-pads s to width; the last column is never padded
func pad(s string, width int, last bool) string {
	if last || len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// KeyValues renders "key: value" lines with aligned values
type KeyValues struct {
	w       io.Writer
	keys    []string
	values  []string
	noColor bool
}

// NewKeyValues creates an empty key/value block
func NewKeyValues(w io.Writer, noColor bool) *KeyValues {
	return &KeyValues{w: w, noColor: noColor}
}

// Add appends a pair
func (kv *KeyValues) Add(key, value string) {
	kv.keys = append(kv.keys, key)
	kv.values = append(kv.values, value)
}

// Render writes the pairs
func (kv *KeyValues) Render() {
	width := 0
	for _, k := range kv.keys {
		width = max(width, len(k)+1)
	}

	cyan := paint(kv.noColor, color.FgCyan)
	for i, k := range kv.keys {
		cyan.Fprint(kv.w, pad(k+":", width, false))
		fmt.Fprintf(kv.w, " %s\n", kv.values[i])
	}
}

// Header writes a bold title underlined to its width
func Header(w io.Writer, title string, noColor bool) {
	paint(noColor, color.Bold, color.FgCyan).Fprintln(w, title)
	paint(noColor, color.FgHiBlack).Fprintln(w, strings.Repeat("─", len([]rune(title))))
}
