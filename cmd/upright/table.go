package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// tableSpec describes one rendered table. Columns beyond len(aligns) are left
// aligned; a zero wrapAt disables wrapping.
type tableSpec struct {
	headers []string
	rows    [][]string
	aligns  []columnAlignment
	footer  []string
	wrapAt  map[int]int
}

func renderTable(t tableSpec) string {
	columns := len(t.headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(toRow(t.headers, columns))
	for _, row := range t.rows {
		tw.AppendRow(toRow(row, columns))
	}
	if len(t.footer) > 0 {
		tw.AppendFooter(toRow(t.footer, columns))
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		cc := table.ColumnConfig{
			Number:      i + 1,
			Align:       text.AlignLeft,
			AlignHeader: text.AlignLeft,
			AlignFooter: text.AlignLeft,
		}
		if i < len(t.aligns) && t.aligns[i] == alignRight {
			cc.Align = text.AlignRight
			cc.AlignFooter = text.AlignRight
		}
		if width := t.wrapAt[i]; width > 0 {
			cc.WidthMax = width
			cc.WidthMaxEnforcer = text.WrapSoft
		}
		configs = append(configs, cc)
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

// toRow pads or clips values to exactly columns cells.
func toRow(values []string, columns int) table.Row {
	row := make(table.Row, columns)
	for i := range row {
		if i < len(values) {
			row[i] = values[i]
		} else {
			row[i] = ""
		}
	}
	return row
}
