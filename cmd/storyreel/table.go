package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ivlev/storyreel/internal/model"
)

func newTableWriter(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row(header))
	return tw
}

// renderFields renders label/value pairs under a two-column header.
func renderFields(label, value string, rows [][2]string) string {
	tw := newTableWriter(label, value)
	for _, r := range rows {
		tw.AppendRow(table.Row{r[0], r[1]})
	}
	return tw.Render()
}

// renderSkipped lists scenes left out of a composition. Empty input renders nothing.
func renderSkipped(skipped []model.SkippedScene) string {
	if len(skipped) == 0 {
		return ""
	}
	tw := newTableWriter("Scene", "Stage", "Reason")
	for _, s := range skipped {
		tw.AppendRow(table.Row{strconv.Itoa(s.Index), s.Stage, s.Reason})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft}})
	return tw.Render()
}
