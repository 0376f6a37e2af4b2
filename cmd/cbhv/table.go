package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/a2cb/cbhv/pkg/box"
	"github.com/a2cb/cbhv/pkg/fleet"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render() + "\n"
}

// renderReport renders one row per box followed by the totals.
func renderReport(r *fleet.Report) string {
	rows := make([][]string, 0, len(r.Results))
	for _, res := range r.Results {
		rows = append(rows, []string{
			fmt.Sprint(res.Box.Index),
			res.Box.Host,
			string(res.Overall),
			string(res.Phase),
			cardSummary(res),
			failureSummary(res),
			res.Duration.Round(time.Millisecond).String(),
		})
	}

	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"Box", "Host", "Result", "Phase", "Cards", "Failure", "Duration"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
	fmt.Fprintf(&b, "%d ok, %d partial, %d dead", r.OK, r.Partial, r.Dead)
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, ", %d skipped %v", len(r.Skipped), r.Skipped)
	}
	fmt.Fprintf(&b, " in %s (run %s)\n", r.Elapsed.Round(time.Second), r.RunID)
	return b.String()
}

// cardSummary lists the cards that are not ok, e.g. "3/5 ok, 18 parse_error".
func cardSummary(res box.Result) string {
	if len(res.Cards) == 0 {
		return "-"
	}
	var bad []string
	for _, c := range res.Cards {
		if c.Status != box.CardOK {
			bad = append(bad, fmt.Sprintf("%d %s", c.Card, c.Status))
		}
	}
	s := fmt.Sprintf("%d/%d ok", res.CountCards(box.CardOK), len(res.Cards))
	if len(bad) > 0 {
		s += ", " + strings.Join(bad, ", ")
	}
	return s
}

func failureSummary(res box.Result) string {
	switch {
	case res.FailedStep != "":
		return fmt.Sprintf("%s: %s", res.FailedStep, res.Failure)
	case len(res.Warnings) > 0:
		return "warning: " + strings.Join(res.Warnings, "; ")
	default:
		return ""
	}
}
