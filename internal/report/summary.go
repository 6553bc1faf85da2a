package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"docbatch/internal/fileutil"
	"docbatch/internal/jobstore"
)

const maxSummaryFailures = 50

func writeSummary(path string, job *jobstore.Job, stats Stats, errs []jobstore.ErrorRecord) error {
	return fileutil.WriteAtomic(path, []byte(RenderSummary(job, stats, errs)), 0o644)
}

// RenderSummary formats the human-readable job summary.
func RenderSummary(job *jobstore.Job, stats Stats, errs []jobstore.ErrorRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s (%s)\n", job.Name, job.ID)
	if job.SourceRoot != "" {
		fmt.Fprintf(&b, "Source: %s\n", job.SourceRoot)
	}
	b.WriteString("\n")

	metrics := table.NewWriter()
	metrics.SetStyle(table.StyleRounded)
	metrics.AppendHeader(table.Row{"Metric", "Value"})
	metrics.AppendRows([]table.Row{
		{"Items", stats.Total},
		{"Succeeded", stats.Succeeded},
		{"Failed", stats.Failed},
		{"Avg characters", fmt.Sprintf("%.1f", stats.AvgCharacters)},
		{"Avg words", fmt.Sprintf("%.1f", stats.AvgWords)},
		{"Avg confidence", fmt.Sprintf("%.3f", stats.AvgConfidence)},
		{"Confidence range", fmt.Sprintf("%.3f – %.3f", stats.MinConfidence, stats.MaxConfidence)},
		{"Attribute keys", strings.Join(stats.AttributeKeys, ", ")},
		{"Near-duplicate pairs", len(stats.SimilarPairs)},
	})
	metrics.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	b.WriteString(metrics.Render())
	b.WriteString("\n")

	if len(errs) == 0 {
		return b.String()
	}
	b.WriteString("\nFailures\n")
	failures := table.NewWriter()
	failures.SetStyle(table.StyleRounded)
	failures.AppendHeader(table.Row{"Item", "Kind", "Attempts", "Reason"})
	for i, e := range errs {
		if i == maxSummaryFailures {
			failures.AppendFooter(table.Row{fmt.Sprintf("… %d more", len(errs)-maxSummaryFailures), "", "", ""})
			break
		}
		failures.AppendRow(table.Row{e.ItemID, string(e.Kind), strconv.Itoa(e.Attempts), e.Reason})
	}
	failures.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, WidthMax: 80},
	})
	b.WriteString(failures.Render())
	b.WriteString("\n")
	return b.String()
}
