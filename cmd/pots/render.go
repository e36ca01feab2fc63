package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/the-pots-must-flow/internal/cli"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))

func statusStyle(status model.ExecutionStatus) lipgloss.Style {
	switch status {
	case model.StatusSucceeded:
		return cli.SuccessStyle
	case model.StatusPartial, model.StatusSkipped, model.StatusNotFired:
		return cli.WarningStyle
	default:
		return cli.ErrorStyle
	}
}

func outcomeStyle(status model.OutcomeStatus) lipgloss.Style {
	switch status {
	case model.OutcomeSucceeded, model.OutcomePlanned:
		return cli.SuccessStyle
	case model.OutcomeErrored:
		return cli.ErrorStyle
	default:
		return cli.SubtleStyle
	}
}

// writeResult renders one execution result.
func writeResult(w io.Writer, r *model.ExecutionResult) {
	title := fmt.Sprintf("%s %s", r.RuleID, statusStyle(r.Status).Render(string(r.Status)))
	if r.DryRun {
		title += cli.SubtleStyle.Render(" (dry run)")
	}
	fmt.Fprintln(w, cli.FormatTitle(title))

	if r.TriggerReason != "" {
		fmt.Fprintf(w, "  Trigger: %s\n", r.TriggerReason)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", cli.FormatError(e))
	}
	if len(r.Outcomes) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
		headerStyle.Render("From"),
		headerStyle.Render("To"),
		headerStyle.Render("Amount"),
		headerStyle.Render("Status"),
		headerStyle.Render("Detail"))
	for _, o := range r.Outcomes {
		detail := o.Reason
		if o.Stage != "" {
			detail = strings.TrimSpace(o.Stage + " " + detail)
		}
		if o.Provenance == model.ProvenanceStale {
			detail = strings.TrimSpace(detail + " (cached balance)")
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
			o.From, o.To, o.Amount, outcomeStyle(o.Status).Render(string(o.Status)), detail)
	}
	_ = tw.Flush()

	verb := "Moved"
	if r.DryRun {
		verb = "Would move"
	}
	fmt.Fprintf(w, "  %s %s (%d succeeded, %d errored, %d skipped)\n",
		verb, cli.FormatAmount(r.TotalMoved.String(), r.TotalMoved.IsZero()), r.Succeeded, r.Errored, r.Skipped)
}

// writeRules renders rules as a table.
func writeRules(w io.Writer, rules []model.Rule) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
		headerStyle.Render("ID"),
		headerStyle.Render("Name"),
		headerStyle.Render("Type"),
		headerStyle.Render("Enabled"),
		headerStyle.Render("Last executed"))
	for _, r := range rules {
		enabled := cli.SuccessIcon
		if !r.Enabled {
			enabled = cli.SubtleStyle.Render("off")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Type, enabled, formatWhen(r.LastExecuted))
	}
}

func formatWhen(t *time.Time) string {
	if t == nil {
		return cli.SubtleStyle.Render("never")
	}
	return t.Local().Format("2006-01-02 15:04")
}
