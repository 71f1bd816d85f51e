package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"

	"shapetrace/internal/report"
	"shapetrace/internal/types"
)

var (
	passStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	blockStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// printSummary renders a short human-readable verdict after the decision
// record is written. The record itself is the machine contract; this is a
// convenience view only.
func printSummary(record *report.DecisionRecord) {
	verdict := string(record.Gate.Verdict)
	switch record.Gate.Verdict {
	case types.VerdictPass:
		verdict = passStyle.Render(verdict)
	case types.VerdictWarn:
		verdict = warnStyle.Render(verdict)
	case types.VerdictBlock:
		verdict = blockStyle.Render(verdict)
	}

	fmt.Fprintf(os.Stderr, "\nrun %s\n", dimStyle.Render(record.RunID))
	fmt.Fprintf(os.Stderr, "gate: %s   action: %s   global RSR: %.3f\n",
		verdict, record.Enforcement.OverallAction, record.Metrics.GlobalRSR)

	for _, trace := range record.Traces {
		mark := passStyle.Render("ok")
		if !trace.Survival.SurvivedToTarget {
			mark = blockStyle.Render(fmt.Sprintf("lost at %s (%s)",
				trace.Survival.FailurePoint, trace.Survival.FailureClass))
		}
		fmt.Fprintf(os.Stderr, "  %-28s rsr=%.3f  %s\n", trace.ShapeID, trace.RSR, mark)
	}

	if record.ExecutionDecision.WireBlocked || record.ExecutionDecision.PixelBlocked {
		fmt.Fprintf(os.Stderr, "%s\n", blockStyle.Render("downstream execution blocked: "+record.ExecutionDecision.Reason))
	}
	if record.Enforcement.Fork != nil {
		fmt.Fprintf(os.Stderr, "remediation track %s created (%s)\n",
			record.Enforcement.Fork.TrackID, dimStyle.Render(record.Enforcement.Fork.Reason))
	}
}
