package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/history"
	"github.com/core-tools/hsu-pilot/pkg/machine"
	"github.com/core-tools/hsu-pilot/pkg/orchestrator"
	"github.com/core-tools/hsu-pilot/pkg/pilot"
)

func printMachines(w io.Writer, infos []machine.Info) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tNODE\tSTATE\tNAME")
	for _, info := range infos {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", info.ID, info.Type, info.Node, info.State, info.Name)
	}
	tw.Flush()
}

func printSummary(w io.Writer, summary pilot.ConfigSummary) {
	fmt.Fprintf(w, "Configuration is valid: host %s, %d machines (%d enabled), max concurrency %d\n",
		summary.Host, summary.TotalMachines, summary.EnabledMachines, summary.MaxConcurrency)
	for _, m := range summary.Machines {
		line := fmt.Sprintf("  %d", m.ID)
		if m.Name != "" {
			line += " " + m.Name
		}
		if !m.Enabled {
			line += " (disabled)"
		}
		if len(m.Dependencies) > 0 {
			line += fmt.Sprintf(" after %v", m.Dependencies)
		}
		if m.HealthCheck != "" {
			line += ", check " + m.HealthCheck
		}
		fmt.Fprintln(w, line)
	}
	if len(summary.Notifiers) > 0 {
		fmt.Fprintf(w, "Notifiers: %s\n", strings.Join(summary.Notifiers, ", "))
	}
}

func printShutdown(w io.Writer, result *orchestrator.ShutdownResult) {
	names := func(specs []machine.Spec) string {
		if len(specs) == 0 {
			return "-"
		}
		parts := make([]string, 0, len(specs))
		for _, spec := range specs {
			parts = append(parts, spec.DisplayName())
		}
		return strings.Join(parts, ", ")
	}
	fmt.Fprintf(w, "Stopped: %s\n", names(result.Stopped))
	fmt.Fprintf(w, "Skipped: %s\n", names(result.Skipped))
	fmt.Fprintf(w, "Timed out: %s\n", names(result.TimedOut))
}

func printHistory(w io.Writer, runs []history.RunRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tOUTCOMES\tERROR")
	for _, run := range runs {
		counts := make(map[machine.Outcome]int)
		for _, m := range run.Machines {
			counts[m.Outcome]++
		}
		outcomes := make([]string, 0, len(machine.AllOutcomes))
		for _, outcome := range machine.AllOutcomes {
			if counts[outcome] > 0 {
				outcomes = append(outcomes, fmt.Sprintf("%s=%d", outcome, counts[outcome]))
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.StartedAt.Local().Format(time.DateTime), run.Duration.Round(time.Second),
			strings.Join(outcomes, " "), run.FatalError)
	}
	tw.Flush()
}
