package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/section6nz/3scale-sync/pkg/engine"
)

// timePrecision rounds durations in text reports.
const timePrecision = 10 * time.Millisecond

// printRun writes a run report. JSON output emits the full run structure;
// text output prints one line per entity plus a summary.
func printRun(w io.Writer, run *engine.Run) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	mode := ""
	if run.DryRun {
		mode = " (dry-run)"
	}
	fmt.Fprintf(w, "Run %s%s: %s in %s\n", run.ID, mode, run.Status, run.Duration.Round(timePrecision))

	for _, doc := range run.Documents {
		status := "ok"
		if !doc.Succeeded() {
			status = "FAILED"
		}
		fmt.Fprintf(w, "\n%s [%s/%s] %s\n", doc.Source, doc.Environment, doc.Product, status)
		for _, e := range doc.Entities {
			line := fmt.Sprintf("  %-12s %-44s %s", e.Kind, e.Key, e.Outcome)
			if e.Error != nil {
				line += ": " + e.Error.Error()
			}
			fmt.Fprintln(w, line)
		}
	}

	s := run.Summary
	fmt.Fprintf(w, "\n%d entities: %d created, %d updated, %d unchanged", s.Total, s.Created, s.Updated, s.Unchanged)
	if s.Deleted > 0 {
		fmt.Fprintf(w, ", %d deleted", s.Deleted)
	}
	fmt.Fprintf(w, ", %d failed, %d skipped\n", s.Failed, s.Skipped)
	return nil
}

// printViolations writes batch validation violations, one per line.
func printViolations(w io.Writer, violations []engine.Violation) {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(violations)
		return
	}
	for _, v := range violations {
		fmt.Fprintln(w, v)
	}
}

// printPolicyResult writes governance gate violations and warnings.
func printPolicyResult(w io.Writer, result *engine.PolicyResult) {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return
	}
	for _, v := range result.Violations {
		if v.Source != "" {
			fmt.Fprintf(w, "%s: [%s] %s: %s\n", v.Severity, v.Policy, v.Source, v.Message)
			continue
		}
		fmt.Fprintf(w, "%s: [%s] %s\n", v.Severity, v.Policy, v.Message)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}
