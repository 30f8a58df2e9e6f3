package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/section6nz/3scale-sync/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		dbPath     string
		limit      int
		offset     int
		showEvents bool
		prune      int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Inspect recorded sync runs",
		Long: `List recorded runs from the run history database, or show one run in
detail: its documents, every entity outcome, and optionally the event
timeline.

History is recorded when sync or delete run with --history-db.`,
		Example: `  # List the last runs
  3scale-sync history --db history.db

  # Show one run's entity outcomes and events
  3scale-sync history --db history.db 6f1c... --events

  # Keep only the newest 50 runs
  3scale-sync history --db history.db --prune 50`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return err
			}
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			defer store.Close()

			if prune > 0 {
				removed, err := store.PruneRuns(ctx, prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d runs\n", removed)
				return nil
			}

			if len(args) == 1 {
				return showRun(cmd, store, args[0], showEvents, limit, offset)
			}

			runs, err := store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No recorded runs")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-9s  %-20s  %-8s  %s\n", "RUN", "STATUS", "STARTED", "ENTITIES", "SUMMARY")
			for _, r := range runs {
				summary := fmt.Sprintf("%d created, %d updated, %d unchanged", r.Created, r.Updated, r.Unchanged)
				if r.Deleted > 0 {
					summary += fmt.Sprintf(", %d deleted", r.Deleted)
				}
				if r.Failed > 0 || r.Skipped > 0 {
					summary += fmt.Sprintf(", %d failed, %d skipped", r.Failed, r.Skipped)
				}
				fmt.Fprintf(out, "%-36s  %-9s  %-20s  %-8d  %s\n",
					r.ID, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"), r.Total, summary)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "3scale-sync.db", "run history SQLite database")
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs or events to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs or events to skip")
	cmd.Flags().BoolVar(&showEvents, "events", false, "include the event timeline of a run")
	cmd.Flags().IntVar(&prune, "prune", 0, "keep only the newest N runs and exit")

	return cmd
}

func showRun(cmd *cobra.Command, store stores.Store, runID string, showEvents bool, limit, offset int) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("unknown run %q", runID)
	}

	docs, err := store.ListDocuments(ctx, runID)
	if err != nil {
		return err
	}
	outcomes, err := store.ListOutcomes(ctx, runID)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(out, map[string]interface{}{
			"run":       run,
			"documents": docs,
			"outcomes":  outcomes,
		})
	}

	mode := ""
	if run.DryRun {
		mode = " (dry-run)"
	}
	fmt.Fprintf(out, "Run %s%s: %s\n", run.ID, mode, run.Status)
	fmt.Fprintf(out, "Started:  %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Fprintf(out, "Finished: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if run.User != "" {
		fmt.Fprintf(out, "User:     %s\n", run.User)
	}

	for _, doc := range docs {
		status := "ok"
		if doc.Error != nil {
			status = "FAILED: " + *doc.Error
		}
		fmt.Fprintf(out, "\n%s [%s/%s] %s\n", doc.Source, doc.Environment, doc.Product, status)
		for _, o := range outcomes {
			if o.DocumentID != doc.ID {
				continue
			}
			line := fmt.Sprintf("  %-12s %-44s %s", o.Kind, o.Key, o.Outcome)
			if o.Error != nil {
				line += ": " + *o.Error
			}
			fmt.Fprintln(out, line)
		}
	}

	fmt.Fprintf(out, "\n%d entities: %d created, %d updated, %d unchanged", run.Total, run.Created, run.Updated, run.Unchanged)
	if run.Deleted > 0 {
		fmt.Fprintf(out, ", %d deleted", run.Deleted)
	}
	fmt.Fprintf(out, ", %d failed, %d skipped\n", run.Failed, run.Skipped)

	if !showEvents {
		return nil
	}
	events, err := store.ListEvents(ctx, runID, limit, offset)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nEvents:")
	for _, e := range events {
		fmt.Fprintf(out, "  %s  %-18s  %s\n", e.Timestamp.Format("15:04:05"), e.Type, e.Message)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
