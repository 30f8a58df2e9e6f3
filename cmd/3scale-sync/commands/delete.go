package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/section6nz/3scale-sync/pkg/config"
	"github.com/section6nz/3scale-sync/pkg/engine"
	"github.com/section6nz/3scale-sync/pkg/openapi"
	"github.com/section6nz/3scale-sync/pkg/stores"
	"github.com/section6nz/3scale-sync/pkg/telemetry"
	"github.com/section6nz/3scale-sync/pkg/threescale"
)

func newDeleteCommand(version string) *cobra.Command {
	var (
		tenant tenantFlags
		loader loaderFlags
		names  namingFlags

		parallel   int
		maxRetries int
		dryRun     bool
		confirm    bool
		historyDB  string
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the declared entities from the tenant",
		Long: `Remove every entity the configuration documents declare from the
tenant: applications, the application plan, the service with its usage
links, and the declared backends.

Developer accounts are never deleted; they may own applications of
other products. Entities already absent count as unchanged, so the
command is safe to re-run.

Deletion is destructive and requires --confirm unless --dry-run is set.`,
		Example: `  # Preview what would be removed
  3scale-sync delete -c petstore.yml --dry-run

  # Remove the petstore product and its declared backends
  3scale-sync delete -c petstore.yml --confirm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm && !dryRun {
				return fmt.Errorf("refusing to delete without --confirm (use --dry-run to preview)")
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			tel, err := newTelemetry(version, "")
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())
			ctx = tel.WithContext(ctx)
			logger := tel.Logger.Zerolog()

			clientCfg, err := tenant.clientConfig(logger, tel.Metrics.TenantRequestObserver())
			if err != nil {
				return err
			}
			client, err := threescale.New(clientCfg)
			if err != nil {
				return err
			}

			namer, err := names.namer()
			if err != nil {
				return err
			}

			docs, err := loader.load(ctx)
			if err != nil {
				return err
			}
			batch, err := engine.NewBatch(docs, namer)
			if err != nil {
				if violations := engine.ViolationsFrom(err); len(violations) > 0 {
					printViolations(out, violations)
				}
				return err
			}

			var recorder engine.HistoryRecorder
			if historyDB != "" {
				store, err := stores.NewSQLiteStore(stores.Config{Path: historyDB})
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
				recorder = store
			}

			cfg := engine.DefaultReconcilerConfig()
			cfg.DryRun = dryRun
			cfg.MaxRetries = maxRetries
			reconciler := engine.NewReconciler(client, &openapi.FileReader{}, config.NewChainFileReader("", ""), logger, cfg)

			dispatcher := engine.NewDispatcher(parallel,
				engine.DocumentReconcilerFunc(reconciler.TeardownDocument),
				tel.Events, recorder, logger)

			runCtx := telemetry.WithRunContext(ctx, "delete", dryRun)
			run, err := dispatcher.Run(runCtx, batch, engine.DispatchOptions{
				DryRun: dryRun,
				User:   runUser(),
			})
			telemetry.EndRunContext(runCtx, run, err)
			if err != nil {
				return err
			}

			if err := printRun(out, run); err != nil {
				return err
			}
			if run.ExitCode() != 0 {
				return fmt.Errorf("delete completed with %d failed and %d skipped entities",
					run.Summary.Failed, run.Summary.Skipped)
			}
			return nil
		},
	}

	tenant.register(cmd)
	loader.register(cmd)
	names.register(cmd)
	cmd.Flags().IntVar(&parallel, "parallel", 4, "max documents processed concurrently")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "retries after a transient tenant failure")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without deleting")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the deletion")
	cmd.Flags().StringVar(&historyDB, "history-db", "", "SQLite database recording run history (disabled when empty)")

	return cmd
}
