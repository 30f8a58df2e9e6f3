package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/section6nz/3scale-sync/pkg/config"
	"github.com/section6nz/3scale-sync/pkg/engine"
	"github.com/section6nz/3scale-sync/pkg/openapi"
	"github.com/section6nz/3scale-sync/pkg/policy"
	"github.com/section6nz/3scale-sync/pkg/stores"
	"github.com/section6nz/3scale-sync/pkg/telemetry"
	"github.com/section6nz/3scale-sync/pkg/threescale"
)

func newSyncCommand(version string) *cobra.Command {
	var (
		tenant tenantFlags
		loader loaderFlags
		names  namingFlags

		openapiBasedir    string
		policiesBasedir   string
		validationBasedir string
		policyPaths       []string
		parallel          int
		maxRetries        int
		dryRun            bool
		watch             bool
		historyDB         string
		historyKeep       int
		metricsAddr       string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile configuration documents against the tenant",
		Long: `Reconcile every configuration document against the tenant Admin API.

This command:
  - Loads and validates the documents as one batch
  - Evaluates governance policies before any remote call
  - Reconciles each product in dependency order: backends, service,
    gateway and authentication, mapping rules, policy chain, plan,
    accounts and applications, promotion
  - Creates what is absent and updates what differs; never deletes
  - Runs documents in parallel, bounded by --parallel

The exit code is zero only when every entity outcome is created,
updated or unchanged.`,
		Example: `  # Sync one document
  3scale-sync sync -c petstore.yml

  # Sync a directory, planning only
  3scale-sync sync -d ./products --dry-run

  # Keep syncing on file changes, exposing metrics
  3scale-sync sync -d ./products --watch --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			tel, err := newTelemetry(version, metricsAddr)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())
			ctx = tel.WithContext(ctx)
			logger := tel.Logger.Zerolog()

			if metricsAddr != "" {
				if err := tel.StartMetricsServer(); err != nil {
					return err
				}
			}

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

			gate, err := policy.NewEngine(logger)
			if err != nil {
				return err
			}
			if len(policyPaths) > 0 {
				if err := gate.LoadPolicies(ctx, policyPaths); err != nil {
					return err
				}
			}

			var (
				store    *stores.SQLiteStore
				recorder engine.HistoryRecorder
			)
			if historyDB != "" {
				store, err = stores.NewSQLiteStore(stores.Config{Path: historyDB})
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

				// Events keep flowing after the run context ends, so the
				// subscriber uses its own context.
				tel.Events.Subscribe(func(event *engine.Event) {
					if err := store.AppendEvent(context.Background(), event); err != nil {
						logger.Warn().Err(err).Str("event", event.ID).Msg("Failed to persist event")
					}
				}, nil)
			}

			cfg := engine.DefaultReconcilerConfig()
			cfg.DryRun = dryRun
			cfg.MaxRetries = maxRetries
			reconciler := engine.NewReconciler(
				client,
				&openapi.FileReader{Basedir: openapiBasedir},
				config.NewChainFileReader(policiesBasedir, validationBasedir),
				logger,
				cfg,
			)
			dispatcher := engine.NewDispatcher(parallel, reconciler, tel.Events, recorder, logger)

			runOnce := func(ctx context.Context, trigger string) error {
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

				result, err := gate.EvaluateDocuments(ctx, docs)
				if err != nil {
					return err
				}
				telemetry.ObservePolicyResult(ctx, result)
				if !result.Allowed {
					printPolicyResult(out, result)
					return fmt.Errorf("governance policies rejected the batch")
				}

				runCtx := telemetry.WithRunContext(ctx, trigger, dryRun)
				run, err := dispatcher.Run(runCtx, batch, engine.DispatchOptions{
					DryRun: dryRun,
					User:   runUser(),
				})
				telemetry.EndRunContext(runCtx, run, err)
				if err != nil {
					return err
				}

				if store != nil && historyKeep > 0 {
					if _, err := store.PruneRuns(ctx, historyKeep); err != nil {
						logger.Warn().Err(err).Msg("Failed to prune run history")
					}
				}

				if err := printRun(out, run); err != nil {
					return err
				}
				if run.ExitCode() != 0 {
					return fmt.Errorf("sync completed with %d failed and %d skipped entities",
						run.Summary.Failed, run.Summary.Skipped)
				}
				return nil
			}

			err = runOnce(ctx, "manual")
			if !watch {
				return err
			}
			if err != nil {
				logger.Error().Err(err).Msg("Initial sync failed, watching for changes")
			}

			watcher := config.NewWatcher(logger)
			return watcher.Watch(ctx, loader.watchPaths(), func() {
				tel.Metrics.RecordWatchReload("fsnotify")
				if err := runOnce(ctx, "watch"); err != nil {
					logger.Error().Err(err).Msg("Sync on change failed")
				}
			})
		},
	}

	tenant.register(cmd)
	loader.register(cmd)
	names.register(cmd)
	cmd.Flags().StringVar(&openapiBasedir, "openapi-basedir", ".", "directory OpenAPI document paths are relative to")
	cmd.Flags().StringVar(&policiesBasedir, "policies-basedir", ".", "directory policy chain file paths are relative to")
	cmd.Flags().StringVar(&validationBasedir, "validation-basedir", "", "directory of policy configuration JSON schemas")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "governance policy file or directory (repeatable)")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "max documents reconciled concurrently")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "retries after a transient tenant failure")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without applying")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running, re-syncing when documents change")
	cmd.Flags().StringVar(&historyDB, "history-db", "", "SQLite database recording run history (disabled when empty)")
	cmd.Flags().IntVar(&historyKeep, "history-keep", 0, "prune run history to the newest N runs after each sync (0 keeps all)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for Prometheus metrics (disabled when empty)")

	return cmd
}
