package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/section6nz/3scale-sync/pkg/engine"
	"github.com/section6nz/3scale-sync/pkg/policy"
	"github.com/section6nz/3scale-sync/pkg/telemetry"
)

func newValidateCommand(version string) *cobra.Command {
	var (
		loader      loaderFlags
		names       namingFlags
		policyPaths []string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration documents without touching the tenant",
		Long: `Load configuration documents and run every check that precedes a sync:
schema validation, batch-wide uniqueness, and governance policies.

No remote call is made. The exit code is non-zero when any violation is
found, so the command fits CI pipelines as a pre-merge gate.`,
		Example: `  # Validate a directory of documents
  3scale-sync validate -d ./products

  # Validate with custom governance policies
  3scale-sync validate -d ./products --policy ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			tel, err := newTelemetry(version, "")
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())
			ctx = tel.WithContext(ctx)
			logger := tel.Logger.Zerolog()

			docs, err := loader.load(ctx)
			if err != nil {
				return err
			}

			namer, err := names.namer()
			if err != nil {
				return err
			}

			violations := engine.ValidateBatch(docs, namer)
			if len(violations) > 0 {
				printViolations(out, violations)
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
			result, err := gate.EvaluateDocuments(ctx, docs)
			if err != nil {
				return err
			}
			telemetry.ObservePolicyResult(ctx, result)
			if len(result.Violations) > 0 || len(result.Warnings) > 0 {
				printPolicyResult(out, result)
			}

			if len(violations) > 0 || !result.Allowed {
				return fmt.Errorf("validation failed: %d batch violations, %d policy violations",
					len(violations), len(result.Violations))
			}

			if !jsonOutput {
				fmt.Fprintf(out, "%d documents valid\n", len(docs))
			}
			return nil
		},
	}

	loader.register(cmd)
	names.register(cmd)
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "governance policy file or directory (repeatable)")

	return cmd
}
