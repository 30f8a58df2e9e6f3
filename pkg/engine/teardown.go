package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/section6nz/3scale-sync/pkg/config"
	"github.com/section6nz/3scale-sync/pkg/naming"
	"github.com/section6nz/3scale-sync/pkg/threescale"
)

// DocumentReconcilerFunc adapts a function to the DocumentReconciler
// interface, so teardown runs dispatch through the same worker pool as sync
// runs.
type DocumentReconcilerFunc func(ctx context.Context, batch *Batch, doc *config.Document) *DocumentResult

// ReconcileDocument implements DocumentReconciler.
func (f DocumentReconcilerFunc) ReconcileDocument(ctx context.Context, batch *Batch, doc *config.Document) *DocumentResult {
	return f(ctx, batch, doc)
}

// TeardownDocument removes the entities one document declares from the
// tenant: applications, the application plan, the product service and the
// backends the document itself declares. Entities the tenant does not know
// count as unchanged; entities absent from the document are never touched,
// so teardown is the exact inverse of the sync scope and nothing more.
//
// Backends are deleted after the service, since deleting the service drops
// the usage links that would otherwise make the backend deletion fail.
func (r *Reconciler) TeardownDocument(ctx context.Context, batch *Batch, doc *config.Document) *DocumentResult {
	res := &DocumentResult{
		Source:      doc.SourceFile,
		Environment: doc.Environment,
		StartedAt:   time.Now(),
	}

	log := r.logger.With().
		Str("source", doc.SourceFile).
		Str("environment", doc.Environment).
		Logger()
	log.Info().Int("products", len(doc.Products)).Bool("dry_run", r.dryRun).Msg("Tearing down document")

	for i := range doc.Products {
		r.teardownProduct(ctx, log, batch, doc, &doc.Products[i], res)
	}

	res.CompletedAt = time.Now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)

	counts := res.Counts()
	log.Info().
		Int("deleted", counts.Deleted).
		Int("unchanged", counts.Unchanged).
		Int("failed", counts.Failed).
		Int("skipped", counts.Skipped).
		Dur("duration", res.Duration).
		Msg("Document torn down")

	return res
}

func (r *Reconciler) teardownProduct(ctx context.Context, log zerolog.Logger, batch *Batch, doc *config.Document, product *config.Product, res *DocumentResult) {
	env := doc.Environment
	namer := batch.Namer()
	systemName := product.SystemName()

	var svc *threescale.Service
	if err := r.call(ctx, "find service", func(ctx context.Context) error {
		var err error
		svc, err = r.client.FindService(ctx, systemName)
		return err
	}); err != nil {
		cause := err.WithEntity(systemName)
		res.record(EntityResult{
			Kind:    EntityKindProduct,
			Key:     systemName,
			Outcome: OutcomeFailed,
			Error:   cause,
		})
		reason := "product lookup failed"
		r.skipApplications(res, env, namer, product, reason, cause)
		planKey := config.SystemName(namer.PlanName(env, systemName, product.Version))
		res.record(r.skipped(EntityKindApplicationPlan, planKey, reason, cause))
		for _, entry := range product.Backends {
			if entry.Declared() {
				res.record(r.skipped(EntityKindBackend, entry.ID, reason, cause))
			}
		}
		return
	}

	if svc != nil {
		r.teardownApplications(ctx, log, env, namer, product, svc, res)
		r.teardownPlan(ctx, log, env, namer, product, svc, res)
	}

	// The service itself. Dropping it also drops its usage links.
	start := time.Now()
	svcResult := EntityResult{Kind: EntityKindProduct, Key: systemName}
	switch {
	case svc == nil:
		svcResult.Outcome = OutcomeUnchanged
	case r.dryRun:
		log.Info().Str("product", systemName).Msg("Dry run: would delete service")
		svcResult.Outcome = OutcomeDeleted
		svcResult.RemoteID = svc.ID
	default:
		if err := r.call(ctx, "delete service", func(ctx context.Context) error {
			return r.client.DeleteService(ctx, svc.ID)
		}); err != nil {
			svcResult.Outcome = OutcomeFailed
			svcResult.Error = err.WithEntity(systemName)
		} else {
			log.Info().Str("product", systemName).Int64("id", svc.ID).Msg("Deleted service")
			svcResult.Outcome = OutcomeDeleted
			svcResult.RemoteID = svc.ID
		}
	}
	svcResult.Duration = time.Since(start)
	res.record(svcResult)

	// Backends declared by this document. A live run that failed to drop
	// the service skips them: their usage links still pin them.
	svcErr := svcResult.Error
	for _, entry := range product.Backends {
		if !entry.Declared() {
			continue
		}
		if svcErr != nil {
			res.record(r.skipped(EntityKindBackend, entry.ID, "service deletion failed", svcErr))
			continue
		}
		res.record(r.teardownBackend(ctx, log, env, namer, entry))
	}
}

func (r *Reconciler) teardownBackend(ctx context.Context, log zerolog.Logger, env string, namer *naming.Namer, entry config.Backend) EntityResult {
	start := time.Now()
	result := EntityResult{Kind: EntityKindBackend, Key: entry.ID}
	defer func() { result.Duration = time.Since(start) }()

	systemName := config.SystemName(namer.BackendName(env, entry.ID))

	var remote *threescale.BackendAPI
	if err := r.call(ctx, "find backend", func(ctx context.Context) error {
		var err error
		remote, err = r.client.FindBackend(ctx, systemName)
		return err
	}); err != nil {
		result.Outcome = OutcomeFailed
		result.Error = err.WithEntity(entry.ID)
		return result
	}
	if remote == nil {
		result.Outcome = OutcomeUnchanged
		return result
	}

	result.RemoteID = remote.ID
	if r.dryRun {
		log.Info().Str("backend", systemName).Msg("Dry run: would delete backend")
		result.Outcome = OutcomeDeleted
		return result
	}
	if err := r.call(ctx, "delete backend", func(ctx context.Context) error {
		return r.client.DeleteBackend(ctx, remote.ID)
	}); err != nil {
		result.Outcome = OutcomeFailed
		result.Error = err.WithEntity(entry.ID)
		return result
	}
	log.Info().Str("backend", systemName).Int64("id", remote.ID).Msg("Deleted backend")
	result.Outcome = OutcomeDeleted
	return result
}

func (r *Reconciler) teardownApplications(ctx context.Context, log zerolog.Logger, env string, namer *naming.Namer, product *config.Product, svc *threescale.Service, res *DocumentResult) {
	for _, app := range product.Applications {
		name := app.Name
		if name == "" {
			name = namer.ApplicationName(env, product.SystemName(), product.Version)
		}
		key := app.Key()
		if key == "" {
			key = name
		}

		start := time.Now()
		result := EntityResult{Kind: EntityKindApplication, Key: key}

		var account *threescale.Account
		err := r.call(ctx, "find account", func(ctx context.Context) error {
			var err error
			account, err = r.client.FindAccount(ctx, app.Account)
			return err
		})
		if err == nil && account != nil {
			var existing *threescale.Application
			err = r.call(ctx, "find application", func(ctx context.Context) error {
				var ferr error
				existing, ferr = r.client.FindApplication(ctx, account.ID, app.ClientID, name)
				return ferr
			})
			switch {
			case err != nil:
			case existing == nil:
				result.Outcome = OutcomeUnchanged
			case r.dryRun:
				log.Info().Str("application", name).Msg("Dry run: would delete application")
				result.Outcome = OutcomeDeleted
				result.RemoteID = existing.ID
			default:
				err = r.call(ctx, "delete application", func(ctx context.Context) error {
					return r.client.DeleteApplication(ctx, account.ID, existing.ID)
				})
				if err == nil {
					log.Info().Str("application", name).Int64("id", existing.ID).Msg("Deleted application")
					result.Outcome = OutcomeDeleted
					result.RemoteID = existing.ID
				}
			}
		} else if err == nil {
			// No account means no application to remove. The account
			// itself is never deleted: it may own applications of other
			// products.
			result.Outcome = OutcomeUnchanged
		}

		if err != nil {
			result.Outcome = OutcomeFailed
			result.Error = err.WithEntity(key)
		}
		result.Duration = time.Since(start)
		res.record(result)
	}
}

func (r *Reconciler) teardownPlan(ctx context.Context, log zerolog.Logger, env string, namer *naming.Namer, product *config.Product, svc *threescale.Service, res *DocumentResult) {
	planSystemName := config.SystemName(namer.PlanName(env, product.SystemName(), product.Version))

	start := time.Now()
	result := EntityResult{Kind: EntityKindApplicationPlan, Key: planSystemName}
	defer func() {
		result.Duration = time.Since(start)
		res.record(result)
	}()

	var plan *threescale.ApplicationPlan
	if err := r.call(ctx, "find application plan", func(ctx context.Context) error {
		var err error
		plan, err = r.client.FindApplicationPlan(ctx, svc.ID, planSystemName)
		return err
	}); err != nil {
		result.Outcome = OutcomeFailed
		result.Error = err.WithEntity(planSystemName)
		return
	}
	if plan == nil {
		result.Outcome = OutcomeUnchanged
		return
	}

	result.RemoteID = plan.ID
	if r.dryRun {
		log.Info().Str("plan", planSystemName).Msg("Dry run: would delete application plan")
		result.Outcome = OutcomeDeleted
		return
	}
	if err := r.call(ctx, "delete application plan", func(ctx context.Context) error {
		return r.client.DeleteApplicationPlan(ctx, svc.ID, plan.ID)
	}); err != nil {
		result.Outcome = OutcomeFailed
		result.Error = err.WithEntity(planSystemName)
		return
	}
	log.Info().Str("plan", planSystemName).Int64("id", plan.ID).Msg("Deleted application plan")
	result.Outcome = OutcomeDeleted
}
