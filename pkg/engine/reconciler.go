package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/section6nz/3scale-sync/pkg/config"
	"github.com/section6nz/3scale-sync/pkg/naming"
	"github.com/section6nz/3scale-sync/pkg/threescale"
)

const (
	// deploymentSelfManaged is the deployment option set on created services.
	deploymentSelfManaged = "self_managed"

	// defaultIssuerType is assumed when an OIDC product omits issuerType.
	defaultIssuerType = "keycloak"

	environmentSandbox    = "sandbox"
	environmentProduction = "production"
)

// ReconcilerConfig tunes reconciliation behavior.
type ReconcilerConfig struct {
	// DryRun reports what would change without issuing any mutating call.
	DryRun bool

	// MaxRetries is the number of additional attempts after a transient
	// remote failure. Zero disables retries.
	MaxRetries int

	// RetryBaseDelay is the backoff delay of the first retry.
	RetryBaseDelay time.Duration

	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration
}

// DefaultReconcilerConfig returns the default reconciliation configuration.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		MaxRetries:     3,
		RetryBaseDelay: 1 * time.Second,
		MaxRetryDelay:  1 * time.Minute,
	}
}

// Reconciler drives the entities of one configuration document to their
// declared state, creating what is absent and updating what differs. It
// never deletes remote entities: anything present on the tenant but absent
// from the document is left alone.
//
// Entities are reconciled in dependency order: backends first, then the
// product with its usage links, gateway and authentication settings,
// mapping rules, policy chain, application plan, accounts and applications,
// and finally promotion of the sandbox configuration to production. A
// failed step marks every step that structurally depends on it as skipped;
// independent steps keep going.
type Reconciler struct {
	client   TenantClient
	specs    OpenAPIReader
	chains   PolicyChainReader
	logger   zerolog.Logger
	dryRun   bool
	retries  int
	baseWait time.Duration
	maxWait  time.Duration
}

// NewReconciler creates a reconciler on top of a tenant client. The specs
// reader supplies OpenAPI operations and the chains reader supplies policy
// chain declarations; both are consulted per product.
func NewReconciler(client TenantClient, specs OpenAPIReader, chains PolicyChainReader, logger zerolog.Logger, cfg ReconcilerConfig) *Reconciler {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 1 * time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 1 * time.Minute
	}

	return &Reconciler{
		client:   client,
		specs:    specs,
		chains:   chains,
		logger:   logger.With().Str("component", "reconciler").Logger(),
		dryRun:   cfg.DryRun,
		retries:  cfg.MaxRetries,
		baseWait: cfg.RetryBaseDelay,
		maxWait:  cfg.MaxRetryDelay,
	}
}

// ReconcileDocument reconciles every product of one document against the
// tenant and returns the per-entity outcomes in reconciliation order.
// Products within a document are independent: a failure in one does not
// stop the next.
func (r *Reconciler) ReconcileDocument(ctx context.Context, batch *Batch, doc *config.Document) *DocumentResult {
	res := &DocumentResult{
		Source:      doc.SourceFile,
		Environment: doc.Environment,
		StartedAt:   time.Now(),
	}

	names := make([]string, len(doc.Products))
	for i := range doc.Products {
		names[i] = doc.Products[i].SystemName()
	}
	res.Product = strings.Join(names, ",")

	log := r.logger.With().
		Str("source", doc.SourceFile).
		Str("environment", doc.Environment).
		Logger()
	log.Info().Int("products", len(doc.Products)).Bool("dry_run", r.dryRun).Msg("Reconciling document")

	for i := range doc.Products {
		r.reconcileProduct(ctx, batch, doc, &doc.Products[i], res)
	}

	res.CompletedAt = time.Now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)

	counts := res.Counts()
	log.Info().
		Int("created", counts.Created).
		Int("updated", counts.Updated).
		Int("unchanged", counts.Unchanged).
		Int("failed", counts.Failed).
		Int("skipped", counts.Skipped).
		Dur("duration", res.Duration).
		Msg("Document reconciled")

	return res
}

// backendState tracks one backend entry across the two phases of its
// reconciliation: the backend API itself before the product exists, and
// the usage link after.
type backendState struct {
	entry   config.Backend
	outcome Outcome
	link    Outcome
	remote  *threescale.BackendAPI
	err     *SyncError
	took    time.Duration
}

func (r *Reconciler) reconcileProduct(ctx context.Context, batch *Batch, doc *config.Document, product *config.Product, res *DocumentResult) {
	env := doc.Environment
	namer := batch.Namer()
	systemName := product.SystemName()

	log := r.logger.With().
		Str("environment", env).
		Str("product", systemName).
		Logger()

	// Phase 1: backend APIs. Usage links wait for the product.
	backends := make([]backendState, len(product.Backends))
	for i, entry := range product.Backends {
		backends[i] = r.reconcileBackendAPI(ctx, log, env, namer, product, batch.ResolveBackend(entry))
	}

	// Phase 2: the product service.
	start := time.Now()
	svc, svcOutcome, svcErr := r.reconcileService(ctx, log, product)
	productResult := EntityResult{
		Kind:     EntityKindProduct,
		Key:      systemName,
		Outcome:  svcOutcome,
		Error:    svcErr,
		Duration: time.Since(start),
	}
	if svc != nil {
		productResult.RemoteID = svc.ID
	}

	// Phase 3: usage links, now that the service side of the link exists.
	if svcErr == nil {
		r.linkBackends(ctx, log, svc, backends)
	}

	for _, b := range backends {
		result := EntityResult{
			Kind:     EntityKindBackend,
			Key:      b.entry.ID,
			Outcome:  b.combined(),
			Error:    b.err,
			Duration: b.took,
		}
		if b.remote != nil {
			result.RemoteID = b.remote.ID
		}
		res.record(result)
	}
	res.record(productResult)

	if svcErr != nil {
		reason := "product reconciliation failed"
		res.record(r.skipped(EntityKindProxy, systemName, reason, svcErr))
		res.record(r.skipped(EntityKindMappingRule, systemName, reason, svcErr))
		if product.PoliciesPath != "" {
			res.record(r.skipped(EntityKindPolicyChain, systemName, reason, svcErr))
		}
		r.skipConsumers(res, env, namer, product, reason, svcErr)
		res.record(r.skipped(EntityKindPromotion, systemName, reason, svcErr))
		return
	}

	// Phase 4: gateway configuration and authentication.
	start = time.Now()
	proxyOutcome, proxyErr := r.reconcileProxy(ctx, log, product, svc)
	res.record(EntityResult{
		Kind:     EntityKindProxy,
		Key:      systemName,
		Outcome:  proxyOutcome,
		Error:    proxyErr,
		Duration: time.Since(start),
	})

	// Phase 5: mapping rules.
	start = time.Now()
	mappingOutcome, mappingErr := r.reconcileMappings(ctx, log, product, svc)
	res.record(EntityResult{
		Kind:     EntityKindMappingRule,
		Key:      systemName,
		Outcome:  mappingOutcome,
		Error:    mappingErr,
		Duration: time.Since(start),
	})

	// Phase 6: policy chain. Products without a chain file keep the
	// tenant default and contribute no result.
	var chainOutcome Outcome
	var chainErr *SyncError
	if product.PoliciesPath != "" {
		start = time.Now()
		chainOutcome, chainErr = r.reconcileChain(ctx, log, product, svc)
		res.record(EntityResult{
			Kind:     EntityKindPolicyChain,
			Key:      systemName,
			Outcome:  chainOutcome,
			Error:    chainErr,
			Duration: time.Since(start),
		})
	}

	// Phase 7: plan, accounts, applications.
	start = time.Now()
	plan, planOutcome, planErr := r.reconcilePlan(ctx, log, env, namer, product, svc)
	planResult := EntityResult{
		Kind:     EntityKindApplicationPlan,
		Key:      config.SystemName(namer.PlanName(env, systemName, product.Version)),
		Outcome:  planOutcome,
		Error:    planErr,
		Duration: time.Since(start),
	}
	if plan != nil {
		planResult.RemoteID = plan.ID
	}
	res.record(planResult)

	if planErr != nil {
		r.skipApplications(res, env, namer, product, "application plan reconciliation failed", planErr)
	} else {
		r.reconcileConsumers(ctx, log, res, env, namer, product, svc, plan)
	}

	// Phase 8: promotion. It publishes the output of the gateway steps, so
	// any failure among them leaves the sandbox configuration unfit to
	// promote.
	if gateErr := firstError(proxyErr, mappingErr, chainErr); gateErr != nil {
		res.record(r.skipped(EntityKindPromotion, systemName, "gateway configuration failed", gateErr))
		return
	}
	// Backend and usage changes are part of the gateway configuration
	// snapshot too.
	gatewayChanged := svcOutcome == OutcomeCreated ||
		proxyOutcome.Mutated() || mappingOutcome.Mutated() || chainOutcome.Mutated()
	for _, b := range backends {
		if b.err == nil && b.combined().Mutated() {
			gatewayChanged = true
		}
	}
	start = time.Now()
	promoteOutcome, promoteErr := r.reconcilePromotion(ctx, log, svc, gatewayChanged)
	res.record(EntityResult{
		Kind:     EntityKindPromotion,
		Key:      systemName,
		Outcome:  promoteOutcome,
		Error:    promoteErr,
		Duration: time.Since(start),
	})
}

// combined folds the usage link outcome into the backend API outcome.
func (b *backendState) combined() Outcome {
	switch {
	case b.err != nil:
		return b.outcome
	case b.outcome == OutcomeCreated:
		return OutcomeCreated
	case b.outcome == OutcomeUpdated || b.link == OutcomeCreated || b.link == OutcomeUpdated:
		return OutcomeUpdated
	default:
		return OutcomeUnchanged
	}
}

func (r *Reconciler) reconcileBackendAPI(ctx context.Context, log zerolog.Logger, env string, namer *naming.Namer, product *config.Product, entry config.Backend) backendState {
	state := backendState{entry: entry}
	start := time.Now()
	defer func() { state.took = time.Since(start) }()

	name := namer.BackendName(env, entry.ID)
	systemName := config.SystemName(name)

	var remote *threescale.BackendAPI
	if err := r.call(ctx, "find backend", func(ctx context.Context) error {
		var err error
		remote, err = r.client.FindBackend(ctx, systemName)
		return err
	}); err != nil {
		state.outcome = OutcomeFailed
		state.err = err.WithEntity(entry.ID)
		return state
	}

	if remote == nil {
		state.outcome = OutcomeCreated
		if r.dryRun {
			log.Info().Str("backend", systemName).Msg("Dry run: would create backend")
			return state
		}
		upsert := threescale.BackendUpsert{
			Name:            name,
			SystemName:      systemName,
			Description:     product.Description,
			PrivateEndpoint: entry.PrivateBaseURL,
		}
		err := r.call(ctx, "create backend", func(ctx context.Context) error {
			var err error
			remote, err = r.client.CreateBackend(ctx, upsert)
			return err
		})
		// Documents reconciled in parallel may race to create a backend
		// they share; the loser re-reads the winner's entity.
		if err != nil && (threescale.IsStatus(err.Err, http.StatusConflict) || threescale.IsStatus(err.Err, http.StatusUnprocessableEntity)) {
			if ferr := r.call(ctx, "find backend", func(ctx context.Context) error {
				var ferr error
				remote, ferr = r.client.FindBackend(ctx, systemName)
				return ferr
			}); ferr == nil && remote != nil {
				err = nil
				state.outcome = OutcomeUnchanged
			}
		}
		if err != nil {
			state.outcome = OutcomeFailed
			state.err = err.WithEntity(entry.ID)
			return state
		}
		state.remote = remote
		if state.outcome == OutcomeCreated {
			log.Info().Str("backend", systemName).Int64("id", remote.ID).Msg("Created backend")
		}
		return state
	}

	state.remote = remote
	if remote.PrivateEndpoint != entry.PrivateBaseURL {
		state.outcome = OutcomeUpdated
		if r.dryRun {
			log.Info().Str("backend", systemName).Msg("Dry run: would update backend private endpoint")
			return state
		}
		upsert := threescale.BackendUpsert{PrivateEndpoint: entry.PrivateBaseURL}
		if err := r.call(ctx, "update backend", func(ctx context.Context) error {
			var err error
			remote, err = r.client.UpdateBackend(ctx, state.remote.ID, upsert)
			return err
		}); err != nil {
			state.outcome = OutcomeFailed
			state.err = err.WithEntity(entry.ID)
			return state
		}
		state.remote = remote
		log.Info().Str("backend", systemName).Msg("Updated backend private endpoint")
		return state
	}

	state.outcome = OutcomeUnchanged
	return state
}

// linkBackends ensures each healthy backend is mounted into the service
// under its declared path.
func (r *Reconciler) linkBackends(ctx context.Context, log zerolog.Logger, svc *threescale.Service, backends []backendState) {
	pending := false
	for i := range backends {
		if backends[i].err == nil {
			pending = true
		}
	}
	if !pending {
		return
	}

	// The service does not exist yet in a dry run that would create it;
	// every link would be created along with it.
	if svc == nil {
		for i := range backends {
			if backends[i].err == nil {
				backends[i].link = OutcomeCreated
			}
		}
		return
	}

	var usages []threescale.BackendUsage
	if err := r.call(ctx, "list backend usages", func(ctx context.Context) error {
		var err error
		usages, err = r.client.ListBackendUsages(ctx, svc.ID)
		return err
	}); err != nil {
		for i := range backends {
			if backends[i].err == nil {
				backends[i].outcome = OutcomeFailed
				backends[i].err = err.WithEntity(backends[i].entry.ID)
			}
		}
		return
	}

	for i := range backends {
		b := &backends[i]
		if b.err != nil {
			continue
		}
		start := time.Now()
		b.link, b.err = r.linkBackend(ctx, log, svc, b, usages)
		b.took += time.Since(start)
		if b.err != nil {
			b.outcome = OutcomeFailed
		}
	}
}

func (r *Reconciler) linkBackend(ctx context.Context, log zerolog.Logger, svc *threescale.Service, b *backendState, usages []threescale.BackendUsage) (Outcome, *SyncError) {
	// A backend created in a dry run has no remote identity to look up.
	if b.remote == nil {
		return OutcomeCreated, nil
	}

	var existing *threescale.BackendUsage
	for i := range usages {
		if usages[i].BackendID == b.remote.ID {
			existing = &usages[i]
			break
		}
	}

	if existing == nil {
		if r.dryRun {
			log.Info().Str("backend", b.entry.ID).Str("path", b.entry.Path).Msg("Dry run: would mount backend")
			return OutcomeCreated, nil
		}
		if err := r.call(ctx, "create backend usage", func(ctx context.Context) error {
			_, err := r.client.CreateBackendUsage(ctx, svc.ID, b.remote.ID, b.entry.Path)
			return err
		}); err != nil {
			return OutcomeFailed, err.WithEntity(b.entry.ID)
		}
		log.Info().Str("backend", b.entry.ID).Str("path", b.entry.Path).Msg("Mounted backend")
		return OutcomeCreated, nil
	}

	if existing.Path == b.entry.Path {
		return OutcomeUnchanged, nil
	}
	if r.dryRun {
		log.Info().Str("backend", b.entry.ID).Str("path", b.entry.Path).Msg("Dry run: would move backend mount")
		return OutcomeUpdated, nil
	}
	if err := r.call(ctx, "update backend usage", func(ctx context.Context) error {
		_, err := r.client.UpdateBackendUsage(ctx, svc.ID, existing.ID, b.entry.Path)
		return err
	}); err != nil {
		return OutcomeFailed, err.WithEntity(b.entry.ID)
	}
	log.Info().Str("backend", b.entry.ID).Str("path", b.entry.Path).Msg("Moved backend mount")
	return OutcomeUpdated, nil
}

func (r *Reconciler) reconcileService(ctx context.Context, log zerolog.Logger, product *config.Product) (*threescale.Service, Outcome, *SyncError) {
	systemName := product.SystemName()

	backendVersion, err := product.API.Authentication.AuthType.BackendVersion()
	if err != nil {
		return nil, OutcomeFailed, NewPermanentError("resolving authentication mode", err).WithEntity(systemName)
	}

	var svc *threescale.Service
	if cerr := r.call(ctx, "find service", func(ctx context.Context) error {
		var err error
		svc, err = r.client.FindService(ctx, systemName)
		return err
	}); cerr != nil {
		return nil, OutcomeFailed, cerr.WithEntity(systemName)
	}

	if svc == nil {
		if r.dryRun {
			log.Info().Msg("Dry run: would create product")
			return nil, OutcomeCreated, nil
		}
		upsert := threescale.ServiceUpsert{
			Name:             product.Name,
			SystemName:       systemName,
			Description:      product.Description,
			DeploymentOption: deploymentSelfManaged,
			BackendVersion:   backendVersion,
		}
		if cerr := r.call(ctx, "create service", func(ctx context.Context) error {
			var err error
			svc, err = r.client.CreateService(ctx, upsert)
			return err
		}); cerr != nil {
			return nil, OutcomeFailed, cerr.WithEntity(systemName)
		}
		log.Info().Int64("id", svc.ID).Msg("Created product")
		return svc, OutcomeCreated, nil
	}

	var upsert threescale.ServiceUpsert
	changed := false
	if svc.Name != product.Name {
		upsert.Name = product.Name
		changed = true
	}
	if product.Description != "" && svc.Description != product.Description {
		upsert.Description = product.Description
		changed = true
	}
	if svc.BackendVersion != backendVersion {
		upsert.BackendVersion = backendVersion
		changed = true
	}

	if !changed {
		return svc, OutcomeUnchanged, nil
	}
	if r.dryRun {
		log.Info().Msg("Dry run: would update product")
		return svc, OutcomeUpdated, nil
	}
	if cerr := r.call(ctx, "update service", func(ctx context.Context) error {
		var err error
		svc, err = r.client.UpdateService(ctx, svc.ID, upsert)
		return err
	}); cerr != nil {
		return svc, OutcomeFailed, cerr.WithEntity(systemName)
	}
	log.Info().Msg("Updated product")
	return svc, OutcomeUpdated, nil
}

func (r *Reconciler) reconcileProxy(ctx context.Context, log zerolog.Logger, product *config.Product, svc *threescale.Service) (Outcome, *SyncError) {
	systemName := product.SystemName()
	auth := product.API.Authentication

	// The service does not exist yet in a dry run that would create it.
	if svc == nil {
		log.Info().Msg("Dry run: would configure gateway")
		return OutcomeCreated, nil
	}

	var proxy *threescale.Proxy
	if err := r.call(ctx, "fetch proxy", func(ctx context.Context) error {
		var err error
		proxy, err = r.client.FetchProxy(ctx, svc.ID)
		return err
	}); err != nil {
		return OutcomeFailed, err.WithEntity(systemName)
	}

	var update threescale.ProxyUpdate
	changed := false
	if product.StagingPublicURL != "" && proxy.SandboxEndpoint != product.StagingPublicURL {
		update.SandboxEndpoint = product.StagingPublicURL
		changed = true
	}
	if product.ProductionPublicURL != "" && proxy.Endpoint != product.ProductionPublicURL {
		update.Endpoint = product.ProductionPublicURL
		changed = true
	}
	if auth.CredentialsLocation != "" && proxy.CredentialsLocation != auth.CredentialsLocation {
		update.CredentialsLocation = auth.CredentialsLocation
		changed = true
	}
	if auth.AuthType == config.AuthTypeOIDC {
		if proxy.OIDCIssuerEndpoint != auth.IssuerURL {
			update.OIDCIssuerEndpoint = auth.IssuerURL
			changed = true
		}
		issuerType := auth.IssuerType
		if issuerType == "" {
			issuerType = defaultIssuerType
		}
		if proxy.OIDCIssuerType != issuerType {
			update.OIDCIssuerType = issuerType
			changed = true
		}
	}

	outcome := OutcomeUnchanged
	if changed {
		outcome = OutcomeUpdated
		if r.dryRun {
			log.Info().Msg("Dry run: would update gateway configuration")
		} else {
			if err := r.call(ctx, "update proxy", func(ctx context.Context) error {
				_, err := r.client.UpdateProxy(ctx, svc.ID, update)
				return err
			}); err != nil {
				return OutcomeFailed, err.WithEntity(systemName)
			}
			log.Info().Msg("Updated gateway configuration")
		}
	}

	if auth.AuthType == config.AuthTypeOIDC && auth.OIDCFlows != nil {
		flowOutcome, err := r.reconcileOIDCFlows(ctx, log, svc, auth.OIDCFlows)
		if err != nil {
			return OutcomeFailed, err.WithEntity(systemName)
		}
		if flowOutcome == OutcomeUpdated {
			outcome = OutcomeUpdated
		}
	}
	return outcome, nil
}

func (r *Reconciler) reconcileOIDCFlows(ctx context.Context, log zerolog.Logger, svc *threescale.Service, flows *config.OIDCFlows) (Outcome, *SyncError) {
	var current *threescale.OIDCConfiguration
	if err := r.call(ctx, "fetch oidc configuration", func(ctx context.Context) error {
		var err error
		current, err = r.client.FetchOIDCConfiguration(ctx, svc.ID)
		return err
	}); err != nil {
		return OutcomeFailed, err
	}

	desired := threescale.OIDCConfiguration{
		StandardFlowEnabled:       flows.StandardFlow,
		ImplicitFlowEnabled:       flows.ImplicitFlow,
		ServiceAccountsEnabled:    flows.ServiceAccounts,
		DirectAccessGrantsEnabled: flows.DirectAccessGrants,
	}
	if current.StandardFlowEnabled == desired.StandardFlowEnabled &&
		current.ImplicitFlowEnabled == desired.ImplicitFlowEnabled &&
		current.ServiceAccountsEnabled == desired.ServiceAccountsEnabled &&
		current.DirectAccessGrantsEnabled == desired.DirectAccessGrantsEnabled {
		return OutcomeUnchanged, nil
	}

	if r.dryRun {
		log.Info().Msg("Dry run: would update OIDC flows")
		return OutcomeUpdated, nil
	}
	if err := r.call(ctx, "update oidc configuration", func(ctx context.Context) error {
		_, err := r.client.UpdateOIDCConfiguration(ctx, svc.ID, desired)
		return err
	}); err != nil {
		return OutcomeFailed, err
	}
	log.Info().Msg("Updated OIDC flows")
	return OutcomeUpdated, nil
}

func (r *Reconciler) reconcileMappings(ctx context.Context, log zerolog.Logger, product *config.Product, svc *threescale.Service) (Outcome, *SyncError) {
	systemName := product.SystemName()

	ops, err := r.specs.Operations(product)
	if err != nil {
		return OutcomeFailed, NewPermanentError("loading OpenAPI operations", err).WithEntity(systemName)
	}
	desired := MergeMappings(product.API.PublicBasePath, ops, product.Mappings)
	if len(desired) == 0 {
		return OutcomeUnchanged, nil
	}

	// The service does not exist yet in a dry run that would create it.
	if svc == nil {
		log.Info().Int("rules", len(desired)).Msg("Dry run: would create mapping rules")
		return OutcomeCreated, nil
	}

	var existing []threescale.MappingRule
	if cerr := r.call(ctx, "list mapping rules", func(ctx context.Context) error {
		var err error
		existing, err = r.client.ListMappingRules(ctx, svc.ID)
		return err
	}); cerr != nil {
		return OutcomeFailed, cerr.WithEntity(systemName)
	}

	metricIDs := make(map[string]int64)
	var firstErr *SyncError
	created := 0
	for _, rule := range desired {
		if hasMappingRule(existing, rule.Method, rule.Pattern) {
			continue
		}

		metricID, merr := r.resolveMetric(ctx, svc.ID, rule.Metric, metricIDs)
		if merr != nil {
			if firstErr == nil {
				firstErr = merr.WithEntity(systemName)
			}
			continue
		}

		if r.dryRun {
			log.Info().Str("method", rule.Method).Str("pattern", rule.Pattern).Msg("Dry run: would create mapping rule")
			created++
			continue
		}
		if cerr := r.call(ctx, "create mapping rule", func(ctx context.Context) error {
			_, err := r.client.CreateMappingRule(ctx, svc.ID, threescale.MappingRule{
				MetricID:   metricID,
				Pattern:    rule.Pattern,
				HTTPMethod: rule.Method,
				Delta:      rule.Delta,
			})
			return err
		}); cerr != nil {
			if firstErr == nil {
				firstErr = cerr.WithEntity(systemName)
			}
			continue
		}
		log.Info().Str("method", rule.Method).Str("pattern", rule.Pattern).Msg("Created mapping rule")
		created++
	}

	switch {
	case firstErr != nil:
		return OutcomeFailed, firstErr
	case created == len(desired) && len(existing) == 0:
		return OutcomeCreated, nil
	case created > 0:
		return OutcomeUpdated, nil
	default:
		return OutcomeUnchanged, nil
	}
}

// resolveMetric returns the remote id of a metric, caching lookups across
// the rules of one product.
func (r *Reconciler) resolveMetric(ctx context.Context, serviceID int64, systemName string, cache map[string]int64) (int64, *SyncError) {
	if id, ok := cache[systemName]; ok {
		return id, nil
	}
	var metric *threescale.Metric
	if err := r.call(ctx, "find metric", func(ctx context.Context) error {
		var err error
		metric, err = r.client.FindMetric(ctx, serviceID, systemName)
		return err
	}); err != nil {
		return 0, err
	}
	if metric == nil {
		return 0, NewPermanentError(fmt.Sprintf("metric %q not found", systemName), nil)
	}
	cache[systemName] = metric.ID
	return metric.ID, nil
}

func hasMappingRule(rules []threescale.MappingRule, method, pattern string) bool {
	for _, rule := range rules {
		if rule.HTTPMethod == method && rule.Pattern == pattern {
			return true
		}
	}
	return false
}

func (r *Reconciler) reconcileChain(ctx context.Context, log zerolog.Logger, product *config.Product, svc *threescale.Service) (Outcome, *SyncError) {
	systemName := product.SystemName()

	declared, err := r.chains.Chain(product)
	if err != nil {
		return OutcomeFailed, NewPermanentError("loading policy chain", err).WithEntity(systemName)
	}
	desired := BuildPolicyChain(declared)

	wire := make([]threescale.PolicyEntry, len(desired))
	for i, entry := range desired {
		// The tenant serves omitted configurations as {}, so a nil map
		// would read as a difference on every run.
		configuration := entry.Configuration
		if configuration == nil {
			configuration = map[string]interface{}{}
		}
		wire[i] = threescale.PolicyEntry{
			Name:          entry.Name,
			Version:       entry.Version,
			Configuration: configuration,
			Enabled:       entry.Enabled,
		}
	}

	// The service does not exist yet in a dry run that would create it.
	if svc == nil {
		log.Info().Int("policies", len(wire)).Msg("Dry run: would set policy chain")
		return OutcomeCreated, nil
	}

	var current []threescale.PolicyEntry
	if cerr := r.call(ctx, "fetch policy chain", func(ctx context.Context) error {
		var err error
		current, err = r.client.FetchPolicyChain(ctx, svc.ID)
		return err
	}); cerr != nil {
		return OutcomeFailed, cerr.WithEntity(systemName)
	}

	if jsonEqual(current, wire) {
		return OutcomeUnchanged, nil
	}
	if r.dryRun {
		log.Info().Int("policies", len(wire)).Msg("Dry run: would update policy chain")
		return OutcomeUpdated, nil
	}
	if cerr := r.call(ctx, "update policy chain", func(ctx context.Context) error {
		return r.client.UpdatePolicyChain(ctx, svc.ID, wire)
	}); cerr != nil {
		return OutcomeFailed, cerr.WithEntity(systemName)
	}
	log.Info().Int("policies", len(wire)).Msg("Updated policy chain")
	return OutcomeUpdated, nil
}

func (r *Reconciler) reconcilePlan(ctx context.Context, log zerolog.Logger, env string, namer *naming.Namer, product *config.Product, svc *threescale.Service) (*threescale.ApplicationPlan, Outcome, *SyncError) {
	name := namer.PlanName(env, product.SystemName(), product.Version)
	systemName := config.SystemName(name)

	// The service does not exist yet in a dry run that would create it.
	if svc == nil {
		log.Info().Str("plan", systemName).Msg("Dry run: would create application plan")
		return nil, OutcomeCreated, nil
	}

	var plan *threescale.ApplicationPlan
	if err := r.call(ctx, "find application plan", func(ctx context.Context) error {
		var err error
		plan, err = r.client.FindApplicationPlan(ctx, svc.ID, systemName)
		return err
	}); err != nil {
		return nil, OutcomeFailed, err.WithEntity(systemName)
	}
	if plan != nil {
		return plan, OutcomeUnchanged, nil
	}

	if r.dryRun {
		log.Info().Str("plan", systemName).Msg("Dry run: would create application plan")
		return nil, OutcomeCreated, nil
	}
	if err := r.call(ctx, "create application plan", func(ctx context.Context) error {
		var err error
		plan, err = r.client.CreateApplicationPlan(ctx, svc.ID, name, systemName)
		return err
	}); err != nil {
		return nil, OutcomeFailed, err.WithEntity(systemName)
	}
	log.Info().Str("plan", systemName).Int64("id", plan.ID).Msg("Created application plan")
	return plan, OutcomeCreated, nil
}

// reconcileConsumers reconciles the accounts referenced by the product's
// applications, then the applications themselves. Accounts are deduplicated
// in first-use order; an account failure skips only the applications under
// it.
func (r *Reconciler) reconcileConsumers(ctx context.Context, log zerolog.Logger, res *DocumentResult, env string, namer *naming.Namer, product *config.Product, svc *threescale.Service, plan *threescale.ApplicationPlan) {
	type accountState struct {
		remote *threescale.Account
		err    *SyncError
	}
	accounts := make(map[string]*accountState)
	var order []string
	for _, app := range product.Applications {
		if _, ok := accounts[app.Account]; !ok {
			accounts[app.Account] = &accountState{}
			order = append(order, app.Account)
		}
	}

	for _, name := range order {
		state := accounts[name]
		start := time.Now()
		var outcome Outcome
		state.remote, outcome, state.err = r.reconcileAccount(ctx, log, name)
		result := EntityResult{
			Kind:     EntityKindAccount,
			Key:      name,
			Outcome:  outcome,
			Error:    state.err,
			Duration: time.Since(start),
		}
		if state.remote != nil {
			result.RemoteID = state.remote.ID
		}
		res.record(result)
	}

	for _, app := range product.Applications {
		key := app.Key()
		if key == "" {
			key = namer.ApplicationName(env, product.SystemName(), product.Version)
		}
		state := accounts[app.Account]
		if state.err != nil {
			res.record(r.skipped(EntityKindApplication, key, "account reconciliation failed", state.err))
			continue
		}
		start := time.Now()
		outcome, remoteID, err := r.reconcileApplication(ctx, log, env, namer, product, plan, state.remote, app)
		res.record(EntityResult{
			Kind:     EntityKindApplication,
			Key:      key,
			Outcome:  outcome,
			RemoteID: remoteID,
			Error:    err,
			Duration: time.Since(start),
		})
	}
}

func (r *Reconciler) reconcileAccount(ctx context.Context, log zerolog.Logger, name string) (*threescale.Account, Outcome, *SyncError) {
	var account *threescale.Account
	if err := r.call(ctx, "find account", func(ctx context.Context) error {
		var err error
		account, err = r.client.FindAccount(ctx, name)
		return err
	}); err != nil {
		return nil, OutcomeFailed, err.WithEntity(name)
	}
	if account != nil {
		return account, OutcomeUnchanged, nil
	}

	if r.dryRun {
		log.Info().Str("account", name).Msg("Dry run: would create account")
		return nil, OutcomeCreated, nil
	}
	if err := r.call(ctx, "create account", func(ctx context.Context) error {
		var err error
		account, err = r.client.CreateAccount(ctx, name)
		return err
	}); err != nil {
		return nil, OutcomeFailed, err.WithEntity(name)
	}
	log.Info().Str("account", name).Int64("id", account.ID).Msg("Created account")
	return account, OutcomeCreated, nil
}

func (r *Reconciler) reconcileApplication(ctx context.Context, log zerolog.Logger, env string, namer *naming.Namer, product *config.Product, plan *threescale.ApplicationPlan, account *threescale.Account, app config.Application) (Outcome, int64, *SyncError) {
	name := app.Name
	if name == "" {
		name = namer.ApplicationName(env, product.SystemName(), product.Version)
	}
	description := app.Description
	if description == "" {
		description = product.Description
	}

	// The account does not exist yet in a dry run that would create it.
	if account == nil {
		log.Info().Str("application", name).Msg("Dry run: would create application")
		return OutcomeCreated, 0, nil
	}

	var existing *threescale.Application
	if err := r.call(ctx, "find application", func(ctx context.Context) error {
		var err error
		existing, err = r.client.FindApplication(ctx, account.ID, app.ClientID, name)
		return err
	}); err != nil {
		return OutcomeFailed, 0, err.WithEntity(name)
	}

	if existing == nil {
		if r.dryRun {
			log.Info().Str("application", name).Msg("Dry run: would create application")
			return OutcomeCreated, 0, nil
		}
		upsert := threescale.ApplicationUpsert{
			Name:         name,
			Description:  description,
			PlanID:       plan.ID,
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
		}
		var created *threescale.Application
		if err := r.call(ctx, "create application", func(ctx context.Context) error {
			var err error
			created, err = r.client.CreateApplication(ctx, account.ID, upsert)
			return err
		}); err != nil {
			return OutcomeFailed, 0, err.WithEntity(name)
		}
		log.Info().Str("application", name).Int64("id", created.ID).Msg("Created application")
		return OutcomeCreated, created.ID, nil
	}

	var upsert threescale.ApplicationUpsert
	changed := false
	if existing.Name != name {
		upsert.Name = name
		changed = true
	}
	if description != "" && existing.Description != description {
		upsert.Description = description
		changed = true
	}
	if plan != nil && existing.PlanID != plan.ID {
		upsert.PlanID = plan.ID
		changed = true
	}

	if !changed {
		return OutcomeUnchanged, existing.ID, nil
	}
	if r.dryRun {
		log.Info().Str("application", name).Msg("Dry run: would update application")
		return OutcomeUpdated, existing.ID, nil
	}
	if err := r.call(ctx, "update application", func(ctx context.Context) error {
		_, err := r.client.UpdateApplication(ctx, account.ID, existing.ID, upsert)
		return err
	}); err != nil {
		return OutcomeFailed, existing.ID, err.WithEntity(name)
	}
	log.Info().Str("application", name).Msg("Updated application")
	return OutcomeUpdated, existing.ID, nil
}

// reconcilePromotion publishes the latest sandbox configuration to
// production. Mapping rule and policy chain writes only enter a sandbox
// configuration version once the proxy is written afterwards, so runs that
// changed any gateway entity write the proxy once before promoting. A
// tenant rejecting the promotion because nothing changed counts as
// unchanged.
func (r *Reconciler) reconcilePromotion(ctx context.Context, log zerolog.Logger, svc *threescale.Service, gatewayChanged bool) (Outcome, *SyncError) {
	// The service does not exist yet in a dry run that would create it.
	if svc == nil {
		log.Info().Msg("Dry run: would promote gateway configuration")
		return OutcomeCreated, nil
	}

	if r.dryRun {
		if gatewayChanged {
			log.Info().Msg("Dry run: would promote gateway configuration")
			return OutcomeUpdated, nil
		}
		var production *threescale.ProxyConfig
		if err := r.call(ctx, "fetch production configuration", func(ctx context.Context) error {
			var err error
			production, err = r.client.LatestProxyConfig(ctx, svc.ID, environmentProduction)
			return err
		}); err != nil {
			return OutcomeFailed, err.WithEntity(svc.SystemName)
		}
		if production == nil {
			log.Info().Msg("Dry run: would promote gateway configuration")
			return OutcomeUpdated, nil
		}
		return OutcomeUnchanged, nil
	}

	var sandbox *threescale.ProxyConfig
	if err := r.call(ctx, "fetch sandbox configuration", func(ctx context.Context) error {
		var err error
		sandbox, err = r.client.LatestProxyConfig(ctx, svc.ID, environmentSandbox)
		return err
	}); err != nil {
		return OutcomeFailed, err.WithEntity(svc.SystemName)
	}

	if gatewayChanged || sandbox == nil {
		var proxy *threescale.Proxy
		if err := r.call(ctx, "fetch proxy", func(ctx context.Context) error {
			var err error
			proxy, err = r.client.FetchProxy(ctx, svc.ID)
			return err
		}); err != nil {
			return OutcomeFailed, err.WithEntity(svc.SystemName)
		}
		if err := r.call(ctx, "touch proxy", func(ctx context.Context) error {
			_, err := r.client.UpdateProxy(ctx, svc.ID, threescale.ProxyUpdate{CredentialsLocation: proxy.CredentialsLocation})
			return err
		}); err != nil {
			return OutcomeFailed, err.WithEntity(svc.SystemName)
		}
		if err := r.call(ctx, "fetch sandbox configuration", func(ctx context.Context) error {
			var err error
			sandbox, err = r.client.LatestProxyConfig(ctx, svc.ID, environmentSandbox)
			return err
		}); err != nil {
			return OutcomeFailed, err.WithEntity(svc.SystemName)
		}
		if sandbox == nil {
			return OutcomeFailed, NewPermanentError("no sandbox configuration to promote", nil).WithEntity(svc.SystemName)
		}
	}

	var promoted bool
	if err := r.call(ctx, "promote configuration", func(ctx context.Context) error {
		var err error
		promoted, err = r.client.PromoteProxyConfig(ctx, svc.ID, sandbox.Version)
		return err
	}); err != nil {
		return OutcomeFailed, err.WithEntity(svc.SystemName)
	}
	if !promoted {
		return OutcomeUnchanged, nil
	}
	log.Info().Int("version", sandbox.Version).Msg("Promoted gateway configuration to production")
	return OutcomeUpdated, nil
}

// skipConsumers records skip results for the plan, the accounts and the
// applications of a product whose service failed.
func (r *Reconciler) skipConsumers(res *DocumentResult, env string, namer *naming.Namer, product *config.Product, reason string, cause *SyncError) {
	planKey := config.SystemName(namer.PlanName(env, product.SystemName(), product.Version))
	res.record(r.skipped(EntityKindApplicationPlan, planKey, reason, cause))

	seen := make(map[string]bool)
	for _, app := range product.Applications {
		if !seen[app.Account] {
			seen[app.Account] = true
			res.record(r.skipped(EntityKindAccount, app.Account, reason, cause))
		}
	}
	r.skipApplications(res, env, namer, product, reason, cause)
}

// skipApplications records skip results for every application of the
// product.
func (r *Reconciler) skipApplications(res *DocumentResult, env string, namer *naming.Namer, product *config.Product, reason string, cause *SyncError) {
	for _, app := range product.Applications {
		key := app.Key()
		if key == "" {
			key = namer.ApplicationName(env, product.SystemName(), product.Version)
		}
		res.record(r.skipped(EntityKindApplication, key, reason, cause))
	}
}

func (r *Reconciler) skipped(kind EntityKind, key, reason string, cause *SyncError) EntityResult {
	return EntityResult{
		Kind:    kind,
		Key:     key,
		Outcome: OutcomeSkipped,
		Error:   NewDependencyError(reason, cause).WithEntity(key),
	}
}

// call runs one remote operation, retrying transient failures with
// exponential backoff. The returned error is classified; permanent
// failures surface immediately.
func (r *Reconciler) call(ctx context.Context, op string, fn func(context.Context) error) *SyncError {
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !threescale.IsTransient(err) || attempt >= r.retries {
			break
		}

		backoff := r.backoff(attempt, err)
		r.logger.Warn().
			Str("operation", op).
			Int("attempt", attempt+1).
			Int("max_attempts", r.retries+1).
			Dur("backoff", backoff).
			Err(err).
			Msg("Transient failure, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return classifyRemote(op, ctx.Err()).WithOperation(op)
		}
	}
	return classifyRemote(op, err).WithOperation(op)
}

// backoff calculates exponential backoff for a retry attempt. Rate-limited
// requests back off from a higher base.
func (r *Reconciler) backoff(attempt int, err error) time.Duration {
	baseDelay := r.baseWait
	if threescale.IsStatus(err, http.StatusTooManyRequests) {
		baseDelay = 5 * r.baseWait
	}

	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
	if delay > r.maxWait {
		delay = r.maxWait
	}

	// Add jitter (+25%)
	jitter := time.Duration(float64(delay) * 0.25)
	delay = delay + jitter/2

	return delay
}

// firstError returns the first non-nil error.
func firstError(errs ...*SyncError) *SyncError {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// jsonEqual compares two values through a JSON round trip, normalizing
// numeric types and map ordering so a YAML-declared chain compares cleanly
// against a tenant-served one.
func jsonEqual(a, b interface{}) bool {
	aBytes, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bBytes, err := json.Marshal(b)
	if err != nil {
		return false
	}
	var aVal, bVal interface{}
	if err := json.Unmarshal(aBytes, &aVal); err != nil {
		return false
	}
	if err := json.Unmarshal(bBytes, &bVal); err != nil {
		return false
	}
	return reflect.DeepEqual(aVal, bVal)
}
