// Package engine implements the reconciliation core of 3scale-sync.
//
// # Overview
//
// The engine turns a batch of declarative configuration documents into the
// create-or-update calls that make a remote 3scale tenant match them. A run
// moves through a fixed pipeline:
//
//  1. Validate - Check batch-wide uniqueness and referential constraints (ValidateBatch, NewBatch)
//  2. Merge - Combine OpenAPI-derived and explicit mapping rules (MergeMappings)
//  3. Normalize - Order the gateway policy chain (BuildPolicyChain)
//  4. Reconcile - Drive each document's entities to their declared state (Reconciler)
//  5. Dispatch - Fan documents out to a bounded worker pool (Dispatcher)
//  6. Report - Aggregate per-entity outcomes into a Run with an exit code
//
// Validation is a hard gate: it runs single-threaded over the whole batch
// before any remote call, and a violation anywhere stops the run everywhere.
// Documents are otherwise independent; the dispatcher never shares state
// between workers and one document's failure never cancels a sibling.
//
// # Core Domain Types
//
//   - Batch: A validated set of documents with indexed backend declarations
//   - Violation: One uniqueness or referential constraint breach
//   - DesiredMapping: A merged mapping rule in gateway evaluation order
//   - EntityResult: The terminal outcome of one entity step
//   - DocumentResult: The ordered entity outcomes of one document
//   - Run: One sync invocation across the batch, with summary and exit code
//   - Event: Timeline events published while a run executes
//
// # Remote Interfaces
//
// The reconciler depends only on the per-entity client interfaces
// (ServiceClient, BackendClient, AccountClient, ApplicationClient,
// ProxyClient, MappingRuleClient, PolicyChainClient), composed as
// TenantClient. Tests substitute an in-memory fake; production wires the
// threescale client.
//
// # Error Classification
//
// Every failure surfaces as a SyncError with one of four classes:
//
//   - validation: batch gate violations, fatal before any remote call
//   - transient: network or throttling failures, retried with backoff
//   - permanent: tenant rejections, never retried
//   - dependency: steps skipped because a structural dependency failed
//
// Use the predicate helpers to branch on class:
//
//	if engine.IsTransient(err) {
//	    // the call was retried and still failed
//	}
//
// # Outcomes
//
// Each entity step terminates in exactly one Outcome: created, updated,
// unchanged, deleted, failed or skipped. A run exits zero only when every
// outcome across every document counts as successful, which is how repeated
// runs over unchanged input stay observable: they produce all-unchanged
// outcomes and no mutating calls.
//
// # Immutability
//
// Documents and their entities are value objects; the engine derives
// requests from them and never mutates them. The tenant is the only durable
// state a run changes.
package engine
