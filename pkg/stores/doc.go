// Package stores persists sync run history. It provides a SQLite-backed
// store with WAL mode and embedded migrations, recording runs, per-document
// results, per-entity outcomes and timeline events so operators can audit
// what a past run changed on the tenant.
package stores
