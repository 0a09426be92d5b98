// Package stores provides the persistence layer for the extension
// orchestrator: compatibility matrix reference data, per-site extension
// state, deployment history, layered configuration and health probe
// results, backed by SQLite with embedded schema migrations.
package stores
