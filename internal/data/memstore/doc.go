// Package memstore provides in-process implementations of the metadata store, job queue,
// budget ledger and budget journal. They back the worker in local development and the
// coordinator tests; budget state is lost on restart, so production runs use the Postgres or
// Redis backends.
package memstore
