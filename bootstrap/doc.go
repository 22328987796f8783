// Package bootstrap wires the application together: configuration, logging,
// storage, rule loading, the detection pipeline, ingest listeners and the
// HTTP API, plus ordered graceful shutdown.
package bootstrap
