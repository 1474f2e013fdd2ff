// Package daemon coordinates the long-running Pulmo process and system
// integration points.
//
// It wires configuration, the request registry, the admission scheduler, the
// pipeline orchestrator, and the progress hub into a single lifecycle with
// flock-based locking to prevent multiple instances. The daemon exposes
// registry maintenance helpers, serves the HTTP API, emits stage health
// summaries, and owns notifications triggered by terminal request states.
//
// Keep orchestration logic here: individual pipeline stages should live in
// their respective packages while the daemon focuses on startup, shutdown, and
// high level coordination.
package daemon
