// Package progress fans request lifecycle snapshots out to stream
// subscribers. The hub is fed by the pipeline orchestrator and read by the
// HTTP events endpoint and the CLI watch command.
package progress
