// Package pipeline drives requests through the ordered analysis stages.
//
// The orchestrator owns the lifecycle of a single run: it moves the request
// into each stage with its boundary progress, executes the stage handler
// under a heartbeat and a per-stage time budget, fails fast on the first
// stage error, and records the report artifact reference on completion.
// Every persisted transition is mirrored to the progress notifier.
package pipeline
