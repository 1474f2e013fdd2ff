// Package stages implements the five processing stages a request moves
// through: extraction, interpretation, triage, report generation, and
// validation.
//
// Each stage operates on an Exchange that accumulates the report artifact.
// The interpretation, triage, and generation stages prefer a configured
// model and fall back to deterministic rule engines when the model is
// unavailable or returns an unusable payload, so the pipeline never depends
// on an external service to make progress.
package stages
