// Package llm provides an OpenRouter chat client for structured completions.
//
// The interpretation, triage, and report stages use CompleteJSON to obtain
// JSON payloads from a configured model. When no API key is present the
// stages fall back to rule-based logic, so the client is always optional.
//
// The client retries on HTTP 408/429/5xx errors and network timeouts with
// exponential backoff. Context cancellation aborts retries immediately.
package llm
