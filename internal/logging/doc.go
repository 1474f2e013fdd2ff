// Package logging builds the slog loggers used across the daemon and CLI.
//
// It offers a human-friendly console handler and a JSON handler, both driven
// by config, plus attribute helpers and standardized field keys so request
// ids and stage names appear consistently in every log line.
package logging
