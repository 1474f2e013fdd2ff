// Package api exposes read-only request and result queries as DTOs shared
// by the HTTP server, the IPC surface, and the CLI.
package api
