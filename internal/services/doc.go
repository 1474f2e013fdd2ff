// Package services provides shared error classification and context helpers
// used by pipeline stages and the API layer.
package services
