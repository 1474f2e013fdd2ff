// Package registry persists processing requests in SQLite and enforces their
// lifecycle rules.
//
// The Store manages database connections, schema initialization, stats
// queries, heartbeat tracking, and interrupted-request recovery. Updates are
// validated against the pipeline order: stages advance strictly forward,
// progress never decreases, terminal requests are immutable, a result
// reference appears only on completed requests, and an error message only on
// failed ones.
//
// The database is durable across restarts so completed reports stay
// queryable, but in-flight requests do not resume; FailInterrupted marks them
// failed on startup. Schema changes bump the version in schema.go; users
// clear the database to adopt the new schema.
package registry
