// Package postgres implements the tierauth stores on PostgreSQL through a
// pgx connection pool.
//
// The schema ships as embedded goose migrations (see Migrate). Two rules
// live in the schema rather than in Go: a partial unique index allows one
// ACTIVE subscription per account, and another keeps API key names unique
// among non-revoked keys. Unique violations surface as
// tierauth.ErrDuplicateResource and missing rows as tierauth.ErrNotFound.
// Every other driver failure is wrapped as "db error" and left for the engine
// to report as backend unavailability.
package postgres
