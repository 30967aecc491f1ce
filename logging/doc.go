// Package logging builds the *slog.Logger handed to the engine and the admin
// CLI.
//
// Output is JSON by default and text on request. Every record carries the
// service name and build version. Callers must never log passwords, tokens,
// TOTP secrets, backup codes or API keys; the engine only logs identifiers
// such as account_id and op.
package logging
