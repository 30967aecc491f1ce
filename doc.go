// Package tierauth is the authentication and authorization core of a tiered
// SaaS product: password login with optional TOTP two-factor authentication,
// backup-code recovery, trusted devices, encrypted-payload JWTs, API keys, and
// a role plus subscription access model that gates a fixed set of algorithms.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build]. Persistence is supplied through the
// [Stores] interfaces; redis is optional and enables the login throttle and
// per-tier request budgets.
//
// # Architecture boundaries
//
// tierauth is the public surface. It exposes [Engine], [Builder], [Config],
// the store interfaces and value types. Flow orchestration, rate limiting,
// audit dispatch and backup-code bookkeeping live under internal/ and are
// never exported. The codec, password, jwt, policy, algorithm and apikey
// packages are leaf libraries with no dependency on this package.
//
// # What this package must NOT do
//
//   - Log or return secrets: passwords, TOTP secrets, raw tokens and keys only
//     leave the Engine in the single response that creates them.
//   - Grant access when a store or redis call fails. Infrastructure errors
//     surface as [ErrBackendUnavailable].
//   - Import any sub-package that re-imports tierauth (no import cycles).
package tierauth
