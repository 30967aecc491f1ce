// Package rate provides Redis-backed fixed-window counters for the login
// throttle and per-tier request budgets.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - tl:  login failures per email digest
//   - tb:  request budget per tier and account
//
// Emails are hashed before they become part of a key.
//
// # What this package must NOT do
//
//   - Decide which tier applies to a caller (that lives in policy).
//   - Be imported outside the tierauth module.
package rate
