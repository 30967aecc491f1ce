// Package internal groups the helpers private to tierauth.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - backupcodes: generation, normalization and constant-time matching
//   - flows: dependency-injected orchestration of login and refresh
//   - rate: redis-backed login throttle and tier request budgets
package internal
