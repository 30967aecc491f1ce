// Package flows contains pure-function orchestrators for the multi-step
// Engine operations.
//
// Each flow function (RunLogin, RunRefresh) accepts a typed dependency struct
// of closures and returns results without side effects beyond those
// dependencies. The root package builds the closures over its stores, codec
// and token issuer and keeps the Engine type thin.
//
// # Architecture boundaries
//
// Flows coordinate calls to the account lookup, password verifier, TOTP and
// backup-code checks, device ledger, throttle, audit and metrics. They do NOT
// own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import tierauth (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency closures.
package flows
