// Package policy decides what a subject may do.
//
// Roles form a closed, totally ordered enum. Algorithm access is a 64-bit
// capability mask over a frozen [Registry]; tier allow-lists are compiled
// into masks when the [Catalog] is loaded, and an unknown algorithm name
// fails the load rather than a later request.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import the root tierauth package.
//   - Grant capabilities when the subject's state is ambiguous.
package policy
