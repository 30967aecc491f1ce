// Package password hashes and verifies account passwords with argon2id and
// holds the registration strength policy.
//
// # Output format
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and hash are unpadded standard base64. Padded values are still
// accepted when parsing.
//
// [Hasher.NeedsRehash] lets the caller upgrade a hash after a successful
// login when the configured cost has been raised.
//
// # What this package must NOT do
//
//   - Apply the strength [Policy] in Hash or Compare. Login must fail
//     uniformly regardless of password shape.
//   - Compare digests with ==.
package password
