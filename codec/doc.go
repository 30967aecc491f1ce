// Package codec holds the symmetric and one-way primitives used to protect
// stored secrets.
//
// Ciphertext format is hex(nonce) ":" hex(sealed), where sealed is AES-256-GCM
// output including the authentication tag. Decrypt splits on the first ":"
// only, so plaintext may contain the separator.
//
// # What this package must NOT do
//
//   - Hold a package-level key. Every Codec is constructed and injected.
//   - Log or format key material.
package codec
