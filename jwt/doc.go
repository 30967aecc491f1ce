// Package jwt issues and verifies the HS256 access and refresh tokens.
//
// The identity payload never travels in clear: it is JSON encoded, sealed
// with the injected codec and carried as the single private claim "data".
// Signature and expiry are checked before any decryption is attempted.
package jwt
