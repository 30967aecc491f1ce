// Package middleware adapts tierauth.Engine authentication to net/http.
//
// # Guards
//
//   - [RequireAccess] verifies a bearer access token.
//   - [RequireAPIKey] verifies an sk_live_ key from a request header.
//   - [RequireAny] accepts either, preferring the API key header.
//   - [RequireRole] enforces a minimum role on an authenticated request.
//
// Guards store the resulting tierauth.Principal in the request context (see
// tierauth.PrincipalFromContext) and answer failures with a JSON body
// carrying the stable reason code from tierauth.ReasonOf.
//
// # What this package must NOT do
//
//   - Parse tokens or hash keys itself. The engine owns both.
//   - Decide tier or algorithm access. Engine.ExecuteAlgorithm does that.
package middleware
