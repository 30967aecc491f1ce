// Package algorithm holds the computational capabilities that tiers gate.
//
// Input is decoded once at the boundary into a typed [Request] by
// [DecodeRequest]; nothing downstream handles untyped payloads. Every
// algorithm is a pure function of its request.
package algorithm
