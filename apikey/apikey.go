// Package apikey defines the wire format of programmatic access keys.
package apikey

import (
	"regexp"

	"github.com/MrEthical07/tierauth/codec"
)

const (
	// LivePrefix marks every issued key.
	LivePrefix = "sk_live_"

	secretBytes   = 32
	displayLength = 15
)

var formatPattern = regexp.MustCompile(`^sk_live_[a-f0-9]{64}$`)

// Generate returns a fresh raw key. The raw key is shown to its owner once
// and never stored.
func Generate() (string, error) {
	secret, err := codec.RandomToken(secretBytes)
	if err != nil {
		return "", err
	}
	return LivePrefix + secret, nil
}

// ValidFormat reports whether raw has the shape of an issued key.
func ValidFormat(raw string) bool {
	return formatPattern.MatchString(raw)
}

// Hash returns the digest stored for raw.
func Hash(raw string) string {
	return codec.Hash(raw)
}

// Prefix returns the non-secret display form stored alongside the digest.
func Prefix(raw string) string {
	if len(raw) <= displayLength {
		return raw + "..."
	}
	return raw[:displayLength] + "..."
}
