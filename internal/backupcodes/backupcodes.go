package backupcodes

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"math/big"
	"strings"

	"github.com/MrEthical07/tierauth/codec"
)

// Alphabet omits I, O, 0 and 1.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultCount     = 10
	DefaultLength    = 10
	DefaultThreshold = 3
	maxSwapAttempts  = 5
)

// ErrContended is returned when the stored set kept changing underneath
// every redemption attempt.
var ErrContended = errors.New("backup code set changed concurrently")

// Generate returns count display-formatted codes of length characters.
// randomIndex may be nil, in which case crypto/rand is used.
func Generate(count, length int, randomIndex func(int) (int, error)) ([]string, error) {
	if count <= 0 || length <= 0 {
		return nil, errors.New("backup code count and length must be positive")
	}
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}

	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var b strings.Builder
		b.Grow(length)
		for j := 0; j < length; j++ {
			n, err := randomIndex(len(Alphabet))
			if err != nil {
				return nil, err
			}
			b.WriteByte(Alphabet[n])
		}
		codes = append(codes, Format(b.String()))
	}
	return codes, nil
}

// Format splits a raw code into two dash separated halves.
func Format(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// Canonicalize upper-cases code and strips dashes and whitespace.
func Canonicalize(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// Hash returns the stored digest of code.
func Hash(code string) string {
	return codec.Hash(Canonicalize(code))
}

// HashAll hashes every code in order.
func HashAll(codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = Hash(c)
	}
	return out
}

// Consume reports the index of the stored digest matching candidate. Every
// entry is compared, even after a match.
func Consume(candidate string, hashes []string) (int, bool) {
	canonical := Canonicalize(candidate)
	if canonical == "" {
		return -1, false
	}
	digest := []byte(codec.Hash(canonical))

	match := -1
	for i, h := range hashes {
		if subtle.ConstantTimeCompare(digest, []byte(h)) == 1 && match < 0 {
			match = i
		}
	}
	return match, match >= 0
}

// Without returns a copy of hashes with index removed.
func Without(hashes []string, index int) []string {
	if index < 0 || index >= len(hashes) {
		return append([]string(nil), hashes...)
	}
	out := make([]string, 0, len(hashes)-1)
	out = append(out, hashes[:index]...)
	return append(out, hashes[index+1:]...)
}

// IsRunningLow reports whether the remaining set is at or under threshold.
func IsRunningLow(hashes []string, threshold int) bool {
	return len(hashes) <= threshold
}

// RedeemDeps binds redemption to a backing store.
type RedeemDeps struct {
	// Load returns the currently stored digests.
	Load func(context.Context) ([]string, error)
	// Swap replaces expected with next and reports false if the stored set
	// no longer equals expected.
	Swap func(ctx context.Context, expected, next []string) (bool, error)
}

// Redeem consumes candidate from the stored set. It returns the remaining
// set on success, ok=false when the code does not match, and ErrContended if
// the set kept changing across attempts.
func Redeem(ctx context.Context, candidate string, deps RedeemDeps) (remaining []string, ok bool, err error) {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		current, err := deps.Load(ctx)
		if err != nil {
			return nil, false, err
		}
		idx, matched := Consume(candidate, current)
		if !matched {
			return current, false, nil
		}

		next := Without(current, idx)
		swapped, err := deps.Swap(ctx, current, next)
		if err != nil {
			return nil, false, err
		}
		if swapped {
			return next, true, nil
		}
	}
	return nil, false, ErrContended
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
