package password

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// ErrPolicy is the parent of every policy violation returned by Validate.
var ErrPolicy = errors.New("password policy violation")

// Policy is the registration-time strength rule set.
type Policy struct {
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPolicy is 8 to 100 characters with all four character classes.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:     8,
		MaxLength:     100,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
	}
}

// Validate returns nil or an error wrapping ErrPolicy whose message names the
// first failed rule.
func (p Policy) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	if p.MinLength > 0 && n < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrPolicy, p.MinLength)
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrPolicy, p.MaxLength)
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			symbol = true
		}
	}

	switch {
	case p.RequireUpper && !upper:
		return fmt.Errorf("%w: needs an upper-case letter", ErrPolicy)
	case p.RequireLower && !lower:
		return fmt.Errorf("%w: needs a lower-case letter", ErrPolicy)
	case p.RequireDigit && !digit:
		return fmt.Errorf("%w: needs a digit", ErrPolicy)
	case p.RequireSymbol && !symbol:
		return fmt.Errorf("%w: needs a symbol", ErrPolicy)
	}
	return nil
}
