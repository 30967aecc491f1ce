package policy

import (
	"errors"
	"strings"
)

// Role is the closed set of account roles. Higher values carry more
// authority.
type Role uint8

const (
	RoleUnknown Role = iota
	Guest
	SubscribedUser
	Maintainer
	Admin
	Owner
)

// ErrUnknownRole is returned by ParseRole for names outside the enum.
var ErrUnknownRole = errors.New("unknown role")

var roleNames = map[Role]string{
	Guest:          "GUEST",
	SubscribedUser: "SUBSCRIBED_USER",
	Maintainer:     "MAINTAINER",
	Admin:          "ADMIN",
	Owner:          "OWNER",
}

// ParseRole accepts the canonical upper-case names, case-insensitively.
func ParseRole(s string) (Role, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for r, name := range roleNames {
		if name == upper {
			return r, nil
		}
	}
	return RoleUnknown, ErrUnknownRole
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether r is one of the five defined roles.
func (r Role) Valid() bool {
	return r >= Guest && r <= Owner
}

// Administrative reports whether r is MAINTAINER or above.
func (r Role) Administrative() bool {
	return r >= Maintainer
}

// MarshalText encodes the canonical name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, ErrUnknownRole
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a canonical name.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// HasMinimumRole reports whether role is at least required.
func HasMinimumRole(role, required Role) bool {
	return role.Valid() && role >= required
}

// CanManage reports whether manager may act on an account holding target.
// OWNER manages everyone and ADMIN manages everyone below OWNER.
func CanManage(manager, target Role) bool {
	switch manager {
	case Owner:
		return target.Valid()
	case Admin:
		return target.Valid() && target < Owner
	default:
		return false
	}
}

// CanChangeRole reports whether manager may move an account from one role
// to another. Any change touching OWNER requires OWNER. ADMIN is confined
// to MAINTAINER, SUBSCRIBED_USER and GUEST on both sides.
func CanChangeRole(manager, from, to Role) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	switch manager {
	case Owner:
		return true
	case Admin:
		return from <= Maintainer && to <= Maintainer
	default:
		return false
	}
}
