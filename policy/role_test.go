package policy

import (
	"errors"
	"testing"
)

func TestParseRoleRoundTrip(t *testing.T) {
	for _, r := range []Role{Guest, SubscribedUser, Maintainer, Admin, Owner} {
		parsed, err := ParseRole(r.String())
		if err != nil || parsed != r {
			t.Fatalf("round trip of %s failed: %v %v", r, parsed, err)
		}
	}
	if r, err := ParseRole(" admin "); err != nil || r != Admin {
		t.Fatalf("expected case-insensitive parse, got %v %v", r, err)
	}
	if _, err := ParseRole("ROOT"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestRoleOrdering(t *testing.T) {
	if Owner != 5 || Admin != 4 || Maintainer != 3 || SubscribedUser != 2 || Guest != 1 {
		t.Fatal("role values drifted")
	}
	if !HasMinimumRole(Admin, Maintainer) || HasMinimumRole(SubscribedUser, Maintainer) {
		t.Fatal("HasMinimumRole ordering broken")
	}
	if HasMinimumRole(RoleUnknown, RoleUnknown) {
		t.Fatal("unknown role satisfied a minimum")
	}
}

func TestCanManage(t *testing.T) {
	tests := []struct {
		manager, target Role
		want            bool
	}{
		{Owner, Owner, true},
		{Owner, Admin, true},
		{Admin, Owner, false},
		{Admin, Admin, true},
		{Admin, Guest, true},
		{Maintainer, Guest, false},
		{SubscribedUser, Guest, false},
		{Guest, Guest, false},
	}
	for _, tt := range tests {
		if got := CanManage(tt.manager, tt.target); got != tt.want {
			t.Fatalf("CanManage(%s, %s) = %v, want %v", tt.manager, tt.target, got, tt.want)
		}
	}
}

func TestCanChangeRole(t *testing.T) {
	tests := []struct {
		manager, from, to Role
		want              bool
	}{
		{Admin, Guest, Owner, false},
		{Owner, Admin, Maintainer, true},
		{Owner, Guest, Owner, true},
		{Admin, Guest, Maintainer, true},
		{Admin, Maintainer, SubscribedUser, true},
		{Admin, SubscribedUser, Admin, false},
		{Admin, Admin, Guest, false},
		{Admin, Owner, Guest, false},
		{Maintainer, Guest, SubscribedUser, false},
		{Owner, Guest, RoleUnknown, false},
	}
	for _, tt := range tests {
		if got := CanChangeRole(tt.manager, tt.from, tt.to); got != tt.want {
			t.Fatalf("CanChangeRole(%s, %s, %s) = %v, want %v", tt.manager, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanCreateAPIKey(t *testing.T) {
	tests := []struct {
		role   Role
		active bool
		want   bool
	}{
		{Guest, true, false},
		{Guest, false, false},
		{SubscribedUser, false, false},
		{SubscribedUser, true, true},
		{Maintainer, false, true},
		{Admin, false, true},
		{Owner, false, true},
	}
	for _, tt := range tests {
		if got := CanCreateAPIKey(tt.role, tt.active); got != tt.want {
			t.Fatalf("CanCreateAPIKey(%s, %v) = %v, want %v", tt.role, tt.active, got, tt.want)
		}
	}
}
