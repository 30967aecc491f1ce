package policy

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrGuestAccessExpired   = errors.New("guest access expired")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrAlgorithmNotInPlan   = errors.New("algorithm not in plan")
	ErrUnknownAlgorithm     = errors.New("unknown algorithm")
)

// UnknownAlgorithmError names the offending algorithm.
type UnknownAlgorithmError struct {
	Name string
}

func (e *UnknownAlgorithmError) Error() string {
	return fmt.Sprintf("unknown algorithm %q", e.Name)
}

func (e *UnknownAlgorithmError) Unwrap() error { return ErrUnknownAlgorithm }

// Plan is the allow-list and budget of one active subscription.
type Plan struct {
	Name       string
	Algorithms []string
	RateLimit  int
	RatePeriod time.Duration
}

// Subject is everything the resolver needs to know about a caller.
type Subject struct {
	Role                 Role
	GuestAccessExpiresAt *time.Time
	ActivePlans          []Plan
}

// Grant is the outcome of a successful resolution.
type Grant struct {
	Tier         string
	Capabilities CapabilitySet
	RateLimit    int
	RatePeriod   time.Duration
}

// Resolver turns subjects into grants against one catalog.
type Resolver struct {
	catalog *Catalog
}

func NewResolver(c *Catalog) *Resolver {
	return &Resolver{catalog: c}
}

// Catalog returns the catalog the resolver was built with.
func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Resolve returns the capabilities subject holds at now.
//
// A GUEST gets the guest tier while its expiry is in the future and nothing
// afterwards; subscriptions are ignored for guests. Every other role needs
// exactly one active plan and receives that plan's allow-list.
func (r *Resolver) Resolve(s Subject, now time.Time) (Grant, error) {
	if s.Role == Guest {
		if s.GuestAccessExpiresAt == nil || !now.Before(*s.GuestAccessExpiresAt) {
			return Grant{}, ErrGuestAccessExpired
		}
		g := r.catalog.Guest()
		return Grant{
			Tier:         g.Key,
			Capabilities: g.Capabilities,
			RateLimit:    g.RateLimit,
			RatePeriod:   g.RatePeriod,
		}, nil
	}
	if !s.Role.Valid() {
		return Grant{}, ErrNoActiveSubscription
	}

	switch len(s.ActivePlans) {
	case 0:
		return Grant{}, ErrNoActiveSubscription
	case 1:
	default:
		return Grant{}, fmt.Errorf("%w: %d active subscriptions", ErrNoActiveSubscription, len(s.ActivePlans))
	}

	plan := s.ActivePlans[0]
	caps, err := r.compilePlan(plan)
	if err != nil {
		return Grant{}, err
	}
	return Grant{
		Tier:         plan.Name,
		Capabilities: caps,
		RateLimit:    plan.RateLimit,
		RatePeriod:   plan.RatePeriod,
	}, nil
}

// Authorize resolves subject and checks that algorithm is in the grant.
func (r *Resolver) Authorize(s Subject, algorithm string, now time.Time) (Grant, error) {
	bit, ok := r.catalog.registry.Bit(algorithm)
	if !ok {
		return Grant{}, &UnknownAlgorithmError{Name: algorithm}
	}
	g, err := r.Resolve(s, now)
	if err != nil {
		return Grant{}, err
	}
	if !g.Capabilities.Has(bit) {
		return Grant{}, ErrAlgorithmNotInPlan
	}
	return g, nil
}

// Allowed lists algorithm names in the grant.
func (r *Resolver) Allowed(g Grant) []string {
	return r.catalog.registry.Names(g.Capabilities)
}

// compilePlan prefers the catalog's precompiled mask and falls back to the
// stored allow-list for services that are not in the catalog.
func (r *Resolver) compilePlan(p Plan) (CapabilitySet, error) {
	if t, ok := r.catalog.TierByName(p.Name); ok && slices.Equal(t.Algorithms, p.Algorithms) {
		return t.Capabilities, nil
	}
	return r.catalog.registry.Compile(p.Algorithms)
}

// CanCreateAPIKey reports whether role may hold API keys. Guests never can,
// MAINTAINER and above always can, everyone else needs an active
// subscription.
func CanCreateAPIKey(role Role, hasActiveSubscription bool) bool {
	switch {
	case role == Guest || !role.Valid():
		return false
	case role.Administrative():
		return true
	default:
		return hasActiveSubscription
	}
}
