package policy

import (
	"errors"
	"testing"
	"time"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	c, err := DefaultCatalog(newTestRegistry(t))
	if err != nil {
		t.Fatalf("DefaultCatalog: %v", err)
	}
	return NewResolver(c)
}

func planFor(t *testing.T, r *Resolver, key string) Plan {
	t.Helper()
	tier, ok := r.Catalog().Tier(key)
	if !ok {
		t.Fatalf("tier %s missing", key)
	}
	return Plan{Name: tier.Name, Algorithms: tier.Algorithms, RateLimit: tier.RateLimit, RatePeriod: tier.RatePeriod}
}

func TestGuestWithinWindow(t *testing.T) {
	r := newTestResolver(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour)

	g, err := r.Authorize(Subject{Role: Guest, GuestAccessExpiresAt: &exp}, "textAnalysis", now)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if g.Tier != "GUEST" || g.RateLimit != 20 {
		t.Fatalf("unexpected grant %+v", g)
	}
	if _, err := r.Authorize(Subject{Role: Guest, GuestAccessExpiresAt: &exp}, "mlPrediction", now); !errors.Is(err, ErrAlgorithmNotInPlan) {
		t.Fatalf("expected ErrAlgorithmNotInPlan, got %v", err)
	}
}

func TestExpiredGuestDeniedEverything(t *testing.T) {
	r := newTestResolver(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	exact := now

	for _, subj := range []Subject{
		{Role: Guest, GuestAccessExpiresAt: &past},
		{Role: Guest, GuestAccessExpiresAt: &exact},
		{Role: Guest},
		{Role: Guest, GuestAccessExpiresAt: &past, ActivePlans: []Plan{planFor(t, r, "ENTERPRISE")}},
	} {
		for _, algo := range testAlgorithms {
			if _, err := r.Authorize(subj, algo, now); !errors.Is(err, ErrGuestAccessExpired) {
				t.Fatalf("%s for %+v: expected ErrGuestAccessExpired, got %v", algo, subj, err)
			}
		}
	}
}

func TestGuestIgnoresSubscriptions(t *testing.T) {
	r := newTestResolver(t)
	now := time.Now()
	exp := now.Add(time.Hour)

	subj := Subject{Role: Guest, GuestAccessExpiresAt: &exp, ActivePlans: []Plan{planFor(t, r, "ENTERPRISE")}}
	if _, err := r.Authorize(subj, "linearRegression", now); !errors.Is(err, ErrAlgorithmNotInPlan) {
		t.Fatalf("expected guest allow-list to apply, got %v", err)
	}
}

func TestSubscriberNeedsExactlyOnePlan(t *testing.T) {
	r := newTestResolver(t)
	now := time.Now()

	if _, err := r.Resolve(Subject{Role: SubscribedUser}, now); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
	}
	if _, err := r.Resolve(Subject{Role: Owner}, now); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("expected owner without plan to be denied, got %v", err)
	}

	two := Subject{Role: SubscribedUser, ActivePlans: []Plan{planFor(t, r, "BASIC"), planFor(t, r, "PRO")}}
	if _, err := r.Resolve(two, now); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("expected ambiguous plans to be denied, got %v", err)
	}
}

func TestSubscriberPlanAllowList(t *testing.T) {
	r := newTestResolver(t)
	now := time.Now()
	subj := Subject{Role: SubscribedUser, ActivePlans: []Plan{planFor(t, r, "PRO")}}

	g, err := r.Authorize(subj, "sentimentAnalysis", now)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if g.RateLimit != 500 || len(r.Allowed(g)) != 5 {
		t.Fatalf("unexpected grant %+v", g)
	}
	if _, err := r.Authorize(subj, "recommendation", now); !errors.Is(err, ErrAlgorithmNotInPlan) {
		t.Fatalf("expected ErrAlgorithmNotInPlan, got %v", err)
	}
}

func TestPlanOutsideCatalogCompiles(t *testing.T) {
	r := newTestResolver(t)
	custom := Plan{Name: "Regression Only", Algorithms: []string{"linearRegression"}, RateLimit: 3, RatePeriod: time.Minute}
	subj := Subject{Role: Maintainer, ActivePlans: []Plan{custom}}

	if _, err := r.Authorize(subj, "linearRegression", time.Now()); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if _, err := r.Authorize(subj, "dataAnalysis", time.Now()); !errors.Is(err, ErrAlgorithmNotInPlan) {
		t.Fatalf("expected ErrAlgorithmNotInPlan, got %v", err)
	}

	broken := Subject{Role: Maintainer, ActivePlans: []Plan{{Name: "Broken", Algorithms: []string{"nope"}}}}
	if _, err := r.Resolve(broken, time.Now()); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Fatalf("expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestAuthorizeUnknownAlgorithm(t *testing.T) {
	r := newTestResolver(t)
	exp := time.Now().Add(time.Hour)
	_, err := r.Authorize(Subject{Role: Guest, GuestAccessExpiresAt: &exp}, "quantumSort", time.Now())
	var unknown *UnknownAlgorithmError
	if !errors.As(err, &unknown) || unknown.Name != "quantumSort" {
		t.Fatalf("expected UnknownAlgorithmError, got %v", err)
	}
}
