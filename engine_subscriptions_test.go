package tierauth

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestSubscribePromotesGuest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "alice", RoleGuest)

	view := env.subscribe(t, acct.ID, "Basic Plan")
	if view.Status != SubscriptionActive || view.Service.Name != "Basic Plan" {
		t.Fatalf("unexpected subscription %+v", view)
	}

	stored := env.account(t, acct.ID)
	if stored.Role != RoleSubscribedUser || stored.GuestAccessExpiresAt != nil {
		t.Fatalf("expected promotion without guest expiry, got role=%v expiry=%v", stored.Role, stored.GuestAccessExpiresAt)
	}

	_, err := env.engine.SubscribeToService(ctx, acct.ID, env.services["Pro Plan"].ID)
	if !errors.Is(err, ErrDuplicateResource) {
		t.Fatalf("expected ErrDuplicateResource for a second subscription, got %v", err)
	}

	env.engine.background.Wait()
	env.mailer.mu.Lock()
	mails := append([]string(nil), env.mailer.subscriptions...)
	env.mailer.mu.Unlock()
	if len(mails) != 1 || mails[0] != acct.Email+"|Basic Plan" {
		t.Fatalf("unexpected subscription mails %v", mails)
	}
}

func TestConcurrentSubscribeHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, "bob", RoleGuest)
	svc := env.services["Pro Plan"]

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, err := env.engine.SubscribeToService(context.Background(), acct.ID, svc.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrDuplicateResource):
				conflicts++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", attempts-1, successes, conflicts)
	}
	active, err := env.stores.Subscriptions.ListActiveByAccount(context.Background(), acct.ID)
	if err != nil || len(active) != 1 {
		t.Fatalf("expected exactly one active subscription, got %d err=%v", len(active), err)
	}
}

func TestSubscribeRejectsInactiveService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "carol", RoleGuest)

	svc := env.services["Enterprise Plan"]
	svc.IsActive = false
	if _, err := env.stores.Services.Upsert(ctx, svc); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if _, err := env.engine.SubscribeToService(ctx, acct.ID, svc.ID); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	services, err := env.engine.ListServices(ctx)
	if err != nil {
		t.Fatalf("ListServices failed: %v", err)
	}
	if len(services) != 2 || services[0].Name != "Basic Plan" || services[1].Name != "Pro Plan" {
		t.Fatalf("expected active services ordered by price, got %+v", services)
	}
}

func TestCancelSubscriptionDemotesSubscriber(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "dave", RoleGuest)
	view := env.subscribe(t, acct.ID, "Pro Plan")

	env.clock.Advance(time.Hour)
	cancelled, err := env.engine.CancelSubscription(ctx, acct.ID, view.ID)
	if err != nil {
		t.Fatalf("CancelSubscription failed: %v", err)
	}
	if cancelled.Status != SubscriptionCancelled || cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(env.clock.Now()) {
		t.Fatalf("unexpected cancelled subscription %+v", cancelled.Subscription)
	}

	stored := env.account(t, acct.ID)
	wantExpiry := env.clock.Now().Add(env.engine.config.Guest.AccessDuration)
	if stored.Role != RoleGuest || stored.GuestAccessExpiresAt == nil || !stored.GuestAccessExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected demotion to guest until %v, got role=%v expiry=%v", wantExpiry, stored.Role, stored.GuestAccessExpiresAt)
	}

	if _, err := env.engine.CancelSubscription(ctx, acct.ID, view.ID); !errors.Is(err, ErrSubscriptionNotActive) {
		t.Fatalf("expected ErrSubscriptionNotActive, got %v", err)
	}

	again := env.subscribe(t, acct.ID, "Basic Plan")
	history, err := env.engine.SubscriptionHistory(ctx, acct.ID)
	if err != nil {
		t.Fatalf("SubscriptionHistory failed: %v", err)
	}
	if history.Total != 2 || history.Active != 1 || history.Cancelled != 1 {
		t.Fatalf("unexpected history counts %+v", history)
	}
	if history.Subscriptions[0].ID != again.ID || history.Subscriptions[0].Service.Name != "Basic Plan" {
		t.Fatalf("expected newest subscription first, got %+v", history.Subscriptions[0].Subscription)
	}
}

func TestSubscribeDuringCancelKeepsSubscriber(t *testing.T) {
	var hooked *hookedAccounts
	env := newTestEnv(t, hookAccounts(&hooked))
	ctx := context.Background()
	acct := env.createAccount(t, "ivan", RoleGuest)
	view := env.subscribe(t, acct.ID, "Basic Plan")

	// The new subscription lands after the cancel but before the cancel
	// settles the role.
	hooked.before("reconcile", func() {
		if _, err := env.engine.SubscribeToService(ctx, acct.ID, env.services["Pro Plan"].ID); err != nil {
			t.Errorf("SubscribeToService failed: %v", err)
		}
	})
	if _, err := env.engine.CancelSubscription(ctx, acct.ID, view.ID); err != nil {
		t.Fatalf("CancelSubscription failed: %v", err)
	}

	stored := env.account(t, acct.ID)
	if stored.Role != RoleSubscribedUser || stored.GuestAccessExpiresAt != nil {
		t.Fatalf("expected subscriber kept, got role=%v expiry=%v", stored.Role, stored.GuestAccessExpiresAt)
	}
	active, err := env.stores.Subscriptions.ListActiveByAccount(ctx, acct.ID)
	if err != nil || len(active) != 1 || active[0].ServiceID != env.services["Pro Plan"].ID {
		t.Fatalf("expected the Pro subscription active, got %+v err=%v", active, err)
	}
	input := []byte(`{"features":[1,2,3],"weights":[0.5,0.5,0.5]}`)
	if _, err := env.engine.ExecuteAlgorithm(ctx, acct.ID, "mlPrediction", input); err != nil {
		t.Fatalf("expected the paid plan to apply, got %v", err)
	}
}

func TestCancelDuringSubscribeLeavesGuest(t *testing.T) {
	var hooked *hookedAccounts
	env := newTestEnv(t, hookAccounts(&hooked))
	ctx := context.Background()
	acct := env.createAccount(t, "judy", RoleGuest)
	admin := env.createAccount(t, "kate", RoleAdmin)

	// The subscription is cancelled between its creation and the promotion.
	hooked.before("reconcile", func() {
		active, err := env.stores.Subscriptions.ListActiveByAccount(ctx, acct.ID)
		if err != nil || len(active) != 1 {
			t.Errorf("expected the new subscription active, got %d err=%v", len(active), err)
			return
		}
		if _, err := env.engine.CancelSubscription(ctx, admin.ID, active[0].ID); err != nil {
			t.Errorf("CancelSubscription failed: %v", err)
		}
	})
	if _, err := env.engine.SubscribeToService(ctx, acct.ID, env.services["Basic Plan"].ID); err != nil {
		t.Fatalf("SubscribeToService failed: %v", err)
	}

	stored := env.account(t, acct.ID)
	if stored.Role != RoleGuest || stored.GuestAccessExpiresAt == nil {
		t.Fatalf("expected guest kept with an expiry, got role=%v expiry=%v", stored.Role, stored.GuestAccessExpiresAt)
	}
	if active, _ := env.stores.Subscriptions.ListActiveByAccount(ctx, acct.ID); len(active) != 0 {
		t.Fatalf("expected no active subscription, got %+v", active)
	}
}

func TestConcurrentSubscribeAndCancelAgree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		acct := env.createAccount(t, "race"+strconv.Itoa(i), RoleGuest)
		view := env.subscribe(t, acct.ID, "Basic Plan")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = env.engine.CancelSubscription(ctx, acct.ID, view.ID)
		}()
		go func() {
			defer wg.Done()
			_, _ = env.engine.SubscribeToService(ctx, acct.ID, env.services["Pro Plan"].ID)
		}()
		wg.Wait()

		active, err := env.stores.Subscriptions.ListActiveByAccount(ctx, acct.ID)
		if err != nil {
			t.Fatalf("ListActiveByAccount failed: %v", err)
		}
		role := env.account(t, acct.ID).Role
		if (len(active) > 0) != (role == RoleSubscribedUser) {
			t.Fatalf("round %d: role %v with %d active subscriptions", i, role, len(active))
		}
	}
}

func TestCancelSubscriptionPermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.createAccount(t, "erin", RoleGuest)
	other := env.createAccount(t, "frank", RoleGuest)
	admin := env.createAccount(t, "grace", RoleAdmin)
	view := env.subscribe(t, owner.ID, "Basic Plan")
	env.subscribe(t, other.ID, "Basic Plan")

	if _, err := env.engine.CancelSubscription(ctx, other.ID, view.ID); !errors.Is(err, ErrInsufficientRole) {
		t.Fatalf("expected ErrInsufficientRole, got %v", err)
	}
	if _, err := env.engine.CancelSubscription(ctx, admin.ID, view.ID); err != nil {
		t.Fatalf("expected admin cancel to succeed, got %v", err)
	}
	if got := env.account(t, owner.ID).Role; got != RoleGuest {
		t.Fatalf("expected owner demoted, got %v", got)
	}
}

func TestCancelSubscriptionKeepsStaffRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	staff := env.createAccount(t, "heidi", RoleMaintainer)
	view := env.subscribe(t, staff.ID, "Pro Plan")

	if _, err := env.engine.CancelSubscription(ctx, staff.ID, view.ID); err != nil {
		t.Fatalf("CancelSubscription failed: %v", err)
	}
	stored := env.account(t, staff.ID)
	if stored.Role != RoleMaintainer || stored.GuestAccessExpiresAt != nil {
		t.Fatalf("expected maintainer kept, got role=%v expiry=%v", stored.Role, stored.GuestAccessExpiresAt)
	}
}

func TestGuestAccessExpiresAndRenews(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "ivan", RoleGuest)
	input := []byte(`{"numbers":[1,2,3]}`)

	if _, err := env.engine.ExecuteAlgorithm(ctx, acct.ID, "dataAnalysis", input); err != nil {
		t.Fatalf("expected fresh guest allowed, got %v", err)
	}

	env.clock.Advance(env.engine.config.Guest.AccessDuration)
	if _, err := env.engine.ExecuteAlgorithm(ctx, acct.ID, "dataAnalysis", input); !errors.Is(err, ErrGuestAccessExpired) {
		t.Fatalf("expected ErrGuestAccessExpired at the boundary, got %v", err)
	}

	expiry, err := env.engine.RenewGuestAccess(ctx, acct.ID)
	if err != nil {
		t.Fatalf("RenewGuestAccess failed: %v", err)
	}
	if want := env.clock.Now().Add(5 * time.Hour); !expiry.Equal(want) {
		t.Fatalf("expected renewal to %v, got %v", want, expiry)
	}
	if _, err := env.engine.ExecuteAlgorithm(ctx, acct.ID, "dataAnalysis", input); err != nil {
		t.Fatalf("expected renewed guest allowed, got %v", err)
	}

	subscriber := env.createAccount(t, "judy", RoleSubscribedUser)
	if _, err := env.engine.RenewGuestAccess(ctx, subscriber.ID); !errors.Is(err, ErrNotGuest) {
		t.Fatalf("expected ErrNotGuest, got %v", err)
	}
}
