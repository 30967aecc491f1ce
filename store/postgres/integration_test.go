//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tierauth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Run with: TIERAUTH_TEST_DATABASE_URL=postgres://... go test -tags integration ./store/postgres/
func newIntegrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TIERAUTH_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TIERAUTH_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, PoolConfig{URL: url, MaxConns: 8})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE accounts, services CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func newAccount(username string, role tierauth.Role) tierauth.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	a := tierauth.Account{
		ID:            uuid.NewString(),
		Username:      username,
		Email:         username + "@example.com",
		PasswordHash:  "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		Role:          role,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if role == tierauth.RoleGuest {
		exp := now.Add(5 * time.Hour)
		a.GuestAccessExpiresAt = &exp
	}
	return a
}

func TestIntegrationAccounts(t *testing.T) {
	stores := New(newIntegrationPool(t))
	ctx := context.Background()
	a := newAccount("alice", tierauth.RoleGuest)
	a.VerificationToken = "tokenhash"

	if err := stores.Accounts.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	dup := newAccount("alice", tierauth.RoleGuest)
	if err := stores.Accounts.Create(ctx, dup); !errors.Is(err, tierauth.ErrDuplicateResource) {
		t.Fatalf("expected ErrDuplicateResource, got %v", err)
	}

	got, err := stores.Accounts.GetByVerificationToken(ctx, "tokenhash")
	if err != nil || got.ID != a.ID || got.Role != tierauth.RoleGuest {
		t.Fatalf("GetByVerificationToken: %+v err=%v", got, err)
	}

	updated, err := stores.Accounts.Update(ctx, a.ID, tierauth.AccountUpdate{
		Role:                 tierauth.Assign(tierauth.RoleSubscribedUser),
		GuestAccessExpiresAt: tierauth.Assign[*time.Time](nil),
		VerificationToken:    tierauth.Assign(""),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Role != tierauth.RoleSubscribedUser || updated.GuestAccessExpiresAt != nil || updated.VerificationToken != "" {
		t.Fatalf("unexpected update result %+v", updated)
	}
	if _, err := stores.Accounts.GetByVerificationToken(ctx, "tokenhash"); !errors.Is(err, tierauth.ErrNotFound) {
		t.Fatalf("expected cleared token, got %v", err)
	}

	if _, err := stores.Accounts.Update(ctx, "missing", tierauth.AccountUpdate{}); !errors.Is(err, tierauth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIntegrationBackupCodeCAS(t *testing.T) {
	stores := New(newIntegrationPool(t))
	ctx := context.Background()
	a := newAccount("bob", tierauth.RoleOwner)
	if err := stores.Accounts.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := stores.Accounts.ReplaceBackupCodes(ctx, a.ID, nil, []string{"h1", "h2"})
	if err != nil || !ok {
		t.Fatalf("initial swap: ok=%v err=%v", ok, err)
	}
	ok, err = stores.Accounts.ReplaceBackupCodes(ctx, a.ID, []string{"h1"}, []string{})
	if err != nil || ok {
		t.Fatalf("expected stale swap refused: ok=%v err=%v", ok, err)
	}
	ok, err = stores.Accounts.ReplaceBackupCodes(ctx, a.ID, []string{"h1", "h2"}, []string{"h2"})
	if err != nil || !ok {
		t.Fatalf("expected swap: ok=%v err=%v", ok, err)
	}
	got, _ := stores.Accounts.GetByID(ctx, a.ID)
	if !slices.Equal(got.BackupCodes, []string{"h2"}) {
		t.Fatalf("unexpected codes %v", got.BackupCodes)
	}
	if _, err := stores.Accounts.ReplaceBackupCodes(ctx, "missing", nil, nil); !errors.Is(err, tierauth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIntegrationOneActiveSubscription(t *testing.T) {
	stores := New(newIntegrationPool(t))
	ctx := context.Background()
	a := newAccount("carol", tierauth.RoleGuest)
	if err := stores.Accounts.Create(ctx, a); err != nil {
		t.Fatalf("Create account: %v", err)
	}
	now := time.Now().UTC()
	svc, err := stores.Services.Upsert(ctx, tierauth.Service{
		ID: uuid.NewString(), Name: "Basic Plan", PriceCents: 999,
		AllowedAlgorithms: []string{"dataAnalysis"}, RateLimit: 100, RatePeriod: time.Hour,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := stores.Subscriptions.Create(ctx, tierauth.Subscription{
				ID: uuid.NewString(), AccountID: a.ID, ServiceID: svc.ID,
				Status: tierauth.SubscriptionActive, StartDate: now, CreatedAt: now,
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, tierauth.ErrDuplicateResource) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	active, err := stores.Subscriptions.ListActiveByAccount(ctx, a.ID)
	if err != nil || len(active) != 1 {
		t.Fatalf("ListActiveByAccount: %d err=%v", len(active), err)
	}
	cancelled, err := stores.Subscriptions.UpdateStatus(ctx, active[0].ID, tierauth.SubscriptionCancelled, now)
	if err != nil || cancelled.CancelledAt == nil {
		t.Fatalf("UpdateStatus: %+v err=%v", cancelled, err)
	}
	if active, err := stores.Subscriptions.ListActiveByAccount(ctx, a.ID); err != nil || len(active) != 0 {
		t.Fatalf("expected no active subscription after cancel: %d err=%v", len(active), err)
	}
}

func TestIntegrationReconcileSubscriberRole(t *testing.T) {
	stores := New(newIntegrationPool(t))
	ctx := context.Background()
	a := newAccount("erin", tierauth.RoleGuest)
	if err := stores.Accounts.Create(ctx, a); err != nil {
		t.Fatalf("Create account: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	svc, err := stores.Services.Upsert(ctx, tierauth.Service{
		ID: uuid.NewString(), Name: "Basic Plan", PriceCents: 999,
		AllowedAlgorithms: []string{"dataAnalysis"}, RateLimit: 100, RatePeriod: time.Hour,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	expiry := now.Add(5 * time.Hour)

	got, changed, err := stores.Accounts.ReconcileSubscriberRole(ctx, a.ID, expiry)
	if err != nil || changed || got.Role != tierauth.RoleGuest {
		t.Fatalf("expected guest without subscription untouched: %+v changed=%v err=%v", got, changed, err)
	}

	sub := tierauth.Subscription{
		ID: uuid.NewString(), AccountID: a.ID, ServiceID: svc.ID,
		Status: tierauth.SubscriptionActive, StartDate: now, CreatedAt: now,
	}
	if err := stores.Subscriptions.Create(ctx, sub); err != nil {
		t.Fatalf("Create subscription: %v", err)
	}
	got, changed, err = stores.Accounts.ReconcileSubscriberRole(ctx, a.ID, expiry)
	if err != nil || !changed || got.Role != tierauth.RoleSubscribedUser || got.GuestAccessExpiresAt != nil {
		t.Fatalf("expected promotion: %+v changed=%v err=%v", got, changed, err)
	}

	if _, err := stores.Subscriptions.UpdateStatus(ctx, sub.ID, tierauth.SubscriptionCancelled, now); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, changed, err = stores.Accounts.ReconcileSubscriberRole(ctx, a.ID, expiry)
	if err != nil || !changed || got.Role != tierauth.RoleGuest || got.GuestAccessExpiresAt == nil || !got.GuestAccessExpiresAt.Equal(expiry) {
		t.Fatalf("expected demotion: %+v changed=%v err=%v", got, changed, err)
	}

	if _, _, err := stores.Accounts.ReconcileSubscriberRole(ctx, "missing", expiry); !errors.Is(err, tierauth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIntegrationLastOwnerGuard(t *testing.T) {
	pool := newIntegrationPool(t)
	stores := New(pool)
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		if _, err := pool.Exec(ctx, `TRUNCATE accounts, services CASCADE`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		a := newAccount(fmt.Sprintf("owner-a-%d", round), tierauth.RoleOwner)
		b := newAccount(fmt.Sprintf("owner-b-%d", round), tierauth.RoleOwner)
		for _, acct := range []tierauth.Account{a, b} {
			if err := stores.Accounts.Create(ctx, acct); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		var (
			wg   sync.WaitGroup
			errs [2]error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs[0] = stores.Accounts.Delete(ctx, b.ID)
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = stores.Accounts.Update(ctx, a.ID, tierauth.AccountUpdate{Role: tierauth.Assign(tierauth.RoleAdmin)})
		}()
		wg.Wait()

		refused := 0
		for _, err := range errs {
			switch {
			case errors.Is(err, tierauth.ErrLastOwner):
				refused++
			case err != nil:
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		if refused != 1 {
			t.Fatalf("round %d: expected exactly one refusal, got %v", round, errs)
		}
	}
}

func TestIntegrationServiceUpsertKeepsID(t *testing.T) {
	stores := New(newIntegrationPool(t))
	ctx := context.Background()
	now := time.Now().UTC()
	first, err := stores.Services.Upsert(ctx, tierauth.Service{ID: "svc-1", Name: "Pro Plan", PriceCents: 2999, IsActive: true, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second, err := stores.Services.Upsert(ctx, tierauth.Service{ID: "svc-2", Name: "Pro Plan", PriceCents: 3999, RatePeriod: 90 * time.Minute, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	if second.ID != first.ID || second.PriceCents != 3999 || second.RatePeriod != 90*time.Minute || second.IsActive {
		t.Fatalf("unexpected upsert result %+v", second)
	}
	active, err := stores.Services.List(ctx, true)
	if err != nil || len(active) != 0 {
		t.Fatalf("expected inactive service filtered, got %d err=%v", len(active), err)
	}
}

func TestIntegrationAPIKeysAndCascade(t *testing.T) {
	stores := New(newIntegrationPool(t))
	ctx := context.Background()
	a := newAccount("dave", tierauth.RoleAdmin)
	if err := stores.Accounts.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	now := time.Now().UTC()
	key := tierauth.APIKey{ID: uuid.NewString(), AccountID: a.ID, Name: "ci", KeyHash: strings.Repeat("a", 64), KeyPrefix: "sk_live_abcdefg...", CreatedAt: now}
	if err := stores.APIKeys.Create(ctx, key); err != nil {
		t.Fatalf("Create key: %v", err)
	}
	same := key
	same.ID, same.KeyHash = uuid.NewString(), strings.Repeat("b", 64)
	if err := stores.APIKeys.Create(ctx, same); !errors.Is(err, tierauth.ErrDuplicateResource) {
		t.Fatalf("expected live name collision, got %v", err)
	}
	if err := stores.APIKeys.Revoke(ctx, key.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := stores.APIKeys.Create(ctx, same); err != nil {
		t.Fatalf("expected revoked name reusable, got %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := stores.APIKeys.RecordUsage(ctx, same.ID, now); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}
	got, err := stores.APIKeys.GetByHash(ctx, same.KeyHash)
	if err != nil || got.UsageCount != 3 || got.LastUsedAt == nil {
		t.Fatalf("GetByHash: %+v err=%v", got, err)
	}

	if err := stores.Devices.Create(ctx, tierauth.TrustedDevice{
		ID: uuid.NewString(), AccountID: a.ID, TokenHash: "dev", ExpiresAt: now.Add(time.Hour), LastUsedAt: now, CreatedAt: now,
	}); err != nil {
		t.Fatalf("Create device: %v", err)
	}

	if err := stores.Accounts.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := stores.APIKeys.GetByID(ctx, same.ID); !errors.Is(err, tierauth.ErrNotFound) {
		t.Fatalf("expected keys cascaded, got %v", err)
	}
	if _, err := stores.Devices.Get(ctx, a.ID, "dev"); !errors.Is(err, tierauth.ErrNotFound) {
		t.Fatalf("expected devices cascaded, got %v", err)
	}
	if err := stores.Accounts.Delete(ctx, a.ID); !errors.Is(err, tierauth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestIntegrationSchemaVersion(t *testing.T) {
	pool := newIntegrationPool(t)
	v, err := SchemaVersion(context.Background(), pool)
	if err != nil || v < 1 {
		t.Fatalf("SchemaVersion: %d err=%v", v, err)
	}
}
