package tierauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/tierauth/apikey"
)

func TestCreateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "alice", RoleGuest)
	env.subscribe(t, acct.ID, "Basic Plan")

	created, err := env.engine.CreateAPIKey(ctx, acct.ID, "  ci runner ")
	if err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	if !apikey.ValidFormat(created.Key) || !strings.HasPrefix(created.Key, apikey.LivePrefix) {
		t.Fatalf("unexpected key format %q", created.Key)
	}
	if created.Name != "ci runner" || created.KeyPrefix != created.Key[:15]+"..." {
		t.Fatalf("unexpected key metadata %+v", created.APIKey)
	}

	stored, err := env.stores.APIKeys.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.KeyHash != apikey.Hash(created.Key) || strings.Contains(stored.KeyHash, created.Key) {
		t.Fatal("expected only the digest stored")
	}

	if _, err := env.engine.CreateAPIKey(ctx, acct.ID, "ci runner"); !errors.Is(err, ErrDuplicateResource) {
		t.Fatalf("expected ErrDuplicateResource for a reused name, got %v", err)
	}
	if _, err := env.engine.CreateAPIKey(ctx, acct.ID, "   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a blank name, got %v", err)
	}
	if _, err := env.engine.CreateAPIKey(ctx, acct.ID, strings.Repeat("é", apiKeyNameMaxLength)); err != nil {
		t.Fatalf("expected a %d rune name accepted, got %v", apiKeyNameMaxLength, err)
	}
}

func TestCreateAPIKeyRequiresPlan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	guest := env.createAccount(t, "bob", RoleGuest)
	lapsed := env.createAccount(t, "carol", RoleSubscribedUser)
	staff := env.createAccount(t, "dave", RoleMaintainer)

	if _, err := env.engine.CreateAPIKey(ctx, guest.ID, "k"); !errors.Is(err, ErrInsufficientRole) {
		t.Fatalf("expected ErrInsufficientRole for a guest, got %v", err)
	}
	if _, err := env.engine.CreateAPIKey(ctx, lapsed.ID, "k"); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
	}
	if _, err := env.engine.CreateAPIKey(ctx, staff.ID, "k"); err != nil {
		t.Fatalf("expected staff key creation to succeed, got %v", err)
	}
}

func TestAuthenticateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "erin", RoleGuest)
	env.subscribe(t, acct.ID, "Pro Plan")
	created, err := env.engine.CreateAPIKey(ctx, acct.ID, "prod")
	if err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	p, err := env.engine.AuthenticateAPIKey(ctx, created.Key)
	if err != nil {
		t.Fatalf("AuthenticateAPIKey failed: %v", err)
	}
	if p.AccountID != acct.ID || p.APIKeyID != created.ID || p.Role != RoleSubscribedUser {
		t.Fatalf("unexpected principal %+v", p)
	}

	env.engine.background.Wait()
	stored, err := env.stores.APIKeys.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.UsageCount != 1 || stored.LastUsedAt == nil || !stored.LastUsedAt.Equal(env.clock.Now()) {
		t.Fatalf("expected usage recorded, got count=%d last=%v", stored.UsageCount, stored.LastUsedAt)
	}

	unknown, err := apikey.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	for _, raw := range []string{"", "sk_live_short", strings.ToUpper(created.Key), unknown} {
		if _, err := env.engine.AuthenticateAPIKey(ctx, raw); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials for %q, got %v", raw, err)
		}
	}
}

func TestAuthenticateAPIKeyExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "frank", RoleMaintainer)

	raw, err := apikey.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	expires := env.clock.Now().Add(time.Hour)
	if err := env.stores.APIKeys.Create(ctx, APIKey{
		ID:        "key-1",
		AccountID: acct.ID,
		Name:      "short lived",
		KeyHash:   apikey.Hash(raw),
		KeyPrefix: apikey.Prefix(raw),
		ExpiresAt: &expires,
		CreatedAt: env.clock.Now(),
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := env.engine.AuthenticateAPIKey(ctx, raw); err != nil {
		t.Fatalf("expected key valid before expiry, got %v", err)
	}
	env.clock.Advance(time.Hour)
	if _, err := env.engine.AuthenticateAPIKey(ctx, raw); !errors.Is(err, ErrAPIKeyExpired) {
		t.Fatalf("expected ErrAPIKeyExpired, got %v", err)
	}
}

func TestRevokeAndDeleteAPIKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.createAccount(t, "grace", RoleGuest)
	other := env.createAccount(t, "heidi", RoleGuest)
	admin := env.createAccount(t, "ivan", RoleAdmin)
	env.subscribe(t, owner.ID, "Basic Plan")
	env.subscribe(t, other.ID, "Basic Plan")

	first, err := env.engine.CreateAPIKey(ctx, owner.ID, "first")
	if err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	env.clock.Advance(time.Minute)
	second, err := env.engine.CreateAPIKey(ctx, owner.ID, "second")
	if err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	keys, err := env.engine.ListAPIKeys(ctx, owner.ID)
	if err != nil {
		t.Fatalf("ListAPIKeys failed: %v", err)
	}
	if len(keys) != 2 || keys[0].ID != second.ID {
		t.Fatalf("expected two keys newest first, got %+v", keys)
	}

	if err := env.engine.RevokeAPIKey(ctx, other.ID, first.ID); !errors.Is(err, ErrInsufficientRole) {
		t.Fatalf("expected ErrInsufficientRole, got %v", err)
	}
	if err := env.engine.RevokeAPIKey(ctx, owner.ID, first.ID); err != nil {
		t.Fatalf("RevokeAPIKey failed: %v", err)
	}
	if err := env.engine.RevokeAPIKey(ctx, owner.ID, first.ID); !errors.Is(err, ErrAPIKeyRevoked) {
		t.Fatalf("expected ErrAPIKeyRevoked, got %v", err)
	}
	if _, err := env.engine.AuthenticateAPIKey(ctx, first.Key); !errors.Is(err, ErrAPIKeyRevoked) {
		t.Fatalf("expected revoked key rejected, got %v", err)
	}

	keys, _ = env.engine.ListAPIKeys(ctx, owner.ID)
	if len(keys) != 1 || keys[0].ID != second.ID {
		t.Fatalf("expected revoked key hidden, got %+v", keys)
	}

	// A revoked name can be reused.
	if _, err := env.engine.CreateAPIKey(ctx, owner.ID, "first"); err != nil {
		t.Fatalf("expected revoked name reusable, got %v", err)
	}

	if err := env.engine.DeleteAPIKey(ctx, admin.ID, second.ID); err != nil {
		t.Fatalf("DeleteAPIKey failed: %v", err)
	}
	if _, err := env.stores.APIKeys.GetByID(ctx, second.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted key absent, got %v", err)
	}
	if _, err := env.engine.AuthenticateAPIKey(ctx, second.Key); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected deleted key rejected, got %v", err)
	}
	if err := env.engine.DeleteAPIKey(ctx, owner.ID, second.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a deleted key, got %v", err)
	}
}

func TestAuthenticateAPIKeyRequiresVerifiedOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "judy", RoleAdmin)
	created, err := env.engine.CreateAPIKey(ctx, acct.ID, "ops")
	if err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	if _, err := env.stores.Accounts.Update(ctx, acct.ID, AccountUpdate{EmailVerified: Assign(false)}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := env.engine.AuthenticateAPIKey(ctx, created.Key); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
}
