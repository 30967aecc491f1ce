package tierauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/tierauth/apikey"
	"github.com/MrEthical07/tierauth/policy"
)

const apiKeyNameMaxLength = 100

// CreateAPIKey issues a new key for accountID. GUEST accounts never get
// keys, and subscribers need an ACTIVE subscription. The raw key appears only
// in the returned value.
func (e *Engine) CreateAPIKey(ctx context.Context, accountID, name string) (*CreatedAPIKey, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > apiKeyNameMaxLength {
		return nil, fmt.Errorf("%w: api key name must be 1-%d characters", ErrInvalidInput, apiKeyNameMaxLength)
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	hasActive := false
	if account.Role != RoleGuest && !account.Role.Administrative() {
		active, err := e.activeSubscriptions(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		hasActive = len(active) > 0
	}
	if !policy.CanCreateAPIKey(account.Role, hasActive) {
		if account.Role == RoleGuest {
			return nil, ErrInsufficientRole
		}
		return nil, ErrNoActiveSubscription
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	if _, err := e.stores.APIKeys.GetByAccountAndName(sctx, account.ID, name); err == nil {
		return nil, fmt.Errorf("%w: an api key named %q already exists", ErrDuplicateResource, name)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, e.storeErr("apikey.get_by_name", err)
	}

	raw, err := apikey.Generate()
	if err != nil {
		return nil, err
	}
	key := APIKey{
		ID:        e.newID(),
		AccountID: account.ID,
		Name:      name,
		KeyHash:   apikey.Hash(raw),
		KeyPrefix: apikey.Prefix(raw),
		CreatedAt: e.now(),
	}
	if err := e.stores.APIKeys.Create(sctx, key); err != nil {
		return nil, e.storeErr("apikey.create", err)
	}

	e.metricInc(MetricAPIKeyCreated)
	e.emitAudit(ctx, auditEventAPIKeyCreated, true, account.ID, account.ID, nil, func() map[string]string {
		return map[string]string{
			"key_id":     key.ID,
			"key_prefix": key.KeyPrefix,
		}
	})

	return &CreatedAPIKey{APIKey: key, Key: raw}, nil
}

// ListAPIKeys returns the account's non-revoked keys, newest first.
func (e *Engine) ListAPIKeys(ctx context.Context, accountID string) ([]APIKey, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	keys, err := e.stores.APIKeys.ListByAccount(sctx, accountID)
	if err != nil {
		return nil, e.storeErr("apikey.list", err)
	}

	out := slices.DeleteFunc(keys, func(k APIKey) bool { return k.Revoked })
	slices.SortStableFunc(out, func(a, b APIKey) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// RevokeAPIKey marks a key revoked. The owner may revoke their own keys and
// OWNER, ADMIN and MAINTAINER actors may revoke any key.
func (e *Engine) RevokeAPIKey(ctx context.Context, actorID, keyID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	key, err := e.authorizeKeyAction(ctx, actorID, keyID)
	if err != nil {
		return err
	}
	if key.Revoked {
		return ErrAPIKeyRevoked
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.stores.APIKeys.Revoke(sctx, key.ID); err != nil {
		return e.storeErr("apikey.revoke", err)
	}

	e.metricInc(MetricAPIKeyRevoked)
	e.emitAudit(ctx, auditEventAPIKeyRevoked, true, key.AccountID, actorID, nil, func() map[string]string {
		return map[string]string{"key_id": key.ID}
	})
	return nil
}

// DeleteAPIKey removes a key permanently under the same rules as
// RevokeAPIKey.
func (e *Engine) DeleteAPIKey(ctx context.Context, actorID, keyID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	key, err := e.authorizeKeyAction(ctx, actorID, keyID)
	if err != nil {
		return err
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.stores.APIKeys.Delete(sctx, key.ID); err != nil {
		return e.storeErr("apikey.delete", err)
	}

	e.emitAudit(ctx, auditEventAPIKeyDeleted, true, key.AccountID, actorID, nil, func() map[string]string {
		return map[string]string{"key_id": key.ID}
	})
	return nil
}

// AuthenticateAPIKey resolves a raw key to its owner. The key must be well
// formed, known, unrevoked and unexpired, and its owner must still exist with
// a verified email. Usage is recorded off the request path.
func (e *Engine) AuthenticateAPIKey(ctx context.Context, rawKey string) (Principal, error) {
	if err := e.ready(); err != nil {
		return Principal{}, err
	}

	fail := func(err error, reason string) (Principal, error) {
		e.metricInc(MetricAPIKeyAuthFailure)
		e.emitAudit(ctx, auditEventAPIKeyAuthFailure, false, "", "", err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return Principal{}, err
	}

	if !apikey.ValidFormat(rawKey) {
		return fail(ErrInvalidCredentials, "malformed")
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	key, err := e.stores.APIKeys.GetByHash(sctx, apikey.Hash(rawKey))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fail(ErrInvalidCredentials, "unknown")
		}
		return Principal{}, e.storeErr("apikey.get_by_hash", err)
	}

	now := e.now()
	if key.Revoked {
		return fail(ErrAPIKeyRevoked, "revoked")
	}
	if keyExpired(key, now) {
		return fail(ErrAPIKeyExpired, "expired")
	}

	owner, err := e.loadAccount(ctx, key.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fail(ErrInvalidCredentials, "owner_missing")
		}
		return Principal{}, err
	}
	if !owner.EmailVerified {
		return fail(ErrEmailNotVerified, "owner_unverified")
	}

	keyID := key.ID
	e.goBackground(ctx, "apikey.record_usage", owner.ID, func(ctx context.Context) error {
		return e.stores.APIKeys.RecordUsage(ctx, keyID, now)
	})

	return Principal{
		AccountID: owner.ID,
		Email:     owner.Email,
		Role:      owner.Role,
		APIKeyID:  key.ID,
	}, nil
}

// authorizeKeyAction loads keyID and checks that actorID owns it or holds a
// staff role.
func (e *Engine) authorizeKeyAction(ctx context.Context, actorID, keyID string) (APIKey, error) {
	actor, err := e.loadAccount(ctx, actorID)
	if err != nil {
		return APIKey{}, err
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	key, err := e.stores.APIKeys.GetByID(sctx, keyID)
	if err != nil {
		return APIKey{}, e.storeErr("apikey.get", err)
	}

	if key.AccountID != actor.ID && !actor.Role.Administrative() {
		return APIKey{}, ErrInsufficientRole
	}
	return key, nil
}

// keyExpired reports whether key has passed its optional expiry at now.
func keyExpired(key APIKey, now time.Time) bool {
	return key.ExpiresAt != nil && !now.Before(*key.ExpiresAt)
}
