package tierauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/tierauth/policy"
)

// GetProfile returns the caller-safe view of accountID.
func (e *Engine) GetProfile(ctx context.Context, accountID string) (Profile, error) {
	if err := e.ready(); err != nil {
		return Profile{}, err
	}
	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return Profile{}, err
	}
	return account.profile(), nil
}

// UpdateUserRole moves targetID to role on behalf of actorID. Nobody changes
// their own role, and the move must satisfy policy.CanChangeRole. The guest
// expiry follows the new role. Demoting the only OWNER fails with
// ErrLastOwner, even when two owners demote each other at once.
func (e *Engine) UpdateUserRole(ctx context.Context, actorID, targetID string, role Role) (Profile, error) {
	if err := e.ready(); err != nil {
		return Profile{}, err
	}
	if !role.Valid() {
		return Profile{}, fmt.Errorf("%w: unknown role %d", ErrInvalidInput, role)
	}
	if actorID == targetID {
		return Profile{}, ErrSelfManagement
	}

	actor, err := e.loadAccount(ctx, actorID)
	if err != nil {
		return Profile{}, err
	}
	target, err := e.loadAccount(ctx, targetID)
	if err != nil {
		return Profile{}, err
	}
	if !policy.CanChangeRole(actor.Role, target.Role, role) {
		return Profile{}, ErrInsufficientRole
	}

	// The store refuses to demote the only OWNER.
	updated, err := e.updateAccount(ctx, target.ID, e.roleUpdate(role))
	if err != nil {
		return Profile{}, err
	}

	e.metricInc(MetricRoleChanged)
	e.emitAudit(ctx, auditEventRoleChanged, true, target.ID, actor.ID, nil, func() map[string]string {
		return map[string]string{
			"from": target.Role.String(),
			"to":   role.String(),
		}
	})
	return updated.profile(), nil
}

// DeleteUser removes targetID on behalf of actorID. Nobody deletes
// themselves, the actor must be able to manage the target, and the last
// OWNER cannot be deleted.
func (e *Engine) DeleteUser(ctx context.Context, actorID, targetID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if actorID == targetID {
		return ErrSelfManagement
	}

	actor, err := e.loadAccount(ctx, actorID)
	if err != nil {
		return err
	}
	target, err := e.loadAccount(ctx, targetID)
	if err != nil {
		return err
	}
	if !policy.CanManage(actor.Role, target.Role) {
		return ErrInsufficientRole
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.stores.Accounts.Delete(sctx, target.ID); err != nil {
		return e.storeErr("account.delete", err)
	}
	if _, err := e.stores.Devices.DeleteAll(sctx, target.ID); err != nil {
		e.metricInc(MetricSideEffectFailure)
		e.logger.Warn("device cleanup failed", "op", "device.delete_all", "account_id", target.ID, "error", err)
	}

	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, auditEventAccountDeleted, true, target.ID, actor.ID, nil, func() map[string]string {
		return map[string]string{"role": target.Role.String()}
	})
	return nil
}

// SeedOwner creates a verified OWNER account unless one with email already
// exists, in which case that account is promoted to OWNER. It bypasses the
// registration flow and is meant for provisioning tools.
func (e *Engine) SeedOwner(ctx context.Context, req RegisterRequest) (Profile, error) {
	if err := e.ready(); err != nil {
		return Profile{}, err
	}

	username := req.Username
	email := normalizeEmail(req.Email)
	if err := validateUsername(username); err != nil {
		return Profile{}, err
	}
	if err := validateEmail(email); err != nil {
		return Profile{}, err
	}
	if err := e.config.Password.Policy.Validate(req.Password); err != nil {
		return Profile{}, err
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	existing, err := e.stores.Accounts.GetByEmail(sctx, email)
	switch {
	case err == nil:
		u := e.roleUpdate(RoleOwner)
		u.EmailVerified = Assign(true)
		updated, err := e.updateAccount(ctx, existing.ID, u)
		if err != nil {
			return Profile{}, err
		}
		return updated.profile(), nil
	case !errors.Is(err, ErrNotFound):
		return Profile{}, e.storeErr("account.get_by_email", err)
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return Profile{}, err
	}
	encryptedEmail, err := e.codec.Encrypt(email)
	if err != nil {
		return Profile{}, err
	}

	now := e.now()
	account := Account{
		ID:             e.newID(),
		Username:       username,
		Email:          email,
		EncryptedEmail: encryptedEmail,
		PasswordHash:   hash,
		Role:           RoleOwner,
		EmailVerified:  true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.stores.Accounts.Create(sctx, account); err != nil {
		return Profile{}, e.storeErr("account.create", err)
	}
	return account.profile(), nil
}

// SyncServices upserts every non-guest catalog tier into the service store
// and returns the stored rows in catalog order.
func (e *Engine) SyncServices(ctx context.Context) ([]Service, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	var out []Service
	for _, tier := range e.Catalog().Tiers() {
		if tier.Guest {
			continue
		}
		svc, err := e.stores.Services.Upsert(sctx, Service{
			ID:                e.newID(),
			Name:              tier.Name,
			Description:       tier.Description,
			PriceCents:        tier.PriceCents,
			AllowedAlgorithms: append([]string(nil), tier.Algorithms...),
			RateLimit:         tier.RateLimit,
			RatePeriod:        tier.RatePeriod,
			IsActive:          true,
			ExternalPriceID:   tier.ExternalPriceID,
			CreatedAt:         e.now(),
			UpdatedAt:         e.now(),
		})
		if err != nil {
			return nil, e.storeErr("service.upsert", err)
		}
		out = append(out, svc)
	}
	return out, nil
}
