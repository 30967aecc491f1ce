package tierauth

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/tierauth/codec"
)

const deviceTokenBytes = 32

// rememberDevice creates a trust record and returns the raw device token.
// Only the token's digest is stored.
func (e *Engine) rememberDevice(ctx context.Context, accountID string) (DeviceGrant, error) {
	token, err := codec.RandomToken(deviceTokenBytes)
	if err != nil {
		return DeviceGrant{}, err
	}

	now := e.now()
	device := TrustedDevice{
		ID:         e.newID(),
		AccountID:  accountID,
		TokenHash:  codec.Hash(token),
		ExpiresAt:  now.Add(e.config.DeviceTrust.TTL),
		LastUsedAt: now,
		CreatedAt:  now,
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.stores.Devices.Create(sctx, device); err != nil {
		return DeviceGrant{}, e.storeErr("device.create", err)
	}

	return DeviceGrant{Token: token, ExpiresAt: device.ExpiresAt}, nil
}

// isDeviceTrusted reports whether token names an unexpired trust record for
// accountID. A hit refreshes the record's LastUsedAt; a failed refresh is
// logged and does not revoke trust.
func (e *Engine) isDeviceTrusted(ctx context.Context, accountID, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	tokenHash := codec.Hash(token)

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	device, err := e.stores.Devices.Get(sctx, accountID, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, e.storeErr("device.get", err)
	}

	now := e.now()
	if !now.Before(device.ExpiresAt) {
		return false, nil
	}

	if err := e.stores.Devices.Touch(sctx, accountID, tokenHash, now); err != nil && !errors.Is(err, ErrNotFound) {
		e.metricInc(MetricSideEffectFailure)
		e.logger.Warn("device touch failed", "op", "device.touch", "account_id", accountID, "error", err)
	}
	return true, nil
}

// revokeDevices deletes every trust record for accountID.
func (e *Engine) revokeDevices(ctx context.Context, accountID string) (int, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	n, err := e.stores.Devices.DeleteAll(sctx, accountID)
	if err != nil {
		return 0, e.storeErr("device.delete_all", err)
	}
	if n > 0 {
		e.emitAudit(ctx, auditEventDevicesRevoked, true, accountID, "", nil, func() map[string]string {
			return map[string]string{"count": strconv.Itoa(n)}
		})
	}
	return n, nil
}

// RevokeTrustedDevices forgets every remembered device for accountID, so the
// next login from any of them asks for a second factor again.
func (e *Engine) RevokeTrustedDevices(ctx context.Context, accountID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if _, err := e.loadAccount(ctx, accountID); err != nil {
		return 0, err
	}
	return e.revokeDevices(ctx, accountID)
}
