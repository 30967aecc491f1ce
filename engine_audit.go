package tierauth

import (
	"context"
	"maps"
)

const (
	auditEventRegisterSuccess       = "register_success"
	auditEventRegisterFailure       = "register_failure"
	auditEventEmailVerified         = "email_verified"
	auditEventVerificationResent    = "verification_resent"
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventTwoFactorRequired     = "two_factor_required"
	auditEventTwoFactorFailure      = "two_factor_failure"
	auditEventTrustedDeviceBypass   = "trusted_device_bypass"
	auditEventDeviceRemembered      = "device_remembered"
	auditEventDevicesRevoked        = "devices_revoked"
	auditEventBackupCodeUsed        = "backup_code_used"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshFailure        = "refresh_failure"
	auditEventTwoFactorSetup        = "two_factor_setup"
	auditEventTwoFactorEnabled      = "two_factor_enabled"
	auditEventTwoFactorDisabled     = "two_factor_disabled"
	auditEventBackupCodesGenerated  = "backup_codes_generated"
	auditEventAPIKeyCreated         = "api_key_created"
	auditEventAPIKeyRevoked         = "api_key_revoked"
	auditEventAPIKeyDeleted         = "api_key_deleted"
	auditEventAPIKeyAuthFailure     = "api_key_auth_failure"
	auditEventAlgorithmExecuted     = "algorithm_executed"
	auditEventAlgorithmDenied       = "algorithm_denied"
	auditEventSubscriptionCreated   = "subscription_created"
	auditEventSubscriptionCancelled = "subscription_cancelled"
	auditEventGuestAccessRenewed    = "guest_access_renewed"
	auditEventRoleChanged           = "role_changed"
	auditEventAccountDeleted        = "account_deleted"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	actorID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ip := ClientIPFromContext(ctx); ip != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["ip"] = ip
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		ActorID:   actorID,
		Success:   success,
		Reason:    string(ReasonOf(err)),
		Metadata:  metadata,
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	accountID string,
	metadataBuilder func() map[string]string,
) {
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, accountID, "", ErrRateLimited, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder != nil {
			maps.Copy(base, metadataBuilder())
		}
		return base
	})
}
