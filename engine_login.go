package tierauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tierauth/internal/backupcodes"
	internalflows "github.com/MrEthical07/tierauth/internal/flows"
	"github.com/MrEthical07/tierauth/jwt"
)

// Login runs the login state machine for one attempt.
//
// A nil error with RequiresTwoFactor set means the password was right and
// the caller must resubmit with a TOTP or backup code; no tokens are issued
// in that case. Every rejection is one of ErrInvalidCredentials,
// ErrEmailNotVerified, ErrInvalid2FACode, ErrRateLimited or
// ErrBackendUnavailable.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.observeSince(MetricLoginLatency, start)

	var account Account
	res, err := internalflows.RunLogin(ctx, internalflows.LoginInput{
		Email:          normalizeEmail(req.Email),
		Password:       req.Password,
		Code:           req.TwoFactorCode,
		DeviceToken:    req.DeviceToken,
		RememberDevice: req.RememberDevice,
	}, e.loginFlowDeps(&account))
	if err != nil {
		return nil, err
	}

	if res.Stage == internalflows.StageTwoFactorRequired {
		return &LoginResult{RequiresTwoFactor: true}, nil
	}

	out := &LoginResult{
		AccessToken:     res.AccessToken,
		RefreshToken:    res.RefreshToken,
		DeviceToken:     res.DeviceToken,
		DeviceExpiresAt: res.DeviceExpiresAt,
		UsedBackupCode:  res.UsedBackupCode,
		Profile:         account.profile(),
	}
	if res.UsedBackupCode {
		out.BackupCodesRemaining = res.BackupCodesRemaining
		out.BackupCodesLow = res.BackupCodesRemaining <= e.config.BackupCodes.LowThreshold
	}
	return out, nil
}

func (e *Engine) loginFlowDeps(account *Account) internalflows.LoginDeps {
	deps := internalflows.LoginDeps{
		Now: e.now,
		LookupAccount: func(ctx context.Context, email string) (internalflows.LoginAccount, error) {
			sctx, cancel := e.storeCtx(ctx)
			defer cancel()
			a, err := e.stores.Accounts.GetByEmail(sctx, email)
			if err != nil {
				return internalflows.LoginAccount{}, e.storeErr("account.get_by_email", err)
			}
			*account = a
			return toFlowLoginAccount(a), nil
		},
		VerifyPassword: e.hasher.Compare,
		BurnDummyHash: func(password string) {
			_, _ = e.hasher.Compare(password, e.dummyHash)
		},
		VerifyTOTP: func(_ context.Context, _ internalflows.LoginAccount, code string) (bool, error) {
			if account.TwoFactorSecret == "" {
				return false, nil
			}
			return e.verifyAccountTOTP(*account, code)
		},
		RedeemBackupCode: func(ctx context.Context, accountID, code string) (int, bool, error) {
			remaining, ok, err := e.redeemBackupCode(ctx, accountID, code)
			if err != nil || !ok {
				return 0, ok, err
			}
			account.BackupCodes = remaining
			return len(remaining), true, nil
		},
		IssueTokens: func(_ context.Context, _ internalflows.LoginAccount) (string, string, error) {
			pair, err := e.issueTokens(*account)
			if err != nil {
				return "", "", err
			}
			return pair.AccessToken, pair.RefreshToken, nil
		},
		RecordLoginAt: func(ctx context.Context, accountID string, at time.Time) {
			updated, err := e.updateAccount(ctx, accountID, AccountUpdate{LastLoginAt: Assign(&at)})
			if err != nil {
				e.metricInc(MetricSideEffectFailure)
				e.logger.Warn("last login stamp failed", "op", "account.last_login", "account_id", accountID, "error", err)
				account.LastLoginAt = &at
				return
			}
			*account = updated
		},
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: func(ctx context.Context, event string, success bool, accountID string, err error, metadata func() map[string]string) {
			e.emitAudit(ctx, event, success, accountID, "", err, metadata)
		},
		EmitRateLimit: e.emitRateLimit,
		Warn:          e.logger.Warn,
		Metrics: internalflows.LoginMetrics{
			LoginSuccess:        int(MetricLoginSuccess),
			LoginFailure:        int(MetricLoginFailure),
			LoginRateLimited:    int(MetricLoginRateLimited),
			TwoFactorRequired:   int(MetricTwoFactorRequired),
			TwoFactorFailure:    int(MetricTwoFactorFailure),
			TrustedDeviceBypass: int(MetricTrustedDeviceBypass),
			BackupCodeUsed:      int(MetricBackupCodeUsed),
			BackupCodeContended: int(MetricBackupCodeContended),
		},
		Events: internalflows.LoginEvents{
			LoginSuccess:        auditEventLoginSuccess,
			LoginFailure:        auditEventLoginFailure,
			LoginRateLimited:    auditEventLoginRateLimited,
			TwoFactorRequired:   auditEventTwoFactorRequired,
			TwoFactorFailure:    auditEventTwoFactorFailure,
			TrustedDeviceBypass: auditEventTrustedDeviceBypass,
			DeviceRemembered:    auditEventDeviceRemembered,
			BackupCodeUsed:      auditEventBackupCodeUsed,
		},
		Errors: internalflows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			EmailNotVerified:   ErrEmailNotVerified,
			Invalid2FACode:     ErrInvalid2FACode,
			RateLimited:        ErrRateLimited,
			NotFound:           ErrNotFound,
			Contended:          backupcodes.ErrContended,
		},
	}

	if e.config.Password.UpgradeOnLogin {
		deps.RehashPassword = func(ctx context.Context, a internalflows.LoginAccount, password string) {
			e.upgradePasswordHash(ctx, a.ID, a.PasswordHash, password)
		}
	}

	if e.config.DeviceTrust.Enabled {
		deps.IsDeviceTrusted = e.isDeviceTrusted
		deps.RememberDevice = func(ctx context.Context, accountID string) (string, time.Time, error) {
			grant, err := e.rememberDevice(ctx, accountID)
			if err != nil {
				return "", time.Time{}, err
			}
			return grant.Token, grant.ExpiresAt, nil
		}
	}

	if e.limiter != nil && e.config.Security.EnableLoginThrottle {
		deps.CheckLoginRate = func(ctx context.Context, email string) error {
			return e.rateErr(e.limiter.CheckLogin(ctx, email))
		}
		deps.IncrementLoginRate = func(ctx context.Context, email string) error {
			return e.rateErr(e.limiter.IncrementLogin(ctx, email))
		}
		deps.ResetLoginRate = e.limiter.ResetLogin
	}

	return deps
}

func toFlowLoginAccount(a Account) internalflows.LoginAccount {
	return internalflows.LoginAccount{
		ID:               a.ID,
		PasswordHash:     a.PasswordHash,
		EmailVerified:    a.EmailVerified,
		TwoFactorEnabled: a.TwoFactorEnabled,
	}
}

// upgradePasswordHash re-hashes password with the current cost parameters
// when the stored hash was produced with older ones.
func (e *Engine) upgradePasswordHash(ctx context.Context, accountID, storedHash, password string) {
	stale, err := e.hasher.NeedsRehash(storedHash)
	if err != nil || !stale {
		return
	}
	e.goBackground(ctx, "password.rehash", accountID, func(ctx context.Context) error {
		hash, err := e.hasher.Hash(password)
		if err != nil {
			return err
		}
		_, err = e.stores.Accounts.Update(ctx, accountID, AccountUpdate{PasswordHash: Assign(hash)})
		return err
	})
}

func (e *Engine) issueTokens(a Account) (TokenPair, error) {
	claims := jwt.Claims{
		UserID: a.ID,
		Email:  a.Email,
		Role:   a.Role.String(),
	}
	access, err := e.issuer.IssueAccess(claims)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := e.issuer.IssueRefresh(claims)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh exchanges a valid refresh token for a new pair. The account is
// reloaded, so the new tokens carry its current role.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if err := e.ready(); err != nil {
		return TokenPair{}, err
	}

	var account Account
	res := internalflows.RunRefresh(ctx, refreshToken, internalflows.RefreshDeps{
		VerifyRefresh: func(token string) (string, error) {
			claims, err := e.issuer.VerifyRefresh(token)
			if err != nil {
				return "", err
			}
			return claims.UserID, nil
		},
		LoadAccount: func(ctx context.Context, id string) (internalflows.RefreshAccount, error) {
			a, err := e.loadAccount(ctx, id)
			if err != nil {
				return internalflows.RefreshAccount{}, err
			}
			account = a
			return internalflows.RefreshAccount{ID: a.ID, EmailVerified: a.EmailVerified}, nil
		},
		IssueTokens: func(context.Context, internalflows.RefreshAccount) (string, string, error) {
			pair, err := e.issueTokens(account)
			return pair.AccessToken, pair.RefreshToken, err
		},
		NotFound: ErrNotFound,
	})

	var err error
	switch res.Failure {
	case internalflows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.AccountID, "", nil, nil)
		return TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}, nil
	case internalflows.RefreshFailureDecode, internalflows.RefreshFailureAccountMissing:
		err = ErrInvalidToken
	case internalflows.RefreshFailureUnverified:
		err = ErrEmailNotVerified
	default:
		err = res.Err
	}

	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshFailure, false, res.AccountID, "", err, nil)
	return TokenPair{}, err
}

// Authenticate verifies an access token and returns the caller. The account
// must still exist and be verified; the returned role is the stored one, not
// the one embedded at issue time.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	if err := e.ready(); err != nil {
		return Principal{}, err
	}

	claims, err := e.issuer.VerifyAccess(accessToken)
	if err != nil {
		e.metricInc(MetricTokenRejected)
		return Principal{}, ErrInvalidToken
	}

	account, err := e.loadAccount(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.metricInc(MetricTokenRejected)
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	if !account.EmailVerified {
		e.metricInc(MetricTokenRejected)
		return Principal{}, ErrEmailNotVerified
	}

	return Principal{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
	}, nil
}

// FailedLoginAttempts reports the failed-login count for email in the
// current throttle window. It is zero when the throttle is off.
func (e *Engine) FailedLoginAttempts(ctx context.Context, email string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if e.limiter == nil || !e.config.Security.EnableLoginThrottle {
		return 0, nil
	}
	n, err := e.limiter.LoginAttempts(ctx, normalizeEmail(email))
	if err != nil {
		return 0, e.rateErr(err)
	}
	return n, nil
}
