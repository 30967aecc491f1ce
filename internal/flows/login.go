package flows

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// LoginStage is the state a login attempt finished in.
type LoginStage uint8

const (
	StageAwaitingCredentials LoginStage = iota
	StageCredentialsValid
	StageTwoFactorRequired
	StageAuthenticated
	StageRejected
)

func (s LoginStage) String() string {
	switch s {
	case StageAwaitingCredentials:
		return "awaiting_credentials"
	case StageCredentialsValid:
		return "credentials_valid"
	case StageTwoFactorRequired:
		return "two_factor_required"
	case StageAuthenticated:
		return "authenticated"
	case StageRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// LoginInput is one login attempt.
type LoginInput struct {
	Email          string
	Password       string
	Code           string
	DeviceToken    string
	RememberDevice bool
}

// LoginAccount is the flow-local view of the account being logged into.
type LoginAccount struct {
	ID               string
	PasswordHash     string
	EmailVerified    bool
	TwoFactorEnabled bool
}

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	Stage     LoginStage
	AccountID string

	AccessToken  string
	RefreshToken string

	DeviceToken     string
	DeviceExpiresAt time.Time
	TrustedDevice   bool

	UsedBackupCode       bool
	BackupCodesRemaining int
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess        int
	LoginFailure        int
	LoginRateLimited    int
	TwoFactorRequired   int
	TwoFactorFailure    int
	TrustedDeviceBypass int
	BackupCodeUsed      int
	BackupCodeContended int
}

// LoginEvents carries audit event names emitted by the login flow.
type LoginEvents struct {
	LoginSuccess        string
	LoginFailure        string
	LoginRateLimited    string
	TwoFactorRequired   string
	TwoFactorFailure    string
	TrustedDeviceBypass string
	DeviceRemembered    string
	BackupCodeUsed      string
}

// LoginErrors carries the sentinel errors the login flow returns.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	EmailNotVerified   error
	Invalid2FACode     error
	RateLimited        error
	NotFound           error
	Contended          error
}

// LoginDeps binds the login flow to engine state.
type LoginDeps struct {
	Now func() time.Time

	CheckLoginRate     func(context.Context, string) error
	IncrementLoginRate func(context.Context, string) error
	ResetLoginRate     func(context.Context, string) error

	LookupAccount  func(context.Context, string) (LoginAccount, error)
	VerifyPassword func(string, string) (bool, error)
	// BurnDummyHash runs one password verification against a fixed hash so
	// an unknown email costs the same as a wrong password.
	BurnDummyHash  func(string)
	RehashPassword func(context.Context, LoginAccount, string)

	IsDeviceTrusted  func(context.Context, string, string) (bool, error)
	VerifyTOTP       func(context.Context, LoginAccount, string) (bool, error)
	RedeemBackupCode func(context.Context, string, string) (int, bool, error)
	RememberDevice   func(context.Context, string) (string, time.Time, error)

	IssueTokens   func(context.Context, LoginAccount) (string, string, error)
	RecordLoginAt func(context.Context, string, time.Time)

	MetricInc     func(int)
	EmitAudit     func(context.Context, string, bool, string, error, func() map[string]string)
	EmitRateLimit func(context.Context, string, string, func() map[string]string)
	Warn          func(string, ...any)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin walks one attempt through the login state machine. Each rule is a
// hard stop; a RequiresTwoFactor outcome is returned as StageTwoFactorRequired
// with a nil error.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) (*LoginResult, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if deps.EmitRateLimit == nil {
		deps.EmitRateLimit = func(context.Context, string, string, func() map[string]string) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.LookupAccount == nil ||
		deps.VerifyPassword == nil ||
		deps.BurnDummyHash == nil ||
		deps.VerifyTOTP == nil ||
		deps.RedeemBackupCode == nil ||
		deps.IssueTokens == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email := in.Email
	identifier := func() map[string]string {
		return map[string]string{"email": email}
	}

	rateLimited := func(accountID string) (*LoginResult, error) {
		deps.MetricInc(deps.Metrics.LoginRateLimited)
		deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, accountID, deps.Errors.RateLimited, identifier)
		deps.EmitRateLimit(ctx, "login", accountID, identifier)
		return &LoginResult{Stage: StageRejected, AccountID: accountID}, deps.Errors.RateLimited
	}

	// reject counts a failed attempt against the throttle and reports cause.
	reject := func(accountID, event string, metric int, cause error, reason string) (*LoginResult, error) {
		if deps.IncrementLoginRate != nil {
			if err := deps.IncrementLoginRate(ctx, email); err != nil {
				if errors.Is(err, deps.Errors.RateLimited) {
					return rateLimited(accountID)
				}
				return &LoginResult{Stage: StageRejected, AccountID: accountID}, err
			}
		}
		deps.MetricInc(metric)
		deps.EmitAudit(ctx, event, false, accountID, cause, func() map[string]string {
			return map[string]string{
				"email":  email,
				"reason": reason,
			}
		})
		return &LoginResult{Stage: StageRejected, AccountID: accountID}, cause
	}

	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, email); err != nil {
			if errors.Is(err, deps.Errors.RateLimited) {
				return rateLimited("")
			}
			return nil, err
		}
	}

	// -------- AWAITING CREDENTIALS --------
	if strings.TrimSpace(email) == "" || in.Password == "" {
		deps.BurnDummyHash(in.Password)
		return reject("", deps.Events.LoginFailure, deps.Metrics.LoginFailure, deps.Errors.InvalidCredentials, "empty_credentials")
	}

	account, err := deps.LookupAccount(ctx, email)
	if err != nil {
		if !errors.Is(err, deps.Errors.NotFound) {
			return nil, err
		}
		deps.BurnDummyHash(in.Password)
		return reject("", deps.Events.LoginFailure, deps.Metrics.LoginFailure, deps.Errors.InvalidCredentials, "account_not_found")
	}

	ok, err := deps.VerifyPassword(in.Password, account.PasswordHash)
	if err != nil || !ok {
		if err != nil {
			deps.Warn("password verification error", "account_id", account.ID, "error", err)
		}
		return reject(account.ID, deps.Events.LoginFailure, deps.Metrics.LoginFailure, deps.Errors.InvalidCredentials, "password_mismatch")
	}

	// -------- CREDENTIALS VALID --------
	if !account.EmailVerified {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, account.ID, deps.Errors.EmailNotVerified, identifier)
		return &LoginResult{Stage: StageRejected, AccountID: account.ID}, deps.Errors.EmailNotVerified
	}

	if deps.RehashPassword != nil {
		deps.RehashPassword(ctx, account, in.Password)
	}

	result := &LoginResult{Stage: StageCredentialsValid, AccountID: account.ID}

	if account.TwoFactorEnabled {
		trusted := false
		if in.DeviceToken != "" && deps.IsDeviceTrusted != nil {
			trusted, err = deps.IsDeviceTrusted(ctx, account.ID, in.DeviceToken)
			if err != nil {
				return nil, err
			}
		}

		switch {
		case trusted:
			result.TrustedDevice = true
			deps.MetricInc(deps.Metrics.TrustedDeviceBypass)
			deps.EmitAudit(ctx, deps.Events.TrustedDeviceBypass, true, account.ID, nil, nil)

		case strings.TrimSpace(in.Code) == "":
			// -------- TWO FACTOR REQUIRED --------
			deps.MetricInc(deps.Metrics.TwoFactorRequired)
			deps.EmitAudit(ctx, deps.Events.TwoFactorRequired, true, account.ID, nil, nil)
			result.Stage = StageTwoFactorRequired
			return result, nil

		default:
			passed, err := verifySecondFactor(ctx, account, in.Code, result, deps)
			if err != nil {
				return nil, err
			}
			if !passed {
				return reject(account.ID, deps.Events.TwoFactorFailure, deps.Metrics.TwoFactorFailure, deps.Errors.Invalid2FACode, "code_mismatch")
			}

			if in.RememberDevice && deps.RememberDevice != nil {
				token, expiresAt, err := deps.RememberDevice(ctx, account.ID)
				if err != nil {
					return nil, err
				}
				result.DeviceToken = token
				result.DeviceExpiresAt = expiresAt
				deps.EmitAudit(ctx, deps.Events.DeviceRemembered, true, account.ID, nil, func() map[string]string {
					return map[string]string{"expires_at": expiresAt.UTC().Format(time.RFC3339)}
				})
			}
		}
	}

	// -------- AUTHENTICATED --------
	access, refresh, err := deps.IssueTokens(ctx, account)
	if err != nil {
		return nil, err
	}
	result.AccessToken = access
	result.RefreshToken = refresh
	result.Stage = StageAuthenticated

	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, email); err != nil {
			deps.Warn("login throttle reset failed", "account_id", account.ID, "error", err)
		}
	}
	if deps.RecordLoginAt != nil {
		deps.RecordLoginAt(ctx, account.ID, deps.Now())
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, account.ID, nil, func() map[string]string {
		return map[string]string{
			"trusted_device":   strconv.FormatBool(result.TrustedDevice),
			"used_backup_code": strconv.FormatBool(result.UsedBackupCode),
		}
	})

	return result, nil
}

// verifySecondFactor tries the code as TOTP first and then as a backup code.
// A consumed backup code is already removed from storage when this returns
// true.
func verifySecondFactor(ctx context.Context, account LoginAccount, code string, result *LoginResult, deps LoginDeps) (bool, error) {
	ok, err := deps.VerifyTOTP(ctx, account, code)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	remaining, ok, err := deps.RedeemBackupCode(ctx, account.ID, code)
	if err != nil {
		if deps.Errors.Contended != nil && errors.Is(err, deps.Errors.Contended) {
			deps.MetricInc(deps.Metrics.BackupCodeContended)
			return false, nil
		}
		return false, err
	}
	if !ok {
		return false, nil
	}

	result.UsedBackupCode = true
	result.BackupCodesRemaining = remaining
	deps.MetricInc(deps.Metrics.BackupCodeUsed)
	deps.EmitAudit(ctx, deps.Events.BackupCodeUsed, true, account.ID, nil, func() map[string]string {
		return map[string]string{"remaining": strconv.Itoa(remaining)}
	})
	return true, nil
}
