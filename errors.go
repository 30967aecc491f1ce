package tierauth

import (
	"errors"

	"github.com/MrEthical07/tierauth/codec"
	"github.com/MrEthical07/tierauth/jwt"
	"github.com/MrEthical07/tierauth/password"
	"github.com/MrEthical07/tierauth/policy"
)

var (
	// ErrInvalidCredentials is returned for any unknown email or wrong
	// password. The two cases are indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotVerified blocks login until the verification link is used.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrInvalid2FACode covers both a wrong TOTP code and an unknown backup code.
	ErrInvalid2FACode = errors.New("invalid two-factor code")
	// ErrInvalidToken is shared with the jwt package so callers can match
	// either.
	ErrInvalidToken = jwt.ErrInvalidToken
	// ErrGuestAccessExpired is returned when a GUEST's window has closed.
	ErrGuestAccessExpired = policy.ErrGuestAccessExpired
	// ErrNoActiveSubscription is returned when a non-guest holds no single
	// ACTIVE subscription.
	ErrNoActiveSubscription = policy.ErrNoActiveSubscription
	// ErrAlgorithmNotInPlan is returned when the caller's tier does not
	// unlock the requested algorithm.
	ErrAlgorithmNotInPlan = policy.ErrAlgorithmNotInPlan
	// ErrUnknownAlgorithm is returned for names outside the registry.
	ErrUnknownAlgorithm = policy.ErrUnknownAlgorithm
	ErrInsufficientRole = errors.New("insufficient role")
	// ErrDuplicateResource is shared by account, subscription and API key
	// collisions. Registration uses it for both email and username.
	ErrDuplicateResource = errors.New("resource already exists")
	ErrNotFound          = errors.New("not found")
	// ErrCrypto is the codec's decrypt failure.
	ErrCrypto       = codec.ErrCrypto
	ErrInvalidInput = errors.New("invalid input")
	// ErrPasswordPolicy is the registration strength check failure.
	ErrPasswordPolicy = password.ErrPolicy
	ErrRateLimited    = errors.New("rate limited")
	// ErrBackendUnavailable wraps store, redis and timeout failures. It is
	// the only retryable error besides ErrRateLimited.
	ErrBackendUnavailable = errors.New("backend unavailable")

	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrTwoFactorNotConfigured  = errors.New("two-factor authentication not set up")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication not enabled")
	ErrAPIKeyRevoked           = errors.New("api key revoked")
	ErrAPIKeyExpired           = errors.New("api key expired")
	ErrLastOwner               = errors.New("cannot remove the last owner")
	ErrSelfManagement          = errors.New("cannot change or delete own account")
	ErrServiceUnavailable      = errors.New("service not available")
	ErrSubscriptionNotActive   = errors.New("subscription not active")
	ErrNotGuest                = errors.New("account is not a guest")
	// ErrEngineNotReady is returned by methods called on a nil or closed
	// Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Reason is a stable, enumerable code for an error, safe to show to callers.
type Reason string

const (
	ReasonInvalidCredentials    Reason = "invalid_credentials"
	ReasonEmailNotVerified      Reason = "email_not_verified"
	ReasonInvalid2FACode        Reason = "invalid_2fa_code"
	ReasonInvalidToken          Reason = "invalid_or_expired_token"
	ReasonGuestAccessExpired    Reason = "guest_access_expired"
	ReasonNoActiveSubscription  Reason = "no_active_subscription"
	ReasonAlgorithmNotInPlan    Reason = "algorithm_not_in_plan"
	ReasonUnknownAlgorithm      Reason = "unknown_algorithm"
	ReasonInsufficientRole      Reason = "insufficient_role"
	ReasonDuplicateResource     Reason = "duplicate_resource"
	ReasonNotFound              Reason = "not_found"
	ReasonCrypto                Reason = "crypto_error"
	ReasonInvalidInput          Reason = "invalid_input"
	ReasonPasswordPolicy        Reason = "password_policy"
	ReasonRateLimited           Reason = "rate_limited"
	ReasonBackendUnavailable    Reason = "backend_unavailable"
	ReasonTwoFactorState        Reason = "two_factor_state"
	ReasonAPIKeyRevoked         Reason = "api_key_revoked"
	ReasonAPIKeyExpired         Reason = "api_key_expired"
	ReasonLastOwner             Reason = "last_owner"
	ReasonSelfManagement        Reason = "self_management"
	ReasonServiceUnavailable    Reason = "service_unavailable"
	ReasonSubscriptionNotActive Reason = "subscription_not_active"
	ReasonNotGuest              Reason = "not_guest"
	ReasonInternal              Reason = "internal_error"
)

var reasonTable = []struct {
	err    error
	reason Reason
}{
	// first match wins; backend failures take precedence
	{ErrBackendUnavailable, ReasonBackendUnavailable},
	{ErrRateLimited, ReasonRateLimited},
	{ErrInvalidCredentials, ReasonInvalidCredentials},
	{ErrEmailNotVerified, ReasonEmailNotVerified},
	{ErrInvalid2FACode, ReasonInvalid2FACode},
	{ErrInvalidToken, ReasonInvalidToken},
	{ErrGuestAccessExpired, ReasonGuestAccessExpired},
	{ErrNoActiveSubscription, ReasonNoActiveSubscription},
	{ErrAlgorithmNotInPlan, ReasonAlgorithmNotInPlan},
	{ErrUnknownAlgorithm, ReasonUnknownAlgorithm},
	{ErrInsufficientRole, ReasonInsufficientRole},
	{ErrDuplicateResource, ReasonDuplicateResource},
	{ErrNotFound, ReasonNotFound},
	{ErrCrypto, ReasonCrypto},
	{ErrPasswordPolicy, ReasonPasswordPolicy},
	{ErrInvalidInput, ReasonInvalidInput},
	{ErrTwoFactorAlreadyEnabled, ReasonTwoFactorState},
	{ErrTwoFactorNotConfigured, ReasonTwoFactorState},
	{ErrTwoFactorNotEnabled, ReasonTwoFactorState},
	{ErrAPIKeyRevoked, ReasonAPIKeyRevoked},
	{ErrAPIKeyExpired, ReasonAPIKeyExpired},
	{ErrLastOwner, ReasonLastOwner},
	{ErrSelfManagement, ReasonSelfManagement},
	{ErrServiceUnavailable, ReasonServiceUnavailable},
	{ErrSubscriptionNotActive, ReasonSubscriptionNotActive},
	{ErrNotGuest, ReasonNotGuest},
}

// ReasonOf maps err to its stable reason code. Nil maps to "", anything
// unrecognised to ReasonInternal.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	for _, row := range reasonTable {
		if errors.Is(err, row.err) {
			return row.reason
		}
	}
	return ReasonInternal
}

// IsRetryable reports whether err is an infrastructure or throttling
// failure the caller may retry. Policy failures are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrRateLimited)
}
