package internaldefs

import (
	"github.com/MrEthical07/tierauth"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   tierauth.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine latency histogram to its exported name.
type HistogramDef struct {
	ID   tierauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events dropped under backpressure.
const AuditDroppedName = "tierauth_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: tierauth.MetricRegisterSuccess, Name: "tierauth_register_success_total", Help: "Successful registrations."},
	{ID: tierauth.MetricRegisterDuplicate, Name: "tierauth_register_duplicate_total", Help: "Registrations rejected as duplicate username or email."},
	{ID: tierauth.MetricEmailVerified, Name: "tierauth_email_verified_total", Help: "Completed email verifications."},
	{ID: tierauth.MetricLoginSuccess, Name: "tierauth_login_success_total", Help: "Successful logins."},
	{ID: tierauth.MetricLoginFailure, Name: "tierauth_login_failure_total", Help: "Failed logins."},
	{ID: tierauth.MetricLoginRateLimited, Name: "tierauth_login_rate_limited_total", Help: "Logins refused by the failure throttle."},
	{ID: tierauth.MetricTwoFactorRequired, Name: "tierauth_two_factor_required_total", Help: "Logins that stopped to ask for a second factor."},
	{ID: tierauth.MetricTwoFactorFailure, Name: "tierauth_two_factor_failure_total", Help: "Rejected TOTP or backup codes."},
	{ID: tierauth.MetricTrustedDeviceBypass, Name: "tierauth_trusted_device_bypass_total", Help: "Logins that skipped the second factor on a trusted device."},
	{ID: tierauth.MetricBackupCodeUsed, Name: "tierauth_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: tierauth.MetricBackupCodeContended, Name: "tierauth_backup_code_contended_total", Help: "Backup code redemptions lost to a concurrent update."},
	{ID: tierauth.MetricRefreshSuccess, Name: "tierauth_refresh_success_total", Help: "Successful token refreshes."},
	{ID: tierauth.MetricRefreshFailure, Name: "tierauth_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: tierauth.MetricTokenRejected, Name: "tierauth_token_rejected_total", Help: "Access tokens rejected during authentication."},
	{ID: tierauth.MetricTwoFactorEnabled, Name: "tierauth_two_factor_enabled_total", Help: "Two-factor enrollments completed."},
	{ID: tierauth.MetricTwoFactorDisabled, Name: "tierauth_two_factor_disabled_total", Help: "Two-factor disables."},
	{ID: tierauth.MetricBackupCodesRegenerated, Name: "tierauth_backup_codes_regenerated_total", Help: "Backup code set regenerations."},
	{ID: tierauth.MetricAPIKeyCreated, Name: "tierauth_api_key_created_total", Help: "API keys created."},
	{ID: tierauth.MetricAPIKeyRevoked, Name: "tierauth_api_key_revoked_total", Help: "API keys revoked."},
	{ID: tierauth.MetricAPIKeyAuthFailure, Name: "tierauth_api_key_auth_failure_total", Help: "Requests rejected for an unknown, revoked, or expired API key."},
	{ID: tierauth.MetricAlgorithmExecuted, Name: "tierauth_algorithm_executed_total", Help: "Algorithm executions allowed."},
	{ID: tierauth.MetricAlgorithmDenied, Name: "tierauth_algorithm_denied_total", Help: "Algorithm executions denied by tier policy."},
	{ID: tierauth.MetricTierBudgetExceeded, Name: "tierauth_tier_budget_exceeded_total", Help: "Executions refused because the tier budget was spent."},
	{ID: tierauth.MetricSubscriptionCreated, Name: "tierauth_subscription_created_total", Help: "Subscriptions started."},
	{ID: tierauth.MetricSubscriptionConflict, Name: "tierauth_subscription_conflict_total", Help: "Subscriptions refused because one is already active."},
	{ID: tierauth.MetricSubscriptionCancelled, Name: "tierauth_subscription_cancelled_total", Help: "Subscriptions cancelled."},
	{ID: tierauth.MetricRoleChanged, Name: "tierauth_role_changed_total", Help: "Role changes applied."},
	{ID: tierauth.MetricAccountDeleted, Name: "tierauth_account_deleted_total", Help: "Accounts deleted."},
	{ID: tierauth.MetricSideEffectFailure, Name: "tierauth_side_effect_failure_total", Help: "Best-effort side effects that failed, such as mail delivery."},
	{ID: tierauth.MetricBackendUnavailable, Name: "tierauth_backend_unavailable_total", Help: "Operations failed by an unavailable store or limiter."},
}

var HistogramDefs = []HistogramDef{
	{ID: tierauth.MetricLoginLatency, Name: "tierauth_login_latency_seconds", Help: "Login latency histogram."},
	{ID: tierauth.MetricAlgorithmLatency, Name: "tierauth_algorithm_latency_seconds", Help: "Algorithm execution latency histogram."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's
// fixed latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names each bucket in instrument names that cannot
// carry labels.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
