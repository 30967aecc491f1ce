package tierauth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func loginReq(a Account) LoginRequest {
	return LoginRequest{Email: a.Email, Password: testPassword}
}

// wrongTOTPCode returns a well-formed code that matches no step inside the
// skew window.
func wrongTOTPCode(t *testing.T, env *testEnv, secret string) string {
	t.Helper()
	valid := map[string]bool{}
	period := env.engine.config.TOTP.Period
	for step := -1; step <= 1; step++ {
		code, err := env.engine.totp.codeAt(secret, env.clock.Now().Add(time.Duration(step*period)*time.Second))
		if err != nil {
			t.Fatalf("codeAt failed: %v", err)
		}
		valid[code] = true
	}
	for i := 0; ; i++ {
		candidate := fmt.Sprintf("%06d", i)
		if !valid[candidate] {
			return candidate
		}
	}
}

func TestLoginWithoutTwoFactorIssuesTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "alice", RoleGuest)

	res, err := env.engine.Login(ctx, LoginRequest{Email: "  ALICE@example.com ", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.RequiresTwoFactor || res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", res)
	}
	if res.Profile.LastLoginAt == nil || !res.Profile.LastLoginAt.Equal(env.clock.Now()) {
		t.Fatalf("expected last login stamped at %v, got %v", env.clock.Now(), res.Profile.LastLoginAt)
	}
	if stored := env.account(t, acct.ID); stored.LastLoginAt == nil {
		t.Fatal("expected last login persisted")
	}

	p, err := env.engine.Authenticate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if p.AccountID != acct.ID || p.Role != RoleGuest {
		t.Fatalf("unexpected principal %+v", p)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("expected one login success, got %d", got)
	}
}

func TestLoginRejectionsAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "bob", RoleSubscribedUser)

	tests := []struct {
		name string
		req  LoginRequest
	}{
		{name: "wrong password", req: LoginRequest{Email: acct.Email, Password: "Wrong-Horse-9"}},
		{name: "unknown email", req: LoginRequest{Email: "nobody@example.com", Password: testPassword}},
		{name: "empty password", req: LoginRequest{Email: acct.Email}},
		{name: "empty email", req: LoginRequest{Password: testPassword}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := env.engine.Login(ctx, tc.req)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
			if res != nil {
				t.Fatalf("expected nil result, got %+v", res)
			}
		})
	}
}

func TestLoginRequiresVerifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	profile, err := env.engine.Register(ctx, RegisterRequest{
		Username: "carol",
		Email:    "carol@example.com",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err = env.engine.Login(ctx, LoginRequest{Email: profile.Email, Password: testPassword})
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}

	env.engine.background.Wait()
	if err := env.engine.VerifyEmail(ctx, env.mailer.verificationToken(profile.Email)); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: profile.Email, Password: testPassword}); err != nil {
		t.Fatalf("Login after verification failed: %v", err)
	}
}

func TestLoginTwoFactorChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "dave", RoleSubscribedUser)
	secret, _ := env.enable2FA(t, acct.ID)

	res, err := env.engine.Login(ctx, loginReq(acct))
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res.RequiresTwoFactor || res.AccessToken != "" || res.RefreshToken != "" {
		t.Fatalf("expected a challenge without tokens, got %+v", res)
	}

	req := loginReq(acct)
	req.TwoFactorCode = wrongTOTPCode(t, env, secret)
	if _, err := env.engine.Login(ctx, req); !errors.Is(err, ErrInvalid2FACode) {
		t.Fatalf("expected ErrInvalid2FACode, got %v", err)
	}

	req.TwoFactorCode = env.totpCode(t, secret)
	res, err = env.engine.Login(ctx, req)
	if err != nil {
		t.Fatalf("Login with code failed: %v", err)
	}
	if res.RequiresTwoFactor || res.AccessToken == "" || res.UsedBackupCode {
		t.Fatalf("unexpected result %+v", res)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricTwoFactorRequired] != 1 || snap.Counters[MetricTwoFactorFailure] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestLoginBackupCodeIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "erin", RoleSubscribedUser)
	_, codes := env.enable2FA(t, acct.ID)

	req := loginReq(acct)
	req.TwoFactorCode = codes[0]
	res, err := env.engine.Login(ctx, req)
	if err != nil {
		t.Fatalf("Login with backup code failed: %v", err)
	}
	if !res.UsedBackupCode || res.BackupCodesRemaining != len(codes)-1 || res.BackupCodesLow {
		t.Fatalf("unexpected backup code result %+v", res)
	}

	if _, err := env.engine.Login(ctx, req); !errors.Is(err, ErrInvalid2FACode) {
		t.Fatalf("expected reused backup code rejected, got %v", err)
	}

	status, err := env.engine.BackupCodeStatus(ctx, acct.ID)
	if err != nil {
		t.Fatalf("BackupCodeStatus failed: %v", err)
	}
	if status.Remaining != len(codes)-1 {
		t.Fatalf("expected %d remaining, got %d", len(codes)-1, status.Remaining)
	}
}

func TestLoginTrustedDeviceSkipsChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "frank", RoleSubscribedUser)
	secret, _ := env.enable2FA(t, acct.ID)

	req := loginReq(acct)
	req.TwoFactorCode = env.totpCode(t, secret)
	req.RememberDevice = true
	res, err := env.engine.Login(ctx, req)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.DeviceToken == "" {
		t.Fatal("expected a device token")
	}
	wantExpiry := env.clock.Now().Add(env.engine.config.DeviceTrust.TTL)
	if !res.DeviceExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected device expiry %v, got %v", wantExpiry, res.DeviceExpiresAt)
	}

	trusted := loginReq(acct)
	trusted.DeviceToken = res.DeviceToken
	res2, err := env.engine.Login(ctx, trusted)
	if err != nil {
		t.Fatalf("trusted login failed: %v", err)
	}
	if res2.RequiresTwoFactor || res2.AccessToken == "" {
		t.Fatalf("expected trusted device to skip the challenge, got %+v", res2)
	}

	other := loginReq(acct)
	other.DeviceToken = "not-a-real-device-token"
	if res3, err := env.engine.Login(ctx, other); err != nil || !res3.RequiresTwoFactor {
		t.Fatalf("expected unknown device challenged, got %+v err=%v", res3, err)
	}

	if n, err := env.engine.RevokeTrustedDevices(ctx, acct.ID); err != nil || n != 1 {
		t.Fatalf("expected one device revoked, got %d err=%v", n, err)
	}
	if res4, err := env.engine.Login(ctx, trusted); err != nil || !res4.RequiresTwoFactor {
		t.Fatalf("expected revoked device challenged, got %+v err=%v", res4, err)
	}
}

func TestLoginTrustedDeviceExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "grace", RoleSubscribedUser)
	secret, _ := env.enable2FA(t, acct.ID)

	req := loginReq(acct)
	req.TwoFactorCode = env.totpCode(t, secret)
	req.RememberDevice = true
	res, err := env.engine.Login(ctx, req)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	env.clock.Advance(env.engine.config.DeviceTrust.TTL)
	trusted := loginReq(acct)
	trusted.DeviceToken = res.DeviceToken
	res2, err := env.engine.Login(ctx, trusted)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res2.RequiresTwoFactor {
		t.Fatal("expected expired device to be challenged")
	}
}

func TestLoginThrottle(t *testing.T) {
	env := newTestEnv(t, withRedis(), withConfig(func(c *Config) {
		c.Security.MaxLoginAttempts = 3
	}))
	ctx := context.Background()
	acct := env.createAccount(t, "heidi", RoleGuest)

	bad := LoginRequest{Email: acct.Email, Password: "Wrong-Horse-9"}
	for i := 0; i < 3; i++ {
		if _, err := env.engine.Login(ctx, bad); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if n, err := env.engine.FailedLoginAttempts(ctx, acct.Email); err != nil || n != 3 {
		t.Fatalf("expected 3 failed attempts, got %d err=%v", n, err)
	}

	if _, err := env.engine.Login(ctx, loginReq(acct)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited for correct password while throttled, got %v", err)
	}
	if !IsRetryable(ErrRateLimited) {
		t.Fatal("expected rate limiting to be retryable")
	}

	env.redis.FastForward(env.engine.config.Security.LoginCooldown)
	if _, err := env.engine.Login(ctx, loginReq(acct)); err != nil {
		t.Fatalf("expected login after cooldown, got %v", err)
	}
	if n, _ := env.engine.FailedLoginAttempts(ctx, acct.Email); n != 0 {
		t.Fatalf("expected counter reset on success, got %d", n)
	}
}

func TestLoginThrottleIgnoresUnverifiedEmail(t *testing.T) {
	env := newTestEnv(t, withRedis())
	ctx := context.Background()
	acct := env.createAccount(t, "ivan", RoleGuest)
	if _, err := env.stores.Accounts.Update(ctx, acct.ID, AccountUpdate{EmailVerified: Assign(false)}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if _, err := env.engine.Login(ctx, loginReq(acct)); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
	if n, _ := env.engine.FailedLoginAttempts(ctx, acct.Email); n != 0 {
		t.Fatalf("expected unverified login not counted, got %d", n)
	}
}

func TestLoginFailsClosedWhenRedisIsDown(t *testing.T) {
	env := newTestEnv(t, withRedis())
	acct := env.createAccount(t, "judy", RoleGuest)
	env.redis.Close()

	_, err := env.engine.Login(context.Background(), loginReq(acct))
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "ken", RoleGuest)

	res, err := env.engine.Login(ctx, loginReq(acct))
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := env.engine.Refresh(ctx, res.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected access token rejected as refresh token, got %v", err)
	}

	env.subscribe(t, acct.ID, "Pro Plan")
	pair, err := env.engine.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	p, err := env.engine.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if p.Role != RoleSubscribedUser {
		t.Fatalf("expected refreshed principal to carry the current role, got %v", p.Role)
	}

	if err := env.stores.Accounts.Delete(ctx, acct.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for a deleted account, got %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for a deleted account, got %v", err)
	}
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Authenticate(context.Background(), "not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
