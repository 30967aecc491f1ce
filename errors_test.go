package tierauth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrEthical07/tierauth/algorithm"
)

func TestReasonOf(t *testing.T) {
	tests := []struct {
		err  error
		want Reason
	}{
		{nil, ""},
		{ErrInvalidCredentials, ReasonInvalidCredentials},
		{fmt.Errorf("wrapped: %w", ErrInvalid2FACode), ReasonInvalid2FACode},
		{errAccountExists, ReasonDuplicateResource},
		{fmt.Errorf("%w: store down", ErrBackendUnavailable), ReasonBackendUnavailable},
		{ErrTwoFactorNotConfigured, ReasonTwoFactorState},
		{ErrGuestAccessExpired, ReasonGuestAccessExpired},
		{algorithmErr(fmt.Errorf("%w: empty", algorithm.ErrInvalidInput)), ReasonInvalidInput},
		{errors.New("something else"), ReasonInternal},
	}
	for _, tc := range tests {
		if got := ReasonOf(tc.err); got != tc.want {
			t.Fatalf("ReasonOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []error{ErrRateLimited, fmt.Errorf("%w: timeout", ErrBackendUnavailable)}
	for _, err := range retryable {
		if !IsRetryable(err) {
			t.Fatalf("expected %v retryable", err)
		}
	}
	permanent := []error{nil, ErrInvalidCredentials, ErrInsufficientRole, ErrDuplicateResource, ErrNotFound}
	for _, err := range permanent {
		if IsRetryable(err) {
			t.Fatalf("expected %v not retryable", err)
		}
	}
}

func TestStoreFailureIsBackendUnavailable(t *testing.T) {
	var failing *failingAccounts
	env := newTestEnv(t, withStoreWrapper(func(s Stores) Stores {
		failing = &failingAccounts{AccountStore: s.Accounts}
		s.Accounts = failing
		return s
	}))
	ctx := context.Background()
	acct := env.createAccount(t, "alice", RoleGuest)

	failing.arm(errors.New("connection reset"))

	if _, err := env.engine.Login(ctx, loginReq(acct)); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected login to fail closed, got %v", err)
	}
	if _, err := env.engine.ExecuteAlgorithm(ctx, acct.ID, "dataAnalysis", []byte(`{"numbers":[1]}`)); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected execution to fail closed, got %v", err)
	}
	if _, err := env.engine.GetProfile(ctx, acct.ID); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricBackendUnavailable]; got < 3 {
		t.Fatalf("expected backend failures counted, got %d", got)
	}

	failing.arm(nil)
	if _, err := env.engine.GetProfile(ctx, acct.ID); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}

func TestClosedEngineIsNotReady(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Close()
	env.engine.Close()

	if _, err := env.engine.Login(context.Background(), LoginRequest{Email: "a@example.com", Password: testPassword}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	var nilEngine *Engine
	if _, err := nilEngine.GetProfile(context.Background(), "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady on nil engine, got %v", err)
	}
}
