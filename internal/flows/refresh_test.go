package flows

import (
	"context"
	"errors"
	"testing"
)

func refreshDeps(accounts map[string]RefreshAccount) RefreshDeps {
	return RefreshDeps{
		VerifyRefresh: func(token string) (string, error) {
			if len(token) < 3 || token[:3] != "rt-" {
				return "", errors.New("malformed token")
			}
			return token[3:], nil
		},
		LoadAccount: func(_ context.Context, id string) (RefreshAccount, error) {
			if id == "broken" {
				return RefreshAccount{}, errors.New("db down")
			}
			a, ok := accounts[id]
			if !ok {
				return RefreshAccount{}, errMissing
			}
			return a, nil
		},
		IssueTokens: func(_ context.Context, a RefreshAccount) (string, string, error) {
			return "access-" + a.ID, "rt-" + a.ID, nil
		},
		NotFound: errMissing,
	}
}

func TestRunRefresh(t *testing.T) {
	deps := refreshDeps(map[string]RefreshAccount{
		"u1": {ID: "u1", EmailVerified: true},
		"u2": {ID: "u2"},
	})

	tests := []struct {
		name  string
		token string
		want  RefreshFailureKind
	}{
		{name: "ok", token: "rt-u1", want: RefreshFailureNone},
		{name: "garbage", token: "xx", want: RefreshFailureDecode},
		{name: "deleted account", token: "rt-gone", want: RefreshFailureAccountMissing},
		{name: "unverified", token: "rt-u2", want: RefreshFailureUnverified},
		{name: "store failure", token: "rt-broken", want: RefreshFailureLoad},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := RunRefresh(context.Background(), tc.token, deps)
			if res.Failure != tc.want {
				t.Fatalf("expected failure %d, got %d (err=%v)", tc.want, res.Failure, res.Err)
			}
			if tc.want == RefreshFailureNone && (res.AccessToken != "access-u1" || res.RefreshToken != "rt-u1") {
				t.Fatalf("unexpected pair %+v", res)
			}
			if tc.want != RefreshFailureNone && res.AccessToken != "" {
				t.Fatalf("expected no token on failure, got %+v", res)
			}
		})
	}
}

func TestRunRefreshIssueFailure(t *testing.T) {
	deps := refreshDeps(map[string]RefreshAccount{"u1": {ID: "u1", EmailVerified: true}})
	boom := errors.New("signing failed")
	deps.IssueTokens = func(context.Context, RefreshAccount) (string, string, error) {
		return "", "", boom
	}
	res := RunRefresh(context.Background(), "rt-u1", deps)
	if res.Failure != RefreshFailureIssue || !errors.Is(res.Err, boom) || res.AccountID != "u1" {
		t.Fatalf("unexpected result %+v", res)
	}
}
