package flows

import (
	"context"
	"errors"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureAccountMissing
	RefreshFailureUnverified
	RefreshFailureLoad
	RefreshFailureIssue
)

// RefreshAccount is the flow-local account view used by token flows.
type RefreshAccount struct {
	ID            string
	EmailVerified bool
}

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure      RefreshFailureKind
	Err          error
	AccountID    string
	AccessToken  string
	RefreshToken string
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	// VerifyRefresh returns the account id the token was issued to.
	VerifyRefresh func(string) (string, error)
	LoadAccount   func(context.Context, string) (RefreshAccount, error)
	IssueTokens   func(context.Context, RefreshAccount) (string, string, error)
	NotFound      error
}

// RunRefresh verifies a refresh token against the current account state and
// issues a new pair. The account is reloaded so a deleted or unverified
// account cannot refresh on an old token.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	accountID, err := deps.VerifyRefresh(refreshToken)
	if err != nil {
		return RefreshResult{
			Failure: RefreshFailureDecode,
			Err:     err,
		}
	}

	account, err := deps.LoadAccount(ctx, accountID)
	if err != nil {
		kind := RefreshFailureLoad
		if deps.NotFound != nil && errors.Is(err, deps.NotFound) {
			kind = RefreshFailureAccountMissing
		}
		return RefreshResult{
			Failure:   kind,
			Err:       err,
			AccountID: accountID,
		}
	}

	if !account.EmailVerified {
		return RefreshResult{
			Failure:   RefreshFailureUnverified,
			AccountID: accountID,
		}
	}

	access, refresh, err := deps.IssueTokens(ctx, account)
	if err != nil {
		return RefreshResult{
			Failure:   RefreshFailureIssue,
			Err:       err,
			AccountID: accountID,
		}
	}

	return RefreshResult{
		Failure:      RefreshFailureNone,
		AccountID:    accountID,
		AccessToken:  access,
		RefreshToken: refresh,
	}
}
