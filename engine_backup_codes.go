package tierauth

import (
	"context"
	"strconv"

	"github.com/MrEthical07/tierauth/internal/backupcodes"
)

// GenerateBackupCodes replaces the account's recovery codes with a fresh set
// and returns them in display form. The current password is required and 2FA
// must already be enabled. Previously issued codes stop working immediately.
func (e *Engine) GenerateBackupCodes(ctx context.Context, accountID, password string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := e.checkPassword(account, password); err != nil {
		return nil, err
	}
	if !account.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	codes, hashes, err := e.newBackupCodes()
	if err != nil {
		return nil, err
	}
	if _, err := e.updateAccount(ctx, account.ID, AccountUpdate{BackupCodes: Assign(hashes)}); err != nil {
		return nil, err
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, account.ID, account.ID, nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})
	return codes, nil
}

// BackupCodeStatus reports how many unused recovery codes the account holds.
func (e *Engine) BackupCodeStatus(ctx context.Context, accountID string) (BackupCodeStatus, error) {
	if err := e.ready(); err != nil {
		return BackupCodeStatus{}, err
	}
	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return BackupCodeStatus{}, err
	}
	if !account.TwoFactorEnabled {
		return BackupCodeStatus{}, ErrTwoFactorNotEnabled
	}
	return BackupCodeStatus{
		Remaining:  len(account.BackupCodes),
		RunningLow: backupcodes.IsRunningLow(account.BackupCodes, e.config.BackupCodes.LowThreshold),
	}, nil
}

// newBackupCodes returns display codes and their stored digests.
func (e *Engine) newBackupCodes() ([]string, []string, error) {
	codes, err := backupcodes.Generate(e.config.BackupCodes.Count, e.config.BackupCodes.Length, nil)
	if err != nil {
		return nil, nil, err
	}
	return codes, backupcodes.HashAll(codes), nil
}

// redeemBackupCode consumes code from the stored set with compare-and-swap.
// Of two concurrent redemptions of the same code exactly one succeeds.
func (e *Engine) redeemBackupCode(ctx context.Context, accountID, code string) ([]string, bool, error) {
	return backupcodes.Redeem(ctx, code, backupcodes.RedeemDeps{
		Load: func(ctx context.Context) ([]string, error) {
			account, err := e.loadAccount(ctx, accountID)
			if err != nil {
				return nil, err
			}
			return account.BackupCodes, nil
		},
		Swap: func(ctx context.Context, expected, next []string) (bool, error) {
			sctx, cancel := e.storeCtx(ctx)
			defer cancel()
			swapped, err := e.stores.Accounts.ReplaceBackupCodes(sctx, accountID, expected, next)
			return swapped, e.storeErr("account.replace_backup_codes", err)
		},
	})
}

// checkPassword verifies password against the account's stored hash.
func (e *Engine) checkPassword(account Account, password string) error {
	ok, err := e.hasher.Compare(password, account.PasswordHash)
	if err != nil {
		e.logger.Warn("password verification error", "account_id", account.ID, "error", err)
		return ErrInvalidCredentials
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}
