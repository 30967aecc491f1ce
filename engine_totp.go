package tierauth

import (
	"context"
	"fmt"
	"strconv"
)

// Setup2FA starts enrollment: it generates a secret, stores it encrypted
// with 2FA still disabled, and returns the provisioning URI and QR code.
// Calling it again before Enable2FA replaces the pending secret.
func (e *Engine) Setup2FA(ctx context.Context, accountID string) (*TwoFactorSetup, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	encrypted, err := e.codec.Encrypt(secret)
	if err != nil {
		return nil, err
	}
	uri := e.totp.ProvisionURI(secret, account.Email)
	png, dataURL, err := e.totp.QRCode(uri)
	if err != nil {
		return nil, err
	}

	if _, err := e.updateAccount(ctx, account.ID, AccountUpdate{TwoFactorSecret: Assign(encrypted)}); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTwoFactorSetup, true, account.ID, account.ID, nil, nil)
	return &TwoFactorSetup{
		Secret:        secret,
		URI:           uri,
		QRCodePNG:     png,
		QRCodeDataURL: dataURL,
	}, nil
}

// Enable2FA confirms enrollment with a code from the authenticator. On
// success the flag and a fresh backup-code set are written in one update and
// the display codes are returned once.
func (e *Engine) Enable2FA(ctx context.Context, accountID, code string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if account.TwoFactorSecret == "" {
		return nil, ErrTwoFactorNotConfigured
	}

	ok, err := e.verifyAccountTOTP(account, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, account.ID, account.ID, ErrInvalid2FACode, func() map[string]string {
			return map[string]string{"stage": "enable"}
		})
		return nil, ErrInvalid2FACode
	}

	codes, hashes, err := e.newBackupCodes()
	if err != nil {
		return nil, err
	}
	if _, err := e.updateAccount(ctx, account.ID, AccountUpdate{
		TwoFactorEnabled: Assign(true),
		BackupCodes:      Assign(hashes),
	}); err != nil {
		return nil, err
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, account.ID, account.ID, nil, func() map[string]string {
		return map[string]string{"backup_codes": strconv.Itoa(len(codes))}
	})

	email, username := account.Email, account.Username
	e.goBackground(ctx, "mail.two_factor_enabled", account.ID, func(ctx context.Context) error {
		return e.mailer.Send2FAEnabledEmail(ctx, email, username)
	})

	return codes, nil
}

// Disable2FA turns two-factor authentication off. Both the password and a
// current TOTP code are required. The secret and backup codes are cleared and
// every trusted device is forgotten.
func (e *Engine) Disable2FA(ctx context.Context, accountID, password, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	if err := e.checkPassword(account, password); err != nil {
		return err
	}

	ok, err := e.verifyAccountTOTP(account, code)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, account.ID, account.ID, ErrInvalid2FACode, func() map[string]string {
			return map[string]string{"stage": "disable"}
		})
		return ErrInvalid2FACode
	}

	if _, err := e.updateAccount(ctx, account.ID, AccountUpdate{
		TwoFactorEnabled: Assign(false),
		TwoFactorSecret:  Assign(""),
		BackupCodes:      Assign[[]string](nil),
	}); err != nil {
		return err
	}

	revoked, err := e.revokeDevices(ctx, account.ID)
	if err != nil {
		return err
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, account.ID, account.ID, nil, func() map[string]string {
		return map[string]string{"devices_revoked": strconv.Itoa(revoked)}
	})
	return nil
}

// verifyAccountTOTP checks code against the account's stored secret.
func (e *Engine) verifyAccountTOTP(account Account, code string) (bool, error) {
	secret, err := e.codec.Decrypt(account.TwoFactorSecret)
	if err != nil {
		return false, fmt.Errorf("decrypt totp secret: %w", err)
	}
	return e.totp.VerifyCode(secret, code, e.now()), nil
}
