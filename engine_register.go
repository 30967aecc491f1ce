package tierauth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/MrEthical07/tierauth/codec"
)

const (
	usernameMinLength      = 3
	usernameMaxLength      = 50
	verificationTokenBytes = 32
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// errAccountExists is returned for both email and username collisions so
// registration does not reveal which one is taken.
var errAccountExists = fmt.Errorf("%w: an account with this email or username already exists", ErrDuplicateResource)

// Register creates an unverified GUEST account with a fresh guest window and
// mails a verification token in the background.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (Profile, error) {
	if err := e.ready(); err != nil {
		return Profile{}, err
	}

	username := strings.TrimSpace(req.Username)
	email := normalizeEmail(req.Email)

	if err := validateUsername(username); err != nil {
		return Profile{}, e.registerFailed(ctx, email, err)
	}
	if err := validateEmail(email); err != nil {
		return Profile{}, e.registerFailed(ctx, email, err)
	}
	if err := e.config.Password.Policy.Validate(req.Password); err != nil {
		return Profile{}, e.registerFailed(ctx, email, err)
	}

	if err := e.ensureAvailable(ctx, email, username); err != nil {
		return Profile{}, e.registerFailed(ctx, email, err)
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return Profile{}, err
	}
	encryptedEmail, err := e.codec.Encrypt(email)
	if err != nil {
		return Profile{}, err
	}
	token, err := codec.RandomToken(verificationTokenBytes)
	if err != nil {
		return Profile{}, err
	}

	now := e.now()
	account := Account{
		ID:                   e.newID(),
		Username:             username,
		Email:                email,
		EncryptedEmail:       encryptedEmail,
		PasswordHash:         hash,
		Role:                 RoleGuest,
		VerificationToken:    codec.Hash(token),
		GuestAccessExpiresAt: e.guestExpiry(),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.stores.Accounts.Create(sctx, account); err != nil {
		if errors.Is(err, ErrDuplicateResource) {
			return Profile{}, e.registerFailed(ctx, email, errAccountExists)
		}
		return Profile{}, e.storeErr("account.create", err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, account.ID, account.ID, nil, nil)

	e.goBackground(ctx, "mail.verification", account.ID, func(ctx context.Context) error {
		return e.mailer.SendVerificationEmail(ctx, email, username, token)
	})

	return account.profile(), nil
}

// VerifyEmail marks the account holding token as verified and consumes the
// token. An unknown token is ErrInvalidToken.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	account, err := e.stores.Accounts.GetByVerificationToken(sctx, codec.Hash(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return e.storeErr("account.get_by_verification_token", err)
	}

	if _, err := e.updateAccount(ctx, account.ID, AccountUpdate{
		EmailVerified:     Assign(true),
		VerificationToken: Assign(""),
	}); err != nil {
		return err
	}

	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerified, true, account.ID, account.ID, nil, nil)
	return nil
}

// ResendVerification issues a new verification token for email. Unknown and
// already verified addresses succeed silently so the call cannot be used to
// probe for accounts.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = normalizeEmail(email)

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	account, err := e.stores.Accounts.GetByEmail(sctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return e.storeErr("account.get_by_email", err)
	}
	if account.EmailVerified {
		return nil
	}

	token, err := codec.RandomToken(verificationTokenBytes)
	if err != nil {
		return err
	}
	if _, err := e.updateAccount(ctx, account.ID, AccountUpdate{VerificationToken: Assign(codec.Hash(token))}); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventVerificationResent, true, account.ID, account.ID, nil, nil)

	username := account.Username
	e.goBackground(ctx, "mail.verification", account.ID, func(ctx context.Context) error {
		return e.mailer.SendVerificationEmail(ctx, email, username, token)
	})
	return nil
}

func (e *Engine) ensureAvailable(ctx context.Context, email, username string) error {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	if _, err := e.stores.Accounts.GetByEmail(sctx, email); err == nil {
		return errAccountExists
	} else if !errors.Is(err, ErrNotFound) {
		return e.storeErr("account.get_by_email", err)
	}

	if _, err := e.stores.Accounts.GetByUsername(sctx, username); err == nil {
		return errAccountExists
	} else if !errors.Is(err, ErrNotFound) {
		return e.storeErr("account.get_by_username", err)
	}
	return nil
}

func (e *Engine) registerFailed(ctx context.Context, email string, err error) error {
	if errors.Is(err, ErrDuplicateResource) {
		e.metricInc(MetricRegisterDuplicate)
	}
	e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, func() map[string]string {
		return map[string]string{"email": email}
	})
	return err
}

func validateUsername(username string) error {
	n := len(username)
	if n < usernameMinLength || n > usernameMaxLength || !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must be %d-%d letters, digits or underscores", ErrInvalidInput, usernameMinLength, usernameMaxLength)
	}
	return nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return nil
}
