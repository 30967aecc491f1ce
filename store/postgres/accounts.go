package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/tierauth"
	"github.com/MrEthical07/tierauth/policy"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, username, email, encrypted_email, password_hash, role, email_verified,
	verification_token, two_factor_enabled, two_factor_secret, backup_codes,
	guest_access_expires_at, last_login_at, created_at, updated_at`

// Accounts implements tierauth.AccountStore.
type Accounts struct {
	db querier
}

var _ tierauth.AccountStore = (*Accounts)(nil)

func scanAccount(row pgx.Row) (tierauth.Account, error) {
	var (
		a                 tierauth.Account
		role              string
		verificationToken *string
	)
	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.EncryptedEmail, &a.PasswordHash, &role, &a.EmailVerified,
		&verificationToken, &a.TwoFactorEnabled, &a.TwoFactorSecret, &a.BackupCodes,
		&a.GuestAccessExpiresAt, &a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return tierauth.Account{}, mapErr(err)
	}
	if a.Role, err = policy.ParseRole(role); err != nil {
		return tierauth.Account{}, fmt.Errorf("account %s: %w", a.ID, err)
	}
	a.VerificationToken = derefString(verificationToken)
	return a, nil
}

func (r *Accounts) getBy(ctx context.Context, column, value string) (tierauth.Account, error) {
	return scanAccount(r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+column+` = $1`, value))
}

func (r *Accounts) GetByID(ctx context.Context, id string) (tierauth.Account, error) {
	return r.getBy(ctx, "id", id)
}

func (r *Accounts) GetByEmail(ctx context.Context, email string) (tierauth.Account, error) {
	return r.getBy(ctx, "email", email)
}

func (r *Accounts) GetByUsername(ctx context.Context, username string) (tierauth.Account, error) {
	return r.getBy(ctx, "username", username)
}

func (r *Accounts) GetByVerificationToken(ctx context.Context, tokenHash string) (tierauth.Account, error) {
	if tokenHash == "" {
		return tierauth.Account{}, tierauth.ErrNotFound
	}
	return r.getBy(ctx, "verification_token", tokenHash)
}

func (r *Accounts) Create(ctx context.Context, a tierauth.Account) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.Username, a.Email, a.EncryptedEmail, a.PasswordHash, a.Role.String(), a.EmailVerified,
		nullString(a.VerificationToken), a.TwoFactorEnabled, a.TwoFactorSecret, a.BackupCodes,
		a.GuestAccessExpiresAt, a.LastLoginAt, a.CreatedAt, a.UpdatedAt,
	)
	return mapErr(err)
}

// Update writes the assigned fields and bumps updated_at in one statement.
// A role change away from OWNER runs behind lockOwners.
func (r *Accounts) Update(ctx context.Context, id string, u tierauth.AccountUpdate) (tierauth.Account, error) {
	if !u.Role.Set || u.Role.Value == tierauth.RoleOwner {
		return updateAccount(ctx, r.db, id, u)
	}

	var out tierauth.Account
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockOwners(ctx, tx, id); err != nil {
			return err
		}
		var err error
		out, err = updateAccount(ctx, tx, id, u)
		return err
	})
	if err != nil {
		return tierauth.Account{}, err
	}
	return out, nil
}

func updateAccount(ctx context.Context, db querier, id string, u tierauth.AccountUpdate) (tierauth.Account, error) {
	var (
		sets []string
		args []any
	)
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.PasswordHash.Set {
		set("password_hash", u.PasswordHash.Value)
	}
	if u.Role.Set {
		set("role", u.Role.Value.String())
	}
	if u.EmailVerified.Set {
		set("email_verified", u.EmailVerified.Value)
	}
	if u.VerificationToken.Set {
		set("verification_token", nullString(u.VerificationToken.Value))
	}
	if u.TwoFactorEnabled.Set {
		set("two_factor_enabled", u.TwoFactorEnabled.Value)
	}
	if u.TwoFactorSecret.Set {
		set("two_factor_secret", u.TwoFactorSecret.Value)
	}
	if u.BackupCodes.Set {
		set("backup_codes", u.BackupCodes.Value)
	}
	if u.GuestAccessExpiresAt.Set {
		set("guest_access_expires_at", u.GuestAccessExpiresAt.Value)
	}
	if u.LastLoginAt.Set {
		set("last_login_at", u.LastLoginAt.Value)
	}
	set("updated_at", time.Now())
	args = append(args, id)

	return scanAccount(db.QueryRow(ctx,
		`UPDATE accounts SET `+strings.Join(sets, ", ")+
			fmt.Sprintf(` WHERE id = $%d RETURNING `, len(args))+accountColumns,
		args...))
}

// Delete removes the account. Subscriptions, API keys and trusted devices
// go with it through ON DELETE CASCADE.
func (r *Accounts) Delete(ctx context.Context, id string) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockOwners(ctx, tx, id); err != nil {
			return err
		}
		return expectRow(tx.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id))
	})
}

// lockOwners locks every OWNER row in id order and returns
// tierauth.ErrLastOwner when id is the only one left. Two transactions
// removing different owners queue on the same locks, so the second sees
// the first one's result.
func lockOwners(ctx context.Context, tx pgx.Tx, id string) error {
	rows, err := tx.Query(ctx,
		`SELECT id FROM accounts WHERE role = $1 ORDER BY id FOR UPDATE`, tierauth.RoleOwner.String())
	if err != nil {
		return mapErr(err)
	}
	owners, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return mapErr(err)
	}
	if len(owners) == 1 && owners[0] == id {
		return tierauth.ErrLastOwner
	}
	return nil
}

// ReconcileSubscriberRole locks the account row before reading the
// subscriptions, so each statement after the lock sees every subscription
// change committed by a caller that held it earlier.
func (r *Accounts) ReconcileSubscriberRole(ctx context.Context, id string, guestExpiresAt time.Time) (tierauth.Account, bool, error) {
	var (
		out     tierauth.Account
		changed bool
	)
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		var role string
		if err := tx.QueryRow(ctx, `SELECT role FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&role); err != nil {
			return mapErr(err)
		}
		var active bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE account_id = $1 AND status = 'ACTIVE')`,
			id).Scan(&active)
		if err != nil {
			return mapErr(err)
		}

		switch {
		case role == tierauth.RoleGuest.String() && active:
			changed = true
			out, err = scanAccount(tx.QueryRow(ctx,
				`UPDATE accounts SET role = $2, guest_access_expires_at = NULL, updated_at = now()
				 WHERE id = $1 RETURNING `+accountColumns,
				id, tierauth.RoleSubscribedUser.String()))
		case role == tierauth.RoleSubscribedUser.String() && !active:
			changed = true
			out, err = scanAccount(tx.QueryRow(ctx,
				`UPDATE accounts SET role = $2, guest_access_expires_at = $3, updated_at = now()
				 WHERE id = $1 RETURNING `+accountColumns,
				id, tierauth.RoleGuest.String(), guestExpiresAt))
		default:
			out, err = scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
		}
		return err
	})
	if err != nil {
		return tierauth.Account{}, false, err
	}
	return out, changed, nil
}

// ReplaceBackupCodes swaps the set only while the row still holds expected.
// NULL and the empty array compare equal.
func (r *Accounts) ReplaceBackupCodes(ctx context.Context, id string, expected, next []string) (bool, error) {
	if expected == nil {
		expected = []string{}
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts SET backup_codes = $2, updated_at = now()
		 WHERE id = $1 AND COALESCE(backup_codes, '{}') = $3::text[]`,
		id, next, expected)
	if err != nil {
		return false, mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, mapErr(err)
	}
	if !exists {
		return false, tierauth.ErrNotFound
	}
	return false, nil
}
