package postgres

import (
	"context"
	"time"

	"github.com/MrEthical07/tierauth"
)

// Devices implements tierauth.TrustedDeviceStore. Expired rows stay until
// PurgeExpired removes them; the engine ignores them on read.
type Devices struct {
	db querier
}

var _ tierauth.TrustedDeviceStore = (*Devices)(nil)

func (r *Devices) Get(ctx context.Context, accountID, tokenHash string) (tierauth.TrustedDevice, error) {
	var d tierauth.TrustedDevice
	err := r.db.QueryRow(ctx,
		`SELECT id, account_id, token_hash, expires_at, last_used_at, created_at
		 FROM trusted_devices WHERE account_id = $1 AND token_hash = $2`,
		accountID, tokenHash,
	).Scan(&d.ID, &d.AccountID, &d.TokenHash, &d.ExpiresAt, &d.LastUsedAt, &d.CreatedAt)
	if err != nil {
		return tierauth.TrustedDevice{}, mapErr(err)
	}
	return d, nil
}

func (r *Devices) Create(ctx context.Context, d tierauth.TrustedDevice) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO trusted_devices (id, account_id, token_hash, expires_at, last_used_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.AccountID, d.TokenHash, d.ExpiresAt, d.LastUsedAt, d.CreatedAt)
	return mapErr(err)
}

func (r *Devices) Touch(ctx context.Context, accountID, tokenHash string, at time.Time) error {
	return expectRow(r.db.Exec(ctx,
		`UPDATE trusted_devices SET last_used_at = $3 WHERE account_id = $1 AND token_hash = $2`,
		accountID, tokenHash, at))
}

func (r *Devices) DeleteAll(ctx context.Context, accountID string) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM trusted_devices WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeExpired deletes records that expired at or before now.
func (r *Devices) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM trusted_devices WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}
