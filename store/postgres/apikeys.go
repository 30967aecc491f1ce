package postgres

import (
	"context"
	"time"

	"github.com/MrEthical07/tierauth"
	"github.com/jackc/pgx/v5"
)

const apiKeyColumns = `id, account_id, name, key_hash, key_prefix, revoked, usage_count,
	last_used_at, expires_at, created_at`

// APIKeys implements tierauth.APIKeyStore.
type APIKeys struct {
	db querier
}

var _ tierauth.APIKeyStore = (*APIKeys)(nil)

func scanAPIKey(row pgx.Row) (tierauth.APIKey, error) {
	var k tierauth.APIKey
	err := row.Scan(&k.ID, &k.AccountID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Revoked, &k.UsageCount,
		&k.LastUsedAt, &k.ExpiresAt, &k.CreatedAt)
	if err != nil {
		return tierauth.APIKey{}, mapErr(err)
	}
	return k, nil
}

func (r *APIKeys) GetByID(ctx context.Context, id string) (tierauth.APIKey, error) {
	return scanAPIKey(r.db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id))
}

func (r *APIKeys) GetByHash(ctx context.Context, keyHash string) (tierauth.APIKey, error) {
	return scanAPIKey(r.db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash))
}

// GetByAccountAndName only sees non-revoked keys.
func (r *APIKeys) GetByAccountAndName(ctx context.Context, accountID, name string) (tierauth.APIKey, error) {
	return scanAPIKey(r.db.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys
		 WHERE account_id = $1 AND name = $2 AND NOT revoked`, accountID, name))
}

func (r *APIKeys) ListByAccount(ctx context.Context, accountID string) ([]tierauth.APIKey, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys
		 WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []tierauth.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, mapErr(rows.Err())
}

func (r *APIKeys) Create(ctx context.Context, k tierauth.APIKey) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		k.ID, k.AccountID, k.Name, k.KeyHash, k.KeyPrefix, k.Revoked, k.UsageCount,
		k.LastUsedAt, k.ExpiresAt, k.CreatedAt)
	return mapErr(err)
}

func (r *APIKeys) Revoke(ctx context.Context, id string) error {
	return expectRow(r.db.Exec(ctx, `UPDATE api_keys SET revoked = TRUE WHERE id = $1`, id))
}

// RecordUsage increments the counter in place so concurrent requests are
// all counted.
func (r *APIKeys) RecordUsage(ctx context.Context, id string, at time.Time) error {
	return expectRow(r.db.Exec(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = $2 WHERE id = $1`, id, at))
}

func (r *APIKeys) Delete(ctx context.Context, id string) error {
	return expectRow(r.db.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id))
}
