package postgres

import (
	"context"
	"time"

	"github.com/MrEthical07/tierauth"
	"github.com/jackc/pgx/v5"
)

const serviceColumns = `id, name, description, price_cents, allowed_algorithms, rate_limit,
	rate_period_ms, is_active, external_price_id, created_at, updated_at`

// Services implements tierauth.ServiceStore.
type Services struct {
	db querier
}

var _ tierauth.ServiceStore = (*Services)(nil)

func scanService(row pgx.Row) (tierauth.Service, error) {
	var (
		s        tierauth.Service
		periodMS int64
	)
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.PriceCents, &s.AllowedAlgorithms, &s.RateLimit,
		&periodMS, &s.IsActive, &s.ExternalPriceID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return tierauth.Service{}, mapErr(err)
	}
	s.RatePeriod = time.Duration(periodMS) * time.Millisecond
	return s, nil
}

func (r *Services) GetByID(ctx context.Context, id string) (tierauth.Service, error) {
	return scanService(r.db.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
}

func (r *Services) GetByName(ctx context.Context, name string) (tierauth.Service, error) {
	return scanService(r.db.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE name = $1`, name))
}

// List orders by price, then name.
func (r *Services) List(ctx context.Context, activeOnly bool) ([]tierauth.Service, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+serviceColumns+` FROM services
		 WHERE is_active OR NOT $1
		 ORDER BY price_cents, name`, activeOnly)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := []tierauth.Service{}
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, mapErr(rows.Err())
}

// Upsert inserts svc or updates the row with the same name. An existing row
// keeps its id and created_at.
func (r *Services) Upsert(ctx context.Context, s tierauth.Service) (tierauth.Service, error) {
	algorithms := s.AllowedAlgorithms
	if algorithms == nil {
		algorithms = []string{}
	}
	return scanService(r.db.QueryRow(ctx,
		`INSERT INTO services (`+serviceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (name) DO UPDATE SET
		     description        = EXCLUDED.description,
		     price_cents        = EXCLUDED.price_cents,
		     allowed_algorithms = EXCLUDED.allowed_algorithms,
		     rate_limit         = EXCLUDED.rate_limit,
		     rate_period_ms     = EXCLUDED.rate_period_ms,
		     is_active          = EXCLUDED.is_active,
		     external_price_id  = EXCLUDED.external_price_id,
		     updated_at         = EXCLUDED.updated_at
		 RETURNING `+serviceColumns,
		s.ID, s.Name, s.Description, s.PriceCents, algorithms, s.RateLimit,
		s.RatePeriod.Milliseconds(), s.IsActive, s.ExternalPriceID, s.CreatedAt, s.UpdatedAt))
}
