package postgres

import (
	"context"
	"time"

	"github.com/MrEthical07/tierauth"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `id, account_id, service_id, status, start_date, cancelled_at,
	external_customer_id, external_subscription_id, created_at`

// Subscriptions implements tierauth.SubscriptionStore.
type Subscriptions struct {
	db querier
}

var _ tierauth.SubscriptionStore = (*Subscriptions)(nil)

func scanSubscription(row pgx.Row) (tierauth.Subscription, error) {
	var (
		s      tierauth.Subscription
		status string
	)
	err := row.Scan(&s.ID, &s.AccountID, &s.ServiceID, &status, &s.StartDate, &s.CancelledAt,
		&s.ExternalCustomerID, &s.ExternalSubscriptionID, &s.CreatedAt)
	if err != nil {
		return tierauth.Subscription{}, mapErr(err)
	}
	s.Status = tierauth.SubscriptionStatus(status)
	return s, nil
}

func (r *Subscriptions) list(ctx context.Context, query string, args ...any) ([]tierauth.Subscription, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []tierauth.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, mapErr(rows.Err())
}

func (r *Subscriptions) GetByID(ctx context.Context, id string) (tierauth.Subscription, error) {
	return scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
}

func (r *Subscriptions) ListActiveByAccount(ctx context.Context, accountID string) ([]tierauth.Subscription, error) {
	return r.list(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE account_id = $1 AND status = 'ACTIVE' ORDER BY created_at`, accountID)
}

func (r *Subscriptions) ListByAccount(ctx context.Context, accountID string) ([]tierauth.Subscription, error) {
	return r.list(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE account_id = $1 ORDER BY created_at`, accountID)
}

// Create inserts sub. A second ACTIVE row for the account trips
// subscriptions_one_active_idx and returns tierauth.ErrDuplicateResource.
func (r *Subscriptions) Create(ctx context.Context, s tierauth.Subscription) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.AccountID, s.ServiceID, string(s.Status), s.StartDate, s.CancelledAt,
		s.ExternalCustomerID, s.ExternalSubscriptionID, s.CreatedAt)
	return mapErr(err)
}

func (r *Subscriptions) UpdateStatus(ctx context.Context, id string, status tierauth.SubscriptionStatus, at time.Time) (tierauth.Subscription, error) {
	return scanSubscription(r.db.QueryRow(ctx,
		`UPDATE subscriptions
		 SET status = $2::text,
		     cancelled_at = CASE WHEN $2::text = 'CANCELLED' THEN $3::timestamptz ELSE cancelled_at END
		 WHERE id = $1
		 RETURNING `+subscriptionColumns,
		id, string(status), at))
}
