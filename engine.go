package tierauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/tierauth/codec"
	internalaudit "github.com/MrEthical07/tierauth/internal/audit"
	"github.com/MrEthical07/tierauth/internal/rate"
	"github.com/MrEthical07/tierauth/jwt"
	"github.com/MrEthical07/tierauth/password"
	"github.com/MrEthical07/tierauth/policy"
)

// Engine is the authentication and authorization core. It is safe for
// concurrent use after Build. Call Close on shutdown to wait for background
// mail and usage updates and to drain the audit buffer.
type Engine struct {
	config    Config
	codec     *codec.Codec
	hasher    *password.Hasher
	dummyHash string
	issuer    *jwt.Issuer
	totp      *totpManager
	resolver  *policy.Resolver
	limiter   *rate.Limiter
	stores    Stores
	mailer    Mailer
	logger    *slog.Logger
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	clock     func() time.Time
	newID     func() string

	// bgMu orders background registration against Close.
	bgMu       sync.Mutex
	background sync.WaitGroup
	closed     atomic.Bool
}

// Close waits for in-flight side effects, then drains audit events. It is
// idempotent.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.bgMu.Lock()
	if !e.closed.CompareAndSwap(false, true) {
		e.bgMu.Unlock()
		return
	}
	e.bgMu.Unlock()

	e.background.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Catalog returns the tier catalog the engine resolves against.
func (e *Engine) Catalog() *policy.Catalog {
	return e.resolver.Catalog()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeSince(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

func (e *Engine) now() time.Time {
	return e.clock()
}

func (e *Engine) ready() error {
	if e == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// storeCtx bounds a single store call.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Store.OperationTimeout)
}

// storeErr passes through the store contract errors and folds everything
// else, timeouts included, into ErrBackendUnavailable.
func (e *Engine) storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateResource) || errors.Is(err, ErrLastOwner) {
		return err
	}
	e.metricInc(MetricBackendUnavailable)
	e.logger.Error("store operation failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, op, err)
}

// rateErr maps limiter failures. A redis outage fails closed.
func (e *Engine) rateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrRateLimited
	default:
		e.metricInc(MetricBackendUnavailable)
		e.logger.Error("rate limiter failed", "error", err)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

// loadAccount fetches an account under the store timeout.
func (e *Engine) loadAccount(ctx context.Context, id string) (Account, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	a, err := e.stores.Accounts.GetByID(sctx, id)
	return a, e.storeErr("account.get", err)
}

func (e *Engine) updateAccount(ctx context.Context, id string, u AccountUpdate) (Account, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	a, err := e.stores.Accounts.Update(sctx, id, u)
	return a, e.storeErr("account.update", err)
}

// goBackground runs fn detached from the request's cancellation and tracks
// it for Close. Work offered after Close has started is dropped. Failures
// are logged only.
func (e *Engine) goBackground(ctx context.Context, op, accountID string, fn func(context.Context) error) {
	e.bgMu.Lock()
	if e.closed.Load() {
		e.bgMu.Unlock()
		return
	}
	e.background.Add(1)
	e.bgMu.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		defer e.background.Done()
		sctx, cancel := e.storeCtx(bg)
		defer cancel()
		if err := fn(sctx); err != nil {
			e.metricInc(MetricSideEffectFailure)
			e.logger.Warn("side effect failed", "op", op, "account_id", accountID, "error", err)
		}
	}()
}

// guestExpiry returns the expiry for a fresh guest window starting at now.
func (e *Engine) guestExpiry() *time.Time {
	t := e.now().Add(e.config.Guest.AccessDuration)
	return &t
}

// roleUpdate sets role and keeps the guest-expiry invariant.
func (e *Engine) roleUpdate(role Role) AccountUpdate {
	u := AccountUpdate{Role: Assign(role)}
	if role == RoleGuest {
		u.GuestAccessExpiresAt = Assign(e.guestExpiry())
	} else {
		u.GuestAccessExpiresAt = Assign[*time.Time](nil)
	}
	return u
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type nopMailer struct{}

func (nopMailer) SendVerificationEmail(context.Context, string, string, string) error { return nil }
func (nopMailer) Send2FAEnabledEmail(context.Context, string, string) error { return nil }
func (nopMailer) SendSubscriptionEmail(context.Context, string, string, string, int64) error {
	return nil
}
