package tierauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// SubscribeToService creates an ACTIVE subscription to serviceID. An account
// holds at most one ACTIVE subscription; a second attempt, including a
// concurrent one, fails with ErrDuplicateResource. A GUEST is promoted to
// SUBSCRIBED_USER and loses its guest expiry unless a cancellation has
// already ended the new subscription.
func (e *Engine) SubscribeToService(ctx context.Context, accountID, serviceID string) (SubscriptionView, error) {
	if err := e.ready(); err != nil {
		return SubscriptionView{}, err
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return SubscriptionView{}, err
	}
	svc, err := e.loadService(ctx, serviceID)
	if err != nil {
		return SubscriptionView{}, err
	}
	if !svc.IsActive {
		return SubscriptionView{}, ErrServiceUnavailable
	}

	now := e.now()
	sub := Subscription{
		ID:        e.newID(),
		AccountID: account.ID,
		ServiceID: svc.ID,
		Status:    SubscriptionActive,
		StartDate: now,
		CreatedAt: now,
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.stores.Subscriptions.Create(sctx, sub); err != nil {
		if errors.Is(err, ErrDuplicateResource) {
			e.metricInc(MetricSubscriptionConflict)
			return SubscriptionView{}, fmt.Errorf("%w: account already has an active subscription", ErrDuplicateResource)
		}
		return SubscriptionView{}, e.storeErr("subscription.create", err)
	}

	if _, _, err := e.reconcileRole(ctx, account.ID); err != nil {
		return SubscriptionView{}, err
	}

	e.metricInc(MetricSubscriptionCreated)
	e.emitAudit(ctx, auditEventSubscriptionCreated, true, account.ID, account.ID, nil, func() map[string]string {
		return map[string]string{
			"subscription_id": sub.ID,
			"service":         svc.Name,
		}
	})

	email, username, planName, price := account.Email, account.Username, svc.Name, svc.PriceCents
	e.goBackground(ctx, "mail.subscription", account.ID, func(ctx context.Context) error {
		return e.mailer.SendSubscriptionEmail(ctx, email, username, planName, price)
	})

	return SubscriptionView{Subscription: sub, Service: svc}, nil
}

// CancelSubscription moves an ACTIVE subscription to CANCELLED. The owner and
// OWNER, ADMIN or MAINTAINER actors may cancel. When the owner is left with no
// ACTIVE subscription and is a SUBSCRIBED_USER, it is demoted to GUEST with a
// fresh guest window; staff roles keep their role.
func (e *Engine) CancelSubscription(ctx context.Context, actorID, subscriptionID string) (SubscriptionView, error) {
	if err := e.ready(); err != nil {
		return SubscriptionView{}, err
	}

	actor, err := e.loadAccount(ctx, actorID)
	if err != nil {
		return SubscriptionView{}, err
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	sub, err := e.stores.Subscriptions.GetByID(sctx, subscriptionID)
	if err != nil {
		return SubscriptionView{}, e.storeErr("subscription.get", err)
	}
	if sub.AccountID != actor.ID && !actor.Role.Administrative() {
		return SubscriptionView{}, ErrInsufficientRole
	}
	if sub.Status != SubscriptionActive {
		return SubscriptionView{}, ErrSubscriptionNotActive
	}

	updated, err := e.stores.Subscriptions.UpdateStatus(sctx, sub.ID, SubscriptionCancelled, e.now())
	if err != nil {
		return SubscriptionView{}, e.storeErr("subscription.update_status", err)
	}

	owner, changed, err := e.reconcileRole(ctx, sub.AccountID)
	if err != nil {
		return SubscriptionView{}, err
	}
	demoted := changed && owner.Role == RoleGuest

	e.metricInc(MetricSubscriptionCancelled)
	e.emitAudit(ctx, auditEventSubscriptionCancelled, true, sub.AccountID, actor.ID, nil, func() map[string]string {
		return map[string]string{
			"subscription_id": sub.ID,
			"demoted":         strconv.FormatBool(demoted),
		}
	})

	svc, err := e.loadService(ctx, sub.ServiceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return SubscriptionView{}, err
	}
	return SubscriptionView{Subscription: updated, Service: svc}, nil
}

// SubscriptionHistory returns every subscription the account ever held,
// newest first, with per-status counts.
func (e *Engine) SubscriptionHistory(ctx context.Context, accountID string) (SubscriptionHistory, error) {
	if err := e.ready(); err != nil {
		return SubscriptionHistory{}, err
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	subs, err := e.stores.Subscriptions.ListByAccount(sctx, accountID)
	if err != nil {
		return SubscriptionHistory{}, e.storeErr("subscription.list", err)
	}
	slices.SortStableFunc(subs, func(a, b Subscription) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	services := make(map[string]Service)
	history := SubscriptionHistory{
		Total:         len(subs),
		Subscriptions: make([]SubscriptionView, 0, len(subs)),
	}
	for _, sub := range subs {
		switch sub.Status {
		case SubscriptionActive:
			history.Active++
		case SubscriptionCancelled:
			history.Cancelled++
		case SubscriptionExpired:
			history.Expired++
		}

		svc, ok := services[sub.ServiceID]
		if !ok {
			svc, err = e.loadService(ctx, sub.ServiceID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return SubscriptionHistory{}, err
			}
			services[sub.ServiceID] = svc
		}
		history.Subscriptions = append(history.Subscriptions, SubscriptionView{Subscription: sub, Service: svc})
	}
	return history, nil
}

// ListServices returns the purchasable tiers that are currently active.
func (e *Engine) ListServices(ctx context.Context) ([]Service, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	services, err := e.stores.Services.List(sctx, true)
	if err != nil {
		return nil, e.storeErr("service.list", err)
	}
	return services, nil
}

// RenewGuestAccess restarts a GUEST's access window at now. Other roles get
// ErrNotGuest.
func (e *Engine) RenewGuestAccess(ctx context.Context, accountID string) (time.Time, error) {
	if err := e.ready(); err != nil {
		return time.Time{}, err
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return time.Time{}, err
	}
	if account.Role != RoleGuest {
		return time.Time{}, ErrNotGuest
	}

	expiry := e.guestExpiry()
	if _, err := e.updateAccount(ctx, account.ID, AccountUpdate{GuestAccessExpiresAt: Assign(expiry)}); err != nil {
		return time.Time{}, err
	}

	e.emitAudit(ctx, auditEventGuestAccessRenewed, true, account.ID, account.ID, nil, func() map[string]string {
		return map[string]string{"expires_at": expiry.UTC().Format(time.RFC3339)}
	})
	return *expiry, nil
}

// reconcileRole re-derives a GUEST or SUBSCRIBED_USER role from the
// account's current subscriptions. Subscribe and cancel both end with it,
// so whichever runs last settles the role on the final subscription state.
func (e *Engine) reconcileRole(ctx context.Context, accountID string) (Account, bool, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	a, changed, err := e.stores.Accounts.ReconcileSubscriberRole(sctx, accountID, *e.guestExpiry())
	return a, changed, e.storeErr("account.reconcile_role", err)
}

func (e *Engine) loadService(ctx context.Context, id string) (Service, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	svc, err := e.stores.Services.GetByID(sctx, id)
	return svc, e.storeErr("service.get", err)
}

func (e *Engine) activeSubscriptions(ctx context.Context, accountID string) ([]Subscription, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	subs, err := e.stores.Subscriptions.ListActiveByAccount(sctx, accountID)
	if err != nil {
		return nil, e.storeErr("subscription.list_active", err)
	}
	return subs, nil
}
