package tierauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/tierauth/algorithm"
	"github.com/MrEthical07/tierauth/policy"
)

// ExecutionResult is one algorithm run together with the tier that allowed
// it.
type ExecutionResult struct {
	algorithm.Result
	Tier string
	// BudgetRemaining is the number of runs left in the current tier window,
	// or -1 when budgets are not enforced.
	BudgetRemaining int
}

// ExecuteAlgorithm runs name for accountID after checking the access policy
// and the tier's request budget. input is the JSON encoded algorithm input;
// input that does not decode is rejected before the budget is charged.
func (e *Engine) ExecuteAlgorithm(ctx context.Context, accountID, name string, input []byte) (*ExecutionResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.observeSince(MetricAlgorithmLatency, start)

	if !algorithm.Known(name) {
		return nil, e.algorithmDenied(ctx, accountID, name, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name))
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	subject, err := e.subjectOf(ctx, account)
	if err != nil {
		return nil, err
	}

	grant, err := e.resolver.Authorize(subject, name, e.now())
	if err != nil {
		return nil, e.algorithmDenied(ctx, account.ID, name, err)
	}

	req, err := algorithm.DecodeRequest(name, input)
	if err != nil {
		return nil, algorithmErr(err)
	}

	remaining := -1
	if e.limiter != nil && e.config.Security.EnforceTierBudgets && grant.RateLimit > 0 && grant.RatePeriod > 0 {
		decision, err := e.limiter.Allow(ctx, grant.Tier, account.ID, grant.RateLimit, grant.RatePeriod)
		if err != nil {
			return nil, e.rateErr(err)
		}
		if !decision.Allowed {
			e.metricInc(MetricTierBudgetExceeded)
			e.emitRateLimit(ctx, "tier_budget", account.ID, func() map[string]string {
				return map[string]string{
					"tier":     grant.Tier,
					"limit":    strconv.Itoa(decision.Limit),
					"reset_in": decision.ResetIn.String(),
				}
			})
			return nil, ErrRateLimited
		}
		remaining = decision.Remaining
	}

	result, err := algorithm.Run(ctx, req)
	if err != nil {
		return nil, algorithmErr(err)
	}

	e.metricInc(MetricAlgorithmExecuted)
	e.emitAudit(ctx, auditEventAlgorithmExecuted, true, account.ID, account.ID, nil, func() map[string]string {
		return map[string]string{
			"algorithm":      name,
			"tier":           grant.Tier,
			"execution_time": result.ExecutionTime.String(),
		}
	})

	return &ExecutionResult{
		Result:          result,
		Tier:            grant.Tier,
		BudgetRemaining: remaining,
	}, nil
}

// AllowedAlgorithms lists the algorithms accountID may run right now, in
// registry order.
func (e *Engine) AllowedAlgorithms(ctx context.Context, accountID string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	subject, err := e.subjectOf(ctx, account)
	if err != nil {
		return nil, err
	}
	grant, err := e.resolver.Resolve(subject, e.now())
	if err != nil {
		return nil, err
	}
	return e.resolver.Allowed(grant), nil
}

// subjectOf collects what the resolver needs about account. Guests skip the
// subscription lookup since their subscriptions never count.
func (e *Engine) subjectOf(ctx context.Context, account Account) (policy.Subject, error) {
	subject := policy.Subject{
		Role:                 account.Role,
		GuestAccessExpiresAt: account.GuestAccessExpiresAt,
	}
	if account.Role == RoleGuest {
		return subject, nil
	}

	active, err := e.activeSubscriptions(ctx, account.ID)
	if err != nil {
		return policy.Subject{}, err
	}
	for _, sub := range active {
		svc, err := e.loadService(ctx, sub.ServiceID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return policy.Subject{}, err
		}
		subject.ActivePlans = append(subject.ActivePlans, svc.plan())
	}
	return subject, nil
}

func (e *Engine) algorithmDenied(ctx context.Context, accountID, name string, err error) error {
	e.metricInc(MetricAlgorithmDenied)
	e.emitAudit(ctx, auditEventAlgorithmDenied, false, accountID, accountID, err, func() map[string]string {
		return map[string]string{"algorithm": name}
	})
	return err
}

// algorithmErr folds the algorithm package's input errors into ErrInvalidInput.
func algorithmErr(err error) error {
	switch {
	case errors.Is(err, algorithm.ErrInvalidInput):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case errors.Is(err, algorithm.ErrUnknownAlgorithm):
		return fmt.Errorf("%w: %v", ErrUnknownAlgorithm, err)
	default:
		return err
	}
}
