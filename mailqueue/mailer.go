package mailqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrEthical07/tierauth"
	"github.com/hibiken/asynq"
)

// enqueuer is the part of *asynq.Client the Mailer needs.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Options tunes how mail tasks are enqueued.
type Options struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

func (o Options) taskOptions() []asynq.Option {
	if o.Queue == "" {
		o.Queue = "default"
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = 5
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return []asynq.Option{
		asynq.Queue(o.Queue),
		asynq.MaxRetry(o.MaxRetry),
		asynq.Timeout(o.Timeout),
	}
}

// Mailer enqueues mail tasks. It is safe for concurrent use.
type Mailer struct {
	client enqueuer
	opts   []asynq.Option
}

var _ tierauth.Mailer = (*Mailer)(nil)

// NewMailer connects an asynq client to redis.
func NewMailer(redis asynq.RedisConnOpt, opts Options) *Mailer {
	return newMailer(asynq.NewClient(redis), opts)
}

func newMailer(client enqueuer, opts Options) *Mailer {
	return &Mailer{client: client, opts: opts.taskOptions()}
}

// Close releases the underlying client.
func (m *Mailer) Close() error {
	return m.client.Close()
}

func (m *Mailer) SendVerificationEmail(ctx context.Context, email, username, token string) error {
	return m.enqueue(ctx, TypeVerificationEmail, VerificationPayload{
		Email:    email,
		Username: username,
		Token:    token,
	})
}

func (m *Mailer) Send2FAEnabledEmail(ctx context.Context, email, username string) error {
	return m.enqueue(ctx, TypeTwoFactorEnabled, TwoFactorEnabledPayload{
		Email:    email,
		Username: username,
	})
}

func (m *Mailer) SendSubscriptionEmail(ctx context.Context, email, username, planName string, priceCents int64) error {
	return m.enqueue(ctx, TypeSubscription, SubscriptionPayload{
		Email:      email,
		Username:   username,
		PlanName:   planName,
		PriceCents: priceCents,
	})
}

func (m *Mailer) enqueue(ctx context.Context, taskType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if _, err := m.client.EnqueueContext(ctx, asynq.NewTask(taskType, data), m.opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
