package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrEthical07/tierauth/mailqueue"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newMailWorkerCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "mail-worker",
		Short: "Process queued mail tasks and log each rendered message",
		Long: "mail-worker consumes the verification, two-factor and subscription mail tasks enqueued by the engine. " +
			"Messages are written to the log; plug a real transport in through mailqueue.Delivery.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := v.GetString("redis.addr")
			if addr == "" {
				return errors.New("redis address is required (--redis-addr or TIERAUTH_REDIS_ADDR)")
			}
			logger := newLogger(v, cmd.ErrOrStderr())

			mux, err := mailqueue.NewServeMux(mailqueue.WorkerConfig{
				VerifyURL: v.GetString("mail.verify_url"),
				Product:   v.GetString("mail.product"),
				Logger:    logger,
			}, logDelivery(logger))
			if err != nil {
				return err
			}

			srv := asynq.NewServer(
				asynq.RedisClientOpt{Addr: addr},
				asynq.Config{
					Concurrency: v.GetInt("mail.concurrency"),
					Queues:      map[string]int{v.GetString("mail.queue"): 1},
					Logger:      asynqLogger{logger},
				},
			)

			logger.Info("starting mail worker", "queue", v.GetString("mail.queue"), "concurrency", v.GetInt("mail.concurrency"))
			return srv.Run(mux)
		},
	}
}

func logDelivery(logger *slog.Logger) mailqueue.Delivery {
	return mailqueue.DeliveryFunc(func(ctx context.Context, msg mailqueue.Message) error {
		logger.InfoContext(ctx, "mail", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
		return nil
	})
}

// asynqLogger routes asynq's own logging through slog.
type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }

func (a asynqLogger) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
