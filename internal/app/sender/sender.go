// Package sender собирает и запускает сервис отправки писем.
package sender

import (
	"context"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/config"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/smtp"
	senderservice "github.com/magabrotheeeer/pdfpro-licensing/internal/services/sender"
)

type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	senderService *senderservice.Service
	logger        *slog.Logger
}

func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}

	queues := rabbitmq.GetNotificationQueues()
	ch, err := rabbitmq.SetupChannel(conn, queues)
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Error("failed to close connection", slog.Any("err", closeErr))
		}
		return nil, err
	}

	transport := smtp.NewTransport(cfg, logger)
	senderService := senderservice.NewService(transport, logger)

	return &App{
		conn:          conn,
		ch:            ch,
		senderService: senderService,
		logger:        logger,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	consumers := map[string]func([]byte) error{
		"license_issued_queue":      a.senderService.SendLicenseIssued,
		"trial_ending_queue":        a.senderService.SendTrialEnding,
		"subscription_ending_queue": a.senderService.SendSubscriptionEnding,
	}
	for queue, handler := range consumers {
		if err := rabbitmq.ConsumerMessage(ctx, a.ch, queue, handler); err != nil {
			a.logger.Error("failed to start consumer", slog.String("queue", queue), slog.Any("err", err))
			return err
		}
	}

	<-ctx.Done()
	a.logger.Info("sender service shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}

	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}

	return nil
}
