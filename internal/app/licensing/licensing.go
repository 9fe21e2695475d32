// Package licensing собирает и запускает основной HTTP-сервис лицензирования.
package licensing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/cache"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/config"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/jwt"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/migrations"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/paymentprovider"
	licenseservice "github.com/magabrotheeeer/pdfpro-licensing/internal/services/license"
	reconcilerservice "github.com/magabrotheeeer/pdfpro-licensing/internal/services/reconciler"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/storage/repository"
)

type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	rabbit *amqp.Connection
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	rabbitConn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}
	rabbitCh, err := rabbitmq.SetupChannel(rabbitConn, rabbitmq.GetNotificationQueues())
	if err != nil {
		return nil, err
	}
	notifier := rabbitmq.NewNotifier(rabbitCh)

	providerClient := paymentprovider.NewClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeTimeout)

	licenseService := licenseservice.NewService(db, cacheRedis, licenseservice.Policy{
		TrialDays:      cfg.TrialDays,
		DedupWindow:    cfg.DedupWindow,
		KeyRetries:     cfg.KeyRetries,
		StatusCacheTTL: cfg.StatusCacheTTL,
	}, logger)

	reconcilerService := reconcilerservice.NewService(db, licenseService, providerClient, notifier, cacheRedis, logger)

	jwtMaker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, licenseService, reconcilerService, providerClient, jwtMaker)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		rabbit: rabbitConn,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if closeErr := a.rabbit.Close(); closeErr != nil {
			a.logger.Error("failed to close rabbitmq connection", slog.String("error", closeErr.Error()))
		}
		if closeErr := a.db.DB.Close(); closeErr != nil {
			a.logger.Error("failed to close database", slog.String("error", closeErr.Error()))
		}
		return err
	}
}
