package licensing

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/config"
	accountstatus "github.com/magabrotheeeer/pdfpro-licensing/internal/http/handlers/account/status"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/http/handlers/account/trial"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/http/handlers/health"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/http/handlers/license/activate"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/http/handlers/license/validate"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/http/handlers/payment/stripewebhook"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/jwt"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/paymentprovider"
	licenseservice "github.com/magabrotheeeer/pdfpro-licensing/internal/services/license"
	reconcilerservice "github.com/magabrotheeeer/pdfpro-licensing/internal/services/reconciler"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, licenseService *licenseservice.Service, reconcilerService *reconcilerservice.Service, providerClient *paymentprovider.Client, jwtMaker jwt.Maker) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки: проверка ключа расширением и webhook провайдера
		r.Get("/licenses/{key}", validate.New(logger, licenseService).ServeHTTP)
		r.Post("/webhooks/stripe", stripewebhook.New(logger, reconcilerService, providerClient).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(jwtMaker, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, 10, 20))
			r.Post("/licenses/activate", activate.New(logger, licenseService).ServeHTTP)
			r.Get("/account/status", accountstatus.New(logger, licenseService).ServeHTTP)
			r.Post("/account/trial", trial.New(logger, licenseService, cfg.TrialDays).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
