// Package validate реализует HTTP-обработчик проверки лицензионного ключа.
// Проверка без побочных эффектов: ключ не активируется и не привязывается.
package validate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/http/response"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/models"
	licenseservice "github.com/magabrotheeeer/pdfpro-licensing/internal/services/license"
)

// Service описывает интерфейс бизнес-логики проверки лицензии.
type Service interface {
	Validate(ctx context.Context, rawKey string) (*models.License, error)
}

// Handler управляет HTTP-запросами на проверку лицензионного ключа.
type Handler struct {
	log     *slog.Logger
	service Service

	now func() time.Time
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		now:     time.Now,
	}
}

// ServeHTTP godoc
// @Summary Проверить лицензионный ключ
// @Description Сообщает, существует ли ключ и действует ли он. Активации не происходит.
// @Tags Licenses
// @Produce  json
// @Param key path string true "Лицензионный ключ"
// @Success 200 {object} response.Response "Результат проверки"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /licenses/{key} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.license.validate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	rawKey := chi.URLParam(r, "key")

	lic, err := h.service.Validate(r.Context(), rawKey)
	if errors.Is(err, licenseservice.ErrLicenseNotFound) {
		render.JSON(w, r, response.StatusOKWithData(map[string]any{
			"valid": false,
		}))
		return
	}
	if err != nil {
		log.Error("failed to validate license", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not validate license"))
		return
	}

	valid := lic.Active && !lic.IsExpired(h.now().UTC())
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"valid":      valid,
		"active":     lic.Active,
		"expires_at": lic.ExpiresAt,
	}))
}
