// Package activate реализует HTTP-обработчик активации лицензионного ключа.
//
// Handler принимает JSON-запрос с ключом, валидирует его, извлекает UID
// пользователя из контекста и вызывает бизнес-логику активации. Ошибки
// активации транслируются в конкретные HTTP-коды с понятным для
// пользователя сообщением.
package activate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/http/response"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/models"
	licenseservice "github.com/magabrotheeeer/pdfpro-licensing/internal/services/license"
)

// Request описывает тело запроса активации.
type Request struct {
	LicenseKey string `json:"license_key" validate:"required"`
}

// Service описывает интерфейс бизнес-логики активации лицензии.
type Service interface {
	Activate(ctx context.Context, rawKey, userUID string) (*models.License, error)
}

// Handler управляет HTTP-запросами на активацию лицензии.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Активировать лицензионный ключ
// @Description Привязывает ключ к текущему пользователю и переводит аккаунт в статус pro. Ключ активируется только один раз.
// @Tags Licenses
// @Accept  json
// @Produce  json
// @Param request body Request true "Лицензионный ключ"
// @Success 200 {object} response.Response "Лицензия активирована"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Ключ принадлежит другому пользователю"
// @Failure 404 {object} response.ErrorResponse "Ключ не найден"
// @Failure 409 {object} response.ErrorResponse "Ключ уже активирован"
// @Failure 410 {object} response.ErrorResponse "Срок действия ключа истек"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /licenses/activate [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.license.activate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	userUID, ok := r.Context().Value(middlewarectx.UserUID).(string)
	if !ok || userUID == "" {
		log.Error("user uid not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	lic, err := h.service.Activate(r.Context(), req.LicenseKey, userUID)
	if err != nil {
		h.renderActivationError(w, r, log, err)
		return
	}

	log.Info("license activated", slog.Int("license_id", lic.ID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"message":     "License activated successfully",
		"license_key": lic.Key,
		"expires_at":  lic.ExpiresAt,
	}))
}

// renderActivationError транслирует ошибки активации в HTTP-коды.
// PartialActivation отдается отдельным сообщением: такое состояние требует
// внимания оператора и не должно маскироваться под общую ошибку.
func (h *Handler) renderActivationError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, licenseservice.ErrLicenseNotFound):
		log.Error("license not found", sl.Err(err))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("License key invalid"))
	case errors.Is(err, licenseservice.ErrAlreadyActivated):
		log.Error("license already activated", sl.Err(err))
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("License already activated"))
	case errors.Is(err, licenseservice.ErrLicenseExpired):
		log.Error("license expired", sl.Err(err))
		w.WriteHeader(http.StatusGone)
		render.JSON(w, r, response.Error("License key expired"))
	case errors.Is(err, licenseservice.ErrOwnershipConflict):
		log.Error("license ownership conflict", sl.Err(err))
		w.WriteHeader(http.StatusForbidden)
		render.JSON(w, r, response.Error("License belongs to another account"))
	case errors.Is(err, licenseservice.ErrPartialActivation):
		log.Error("partial activation, operator attention required", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("License activated but account update failed, contact support"))
	default:
		log.Error("failed to activate license", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not activate license"))
	}
}
