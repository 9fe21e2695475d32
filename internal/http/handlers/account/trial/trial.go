// Package trial реализует HTTP-обработчик запуска пробного периода.
// Пробный период запускается один раз; повторный запрос отклоняется.
package trial

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/http/response"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/status"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/models"
	licenseservice "github.com/magabrotheeeer/pdfpro-licensing/internal/services/license"
)

// Service описывает интерфейс бизнес-логики запуска пробного периода.
type Service interface {
	StartTrial(ctx context.Context, userUID string) (*models.User, error)
}

// Handler управляет HTTP-запросами на запуск пробного периода.
type Handler struct {
	log       *slog.Logger
	service   Service
	trialDays int
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service, trialDays int) *Handler {
	return &Handler{
		log:       log,
		service:   service,
		trialDays: trialDays,
	}
}

// ServeHTTP godoc
// @Summary Запустить пробный период
// @Description Запускает пробный период для текущего пользователя. Повторный запуск невозможен.
// @Tags Account
// @Produce  json
// @Success 200 {object} response.Response "Пробный период запущен"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 409 {object} response.ErrorResponse "Пробный период уже использован"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /account/trial [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.trial"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := r.Context().Value(middlewarectx.UserUID).(string)
	if !ok || userUID == "" {
		log.Error("user uid not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	user, err := h.service.StartTrial(r.Context(), userUID)
	if errors.Is(err, licenseservice.ErrTrialAlreadyUsed) {
		log.Error("trial already used", sl.Err(err))
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("Trial already used"))
		return
	}
	if errors.Is(err, licenseservice.ErrUserNotFound) {
		log.Error("user not found", sl.Err(err))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	}
	if err != nil {
		log.Error("failed to start trial", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not start trial"))
		return
	}

	log.Info("trial started", slog.String("user_uid", userUID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"status":        "trial",
		"trial_ends_at": status.TrialEnd(*user.TrialStartedAt, h.trialDays),
	}))
}
