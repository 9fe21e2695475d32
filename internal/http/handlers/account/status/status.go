// Package status реализует HTTP-обработчик получения статуса аккаунта.
// Статус вычисляется по правилам подписки и пробного периода, результат
// кешируется на стороне сервиса.
package status

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
	accountstatus "github.com/magabrotheeeer/pdfpro-licensing/internal/lib/status"
	licenseservice "github.com/magabrotheeeer/pdfpro-licensing/internal/services/license"
)

// Service описывает интерфейс бизнес-логики получения статуса аккаунта.
type Service interface {
	AccountStatus(ctx context.Context, userUID string) (accountstatus.Account, error)
}

// Handler управляет HTTP-запросами на получение статуса аккаунта.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Получить статус аккаунта
// @Description Возвращает текущий статус подписки пользователя: inactive, trial, expired или pro.
// @Tags Account
// @Produce  json
// @Success 200 {object} response.Response "Статус аккаунта"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /account/status [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.status"
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

	result, err := h.service.AccountStatus(r.Context(), userUID)
	if errors.Is(err, licenseservice.ErrUserNotFound) {
		log.Error("user not found", sl.Err(err))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	}
	if err != nil {
		log.Error("failed to get account status", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get account status"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"status": result,
	}))
}
