// Package stripewebhook реализует HTTP-обработчик вебхуков Stripe.
//
// Подпись проверяется до разбора тела; события с неверной подписью
// отклоняются. Разобранное событие передается реконсилятору, а его
// булев результат транслируется в HTTP-статус: провал обработки отдает
// 500, чтобы Stripe повторил доставку.
package stripewebhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/sl"
)

// MaxBodyBytes предельный размер тела вебхука.
const MaxBodyBytes = int64(65536)

// Reconciler описывает обработку платёжных событий.
type Reconciler interface {
	HandleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) bool
	HandleSubscriptionCreated(ctx context.Context, sub *stripe.Subscription) bool
	HandleInvoicePaid(ctx context.Context, inv *stripe.Invoice) bool
	HandleSubscriptionUpdated(ctx context.Context, sub *stripe.Subscription) bool
	HandleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) bool
}

// EventVerifier проверяет подпись и разбирает событие вебхука.
type EventVerifier interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// Handler управляет HTTP-запросами вебхуков Stripe.
type Handler struct {
	log        *slog.Logger
	reconciler Reconciler
	verifier   EventVerifier
}

// New создает новый Handler с переданными логгером, реконсилятором и верификатором.
func New(log *slog.Logger, reconciler Reconciler, verifier EventVerifier) *Handler {
	return &Handler{
		log:        log,
		reconciler: reconciler,
		verifier:   verifier,
	}
}

// ServeHTTP godoc
// @Summary Вебхук Stripe
// @Description Принимает события платежного провайдера. Подпись обязательна.
// @Tags Payments
// @Accept  json
// @Success 200 "Событие обработано или проигнорировано"
// @Failure 400 "Некорректное тело или подпись"
// @Failure 500 "Обработка не удалась, событие будет доставлено повторно"
// @Router /webhooks/stripe [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.stripewebhook"
	log := h.log.With(slog.String("op", op))

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	event, err := h.verifier.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Error("invalid webhook signature", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	log = log.With(slog.String("event", string(event.Type)), slog.String("event_id", event.ID))

	ok := true
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			log.Error("failed to unmarshal checkout session", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ok = h.reconciler.HandleCheckoutCompleted(r.Context(), &sess)
	case "customer.subscription.created":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			log.Error("failed to unmarshal subscription", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ok = h.reconciler.HandleSubscriptionCreated(r.Context(), &sub)
	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			log.Error("failed to unmarshal invoice", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ok = h.reconciler.HandleInvoicePaid(r.Context(), &inv)
	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			log.Error("failed to unmarshal subscription", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ok = h.reconciler.HandleSubscriptionUpdated(r.Context(), &sub)
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			log.Error("failed to unmarshal subscription", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ok = h.reconciler.HandleSubscriptionDeleted(r.Context(), &sub)
	default:
		log.Info("ignored webhook event")
	}

	if !ok {
		log.Error("failed to process webhook event")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	log.Info("webhook processed")
	w.WriteHeader(http.StatusOK)
}
