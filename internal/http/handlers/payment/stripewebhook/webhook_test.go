package stripewebhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/http/handlers/payment/stripewebhook"
)

type ReconcilerMock struct{ mock.Mock }

func (m *ReconcilerMock) HandleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) bool {
	return m.Called(ctx, sess).Bool(0)
}
func (m *ReconcilerMock) HandleSubscriptionCreated(ctx context.Context, sub *stripe.Subscription) bool {
	return m.Called(ctx, sub).Bool(0)
}
func (m *ReconcilerMock) HandleInvoicePaid(ctx context.Context, inv *stripe.Invoice) bool {
	return m.Called(ctx, inv).Bool(0)
}
func (m *ReconcilerMock) HandleSubscriptionUpdated(ctx context.Context, sub *stripe.Subscription) bool {
	return m.Called(ctx, sub).Bool(0)
}
func (m *ReconcilerMock) HandleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) bool {
	return m.Called(ctx, sub).Bool(0)
}

// verifierFake разбирает событие без проверки подписи.
type verifierFake struct {
	err error
}

func (v *verifierFake) ConstructWebhookEvent(payload []byte, _ string) (stripe.Event, error) {
	if v.err != nil {
		return stripe.Event{}, v.err
	}
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return stripe.Event{}, err
	}
	return event, nil
}

// secretVerifier проверяет подпись точно так же, как боевой клиент.
type secretVerifier struct {
	secret string
}

func (v *secretVerifier) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, v.secret)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func eventBody(t *testing.T, eventType string, object any) string {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(map[string]any{
		"id":          "evt_123",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": json.RawMessage(raw)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func signBody(secret, body string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookHandler_Dispatch(t *testing.T) {
	tests := []struct {
		name       string
		eventType  string
		object     any
		setupMock  func(r *ReconcilerMock)
		wantStatus int
	}{
		{
			name:      "checkout session completed",
			eventType: "checkout.session.completed",
			object:    map[string]any{"id": "cs_1", "client_reference_id": "0c9188e0-5c1c-4bb4-9fbe-7bf397be8e54"},
			setupMock: func(r *ReconcilerMock) {
				r.On("HandleCheckoutCompleted", mock.Anything, mock.MatchedBy(func(s *stripe.CheckoutSession) bool {
					return s.ClientReferenceID == "0c9188e0-5c1c-4bb4-9fbe-7bf397be8e54"
				})).Return(true).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name:      "subscription created",
			eventType: "customer.subscription.created",
			object:    map[string]any{"id": "sub_1"},
			setupMock: func(r *ReconcilerMock) {
				r.On("HandleSubscriptionCreated", mock.Anything, mock.MatchedBy(func(s *stripe.Subscription) bool {
					return s.ID == "sub_1"
				})).Return(true).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name:      "invoice paid",
			eventType: "invoice.paid",
			object:    map[string]any{"id": "in_1"},
			setupMock: func(r *ReconcilerMock) {
				r.On("HandleInvoicePaid", mock.Anything, mock.MatchedBy(func(i *stripe.Invoice) bool {
					return i.ID == "in_1"
				})).Return(true).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name:      "subscription updated",
			eventType: "customer.subscription.updated",
			object:    map[string]any{"id": "sub_1"},
			setupMock: func(r *ReconcilerMock) {
				r.On("HandleSubscriptionUpdated", mock.Anything, mock.Anything).Return(true).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name:      "subscription deleted",
			eventType: "customer.subscription.deleted",
			object:    map[string]any{"id": "sub_1"},
			setupMock: func(r *ReconcilerMock) {
				r.On("HandleSubscriptionDeleted", mock.Anything, mock.Anything).Return(true).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown event is acknowledged",
			eventType:  "customer.created",
			object:     map[string]any{"id": "cus_1"},
			setupMock:  func(_ *ReconcilerMock) {},
			wantStatus: http.StatusOK,
		},
		{
			name:      "processing failure returns 500 for redelivery",
			eventType: "invoice.paid",
			object:    map[string]any{"id": "in_1"},
			setupMock: func(r *ReconcilerMock) {
				r.On("HandleInvoicePaid", mock.Anything, mock.Anything).Return(false).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &ReconcilerMock{}
			tt.setupMock(rec)
			handler := stripewebhook.New(newNoopLogger(), rec, &verifierFake{})

			body := eventBody(t, tt.eventType, tt.object)
			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			rec.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_Signature(t *testing.T) {
	const secret = "whsec_test"

	t.Run("valid signature is accepted", func(t *testing.T) {
		rec := &ReconcilerMock{}
		rec.On("HandleInvoicePaid", mock.Anything, mock.Anything).Return(true).Once()
		handler := stripewebhook.New(newNoopLogger(), rec, &secretVerifier{secret: secret})

		body := eventBody(t, "invoice.paid", map[string]any{"id": "in_1"})
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
		req.Header.Set("Stripe-Signature", signBody(secret, body))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		rec.AssertExpectations(t)
	})

	t.Run("wrong secret is rejected", func(t *testing.T) {
		rec := &ReconcilerMock{}
		handler := stripewebhook.New(newNoopLogger(), rec, &secretVerifier{secret: secret})

		body := eventBody(t, "invoice.paid", map[string]any{"id": "in_1"})
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
		req.Header.Set("Stripe-Signature", signBody("whsec_other", body))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		rec.AssertNotCalled(t, "HandleInvoicePaid", mock.Anything, mock.Anything)
	})

	t.Run("missing signature is rejected", func(t *testing.T) {
		rec := &ReconcilerMock{}
		handler := stripewebhook.New(newNoopLogger(), rec, &verifierFake{err: errors.New("no signature")})

		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("{}"))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
