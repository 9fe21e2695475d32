// Package paymentprovider содержит клиент для работы с API платежного провайдера Stripe.
package paymentprovider

import (
	"fmt"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Client оборачивает вызовы к Stripe API.
type Client struct {
	webhookSecret string
}

// NewClient создает новый экземпляр Client и настраивает глобальный ключ Stripe.
func NewClient(secretKey, webhookSecret string, timeout time.Duration) *Client {
	stripe.Key = secretKey
	stripe.SetHTTPClient(&http.Client{Timeout: timeout})
	return &Client{webhookSecret: webhookSecret}
}

// ConstructWebhookEvent проверяет подпись вебхука и возвращает разобранное событие.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, c.webhookSecret)
}

// GetSubscription возвращает подписку по ее идентификатору.
func (c *Client) GetSubscription(id string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("get stripe subscription: %w", err)
	}
	return sub, nil
}

// GetCustomer возвращает покупателя по его идентификатору.
func (c *Client) GetCustomer(id string) (*stripe.Customer, error) {
	cust, err := customer.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("get stripe customer: %w", err)
	}
	return cust, nil
}

// FindActiveSubscriptionByCustomer возвращает первую активную подписку покупателя.
// Возвращает nil, если активных подписок нет.
func (c *Client) FindActiveSubscriptionByCustomer(customerID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Limit = stripe.Int64(1)
	iter := subscription.List(params)
	for iter.Next() {
		return iter.Subscription(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list stripe subscriptions: %w", err)
	}
	return nil, nil
}

// GetInvoice возвращает счет по его идентификатору.
func (c *Client) GetInvoice(id string) (*stripe.Invoice, error) {
	inv, err := invoice.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("get stripe invoice: %w", err)
	}
	return inv, nil
}

// SubscriptionIDFromInvoice извлекает идентификатор подписки из счета.
// Возвращает пустую строку, если счет не привязан к подписке.
func SubscriptionIDFromInvoice(inv *stripe.Invoice) string {
	if inv.Parent != nil &&
		inv.Parent.SubscriptionDetails != nil &&
		inv.Parent.SubscriptionDetails.Subscription != nil {
		return inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

// SubscriptionPeriodEnd возвращает момент окончания оплаченного периода подписки.
func SubscriptionPeriodEnd(sub *stripe.Subscription) (time.Time, error) {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return time.Time{}, fmt.Errorf("subscription %s has no items", sub.ID)
	}
	return time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0).UTC(), nil
}
