// Package models содержит доменные структуры сервиса лицензирования:
// пользователей, лицензии, платежи и сообщения очереди уведомлений.
// Структуры используются в бизнес-логике и при работе с хранилищем.
package models

import "time"

// User представляет аккаунт пользователя расширения.
//
// Поле TrialStartedAt неизменяемо после первого заполнения: повторный запуск
// пробного периода в хранилище не проходит по условию trial_started_at IS NULL.
type User struct {
	UID                  string     // Уникальный идентификатор пользователя (UUID)
	AuthProviderID       string     // Идентификатор во внешнем провайдере аутентификации
	Email                string     // Электронная почта (уникальная)
	StripeCustomerID     string     // Идентификатор клиента в Stripe
	StripeSubscriptionID string     // Идентификатор подписки в Stripe
	TrialStartedAt       *time.Time // Дата начала пробного периода, устанавливается один раз
	SubscriptionStatus   string     // Кешированный статус подписки
	SubscriptionStartAt  *time.Time // Дата начала оплаченной подписки
	SubscriptionEndAt    *time.Time // Дата окончания оплаченной подписки
	CreatedAt            time.Time
}
