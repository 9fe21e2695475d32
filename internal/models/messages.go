package models

import "time"

// LicenseIssuedMessage сообщение очереди о выпуске новой лицензии.
type LicenseIssuedMessage struct {
	Email      string     `json:"email"`
	LicenseKey string     `json:"license_key"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// TrialEndingMessage сообщение очереди о скором окончании пробного периода.
type TrialEndingMessage struct {
	Email         string    `json:"email"`
	DaysRemaining int       `json:"days_remaining"`
	EndsAt        time.Time `json:"ends_at"`
}

// SubscriptionEndingMessage сообщение очереди о скором окончании подписки.
type SubscriptionEndingMessage struct {
	Email         string    `json:"email"`
	DaysRemaining int       `json:"days_remaining"`
	EndsAt        time.Time `json:"ends_at"`
}
