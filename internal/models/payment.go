package models

import "time"

// StatusCompleted единственный статус платежа, который записывает сервис.
const StatusCompleted = "completed"

// Payment представляет запись об обработанном платёжном событии.
//
// Пара (UserUID, PaymentID) уникальна и служит ключом идемпотентности:
// повторная доставка того же webhook-события не создаёт вторую запись.
type Payment struct {
	ID        int
	UserUID   string
	PaymentID string // Идентификатор платежа у провайдера (invoice id)
	LicenseID int
	Amount    int64 // Сумма в минимальных единицах валюты
	Currency  string
	Status    string
	CreatedAt time.Time
}
