// Package status реализует чистые правила определения статуса аккаунта
// по дате начала пробного периода и дате окончания оплаченной подписки.
//
// Функции пакета не имеют побочных эффектов и не обращаются к хранилищу:
// текущее время всегда передаётся параметром, что делает правила
// детерминированными в тестах.
package status

import "time"

// Account перечисляет возможные статусы аккаунта.
type Account string

const (
	// Inactive — у пользователя нет ни пробного периода, ни подписки.
	Inactive Account = "inactive"
	// Trial — идёт пробный период.
	Trial Account = "trial"
	// Expired — пробный период или подписка закончились.
	Expired Account = "expired"
	// Pro — есть действующая оплаченная подписка.
	Pro Account = "pro"
)

// DefaultTrialDays длительность пробного периода по умолчанию.
const DefaultTrialDays = 7

// Determine вычисляет статус аккаунта. Правила применяются по порядку,
// срабатывает первое подходящее:
//
//  1. действующая подписка — Pro;
//  2. текущий момент внутри полуинтервала [начало триала, начало + trialDays) — Trial;
//  3. есть хоть какая-то история (триал или подписка) — Expired;
//  4. иначе — Inactive.
func Determine(trialStartedAt, subscriptionExpiresAt *time.Time, now time.Time, trialDays int) Account {
	if IsSubscriptionActive(subscriptionExpiresAt, now) {
		return Pro
	}
	if trialStartedAt != nil {
		end := TrialEnd(*trialStartedAt, trialDays)
		if !now.Before(*trialStartedAt) && now.Before(end) {
			return Trial
		}
	}
	if trialStartedAt != nil || subscriptionExpiresAt != nil {
		return Expired
	}
	return Inactive
}

// TrialEnd возвращает момент окончания пробного периода.
// Окно полуоткрытое: ровно trialDays суток доступа с первого мгновения триала.
func TrialEnd(trialStartedAt time.Time, trialDays int) time.Time {
	return trialStartedAt.AddDate(0, 0, trialDays)
}

// IsSubscriptionActive сообщает, действует ли подписка в момент now.
// Сравнение строгое: подписка, истекающая ровно «сейчас», уже не активна.
func IsSubscriptionActive(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && expiresAt.After(now)
}
