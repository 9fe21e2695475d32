package models

import "time"

// License представляет лицензионный ключ расширения.
//
// Ключ глобально уникален (ограничение в базе). Активированная лицензия
// привязана ровно к одному пользователю, и привязка не меняется — лицензию
// можно только деактивировать.
type License struct {
	ID        int
	Key       string     // Канонический вид PDFPRO-XXXX-XXXX-XXXX-XXXX
	UserUID   *string    // Владелец; nil, пока лицензия никому не выдана
	PlanType  string     // Тариф, например "monthly"
	Active    bool
	ExpiresAt *time.Time // nil — бессрочная лицензия
	CreatedAt time.Time
}

// IsExpired сообщает, истекла ли лицензия к моменту now.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}
