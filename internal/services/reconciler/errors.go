package reconciler

import "errors"

var (
	// ErrUnresolvable ни один шаг цепочки разрешения не дал идентификатор
	// пользователя. Событие отбрасывается без частичных записей.
	ErrUnresolvable = errors.New("user could not be resolved from event")
	// ErrInvalidIdentifier внешний идентификатор пользователя не соответствует
	// каноническому формату UUID.
	ErrInvalidIdentifier = errors.New("invalid user identifier")
)
