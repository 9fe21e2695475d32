package license

import "errors"

// Ошибки жизненного цикла лицензии. Обработчики транслируют их в HTTP-коды,
// поэтому сравнение всегда через errors.Is.
var (
	// ErrLicenseNotFound лицензия с таким ключом не существует либо ключ
	// не прошел нормализацию. Для клиента оба случая неразличимы.
	ErrLicenseNotFound = errors.New("invalid license key")
	// ErrAlreadyActivated лицензия уже активирована этим пользователем.
	ErrAlreadyActivated = errors.New("license already activated")
	// ErrLicenseExpired срок действия лицензии истек.
	ErrLicenseExpired = errors.New("license expired")
	// ErrOwnershipConflict лицензия принадлежит другому пользователю.
	ErrOwnershipConflict = errors.New("license belongs to another user")
	// ErrKeyGenerationExhausted не удалось сгенерировать уникальный ключ
	// за отведенное число попыток.
	ErrKeyGenerationExhausted = errors.New("license key generation exhausted")
	// ErrPartialActivation лицензия активирована, но статус пользователя
	// обновить не удалось. Состояние требует повторной попытки активации
	// или ручного вмешательства.
	ErrPartialActivation = errors.New("license activated but account upgrade failed")
	// ErrUserNotFound пользователь с таким UID не существует.
	ErrUserNotFound = errors.New("user not found")
	// ErrTrialAlreadyUsed пробный период уже запускался и повторно недоступен.
	ErrTrialAlreadyUsed = errors.New("trial already used")
)
