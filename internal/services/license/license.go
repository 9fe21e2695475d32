// Package license содержит бизнес-логику жизненного цикла лицензий:
// выпуск ключей с окном дедупликации, одноразовую активацию, проверку
// ключей и вычисление статуса аккаунта с кешированием.
package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/licensekey"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/status"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/models"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/storage/repository"
)

// Repository определяет методы хранилища, нужные сервису лицензий.
type Repository interface {
	// InsertLicense вставляет новую лицензию и возвращает её ID.
	InsertLicense(ctx context.Context, lic models.License) (int, error)
	// GetLicenseByKey возвращает лицензию по каноническому ключу.
	GetLicenseByKey(ctx context.Context, key string) (*models.License, error)
	// ListLicensesCreatedAfter возвращает лицензии пользователя, созданные после since.
	ListLicensesCreatedAfter(ctx context.Context, userUID string, since time.Time) ([]*models.License, error)
	// ActivateLicense выполняет условную активацию, возвращает число затронутых строк.
	ActivateLicense(ctx context.Context, key, userUID string, now time.Time) (int64, error)
	// GetUser возвращает пользователя по UID.
	GetUser(ctx context.Context, userUID string) (*models.User, error)
	// UpgradeToPro переводит пользователя в статус pro.
	UpgradeToPro(ctx context.Context, userUID string, startAt time.Time, endAt *time.Time) error
	// StartTrial устанавливает дату начала пробного периода, если она ещё не задана.
	StartTrial(ctx context.Context, userUID string, startedAt time.Time) (bool, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(key string, value any, expiration time.Duration) error
	// Invalidate удаляет значение из кеша по ключу.
	Invalidate(key string) error
}

// Policy продуктовые параметры лицензирования.
type Policy struct {
	TrialDays      int
	DedupWindow    time.Duration
	KeyRetries     int
	StatusCacheTTL time.Duration
}

// Service реализует бизнес-логику работы с лицензиями.
type Service struct {
	repo   Repository
	cache  Cache
	policy Policy
	log    *slog.Logger

	now func() time.Time
}

// NewService создает новый экземпляр Service.
func NewService(repo Repository, cache Cache, policy Policy, log *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		policy: policy,
		log:    log,
		now:    time.Now,
	}
}

// CreateForUser выпускает лицензию на periodMonths месяцев (ноль — бессрочно).
// Если в пределах окна дедупликации у пользователя уже есть лицензия,
// возвращается она, а не новая: повторные события оплаты не должны плодить
// ключи. Второе возвращаемое значение сообщает, была ли лицензия выпущена
// именно этим вызовом.
func (s *Service) CreateForUser(ctx context.Context, userUID, planType string, periodMonths int) (*models.License, bool, error) {
	const op = "services.license.CreateForUser"
	now := s.now().UTC()

	recent, err := s.repo.ListLicensesCreatedAfter(ctx, userUID, now.Add(-s.policy.DedupWindow))
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	for _, lic := range recent {
		if lic.UserUID != nil && *lic.UserUID == userUID {
			s.log.Info("reusing license from dedup window",
				slog.String("user_uid", userUID), slog.Int("license_id", lic.ID))
			return lic, false, nil
		}
		s.log.Warn("license in dedup window belongs to another user, ignoring",
			slog.String("user_uid", userUID), slog.Int("license_id", lic.ID))
	}

	var expiresAt *time.Time
	if periodMonths > 0 {
		exp := now.AddDate(0, periodMonths, 0)
		expiresAt = &exp
	}
	lic := models.License{
		UserUID:   &userUID,
		PlanType:  planType,
		Active:    false,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	for attempt := 0; attempt <= s.policy.KeyRetries; attempt++ {
		key, err := licensekey.Generate()
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
		lic.Key = key
		id, err := s.repo.InsertLicense(ctx, lic)
		if errors.Is(err, repository.ErrDuplicateKey) {
			s.log.Warn("license key collision, regenerating",
				slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
		lic.ID = id

		s.log.Info("issued new license",
			slog.String("user_uid", userUID), slog.Int("license_id", id))
		return &lic, true, nil
	}
	return nil, false, fmt.Errorf("%s: %w", op, ErrKeyGenerationExhausted)
}

// Activate активирует лицензию для пользователя и переводит его в статус pro.
//
// Активация одноразовая: повторный вызов тем же пользователем возвращает
// ErrAlreadyActivated, чужая лицензия — ErrOwnershipConflict. Сама привязка
// выполняется одним условным обновлением, поэтому гонка двух конкурентных
// активаций отдаёт лицензию ровно одному из них.
func (s *Service) Activate(ctx context.Context, rawKey, userUID string) (*models.License, error) {
	const op = "services.license.Activate"

	key, err := licensekey.Normalize(rawKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrLicenseNotFound)
	}
	now := s.now().UTC()

	rowsAffected, err := s.repo.ActivateLicense(ctx, key, userUID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return nil, s.classifyActivationFailure(ctx, op, key, userUID, now)
	}

	lic, err := s.repo.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.repo.UpgradeToPro(ctx, userUID, now, lic.ExpiresAt); err != nil {
		s.log.Error("license activated but user upgrade failed",
			slog.String("user_uid", userUID), slog.String("license_key", key), sl.Err(err))
		return nil, fmt.Errorf("%s: %w: %w", op, ErrPartialActivation, err)
	}

	s.invalidateStatus(userUID)
	s.log.Info("license activated",
		slog.String("user_uid", userUID), slog.Int("license_id", lic.ID))
	return lic, nil
}

// classifyActivationFailure повторно читает лицензию, чтобы объяснить,
// почему условное обновление не затронуло ни одной строки.
func (s *Service) classifyActivationFailure(ctx context.Context, op, key, userUID string, now time.Time) error {
	lic, err := s.repo.GetLicenseByKey(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrLicenseNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case lic.IsExpired(now):
		return fmt.Errorf("%s: %w", op, ErrLicenseExpired)
	case lic.UserUID != nil && *lic.UserUID != userUID:
		return fmt.Errorf("%s: %w", op, ErrOwnershipConflict)
	case lic.Active:
		return fmt.Errorf("%s: %w", op, ErrAlreadyActivated)
	default:
		return fmt.Errorf("%s: activation rejected for license %d", op, lic.ID)
	}
}

// Validate нормализует ключ и возвращает лицензию без побочных эффектов.
func (s *Service) Validate(ctx context.Context, rawKey string) (*models.License, error) {
	const op = "services.license.Validate"

	key, err := licensekey.Normalize(rawKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrLicenseNotFound)
	}
	lic, err := s.repo.GetLicenseByKey(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrLicenseNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return lic, nil
}

// AccountStatus вычисляет статус аккаунта пользователя, используя кеш
// или хранилище.
func (s *Service) AccountStatus(ctx context.Context, userUID string) (status.Account, error) {
	const op = "services.license.AccountStatus"

	cacheKey := statusCacheKey(userUID)
	var cached status.Account
	found, err := s.cache.Get(cacheKey, &cached)
	if err != nil {
		s.log.Warn("failed to read status from cache", slog.String("key", cacheKey), sl.Err(err))
	}
	if found {
		return cached, nil
	}

	user, err := s.repo.GetUser(ctx, userUID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	result := status.Determine(user.TrialStartedAt, user.SubscriptionEndAt, s.now().UTC(), s.policy.TrialDays)
	if err := s.cache.Set(cacheKey, result, s.policy.StatusCacheTTL); err != nil {
		s.log.Warn("failed to cache account status", slog.String("key", cacheKey), sl.Err(err))
	}
	return result, nil
}

// StartTrial запускает пробный период. Повторный запуск невозможен.
func (s *Service) StartTrial(ctx context.Context, userUID string) (*models.User, error) {
	const op = "services.license.StartTrial"

	started, err := s.repo.StartTrial(ctx, userUID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user, err := s.repo.GetUser(ctx, userUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !started {
		return nil, fmt.Errorf("%s: %w", op, ErrTrialAlreadyUsed)
	}
	s.invalidateStatus(userUID)
	s.log.Info("trial started", slog.String("user_uid", userUID))
	return user, nil
}

func (s *Service) invalidateStatus(userUID string) {
	cacheKey := statusCacheKey(userUID)
	if err := s.cache.Invalidate(cacheKey); err != nil {
		s.log.Warn("failed to invalidate status cache", slog.String("key", cacheKey), sl.Err(err))
	}
}

func statusCacheKey(userUID string) string {
	return fmt.Sprintf("account_status:%s", userUID)
}
