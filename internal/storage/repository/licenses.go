package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/models"
)

const licenseCols = `id, license_key, user_uid, plan_type, active, expires_at, created_at`

func scanLicense(row interface{ Scan(...any) error }) (*models.License, error) {
	l := &models.License{}
	var userUID sql.NullString
	var expiresAt sql.NullTime
	if err := row.Scan(&l.ID, &l.Key, &userUID, &l.PlanType, &l.Active, &expiresAt, &l.CreatedAt); err != nil {
		return nil, err
	}
	if userUID.Valid {
		l.UserUID = &userUID.String
	}
	if expiresAt.Valid {
		l.ExpiresAt = &expiresAt.Time
	}
	return l, nil
}

// InsertLicense вставляет новую лицензию и возвращает её ID.
// При коллизии лицензионного ключа возвращает ErrDuplicateKey.
func (s *Storage) InsertLicense(ctx context.Context, lic models.License) (int, error) {
	const op = "storage.InsertLicense"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO licenses (license_key, user_uid, plan_type, active, expires_at)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING id`
	var newID int
	err := s.DB.QueryRowContext(ctx, query,
		lic.Key, lic.UserUID, lic.PlanType, lic.Active, lic.ExpiresAt).Scan(&newID)
	if err != nil {
		return 0, wrapUnique(op, err)
	}
	return newID, nil
}

// GetLicenseByKey возвращает лицензию по каноническому ключу.
func (s *Storage) GetLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	const op = "storage.GetLicenseByKey"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + licenseCols + ` FROM licenses WHERE license_key = $1`
	l, err := scanLicense(s.DB.QueryRowContext(ctx, query, key))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return l, nil
}

// ListLicensesCreatedAfter возвращает лицензии пользователя, созданные после
// указанного момента, от новых к старым. Используется окном дедупликации.
func (s *Storage) ListLicensesCreatedAfter(ctx context.Context, userUID string, since time.Time) ([]*models.License, error) {
	const op = "storage.ListLicensesCreatedAfter"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + licenseCols + `
			  FROM licenses
			  WHERE user_uid = $1 AND created_at > $2
			  ORDER BY created_at DESC`
	rows, err := s.DB.QueryContext(ctx, query, userUID, since)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ActivateLicense выполняет активацию одним условным обновлением:
// лицензия должна быть неактивной, непросроченной и либо свободной,
// либо уже принадлежать этому пользователю. Возвращает количество
// затронутых строк; ноль означает, что условие не выполнилось, и причину
// нужно выяснять повторным чтением строки.
func (s *Storage) ActivateLicense(ctx context.Context, key, userUID string, now time.Time) (int64, error) {
	const op = "storage.ActivateLicense"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE licenses
			  SET active = TRUE, user_uid = $2
			  WHERE license_key = $1
			    AND active = FALSE
			    AND (expires_at IS NULL OR expires_at > $3)
			    AND (user_uid IS NULL OR user_uid = $2)`
	result, err := s.DB.ExecContext(ctx, query, key, userUID, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected, nil
}

// DeactivateLicensesForUser деактивирует все лицензии пользователя.
// Операция необратима: повторная активация потребует новой лицензии.
func (s *Storage) DeactivateLicensesForUser(ctx context.Context, userUID string) (int64, error) {
	const op = "storage.DeactivateLicensesForUser"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE licenses SET active = FALSE WHERE user_uid = $1 AND active = TRUE`
	result, err := s.DB.ExecContext(ctx, query, userUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected, nil
}
