package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/models"
)

const userCols = `uid, auth_provider_id, email, stripe_customer_id, stripe_subscription_id,
			      trial_started_at, subscription_status, subscription_start_at, subscription_end_at, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var customerID, subscriptionID sql.NullString
	var trialStartedAt, subStartAt, subEndAt sql.NullTime
	if err := row.Scan(&u.UID, &u.AuthProviderID, &u.Email, &customerID, &subscriptionID,
		&trialStartedAt, &u.SubscriptionStatus, &subStartAt, &subEndAt, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.StripeCustomerID = customerID.String
	u.StripeSubscriptionID = subscriptionID.String
	if trialStartedAt.Valid {
		u.TrialStartedAt = &trialStartedAt.Time
	}
	if subStartAt.Valid {
		u.SubscriptionStartAt = &subStartAt.Time
	}
	if subEndAt.Valid {
		u.SubscriptionEndAt = &subEndAt.Time
	}
	return u, nil
}

// CreateUser сохраняет нового пользователя и возвращает его UID.
// Вызывается при первом входе через внешнего провайдера аутентификации.
func (s *Storage) CreateUser(ctx context.Context, user models.User) (string, error) {
	const op = "storage.CreateUser"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var newUID string
	query := `INSERT INTO users (auth_provider_id, email, subscription_status)
			  VALUES ($1, $2, $3)
			  RETURNING uid;`
	if err := s.DB.QueryRowContext(ctx, query,
		user.AuthProviderID, user.Email, user.SubscriptionStatus).Scan(&newUID); err != nil {
		return "", wrapUnique(op, err)
	}
	return newUID, nil
}

// GetUser возвращает пользователя по его UID.
func (s *Storage) GetUser(ctx context.Context, userUID string) (*models.User, error) {
	const op = "storage.GetUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userCols + ` FROM users WHERE uid = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, userUID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// FindUserBySubscriptionID возвращает пользователя по идентификатору подписки Stripe.
func (s *Storage) FindUserBySubscriptionID(ctx context.Context, subscriptionID string) (*models.User, error) {
	const op = "storage.FindUserBySubscriptionID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userCols + ` FROM users WHERE stripe_subscription_id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, subscriptionID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// LinkStripeAccount сохраняет связку пользователя с клиентом и подпиской Stripe.
// Пустые значения не затирают уже сохранённые идентификаторы.
func (s *Storage) LinkStripeAccount(ctx context.Context, userUID, customerID, subscriptionID string) error {
	const op = "storage.LinkStripeAccount"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET stripe_customer_id = COALESCE(NULLIF($2, ''), stripe_customer_id),
			      stripe_subscription_id = COALESCE(NULLIF($3, ''), stripe_subscription_id)
			  WHERE uid = $1`
	if _, err := s.DB.ExecContext(ctx, query, userUID, customerID, subscriptionID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// StartTrial устанавливает дату начала пробного периода, если она ещё не задана.
// Возвращает false, если триал уже запускался: поле неизменяемо после первой записи.
func (s *Storage) StartTrial(ctx context.Context, userUID string, startedAt time.Time) (bool, error) {
	const op = "storage.StartTrial"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET trial_started_at = $2, subscription_status = $3
			  WHERE uid = $1 AND trial_started_at IS NULL`
	result, err := s.DB.ExecContext(ctx, query, userUID, startedAt, "trial")
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// UpgradeToPro переводит пользователя в статус pro после активации лицензии.
func (s *Storage) UpgradeToPro(ctx context.Context, userUID string, startAt time.Time, endAt *time.Time) error {
	const op = "storage.UpgradeToPro"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET subscription_status = 'pro', subscription_start_at = $2, subscription_end_at = $3
			  WHERE uid = $1`
	result, err := s.DB.ExecContext(ctx, query, userUID, startAt, endAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
	}
	return nil
}

// RefreshSubscriptionEnd обновляет только дату окончания подписки.
func (s *Storage) RefreshSubscriptionEnd(ctx context.Context, userUID string, endAt time.Time) error {
	const op = "storage.RefreshSubscriptionEnd"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET subscription_end_at = $2 WHERE uid = $1`
	if _, err := s.DB.ExecContext(ctx, query, userUID, endAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MarkSubscriptionExpired помечает подписку пользователя завершённой.
func (s *Storage) MarkSubscriptionExpired(ctx context.Context, userUID string, endedAt time.Time) error {
	const op = "storage.MarkSubscriptionExpired"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET subscription_status = 'expired', subscription_end_at = $2
			  WHERE uid = $1`
	if _, err := s.DB.ExecContext(ctx, query, userUID, endedAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FindTrialsEndingInDays находит пользователей, у которых пробный период
// заканчивается ровно через days дней.
func (s *Storage) FindTrialsEndingInDays(ctx context.Context, trialDays, days int) ([]*models.User, error) {
	const op = "storage.FindTrialsEndingInDays"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userCols + `
			  FROM users
			  WHERE trial_started_at IS NOT NULL
			    AND subscription_status <> 'pro'
			    AND (trial_started_at + $1 * INTERVAL '1 day')::DATE = CURRENT_DATE + $2`
	rows, err := s.DB.QueryContext(ctx, query, trialDays, days)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// FindSubscriptionsEndingInDays находит пользователей, у которых оплаченная
// подписка заканчивается ровно через days дней.
func (s *Storage) FindSubscriptionsEndingInDays(ctx context.Context, days int) ([]*models.User, error) {
	const op = "storage.FindSubscriptionsEndingInDays"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userCols + `
			  FROM users
			  WHERE subscription_status = 'pro'
			    AND subscription_end_at IS NOT NULL
			    AND subscription_end_at::DATE = CURRENT_DATE + $1`
	rows, err := s.DB.QueryContext(ctx, query, days)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
