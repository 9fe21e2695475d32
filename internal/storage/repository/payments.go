package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/models"
)

// InsertPayment вставляет запись о платеже и возвращает её ID.
// Пара (user_uid, payment_id) уникальна; при повторе возвращает ErrDuplicateKey.
func (s *Storage) InsertPayment(ctx context.Context, p models.Payment) (int, error) {
	const op = "storage.InsertPayment"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payments (user_uid, payment_id, license_id, amount, currency, status)
			  VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6)
			  RETURNING id`
	var newID int
	err := s.DB.QueryRowContext(ctx, query,
		p.UserUID, p.PaymentID, p.LicenseID, p.Amount, p.Currency, p.Status).Scan(&newID)
	if err != nil {
		return 0, wrapUnique(op, err)
	}
	return newID, nil
}

// FindPayment возвращает запись о платеже по ключу идемпотентности.
func (s *Storage) FindPayment(ctx context.Context, userUID, paymentID string) (*models.Payment, error) {
	const op = "storage.FindPayment"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, payment_id, COALESCE(license_id, 0), amount, currency, status, created_at
			  FROM payments
			  WHERE user_uid = $1 AND payment_id = $2`
	var p models.Payment
	row := s.DB.QueryRowContext(ctx, query, userUID, paymentID)
	if err := row.Scan(&p.ID, &p.UserUID, &p.PaymentID, &p.LicenseID,
		&p.Amount, &p.Currency, &p.Status, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}
