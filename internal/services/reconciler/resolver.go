package reconciler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/sl"
)

// MetadataUserUID ключ метаданных Stripe, в котором хранится UID пользователя.
const MetadataUserUID = "user_uid"

// resolveStep один шаг цепочки разрешения пользователя. Возвращает UID
// и признак успеха; ошибки шага логируются и не прерывают цепочку.
type resolveStep struct {
	name string
	fn   func(ctx context.Context) (string, bool)
}

// resolveUserUID определяет пользователя по событию подписки. Шаги
// применяются строго по порядку, срабатывает первый успешный:
//
//  1. метаданные подписки;
//  2. метаданные покупателя;
//  3. метаданные последнего счета;
//  4. сохраненная ранее связка с идентификатором подписки.
//
// Порядок важен: провайдер не гарантирует заполнение какого-то одного поля.
// Если ни один шаг не дал результата — ErrUnresolvable, найденный UID
// с некорректным форматом — ErrInvalidIdentifier.
func (s *Service) resolveUserUID(ctx context.Context, sub *stripe.Subscription) (string, error) {
	steps := []resolveStep{
		{name: "subscription metadata", fn: func(_ context.Context) (string, bool) {
			uid, ok := sub.Metadata[MetadataUserUID]
			return uid, ok && uid != ""
		}},
		{name: "customer metadata", fn: func(_ context.Context) (string, bool) {
			if sub.Customer == nil || sub.Customer.ID == "" {
				return "", false
			}
			cust, err := s.provider.GetCustomer(sub.Customer.ID)
			if err != nil {
				s.log.Warn("failed to fetch customer for resolution", sl.Err(err))
				return "", false
			}
			uid, ok := cust.Metadata[MetadataUserUID]
			return uid, ok && uid != ""
		}},
		{name: "latest invoice metadata", fn: func(_ context.Context) (string, bool) {
			if sub.LatestInvoice == nil || sub.LatestInvoice.ID == "" {
				return "", false
			}
			inv, err := s.provider.GetInvoice(sub.LatestInvoice.ID)
			if err != nil {
				s.log.Warn("failed to fetch invoice for resolution", sl.Err(err))
				return "", false
			}
			uid, ok := inv.Metadata[MetadataUserUID]
			return uid, ok && uid != ""
		}},
		{name: "stored subscription link", fn: func(ctx context.Context) (string, bool) {
			user, err := s.repo.FindUserBySubscriptionID(ctx, sub.ID)
			if errors.Is(err, sql.ErrNoRows) {
				return "", false
			}
			if err != nil {
				s.log.Warn("failed to look up user by subscription id", sl.Err(err))
				return "", false
			}
			return user.UID, true
		}},
	}

	for _, step := range steps {
		uid, ok := step.fn(ctx)
		if !ok {
			continue
		}
		if err := uuid.Validate(uid); err != nil {
			return "", fmt.Errorf("resolve via %s: %w", step.name, ErrInvalidIdentifier)
		}
		s.log.Debug("resolved user from event",
			slog.String("step", step.name), slog.String("user_uid", uid))
		return uid, nil
	}
	return "", ErrUnresolvable
}
