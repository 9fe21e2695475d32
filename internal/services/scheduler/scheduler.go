// Package scheduler периодически находит пользователей, у которых скоро
// закончится пробный период или оплаченная подписка, и ставит напоминания
// в очередь уведомлений.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/status"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/models"
)

// Repository определяет выборки пользователей для напоминаний.
type Repository interface {
	// FindTrialsEndingInDays находит пользователей, у которых пробный период
	// заканчивается ровно через days дней.
	FindTrialsEndingInDays(ctx context.Context, trialDays, days int) ([]*models.User, error)
	// FindSubscriptionsEndingInDays находит пользователей, у которых подписка
	// заканчивается ровно через days дней.
	FindSubscriptionsEndingInDays(ctx context.Context, days int) ([]*models.User, error)
}

// Notifier публикует напоминания в очередь уведомлений.
type Notifier interface {
	// PublishTrialEnding ставит в очередь напоминание об окончании пробного периода.
	PublishTrialEnding(msg models.TrialEndingMessage) error
	// PublishSubscriptionEnding ставит в очередь напоминание об окончании подписки.
	PublishSubscriptionEnding(msg models.SubscriptionEndingMessage) error
}

// Policy параметры планировщика напоминаний.
type Policy struct {
	TrialDays    int
	ReminderDays []int
	Period       time.Duration
}

// Service реализует планировщик напоминаний.
type Service struct {
	repo     Repository
	notifier Notifier
	policy   Policy
	log      *slog.Logger
}

// NewService создает новый экземпляр Service.
func NewService(repo Repository, notifier Notifier, policy Policy, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		policy:   policy,
		log:      log,
	}
}

// Run запускает цикл напоминаний: первый проход сразу, затем по тикеру,
// до отмены контекста.
func (s *Service) Run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.policy.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("reminder scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход по всем порогам напоминаний.
func (s *Service) RunOnce(ctx context.Context) {
	s.log.Info("starting reminder pass")
	for _, days := range s.policy.ReminderDays {
		s.remindTrials(ctx, days)
		s.remindSubscriptions(ctx, days)
	}
}

func (s *Service) remindTrials(ctx context.Context, days int) {
	users, err := s.repo.FindTrialsEndingInDays(ctx, s.policy.TrialDays, days)
	if err != nil {
		s.log.Error("failed to find ending trials", slog.Int("days", days), sl.Err(err))
		return
	}
	if len(users) == 0 {
		return
	}
	s.log.Info("found ending trials", slog.Int("days", days), slog.Int("count", len(users)))
	for _, user := range users {
		if user.TrialStartedAt == nil {
			continue
		}
		err := s.notifier.PublishTrialEnding(models.TrialEndingMessage{
			Email:         user.Email,
			DaysRemaining: days,
			EndsAt:        status.TrialEnd(*user.TrialStartedAt, s.policy.TrialDays),
		})
		if err != nil {
			s.log.Error("failed to publish trial reminder", sl.Err(err))
		}
	}
}

func (s *Service) remindSubscriptions(ctx context.Context, days int) {
	users, err := s.repo.FindSubscriptionsEndingInDays(ctx, days)
	if err != nil {
		s.log.Error("failed to find ending subscriptions", slog.Int("days", days), sl.Err(err))
		return
	}
	if len(users) == 0 {
		return
	}
	s.log.Info("found ending subscriptions", slog.Int("days", days), slog.Int("count", len(users)))
	for _, user := range users {
		if user.SubscriptionEndAt == nil {
			continue
		}
		err := s.notifier.PublishSubscriptionEnding(models.SubscriptionEndingMessage{
			Email:         user.Email,
			DaysRemaining: days,
			EndsAt:        *user.SubscriptionEndAt,
		})
		if err != nil {
			s.log.Error("failed to publish subscription reminder", sl.Err(err))
		}
	}
}
