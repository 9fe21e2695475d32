// Package reconciler превращает события платежного провайдера в изменения
// лицензий и пользователей. Каждое событие обрабатывается идемпотентно:
// повторная доставка того же платежа не создает вторую лицензию и не шлет
// второе письмо.
package reconciler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/models"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/paymentprovider"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/storage/repository"
)

// Repository определяет методы хранилища, нужные реконсилятору.
type Repository interface {
	// GetUser возвращает пользователя по UID.
	GetUser(ctx context.Context, userUID string) (*models.User, error)
	// FindUserBySubscriptionID возвращает пользователя по идентификатору подписки.
	FindUserBySubscriptionID(ctx context.Context, subscriptionID string) (*models.User, error)
	// LinkStripeAccount сохраняет связку пользователя с клиентом и подпиской Stripe.
	LinkStripeAccount(ctx context.Context, userUID, customerID, subscriptionID string) error
	// InsertPayment вставляет запись о платеже.
	InsertPayment(ctx context.Context, p models.Payment) (int, error)
	// FindPayment возвращает запись о платеже по ключу идемпотентности.
	FindPayment(ctx context.Context, userUID, paymentID string) (*models.Payment, error)
	// RefreshSubscriptionEnd обновляет дату окончания подписки.
	RefreshSubscriptionEnd(ctx context.Context, userUID string, endAt time.Time) error
	// MarkSubscriptionExpired помечает подписку пользователя завершённой.
	MarkSubscriptionExpired(ctx context.Context, userUID string, endedAt time.Time) error
	// DeactivateLicensesForUser деактивирует все лицензии пользователя.
	DeactivateLicensesForUser(ctx context.Context, userUID string) (int64, error)
}

// Licenses определяет операции выпуска лицензий.
type Licenses interface {
	// CreateForUser выпускает или переиспользует лицензию в окне дедупликации.
	CreateForUser(ctx context.Context, userUID, planType string, periodMonths int) (*models.License, bool, error)
}

// Provider определяет вызовы к API платежного провайдера.
type Provider interface {
	// GetSubscription возвращает подписку по идентификатору.
	GetSubscription(id string) (*stripe.Subscription, error)
	// GetCustomer возвращает покупателя по идентификатору.
	GetCustomer(id string) (*stripe.Customer, error)
	// GetInvoice возвращает счет по идентификатору.
	GetInvoice(id string) (*stripe.Invoice, error)
	// FindActiveSubscriptionByCustomer возвращает активную подписку покупателя или nil.
	FindActiveSubscriptionByCustomer(customerID string) (*stripe.Subscription, error)
}

// Notifier публикует уведомления о событиях лицензирования.
type Notifier interface {
	// PublishLicenseIssued ставит в очередь письмо с новым лицензионным ключом.
	PublishLicenseIssued(msg models.LicenseIssuedMessage) error
}

// Cache описывает инвалидацию кеша статусов.
type Cache interface {
	// Invalidate удаляет значение из кеша по ключу.
	Invalidate(key string) error
}

// Service реализует обработку платёжных событий.
type Service struct {
	repo     Repository
	licenses Licenses
	provider Provider
	notifier Notifier
	cache    Cache
	log      *slog.Logger

	now func() time.Time
}

// NewService создает новый экземпляр Service.
func NewService(repo Repository, licenses Licenses, provider Provider, notifier Notifier, cache Cache, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		licenses: licenses,
		provider: provider,
		notifier: notifier,
		cache:    cache,
		log:      log,
		now:      time.Now,
	}
}

// HandleCheckoutCompleted обрабатывает завершение checkout-сессии: связывает
// пользователя с покупателем и подпиской Stripe. Лицензию событие не выпускает,
// это забота события создания подписки.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) bool {
	log := s.log.With(slog.String("event", "checkout.session.completed"))

	userUID := sess.ClientReferenceID
	if userUID == "" {
		log.Error("session has no client reference id", sl.Err(ErrUnresolvable))
		return false
	}
	if err := uuid.Validate(userUID); err != nil {
		log.Error("malformed user id in session", sl.Err(ErrInvalidIdentifier))
		return false
	}

	var customerID, subscriptionID string
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		subscriptionID = sess.Subscription.ID
	}
	if subscriptionID != "" && customerID == "" {
		sub, err := s.provider.GetSubscription(subscriptionID)
		if err != nil {
			log.Error("failed to fetch subscription", sl.Err(err))
			return false
		}
		if sub.Customer != nil {
			customerID = sub.Customer.ID
		}
	}

	if err := s.repo.LinkStripeAccount(ctx, userUID, customerID, subscriptionID); err != nil {
		log.Error("failed to link stripe account", sl.Err(err))
		return false
	}
	log.Info("linked stripe account", slog.String("user_uid", userUID))
	return true
}

// HandleSubscriptionCreated обрабатывает создание подписки: выпускает
// неактивную лицензию на месяц, записывает платеж и ставит в очередь письмо
// с ключом.
func (s *Service) HandleSubscriptionCreated(ctx context.Context, sub *stripe.Subscription) bool {
	log := s.log.With(slog.String("event", "customer.subscription.created"),
		slog.String("subscription_id", sub.ID))

	userUID, err := s.resolveUserUID(ctx, sub)
	if err != nil {
		log.Error("failed to resolve user", sl.Err(err))
		return false
	}
	log = log.With(slog.String("user_uid", userUID))

	paymentID := sub.ID
	if sub.LatestInvoice != nil && sub.LatestInvoice.ID != "" {
		paymentID = sub.LatestInvoice.ID
	}
	if s.alreadyProcessed(ctx, log, userUID, paymentID) {
		return true
	}

	var customerID string
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	if err := s.repo.LinkStripeAccount(ctx, userUID, customerID, sub.ID); err != nil {
		log.Error("failed to link stripe account", sl.Err(err))
		return false
	}

	lic, created, err := s.licenses.CreateForUser(ctx, userUID, "monthly", 1)
	if err != nil {
		log.Error("failed to create license", sl.Err(err))
		return false
	}

	if !s.recordPayment(ctx, log, models.Payment{
		UserUID:   userUID,
		PaymentID: paymentID,
		LicenseID: lic.ID,
		Amount:    subscriptionAmount(sub),
		Currency:  string(sub.Currency),
		Status:    models.StatusCompleted,
	}) {
		return false
	}

	if created {
		s.sendLicenseEmail(ctx, log, userUID, lic)
	}
	s.invalidateStatus(userUID)
	log.Info("subscription created processed", slog.Int("license_id", lic.ID))
	return true
}

// HandleInvoicePaid обрабатывает оплату счета (продление). Лицензия
// переиспользуется или выпускается заново, но письмо не отправляется:
// продления проходят молча.
func (s *Service) HandleInvoicePaid(ctx context.Context, inv *stripe.Invoice) bool {
	log := s.log.With(slog.String("event", "invoice.paid"), slog.String("invoice_id", inv.ID))

	sub, err := s.subscriptionForInvoice(inv)
	if err != nil {
		log.Error("failed to resolve subscription for invoice", sl.Err(err))
		return false
	}

	userUID, err := s.resolveUserUID(ctx, sub)
	if err != nil {
		log.Error("failed to resolve user", sl.Err(err))
		return false
	}
	log = log.With(slog.String("user_uid", userUID))

	if s.alreadyProcessed(ctx, log, userUID, inv.ID) {
		return true
	}

	lic, _, err := s.licenses.CreateForUser(ctx, userUID, "monthly", 1)
	if err != nil {
		log.Error("failed to create license", sl.Err(err))
		return false
	}

	if !s.recordPayment(ctx, log, models.Payment{
		UserUID:   userUID,
		PaymentID: inv.ID,
		LicenseID: lic.ID,
		Amount:    inv.AmountPaid,
		Currency:  string(inv.Currency),
		Status:    models.StatusCompleted,
	}) {
		return false
	}

	if periodEnd, err := paymentprovider.SubscriptionPeriodEnd(sub); err == nil {
		if err := s.repo.RefreshSubscriptionEnd(ctx, userUID, periodEnd); err != nil {
			log.Error("failed to refresh subscription end", sl.Err(err))
			return false
		}
	}

	s.invalidateStatus(userUID)
	log.Info("invoice paid processed", slog.Int("license_id", lic.ID))
	return true
}

// HandleSubscriptionUpdated обрабатывает обновление подписки: для активной
// подписки обновляется только дата окончания.
func (s *Service) HandleSubscriptionUpdated(ctx context.Context, sub *stripe.Subscription) bool {
	log := s.log.With(slog.String("event", "customer.subscription.updated"),
		slog.String("subscription_id", sub.ID))

	user, err := s.repo.FindUserBySubscriptionID(ctx, sub.ID)
	if errors.Is(err, sql.ErrNoRows) {
		log.Error("no user linked to subscription")
		return false
	}
	if err != nil {
		log.Error("failed to look up user", sl.Err(err))
		return false
	}

	if sub.Status != stripe.SubscriptionStatusActive {
		log.Info("subscription not active, nothing to update",
			slog.String("status", string(sub.Status)))
		return true
	}

	periodEnd, err := paymentprovider.SubscriptionPeriodEnd(sub)
	if err != nil {
		log.Error("failed to read subscription period end", sl.Err(err))
		return false
	}
	if err := s.repo.RefreshSubscriptionEnd(ctx, user.UID, periodEnd); err != nil {
		log.Error("failed to refresh subscription end", sl.Err(err))
		return false
	}
	s.invalidateStatus(user.UID)
	log.Info("subscription end refreshed", slog.String("user_uid", user.UID))
	return true
}

// HandleSubscriptionDeleted обрабатывает отмену подписки: все лицензии
// пользователя деактивируются, статус становится expired. Операция
// необратима, повторная активация потребует новой лицензии.
func (s *Service) HandleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) bool {
	log := s.log.With(slog.String("event", "customer.subscription.deleted"),
		slog.String("subscription_id", sub.ID))

	user, err := s.repo.FindUserBySubscriptionID(ctx, sub.ID)
	if errors.Is(err, sql.ErrNoRows) {
		log.Error("no user linked to subscription")
		return false
	}
	if err != nil {
		log.Error("failed to look up user", sl.Err(err))
		return false
	}

	now := s.now().UTC()
	deactivated, err := s.repo.DeactivateLicensesForUser(ctx, user.UID)
	if err != nil {
		log.Error("failed to deactivate licenses", sl.Err(err))
		return false
	}
	if err := s.repo.MarkSubscriptionExpired(ctx, user.UID, now); err != nil {
		log.Error("failed to mark subscription expired", sl.Err(err))
		return false
	}
	s.invalidateStatus(user.UID)
	log.Info("subscription deleted processed",
		slog.String("user_uid", user.UID), slog.Int64("licenses_deactivated", deactivated))
	return true
}

// subscriptionForInvoice определяет подписку для счета: сначала из самого
// счета, затем поиском активной подписки покупателя.
func (s *Service) subscriptionForInvoice(inv *stripe.Invoice) (*stripe.Subscription, error) {
	if subID := paymentprovider.SubscriptionIDFromInvoice(inv); subID != "" {
		return s.provider.GetSubscription(subID)
	}
	if inv.Customer != nil && inv.Customer.ID != "" {
		sub, err := s.provider.FindActiveSubscriptionByCustomer(inv.Customer.ID)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			return sub, nil
		}
	}
	return nil, ErrUnresolvable
}

// alreadyProcessed сообщает, была ли уже обработана пара (user, payment).
func (s *Service) alreadyProcessed(ctx context.Context, log *slog.Logger, userUID, paymentID string) bool {
	_, err := s.repo.FindPayment(ctx, userUID, paymentID)
	if err == nil {
		log.Info("payment already processed, skipping", slog.String("payment_id", paymentID))
		return true
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Warn("failed to check payment idempotency", sl.Err(err))
	}
	return false
}

// recordPayment вставляет запись о платеже. Дубликат по уникальному
// ограничению означает конкурентную доставку того же события и не считается
// ошибкой.
func (s *Service) recordPayment(ctx context.Context, log *slog.Logger, p models.Payment) bool {
	if _, err := s.repo.InsertPayment(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			log.Info("payment recorded concurrently, skipping", slog.String("payment_id", p.PaymentID))
			return true
		}
		log.Error("failed to record payment", sl.Err(err))
		return false
	}
	return true
}

// sendLicenseEmail ставит письмо с ключом в очередь. Ошибка отправки не
// откатывает выпуск лицензии.
func (s *Service) sendLicenseEmail(ctx context.Context, log *slog.Logger, userUID string, lic *models.License) {
	user, err := s.repo.GetUser(ctx, userUID)
	if err != nil {
		log.Error("failed to load user for license email", sl.Err(err))
		return
	}
	if err := s.notifier.PublishLicenseIssued(models.LicenseIssuedMessage{
		Email:      user.Email,
		LicenseKey: lic.Key,
		ExpiresAt:  lic.ExpiresAt,
	}); err != nil {
		log.Error("failed to publish license issued message", sl.Err(err))
	}
}

func (s *Service) invalidateStatus(userUID string) {
	key := "account_status:" + userUID
	if err := s.cache.Invalidate(key); err != nil {
		s.log.Warn("failed to invalidate status cache", slog.String("key", key), sl.Err(err))
	}
}

// subscriptionAmount возвращает стоимость первой позиции подписки.
func subscriptionAmount(sub *stripe.Subscription) int64 {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return 0
	}
	return sub.Items.Data[0].Price.UnitAmount
}
