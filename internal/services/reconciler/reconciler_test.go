package reconciler

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/models"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) GetUser(ctx context.Context, userUID string) (*models.User, error) {
	args := m.Called(ctx, userUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *RepoMock) FindUserBySubscriptionID(ctx context.Context, subscriptionID string) (*models.User, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *RepoMock) LinkStripeAccount(ctx context.Context, userUID, customerID, subscriptionID string) error {
	return m.Called(ctx, userUID, customerID, subscriptionID).Error(0)
}
func (m *RepoMock) InsertPayment(ctx context.Context, p models.Payment) (int, error) {
	args := m.Called(ctx, p)
	return args.Int(0), args.Error(1)
}
func (m *RepoMock) FindPayment(ctx context.Context, userUID, paymentID string) (*models.Payment, error) {
	args := m.Called(ctx, userUID, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}
func (m *RepoMock) RefreshSubscriptionEnd(ctx context.Context, userUID string, endAt time.Time) error {
	return m.Called(ctx, userUID, endAt).Error(0)
}
func (m *RepoMock) MarkSubscriptionExpired(ctx context.Context, userUID string, endedAt time.Time) error {
	return m.Called(ctx, userUID, endedAt).Error(0)
}
func (m *RepoMock) DeactivateLicensesForUser(ctx context.Context, userUID string) (int64, error) {
	args := m.Called(ctx, userUID)
	return args.Get(0).(int64), args.Error(1)
}

type LicensesMock struct{ mock.Mock }

func (m *LicensesMock) CreateForUser(ctx context.Context, userUID, planType string, periodMonths int) (*models.License, bool, error) {
	args := m.Called(ctx, userUID, planType, periodMonths)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.License), args.Bool(1), args.Error(2)
}

type ProviderMock struct{ mock.Mock }

func (m *ProviderMock) GetSubscription(id string) (*stripe.Subscription, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Subscription), args.Error(1)
}
func (m *ProviderMock) GetCustomer(id string) (*stripe.Customer, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Customer), args.Error(1)
}
func (m *ProviderMock) GetInvoice(id string) (*stripe.Invoice, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Invoice), args.Error(1)
}
func (m *ProviderMock) FindActiveSubscriptionByCustomer(customerID string) (*stripe.Subscription, error) {
	args := m.Called(customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Subscription), args.Error(1)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) PublishLicenseIssued(msg models.LicenseIssuedMessage) error {
	return m.Called(msg).Error(0)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Invalidate(key string) error {
	return m.Called(key).Error(0)
}

type mocks struct {
	repo     *RepoMock
	licenses *LicensesMock
	provider *ProviderMock
	notifier *NotifierMock
	cache    *CacheMock
}

func newTestService(now time.Time) (*Service, mocks) {
	m := mocks{
		repo:     &RepoMock{},
		licenses: &LicensesMock{},
		provider: &ProviderMock{},
		notifier: &NotifierMock{},
		cache:    &CacheMock{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	svc := NewService(m.repo, m.licenses, m.provider, m.notifier, m.cache, log)
	svc.now = func() time.Time { return now }
	return svc, m
}

const (
	testUserUID = "0c9188e0-5c1c-4bb4-9fbe-7bf397be8e54"
	testSubID   = "sub_1QwErTy"
	testCustID  = "cus_9ZxCvBn"
)

func activeSubscription(metadata map[string]string, periodEnd time.Time) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       testSubID,
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: testCustID},
		Metadata: metadata,
		Currency: stripe.CurrencyUSD,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				CurrentPeriodEnd: periodEnd.Unix(),
				Price:            &stripe.Price{UnitAmount: 900},
			}},
		},
	}
}

func TestHandleCheckoutCompleted(t *testing.T) {
	t.Run("links stripe account", func(t *testing.T) {
		svc, m := newTestService(time.Now())

		sess := &stripe.CheckoutSession{
			ClientReferenceID: testUserUID,
			Customer:          &stripe.Customer{ID: testCustID},
			Subscription:      &stripe.Subscription{ID: testSubID},
		}
		m.repo.On("LinkStripeAccount", mock.Anything, testUserUID, testCustID, testSubID).
			Return(nil).Once()

		assert.True(t, svc.HandleCheckoutCompleted(context.Background(), sess))
		m.repo.AssertExpectations(t)
	})

	t.Run("fetches subscription when customer missing", func(t *testing.T) {
		svc, m := newTestService(time.Now())

		sess := &stripe.CheckoutSession{
			ClientReferenceID: testUserUID,
			Subscription:      &stripe.Subscription{ID: testSubID},
		}
		m.provider.On("GetSubscription", testSubID).
			Return(activeSubscription(nil, time.Now()), nil).Once()
		m.repo.On("LinkStripeAccount", mock.Anything, testUserUID, testCustID, testSubID).
			Return(nil).Once()

		assert.True(t, svc.HandleCheckoutCompleted(context.Background(), sess))
		m.provider.AssertExpectations(t)
	})

	t.Run("rejects malformed user id", func(t *testing.T) {
		svc, m := newTestService(time.Now())

		sess := &stripe.CheckoutSession{ClientReferenceID: "user-42"}
		assert.False(t, svc.HandleCheckoutCompleted(context.Background(), sess))
		m.repo.AssertNotCalled(t, "LinkStripeAccount", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects missing user id", func(t *testing.T) {
		svc, _ := newTestService(time.Now())

		assert.False(t, svc.HandleCheckoutCompleted(context.Background(), &stripe.CheckoutSession{}))
	})
}

func TestHandleSubscriptionCreated(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("issues license and sends email", func(t *testing.T) {
		svc, m := newTestService(now)

		sub := activeSubscription(map[string]string{MetadataUserUID: testUserUID}, now.AddDate(0, 1, 0))
		sub.LatestInvoice = &stripe.Invoice{ID: "in_100"}
		lic := &models.License{ID: 7, Key: "PDFPRO-AAAA-BBBB-CCCC-DDDD"}

		m.repo.On("FindPayment", mock.Anything, testUserUID, "in_100").
			Return(nil, sql.ErrNoRows).Once()
		m.repo.On("LinkStripeAccount", mock.Anything, testUserUID, testCustID, testSubID).
			Return(nil).Once()
		m.licenses.On("CreateForUser", mock.Anything, testUserUID, "monthly", 1).
			Return(lic, true, nil).Once()
		m.repo.On("InsertPayment", mock.Anything, mock.MatchedBy(func(p models.Payment) bool {
			return p.UserUID == testUserUID && p.PaymentID == "in_100" &&
				p.LicenseID == 7 && p.Amount == 900 && p.Status == models.StatusCompleted
		})).Return(1, nil).Once()
		m.repo.On("GetUser", mock.Anything, testUserUID).
			Return(&models.User{UID: testUserUID, Email: "user@example.com"}, nil).Once()
		m.notifier.On("PublishLicenseIssued", mock.MatchedBy(func(msg models.LicenseIssuedMessage) bool {
			return msg.Email == "user@example.com" && msg.LicenseKey == lic.Key
		})).Return(nil).Once()
		m.cache.On("Invalidate", "account_status:"+testUserUID).Return(nil).Once()

		assert.True(t, svc.HandleSubscriptionCreated(context.Background(), sub))
		m.repo.AssertExpectations(t)
		m.notifier.AssertExpectations(t)
	})

	t.Run("replay is a no-op", func(t *testing.T) {
		svc, m := newTestService(now)

		sub := activeSubscription(map[string]string{MetadataUserUID: testUserUID}, now)
		sub.LatestInvoice = &stripe.Invoice{ID: "in_100"}

		m.repo.On("FindPayment", mock.Anything, testUserUID, "in_100").
			Return(&models.Payment{ID: 1}, nil).Once()

		assert.True(t, svc.HandleSubscriptionCreated(context.Background(), sub))
		m.licenses.AssertNotCalled(t, "CreateForUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		m.notifier.AssertNotCalled(t, "PublishLicenseIssued", mock.Anything)
	})

	t.Run("falls back to customer metadata", func(t *testing.T) {
		svc, m := newTestService(now)

		sub := activeSubscription(nil, now)
		m.provider.On("GetCustomer", testCustID).
			Return(&stripe.Customer{ID: testCustID, Metadata: map[string]string{MetadataUserUID: testUserUID}}, nil).Once()
		m.repo.On("FindPayment", mock.Anything, testUserUID, testSubID).
			Return(nil, sql.ErrNoRows).Once()
		m.repo.On("LinkStripeAccount", mock.Anything, testUserUID, testCustID, testSubID).
			Return(nil).Once()
		m.licenses.On("CreateForUser", mock.Anything, testUserUID, "monthly", 1).
			Return(&models.License{ID: 7, Key: "PDFPRO-AAAA-BBBB-CCCC-DDDD"}, false, nil).Once()
		m.repo.On("InsertPayment", mock.Anything, mock.Anything).Return(1, nil).Once()
		m.cache.On("Invalidate", mock.Anything).Return(nil).Once()

		assert.True(t, svc.HandleSubscriptionCreated(context.Background(), sub))
		m.provider.AssertExpectations(t)
		m.notifier.AssertNotCalled(t, "PublishLicenseIssued", mock.Anything)
	})

	t.Run("falls back to stored subscription link", func(t *testing.T) {
		svc, m := newTestService(now)

		sub := activeSubscription(nil, now)
		sub.LatestInvoice = &stripe.Invoice{ID: "in_100"}
		m.provider.On("GetCustomer", testCustID).
			Return(&stripe.Customer{ID: testCustID}, nil).Once()
		m.provider.On("GetInvoice", "in_100").
			Return(&stripe.Invoice{ID: "in_100"}, nil).Once()
		m.repo.On("FindUserBySubscriptionID", mock.Anything, testSubID).
			Return(&models.User{UID: testUserUID}, nil).Once()
		m.repo.On("FindPayment", mock.Anything, testUserUID, "in_100").
			Return(nil, sql.ErrNoRows).Once()
		m.repo.On("LinkStripeAccount", mock.Anything, testUserUID, testCustID, testSubID).
			Return(nil).Once()
		m.licenses.On("CreateForUser", mock.Anything, testUserUID, "monthly", 1).
			Return(&models.License{ID: 7, Key: "PDFPRO-AAAA-BBBB-CCCC-DDDD"}, false, nil).Once()
		m.repo.On("InsertPayment", mock.Anything, mock.Anything).Return(1, nil).Once()
		m.cache.On("Invalidate", mock.Anything).Return(nil).Once()

		assert.True(t, svc.HandleSubscriptionCreated(context.Background(), sub))
		m.repo.AssertExpectations(t)
	})

	t.Run("fails closed when user cannot be resolved", func(t *testing.T) {
		svc, m := newTestService(now)

		sub := activeSubscription(nil, now)
		m.provider.On("GetCustomer", testCustID).
			Return(&stripe.Customer{ID: testCustID}, nil).Once()
		m.repo.On("FindUserBySubscriptionID", mock.Anything, testSubID).
			Return(nil, sql.ErrNoRows).Once()

		assert.False(t, svc.HandleSubscriptionCreated(context.Background(), sub))
		m.licenses.AssertNotCalled(t, "CreateForUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		m.repo.AssertNotCalled(t, "InsertPayment", mock.Anything, mock.Anything)
	})

	t.Run("rejects malformed user id from metadata", func(t *testing.T) {
		svc, m := newTestService(now)

		sub := activeSubscription(map[string]string{MetadataUserUID: "not-a-uuid"}, now)
		assert.False(t, svc.HandleSubscriptionCreated(context.Background(), sub))
		m.licenses.AssertNotCalled(t, "CreateForUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHandleInvoicePaid(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	periodEnd := now.AddDate(0, 1, 0)

	invoiceFor := func(subID string) *stripe.Invoice {
		return &stripe.Invoice{
			ID:         "in_200",
			AmountPaid: 900,
			Currency:   stripe.CurrencyUSD,
			Customer:   &stripe.Customer{ID: testCustID},
			Parent: &stripe.InvoiceParent{
				SubscriptionDetails: &stripe.InvoiceParentSubscriptionDetails{
					Subscription: &stripe.Subscription{ID: subID},
				},
			},
		}
	}

	t.Run("renewal is silent", func(t *testing.T) {
		svc, m := newTestService(now)

		sub := activeSubscription(map[string]string{MetadataUserUID: testUserUID}, periodEnd)
		m.provider.On("GetSubscription", testSubID).Return(sub, nil).Once()
		m.repo.On("FindPayment", mock.Anything, testUserUID, "in_200").
			Return(nil, sql.ErrNoRows).Once()
		m.licenses.On("CreateForUser", mock.Anything, testUserUID, "monthly", 1).
			Return(&models.License{ID: 9, Key: "PDFPRO-EEEE-FFFF-GGGG-HHHH"}, true, nil).Once()
		m.repo.On("InsertPayment", mock.Anything, mock.MatchedBy(func(p models.Payment) bool {
			return p.PaymentID == "in_200" && p.Amount == 900
		})).Return(1, nil).Once()
		m.repo.On("RefreshSubscriptionEnd", mock.Anything, testUserUID,
			time.Unix(periodEnd.Unix(), 0).UTC()).Return(nil).Once()
		m.cache.On("Invalidate", "account_status:"+testUserUID).Return(nil).Once()

		assert.True(t, svc.HandleInvoicePaid(context.Background(), invoiceFor(testSubID)))
		m.notifier.AssertNotCalled(t, "PublishLicenseIssued", mock.Anything)
		m.repo.AssertExpectations(t)
	})

	t.Run("replay produces no second payment", func(t *testing.T) {
		svc, m := newTestService(now)

		sub := activeSubscription(map[string]string{MetadataUserUID: testUserUID}, periodEnd)
		m.provider.On("GetSubscription", testSubID).Return(sub, nil).Once()
		m.repo.On("FindPayment", mock.Anything, testUserUID, "in_200").
			Return(&models.Payment{ID: 1}, nil).Once()

		assert.True(t, svc.HandleInvoicePaid(context.Background(), invoiceFor(testSubID)))
		m.repo.AssertNotCalled(t, "InsertPayment", mock.Anything, mock.Anything)
		m.licenses.AssertNotCalled(t, "CreateForUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("falls back to active subscription lookup", func(t *testing.T) {
		svc, m := newTestService(now)

		inv := invoiceFor(testSubID)
		inv.Parent = nil
		sub := activeSubscription(map[string]string{MetadataUserUID: testUserUID}, periodEnd)
		m.provider.On("FindActiveSubscriptionByCustomer", testCustID).Return(sub, nil).Once()
		m.repo.On("FindPayment", mock.Anything, testUserUID, "in_200").
			Return(nil, sql.ErrNoRows).Once()
		m.licenses.On("CreateForUser", mock.Anything, testUserUID, "monthly", 1).
			Return(&models.License{ID: 9, Key: "PDFPRO-EEEE-FFFF-GGGG-HHHH"}, false, nil).Once()
		m.repo.On("InsertPayment", mock.Anything, mock.Anything).Return(1, nil).Once()
		m.repo.On("RefreshSubscriptionEnd", mock.Anything, testUserUID, mock.Anything).Return(nil).Once()
		m.cache.On("Invalidate", mock.Anything).Return(nil).Once()

		assert.True(t, svc.HandleInvoicePaid(context.Background(), inv))
		m.provider.AssertExpectations(t)
	})

	t.Run("fails when no subscription can be found", func(t *testing.T) {
		svc, m := newTestService(now)

		inv := invoiceFor(testSubID)
		inv.Parent = nil
		m.provider.On("FindActiveSubscriptionByCustomer", testCustID).Return(nil, nil).Once()

		assert.False(t, svc.HandleInvoicePaid(context.Background(), inv))
		m.repo.AssertNotCalled(t, "InsertPayment", mock.Anything, mock.Anything)
	})
}

func TestHandleSubscriptionUpdated(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	periodEnd := now.AddDate(0, 1, 0)

	t.Run("active subscription refreshes end date", func(t *testing.T) {
		svc, m := newTestService(now)

		sub := activeSubscription(nil, periodEnd)
		m.repo.On("FindUserBySubscriptionID", mock.Anything, testSubID).
			Return(&models.User{UID: testUserUID}, nil).Once()
		m.repo.On("RefreshSubscriptionEnd", mock.Anything, testUserUID,
			time.Unix(periodEnd.Unix(), 0).UTC()).Return(nil).Once()
		m.cache.On("Invalidate", "account_status:"+testUserUID).Return(nil).Once()

		assert.True(t, svc.HandleSubscriptionUpdated(context.Background(), sub))
		m.repo.AssertExpectations(t)
	})

	t.Run("non-active status is ignored", func(t *testing.T) {
		svc, m := newTestService(now)

		sub := activeSubscription(nil, periodEnd)
		sub.Status = stripe.SubscriptionStatusPastDue
		m.repo.On("FindUserBySubscriptionID", mock.Anything, testSubID).
			Return(&models.User{UID: testUserUID}, nil).Once()

		assert.True(t, svc.HandleSubscriptionUpdated(context.Background(), sub))
		m.repo.AssertNotCalled(t, "RefreshSubscriptionEnd", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown subscription fails", func(t *testing.T) {
		svc, m := newTestService(now)

		m.repo.On("FindUserBySubscriptionID", mock.Anything, testSubID).
			Return(nil, sql.ErrNoRows).Once()

		assert.False(t, svc.HandleSubscriptionUpdated(context.Background(), activeSubscription(nil, periodEnd)))
	})
}

func TestHandleSubscriptionDeleted(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("deactivates licenses and expires user", func(t *testing.T) {
		svc, m := newTestService(now)

		sub := activeSubscription(nil, now)
		m.repo.On("FindUserBySubscriptionID", mock.Anything, testSubID).
			Return(&models.User{UID: testUserUID}, nil).Once()
		m.repo.On("DeactivateLicensesForUser", mock.Anything, testUserUID).
			Return(int64(1), nil).Once()
		m.repo.On("MarkSubscriptionExpired", mock.Anything, testUserUID, now).Return(nil).Once()
		m.cache.On("Invalidate", "account_status:"+testUserUID).Return(nil).Once()

		assert.True(t, svc.HandleSubscriptionDeleted(context.Background(), sub))
		m.repo.AssertExpectations(t)
		m.cache.AssertExpectations(t)
	})

	t.Run("unknown subscription fails", func(t *testing.T) {
		svc, m := newTestService(now)

		m.repo.On("FindUserBySubscriptionID", mock.Anything, testSubID).
			Return(nil, sql.ErrNoRows).Once()

		assert.False(t, svc.HandleSubscriptionDeleted(context.Background(), activeSubscription(nil, now)))
		m.repo.AssertNotCalled(t, "DeactivateLicensesForUser", mock.Anything, mock.Anything)
	})
}
