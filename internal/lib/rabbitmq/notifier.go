package rabbitmq

import (
	"github.com/magabrotheeeer/pdfpro-licensing/internal/models"
)

// Notifier публикует сообщения уведомлений в обменник notifications.
// Доставка писем — забота consumer-сервиса; здесь только постановка в очередь.
type Notifier struct {
	ch Channel
}

// NewNotifier создает новый экземпляр Notifier.
func NewNotifier(ch Channel) *Notifier {
	return &Notifier{ch: ch}
}

// PublishLicenseIssued ставит в очередь письмо с новым лицензионным ключом.
func (n *Notifier) PublishLicenseIssued(msg models.LicenseIssuedMessage) error {
	return PublishMessage(n.ch, Exchange, RoutingLicenseIssued, msg)
}

// PublishTrialEnding ставит в очередь напоминание об окончании пробного периода.
func (n *Notifier) PublishTrialEnding(msg models.TrialEndingMessage) error {
	return PublishMessage(n.ch, Exchange, RoutingTrialEnding, msg)
}

// PublishSubscriptionEnding ставит в очередь напоминание об окончании подписки.
func (n *Notifier) PublishSubscriptionEnding(msg models.SubscriptionEndingMessage) error {
	return PublishMessage(n.ch, Exchange, RoutingSubscriptionEnding, msg)
}
