// Package sender отправляет транзакционные письма по сообщениям из очереди
// уведомлений: лицензионные ключи и напоминания об окончании пробного периода
// и подписки.
package sender

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/lib/smtp"
	"github.com/magabrotheeeer/pdfpro-licensing/internal/models"
)

// Service отправляет письма через SMTP транспорт.
type Service struct {
	transport smtp.TransportInterface
	log       *slog.Logger
}

// NewService создает новый экземпляр Service.
func NewService(transport smtp.TransportInterface, log *slog.Logger) *Service {
	return &Service{
		transport: transport,
		log:       log,
	}
}

// SendLicenseIssued отправляет письмо с новым лицензионным ключом.
func (s *Service) SendLicenseIssued(body []byte) error {
	var message models.LicenseIssuedMessage
	if err := json.Unmarshal(body, &message); err != nil {
		s.log.Error("failed to unmarshal message body", sl.Err(err))
		return fmt.Errorf("error unmarshalling message: %w", err)
	}

	subject := "Your PDF Pro license key"
	bodyText := fmt.Sprintf("Hello!\n\nThank you for purchasing PDF Pro.\n\nYour license key: %s\n\nOpen the extension settings and paste the key to activate your subscription.",
		message.LicenseKey)
	if message.ExpiresAt != nil {
		bodyText += fmt.Sprintf("\n\nThe key is valid until %s.", message.ExpiresAt.Format("02 Jan 2006"))
	}

	return s.sendEmail([]string{message.Email}, subject, bodyText)
}

// SendTrialEnding отправляет напоминание о скором окончании пробного периода.
func (s *Service) SendTrialEnding(body []byte) error {
	var message models.TrialEndingMessage
	if err := json.Unmarshal(body, &message); err != nil {
		s.log.Error("failed to unmarshal message body", sl.Err(err))
		return fmt.Errorf("error unmarshalling message: %w", err)
	}

	subject := "Your PDF Pro trial is ending soon"
	bodyText := fmt.Sprintf("Hello!\n\nYour PDF Pro trial ends in %d day(s), on %s.\n\nUpgrade to Pro to keep access to all features.",
		message.DaysRemaining, message.EndsAt.Format("02 Jan 2006"))

	return s.sendEmail([]string{message.Email}, subject, bodyText)
}

// SendSubscriptionEnding отправляет напоминание о скором окончании подписки.
func (s *Service) SendSubscriptionEnding(body []byte) error {
	var message models.SubscriptionEndingMessage
	if err := json.Unmarshal(body, &message); err != nil {
		s.log.Error("failed to unmarshal message body", sl.Err(err))
		return fmt.Errorf("error unmarshalling message: %w", err)
	}

	subject := "Your PDF Pro subscription is ending soon"
	bodyText := fmt.Sprintf("Hello!\n\nYour PDF Pro subscription ends in %d day(s), on %s.\n\nRenew it in advance to avoid losing access.",
		message.DaysRemaining, message.EndsAt.Format("02 Jan 2006"))

	return s.sendEmail([]string{message.Email}, subject, bodyText)
}

func (s *Service) sendEmail(to []string, subject, bodyText string) error {
	msg := strings.Join([]string{
		"From: " + s.transport.GetSMTPUser(),
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Mail(s.transport.GetSMTPUser()); err != nil {
		s.log.Error("failed to set MAIL FROM", slog.String("from", s.transport.GetSMTPUser()), sl.Err(err))
		return err
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get data writer", sl.Err(err))
		return err
	}

	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		return err
	}
	if err = wc.Close(); err != nil {
		s.log.Error("failed to close data writer", sl.Err(err))
		return err
	}
	if err = client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}

	s.log.Info("email sent", slog.String("subject", subject), slog.Any("to", to))
	return nil
}
