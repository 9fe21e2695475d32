package rabbitmq

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/pdfpro-licensing/internal/models"
)

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func TestPublishMessage(t *testing.T) {
	ch := &MockChannel{}
	msg := models.LicenseIssuedMessage{
		Email:      "user@example.com",
		LicenseKey: "PDFPRO-1234-ABCD-5678-WXYZ",
	}
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	ch.On("Publish", Exchange, RoutingLicenseIssued, false, false, mock.MatchedBy(func(p amqp.Publishing) bool {
		return p.ContentType == "application/json" &&
			p.DeliveryMode == amqp.Persistent &&
			string(p.Body) == string(body)
	})).Return(nil).Once()

	err = PublishMessage(ch, Exchange, RoutingLicenseIssued, msg)
	assert.NoError(t, err)
	ch.AssertExpectations(t)
}

func TestPublishMessage_PublishError(t *testing.T) {
	ch := &MockChannel{}
	ch.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("channel closed")).Once()

	err := PublishMessage(ch, Exchange, RoutingTrialEnding, models.TrialEndingMessage{})
	assert.Error(t, err)
}
