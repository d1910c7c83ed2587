package payment

import (
	"context"

	"github.com/marketbay/fulfillment/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway для тестов.
type MockGateway struct {
	VerifyOK  bool
	VerifyErr error

	VerifyCalls int
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{VerifyOK: true}
}

// VerifyConfirmation возвращает заранее настроенный результат и считает вызовы.
func (m *MockGateway) VerifyConfirmation(ctx context.Context, orderID string) (bool, error) {
	m.VerifyCalls++
	return m.VerifyOK, m.VerifyErr
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
