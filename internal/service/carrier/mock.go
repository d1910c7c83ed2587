package carrier

import (
	"context"
	"fmt"

	"github.com/marketbay/fulfillment/internal/domain"
)

// MockAPI — конфигурируемая заглушка CarrierAPI для тестов и локального запуска.
type MockAPI struct {
	LabelURL       string
	TrackingNumber string
	Err            error

	CreateLabelCalls int
}

// NewMockAPI возвращает mock с успешным сценарием по умолчанию.
func NewMockAPI() *MockAPI {
	return &MockAPI{}
}

// CreateLabel возвращает заранее настроенный результат и считает вызовы.
// Если LabelURL не задан, формирует детерминированный URL по трек-номеру.
func (m *MockAPI) CreateLabel(ctx context.Context, shipment domain.Shipment) (string, string, error) {
	m.CreateLabelCalls++
	if m.Err != nil {
		return "", "", m.Err
	}
	labelURL := m.LabelURL
	if labelURL == "" {
		labelURL = fmt.Sprintf("https://labels.example.com/%s/%s.pdf", shipment.Carrier, shipment.TrackingNumber)
	}
	trackingNumber := m.TrackingNumber
	if trackingNumber == "" {
		trackingNumber = shipment.TrackingNumber
	}
	return labelURL, trackingNumber, nil
}

var _ domain.CarrierAPI = (*MockAPI)(nil)
