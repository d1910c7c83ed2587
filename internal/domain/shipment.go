package domain

import (
	"strings"
	"time"
)

// Shipment — отправление заказа. У заказа может быть одно активное
// отправление; после создания запись неизменяема.
type Shipment struct {
	ID                string
	OrderID           string
	Carrier           string
	TrackingNumber    string
	WeightGrams       int64
	Dimensions        string
	CostMinor         int64
	ShippedAt         time.Time
	EstimatedDelivery time.Time
	CreatedAt         time.Time
}

// Validate проверяет ключевые поля отправления.
func (s *Shipment) Validate() []error {
	var errs []error

	if s.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if strings.TrimSpace(s.TrackingNumber) == "" || !KnownCarrier(s.Carrier) {
		errs = append(errs, ErrInvalidShipmentDetails)
	}
	if s.WeightGrams < 0 || s.CostMinor < 0 {
		errs = append(errs, ErrInvalidShipmentDetails)
	}

	return errs
}
