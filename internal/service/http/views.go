package httpsvc

import (
	"time"

	"github.com/marketbay/fulfillment/internal/domain"
)

type orderLineView struct {
	ID             string            `json:"id"`
	ProductID      string            `json:"product_id"`
	Variant        map[string]string `json:"variant,omitempty"`
	Qty            int32             `json:"qty"`
	UnitPriceMinor int64             `json:"unit_price_minor"`
	ProductName    string            `json:"product_name,omitempty"`
	ProductImage   string            `json:"product_image,omitempty"`
}

type orderView struct {
	ID                string          `json:"id"`
	BuyerID           string          `json:"buyer_id"`
	SellerID          string          `json:"seller_id"`
	Status            string          `json:"status"`
	Currency          string          `json:"currency"`
	Lines             []orderLineView `json:"lines"`
	SubtotalMinor     int64           `json:"subtotal_minor"`
	DiscountMinor     int64           `json:"discount_minor"`
	ShippingMinor     int64           `json:"shipping_minor"`
	TaxMinor          int64           `json:"tax_minor"`
	TotalMinor        int64           `json:"total_minor"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	Paid              bool            `json:"paid"`
	TrackingNumber    string          `json:"tracking_number,omitempty"`
	ShippingAddressID string          `json:"shipping_address_id,omitempty"`
	CancelReason      string          `json:"cancel_reason,omitempty"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`
}

func toOrderView(order domain.Order) orderView {
	lines := make([]orderLineView, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, orderLineView{
			ID:             l.ID,
			ProductID:      l.ProductID,
			Variant:        l.Variant,
			Qty:            l.Qty,
			UnitPriceMinor: l.UnitPriceMinor,
			ProductName:    l.ProductName,
			ProductImage:   l.ProductImage,
		})
	}
	return orderView{
		ID:                order.ID,
		BuyerID:           order.BuyerID,
		SellerID:          order.SellerID,
		Status:            string(order.Status),
		Currency:          order.Currency,
		Lines:             lines,
		SubtotalMinor:     order.SubtotalMinor,
		DiscountMinor:     order.DiscountMinor,
		ShippingMinor:     order.ShippingMinor,
		TaxMinor:          order.TaxMinor,
		TotalMinor:        order.TotalMinor,
		PaymentMethod:     order.PaymentMethod,
		Paid:              order.Paid,
		TrackingNumber:    order.TrackingNumber,
		ShippingAddressID: order.ShippingAddressID,
		CancelReason:      order.CancelReason,
		Version:           order.Version,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
		DeliveredAt:       order.DeliveredAt,
	}
}

func toOrderViews(orders []domain.Order) []orderView {
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toOrderView(o))
	}
	return views
}

type shipmentView struct {
	ID                string    `json:"id"`
	OrderID           string    `json:"order_id"`
	Carrier           string    `json:"carrier"`
	TrackingNumber    string    `json:"tracking_number"`
	WeightGrams       int64     `json:"weight_grams,omitempty"`
	Dimensions        string    `json:"dimensions,omitempty"`
	CostMinor         int64     `json:"cost_minor,omitempty"`
	ShippedAt         time.Time `json:"shipped_at"`
	EstimatedDelivery time.Time `json:"estimated_delivery,omitempty"`
}

func toShipmentView(shipment domain.Shipment) shipmentView {
	return shipmentView{
		ID:                shipment.ID,
		OrderID:           shipment.OrderID,
		Carrier:           shipment.Carrier,
		TrackingNumber:    shipment.TrackingNumber,
		WeightGrams:       shipment.WeightGrams,
		Dimensions:        shipment.Dimensions,
		CostMinor:         shipment.CostMinor,
		ShippedAt:         shipment.ShippedAt,
		EstimatedDelivery: shipment.EstimatedDelivery,
	}
}

type stockView struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Reserved  int64  `json:"reserved"`
	Available int64  `json:"available"`
	Location  string `json:"location,omitempty"`
	Version   int64  `json:"version"`
}

func toStockView(stock domain.Stock) stockView {
	return stockView{
		ProductID: stock.ProductID,
		Quantity:  stock.Quantity,
		Reserved:  stock.Reserved,
		Available: stock.Available(),
		Location:  stock.Location,
		Version:   stock.Version,
	}
}

type timelineEventView struct {
	OrderID  string    `json:"order_id"`
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

func toTimelineViews(events []domain.TimelineEvent) []timelineEventView {
	views := make([]timelineEventView, 0, len(events))
	for _, e := range events {
		views = append(views, timelineEventView{
			OrderID:  e.OrderID,
			Type:     e.Type,
			Reason:   e.Reason,
			Occurred: e.Occurred,
		})
	}
	return views
}
