package httpsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/domain"
	"github.com/marketbay/fulfillment/internal/service/fulfillment"
	"github.com/marketbay/fulfillment/internal/service/order"
)

const defaultListLimit = 50

// Cache — read-through кэш GET-маршрутов. Handler инвалидирует записи
// на переходах, которые меняют заказ или остатки.
type Cache interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, bool)
	SetOrder(ctx context.Context, order domain.Order)
	InvalidateOrder(ctx context.Context, orderID string)
	GetStock(ctx context.Context, productID string) (domain.Stock, bool)
	SetStock(ctx context.Context, stock domain.Stock)
	InvalidateStock(ctx context.Context, productID string)
}

// Handler обслуживает JSON API жизненного цикла заказа.
// Аутентификация — забота шлюза перед сервисом: заголовки X-Actor-Id и
// X-Actor-Role считаются проверенными.
type Handler struct {
	service *order.Service
	cache   Cache // nil — кэширование отключено
	logger  *log.Entry
}

// NewHandler создаёт HTTP-handler поверх сервиса заказов.
func NewHandler(service *order.Service, readCache Cache, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	return &Handler{
		service: service,
		cache:   readCache,
		logger:  logger,
	}
}

// Register вешает маршруты API на router. Мутирующие POST-маршруты
// заказов защищает idempotency middleware, если оно передано.
func (h *Handler) Register(r chi.Router, idem func(http.Handler) http.Handler) {
	r.Route("/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			if idem != nil {
				r.With(idem).Post("/", h.createOrder)
			} else {
				r.Post("/", h.createOrder)
			}
			r.Get("/", h.listOrders)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getOrder)
				r.Get("/timeline", h.getTimeline)
				r.Get("/shipment", h.getShipment)
				r.Post("/cancel", h.cancelOrder)
				r.Post("/ship", h.shipOrder)
				r.Post("/deliver", h.deliverOrder)
				r.Post("/label", h.generateLabel)
			})
		})
		r.Post("/payments/confirm", h.confirmPayment)
		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", h.listStock)
			r.Get("/{product_id}", h.getStock)
			r.Put("/{product_id}", h.putStock)
		})
	})
}

type cartLineReq struct {
	ProductID      string            `json:"product_id"`
	Variant        map[string]string `json:"variant,omitempty"`
	Qty            int32             `json:"qty"`
	UnitPriceMinor int64             `json:"unit_price_minor"`
	ProductName    string            `json:"product_name,omitempty"`
	ProductImage   string            `json:"product_image,omitempty"`
}

type createOrderReq struct {
	BuyerID           string        `json:"buyer_id"`
	SellerID          string        `json:"seller_id"`
	Currency          string        `json:"currency"`
	Lines             []cartLineReq `json:"lines"`
	DiscountMinor     int64         `json:"discount_minor"`
	ShippingMinor     int64         `json:"shipping_minor"`
	TaxMinor          int64         `json:"tax_minor"`
	PaymentMethod     string        `json:"payment_method,omitempty"`
	ShippingAddressID string        `json:"shipping_address_id,omitempty"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	lines := make([]domain.CartLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, domain.CartLine{
			ProductID:      l.ProductID,
			Variant:        l.Variant,
			Qty:            l.Qty,
			UnitPriceMinor: l.UnitPriceMinor,
			ProductName:    l.ProductName,
			ProductImage:   l.ProductImage,
		})
	}
	snapshot := domain.CartSnapshot{
		BuyerID:           req.BuyerID,
		SellerID:          req.SellerID,
		Currency:          req.Currency,
		Lines:             lines,
		DiscountMinor:     req.DiscountMinor,
		ShippingMinor:     req.ShippingMinor,
		TaxMinor:          req.TaxMinor,
		PaymentMethod:     req.PaymentMethod,
		ShippingAddressID: req.ShippingAddressID,
	}

	created, err := h.service.CreateOrder(r.Context(), snapshot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderView(created))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	if h.cache != nil {
		if cached, ok := h.cache.GetOrder(r.Context(), orderID); ok {
			writeJSON(w, http.StatusOK, toOrderView(cached))
			return
		}
	}

	found, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.cache != nil {
		h.cache.SetOrder(r.Context(), found)
	}
	writeJSON(w, http.StatusOK, toOrderView(found))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	buyerID := r.URL.Query().Get("buyer_id")
	sellerID := r.URL.Query().Get("seller_id")
	limit := parseLimit(r.URL.Query().Get("limit"))

	switch {
	case buyerID != "":
		orders, err := h.service.ListByBuyer(r.Context(), buyerID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderViews(orders))
	case sellerID != "":
		orders, err := h.service.ListBySeller(r.Context(), sellerID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderViews(orders))
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "buyer_id or seller_id query parameter is required"})
	}
}

func (h *Handler) getTimeline(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	events, err := h.service.Timeline(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineViews(events))
}

func (h *Handler) getShipment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	shipment, err := h.service.GetShipment(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentView(shipment))
}

type cancelOrderReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req cancelOrderReq
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
			return
		}
	}

	cancelled, err := h.service.CancelOrder(r.Context(), parseActor(r), orderID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	h.invalidateOrder(r, orderID)
	h.invalidateStock(r, cancelled)
	writeJSON(w, http.StatusOK, toOrderView(cancelled))
}

type shipOrderReq struct {
	Carrier           string    `json:"carrier"`
	TrackingNumber    string    `json:"tracking_number"`
	WeightGrams       int64     `json:"weight_grams"`
	Dimensions        string    `json:"dimensions"`
	CostMinor         int64     `json:"cost_minor"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
}

func (h *Handler) shipOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req shipOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	shipment, err := h.service.ShipOrder(r.Context(), parseActor(r), orderID, fulfillment.ShipmentInput{
		Carrier:           req.Carrier,
		TrackingNumber:    req.TrackingNumber,
		WeightGrams:       req.WeightGrams,
		Dimensions:        req.Dimensions,
		CostMinor:         req.CostMinor,
		EstimatedDelivery: req.EstimatedDelivery,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.invalidateOrder(r, orderID)
	writeJSON(w, http.StatusOK, toShipmentView(shipment))
}

func (h *Handler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	delivered, err := h.service.DeliverOrder(r.Context(), parseActor(r), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.invalidateOrder(r, orderID)
	h.invalidateStock(r, delivered)
	writeJSON(w, http.StatusOK, toOrderView(delivered))
}

func (h *Handler) generateLabel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	labelURL, err := h.service.GenerateLabel(r.Context(), parseActor(r), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"label_url": labelURL})
}

type confirmPaymentReq struct {
	OrderID string `json:"order_id"`
	Success bool   `json:"success"`
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	if req.OrderID == "" {
		writeError(w, domain.ErrOrderIDRequired)
		return
	}

	var err error
	if req.Success {
		err = h.service.ConfirmPayment(r.Context(), req.OrderID)
	} else {
		var cancelled domain.Order
		cancelled, err = h.service.CancelOrder(r.Context(), domain.Actor{Role: domain.RoleAdmin}, req.OrderID, "payment rejected by provider")
		if err == nil {
			h.invalidateStock(r, cancelled)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	h.invalidateOrder(r, req.OrderID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")

	if h.cache != nil {
		if cached, ok := h.cache.GetStock(r.Context(), productID); ok {
			writeJSON(w, http.StatusOK, toStockView(cached))
			return
		}
	}

	stock, err := h.service.GetStock(r.Context(), productID)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.cache != nil {
		h.cache.SetStock(r.Context(), stock)
	}
	writeJSON(w, http.StatusOK, toStockView(stock))
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))
	stocks, err := h.service.ListStock(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]stockView, 0, len(stocks))
	for _, s := range stocks {
		views = append(views, toStockView(s))
	}
	writeJSON(w, http.StatusOK, views)
}

type putStockReq struct {
	Quantity int64  `json:"quantity"`
	Location string `json:"location"`
}

func (h *Handler) putStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	var req putStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	saved, err := h.service.PutStock(r.Context(), parseActor(r), domain.Stock{
		ProductID: productID,
		Quantity:  req.Quantity,
		Location:  req.Location,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if h.cache != nil {
		h.cache.InvalidateStock(r.Context(), productID)
	}
	writeJSON(w, http.StatusOK, toStockView(saved))
}

func (h *Handler) invalidateOrder(r *http.Request, orderID string) {
	if h.cache != nil {
		h.cache.InvalidateOrder(r.Context(), orderID)
	}
}

// invalidateStock сбрасывает кэш остатков по позициям заказа: отмена
// возвращает резерв, доставка списывает его со склада.
func (h *Handler) invalidateStock(r *http.Request, order domain.Order) {
	if h.cache == nil {
		return
	}
	for _, line := range order.Lines {
		h.cache.InvalidateStock(r.Context(), line.ProductID)
	}
}

// parseActor извлекает действующее лицо из заголовков запроса.
func parseActor(r *http.Request) domain.Actor {
	return domain.Actor{
		ID:   r.Header.Get("X-Actor-Id"),
		Role: domain.Role(r.Header.Get("X-Actor-Role")),
	}
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}
