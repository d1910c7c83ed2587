package httpsvc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marketbay/fulfillment/internal/domain"
)

type errorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: stockErr.Error(),
			Details: map[string]any{
				"product_id": stockErr.ProductID,
				"requested":  stockErr.Requested,
				"available":  stockErr.Available,
			},
		})
		return
	}

	writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
}

// statusForError переводит ошибки домена в HTTP-статусы. Конфликты
// жизненного цикла и конкурентные конфликты — 409, проблемы прав — 403.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrStockNotFound),
		errors.Is(err, domain.ErrShipmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case domain.IsInvalidTransition(err),
		domain.IsInsufficientStock(err),
		domain.IsVersionConflict(err),
		errors.Is(err, domain.ErrCannotCancelShipped),
		errors.Is(err, domain.ErrShipmentAlreadyExists),
		errors.Is(err, domain.ErrOrderNotShippable),
		errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidShipmentDetails),
		errors.Is(err, domain.ErrStockInvariantViolated):
		return http.StatusBadRequest
	default:
		if isValidationError(err) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

func isValidationError(err error) bool {
	for _, sentinel := range []error{
		domain.ErrBuyerRequired,
		domain.ErrSellerRequired,
		domain.ErrCurrencyRequired,
		domain.ErrLinesRequired,
		domain.ErrLineQtyInvalid,
		domain.ErrLinePriceInvalid,
		domain.ErrAdjustmentNegative,
		domain.ErrSubtotalMismatch,
		domain.ErrTotalMismatch,
		domain.ErrOrderIDRequired,
		domain.ErrProductIDRequired,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
