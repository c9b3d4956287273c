package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"go.uber.org/zap"
)

const maxBody = 1 << 20

type errorBody struct {
	Error   string             `json:"error"`
	Details *orders.StockError `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, orders.ErrValidation):
		return http.StatusBadRequest
	case orders.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	body := errorBody{Error: err.Error()}
	log := logging.FromContext(r.Context())

	switch code {
	case http.StatusInternalServerError:
		log.Error("http_internal_error", zap.Error(err))
		body.Error = http.StatusText(code)
	case http.StatusServiceUnavailable:
		log.Warn("http_transient_error", zap.Error(err))
		w.Header().Set("Retry-After", "1")
	case http.StatusConflict:
		var se *orders.StockError
		if errors.As(err, &se) {
			body.Details = se
		}
	}
	writeJSON(w, code, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid json: %v", orders.ErrValidation, err)
	}
	return nil
}
