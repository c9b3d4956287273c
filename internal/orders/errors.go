package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrOrderNotFound   = fmt.Errorf("order %w", ErrNotFound)
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrAddressNotFound = fmt.Errorf("address %w", ErrNotFound)
	ErrPaymentNotFound = fmt.Errorf("payment %w", ErrNotFound)

	ErrInsufficientStock = errors.New("insufficient stock for product")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrPaymentFailed     = errors.New("payment failed")
	ErrForbidden         = errors.New("forbidden")
	ErrValidation        = errors.New("validation failed")
	ErrAmountMismatch    = fmt.Errorf("%w: amount does not match items", ErrValidation)
	ErrReadOnlyTx        = errors.New("write in read-only transaction")

	// transient: the whole operation may be retried
	ErrConflict           = errors.New("transaction conflict")
	ErrTxTimeout          = errors.New("transaction timed out")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// StockError carries the numbers behind an ErrInsufficientStock.
type StockError struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: %s (required %d, available %d)", ErrInsufficientStock, e.ProductID, e.Required, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

func IsTransient(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTxTimeout) || errors.Is(err, ErrGatewayUnavailable)
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
