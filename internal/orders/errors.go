package orders

import (
	"errors"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
)

var (
	ErrNotFound            = errors.New("order not found")
	ErrConcurrencyConflict = errors.New("order version conflict")
	ErrInsufficientStock   = inventory.ErrInsufficientStock
	ErrAlreadyCancelled    = errors.New("order already cancelled")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	ErrAlreadyExists       = errors.New("order already exists")
)
