package inventory

import (
	"fmt"
	"github.com/ariefcatur/go-shop-checkout/internal/apperr"
	"time"
)

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PriceCents int       `json:"price_cents"`
	Stock      int       `json:"stock"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Reservation is the product state seen by a successful Reserve.
type Reservation struct {
	ProductID  string
	Name       string
	PriceCents int
	Remaining  int
}

var (
	ErrProductNotFound = fmt.Errorf("product %w", apperr.ErrNotFound)
	ErrOutOfStock      = fmt.Errorf("product out of stock: %w", apperr.ErrInsufficientStock)
	ErrInvalidQuantity = fmt.Errorf("quantity must be positive: %w", apperr.ErrValidation)
	ErrNegativeStock   = fmt.Errorf("stock cannot be negative: %w", apperr.ErrValidation)
)
