package orders

import (
	"fmt"
	"github.com/ariefcatur/go-shop-checkout/internal/apperr"
	"github.com/ariefcatur/go-shop-checkout/internal/carts"
	"time"
)

var (
	ErrOrderNotFound     = fmt.Errorf("order %w", apperr.ErrNotFound)
	ErrDeliveryNotFound  = fmt.Errorf("delivery %w", apperr.ErrNotFound)
	ErrEmptyCart         = fmt.Errorf("cart is empty: %w", apperr.ErrValidation)
	ErrNoCartSource      = fmt.Errorf("exactly one of cart_id or items is required: %w", apperr.ErrValidation)
	ErrInvalidStatus     = fmt.Errorf("invalid order status: %w", apperr.ErrValidation)
	ErrIllegalTransition = fmt.Errorf("status transition not allowed: %w", apperr.ErrStateConflict)
)

type Customer struct {
	Name    string `json:"name" validate:"required,max=256"`
	Email   string `json:"email" validate:"required,email,max=256"`
	Company string `json:"company,omitempty" validate:"max=256"`
	Address string `json:"address" validate:"required,max=512"`
	Zip     string `json:"zip" validate:"required,max=16"`
	City    string `json:"city" validate:"required,max=128"`
	Phone   string `json:"phone,omitempty" validate:"max=32"`
}

type Delivery struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CostCents int    `json:"cost_cents"`
	Points    bool   `json:"points,omitempty"`
}

// CartSnapshot is the cart as it was when the order was placed.
type CartSnapshot struct {
	Items       []carts.Item `json:"items"`
	AmountCents int          `json:"amount_cents"`
}

type Order struct {
	ID               string       `json:"id"`
	Customer         Customer     `json:"customer"`
	Cart             CartSnapshot `json:"cart"`
	Delivery         Delivery     `json:"delivery"`
	TotalAmountCents int          `json:"total_amount_cents"`
	Status           Status       `json:"status"`
	P24OrderID       *int64       `json:"p24_order_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// TotalCost recomputes delivery + Σ cost × quantity from the snapshot.
func (o *Order) TotalCost() int {
	return o.Delivery.CostCents + carts.Amount(o.Cart.Items)
}

type CreateInput struct {
	Customer   Customer
	DeliveryID string
	CartID     string
	Items      []carts.ItemInput
}

type Filter struct {
	Status   Status
	Page     int
	PageSize int
	Sort     string
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var sortColumns = map[string]string{
	"created_at":  "created_at ASC",
	"-created_at": "created_at DESC",
	"total":       "total_amount_cents ASC",
	"-total":      "total_amount_cents DESC",
}

func (f Filter) normalize() (Filter, error) {
	if f.Status != "" {
		if _, err := ParseStatus(string(f.Status)); err != nil {
			return f, err
		}
	}
	if f.Page < 0 {
		f.Page = 0
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	if f.Sort == "" {
		f.Sort = "-created_at"
	}
	if _, ok := sortColumns[f.Sort]; !ok {
		return f, fmt.Errorf("unknown sort %q: %w", f.Sort, apperr.ErrValidation)
	}
	return f, nil
}
