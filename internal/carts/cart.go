package carts

import (
	"fmt"
	"github.com/ariefcatur/go-shop-checkout/internal/apperr"
	"time"
)

// MaxQuantityPerItem caps a single line item.
const MaxQuantityPerItem = 9

var (
	ErrCartNotFound       = fmt.Errorf("cart %w", apperr.ErrNotFound)
	ErrQuantityOutOfRange = fmt.Errorf("quantity must be between 1 and %d: %w", MaxQuantityPerItem, apperr.ErrValidation)
	ErrItemNotInCart      = fmt.Errorf("product is not in the cart: %w", apperr.ErrNotFound)
	ErrDuplicateItem      = fmt.Errorf("product listed more than once: %w", apperr.ErrValidation)
	ErrCartActive         = fmt.Errorf("cart was used since it went stale: %w", apperr.ErrStateConflict)
)

// Item is a cart line. CostCents is the unit price captured when the item
// was first added and is never refreshed from the product afterwards.
type Item struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	CostCents int    `json:"cost_cents"`
	Quantity  int    `json:"quantity"`
}

type Cart struct {
	ID          string    `json:"id"`
	Items       []Item    `json:"items"`
	AmountCents int       `json:"amount_cents"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ItemInput struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"omitempty,min=1,max=9"`
}

// RemoveResult tells the caller whether removing the item deleted the cart.
type RemoveResult struct {
	Cart    *Cart
	Emptied bool
}

func ValidateQuantity(q int) error {
	if q < 1 || q > MaxQuantityPerItem {
		return ErrQuantityOutOfRange
	}
	return nil
}

// Amount is Σ cost × quantity over the cart lines.
func Amount(items []Item) int {
	total := 0
	for _, it := range items {
		total += it.CostCents * it.Quantity
	}
	return total
}

func (c *Cart) Item(productID string) (Item, bool) {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return Item{}, false
}

// Set inserts item or, when the product is already present, changes only
// its quantity. It returns the quantity delta against the previous line.
func (c *Cart) Set(item Item) int {
	defer c.recompute()
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			delta := item.Quantity - c.Items[i].Quantity
			c.Items[i].Quantity = item.Quantity
			return delta
		}
	}
	c.Items = append(c.Items, item)
	return item.Quantity
}

func (c *Cart) Remove(productID string) (Item, bool) {
	for i, it := range c.Items {
		if it.ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.recompute()
			return it, true
		}
	}
	return Item{}, false
}

func (c *Cart) Empty() bool { return len(c.Items) == 0 }

func (c *Cart) recompute() { c.AmountCents = Amount(c.Items) }
