package carts

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-shop-checkout/internal/inventory"
	"github.com/ariefcatur/go-shop-checkout/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"time"
)

// Service runs every cart mutation in one transaction together with the
// stock adjustment it implies, so a failed reservation leaves neither the
// cart nor the product changed.
type Service struct {
	DB        postgres.Pool
	Inventory *inventory.Repo
	Log       *zap.Logger
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) repo(db postgres.DBTX) *Repo { return &Repo{DB: db} }

// Create opens a cart, optionally reserving an initial set of items.
func (s *Service) Create(ctx context.Context, items []ItemInput) (*Cart, error) {
	seen := make(map[string]bool, len(items))
	for i := range items {
		if items[i].Quantity == 0 {
			items[i].Quantity = 1
		}
		if err := ValidateQuantity(items[i].Quantity); err != nil {
			return nil, err
		}
		if seen[items[i].ProductID] {
			return nil, ErrDuplicateItem
		}
		seen[items[i].ProductID] = true
	}

	now := s.now()
	c := &Cart{ID: uuid.NewString(), Items: []Item{}, CreatedAt: now, UpdatedAt: now}
	err := postgres.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		inv := s.Inventory.WithTx(tx)
		for _, in := range items {
			res, err := inv.Reserve(ctx, in.ProductID, in.Quantity)
			if err != nil {
				return fmt.Errorf("reserve %s: %w", in.ProductID, err)
			}
			c.Set(Item{ProductID: in.ProductID, Name: res.Name, CostCents: res.PriceCents, Quantity: in.Quantity})
		}
		return s.repo(tx).Insert(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Debug("cart created", zap.String("cart_id", c.ID), zap.Int("items", len(c.Items)))
	return c, nil
}

// Get returns the cart and refreshes its activity timestamp.
func (s *Service) Get(ctx context.Context, cartID string) (*Cart, error) {
	if !validID(cartID) {
		return nil, ErrCartNotFound
	}
	return s.repo(s.DB).Touch(ctx, cartID, s.now())
}

// AddOrUpdateItem sets the quantity of productID in the cart. A new line
// reserves quantity units at the current product price; an existing line
// reserves or releases only the delta reported by Cart.Set and keeps its
// original cost.
func (s *Service) AddOrUpdateItem(ctx context.Context, cartID, productID string, quantity int) (*Cart, error) {
	if err := ValidateQuantity(quantity); err != nil {
		return nil, err
	}
	if !validID(cartID) {
		return nil, ErrCartNotFound
	}

	var c *Cart
	err := postgres.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		repo, inv := s.repo(tx), s.Inventory.WithTx(tx)
		var err error
		if c, err = repo.Lock(ctx, cartID); err != nil {
			return err
		}

		if _, ok := c.Item(productID); !ok {
			res, err := inv.Reserve(ctx, productID, quantity)
			if err != nil {
				return err
			}
			c.Set(Item{ProductID: productID, Name: res.Name, CostCents: res.PriceCents, Quantity: quantity})
		} else {
			switch delta := c.Set(Item{ProductID: productID, Quantity: quantity}); {
			case delta > 0:
				if _, err := inv.Reserve(ctx, productID, delta); err != nil {
					return err
				}
			case delta < 0:
				if err := inv.Release(ctx, productID, -delta); err != nil {
					return err
				}
			}
		}

		c.UpdatedAt = s.now()
		return repo.Save(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RemoveItem drops the line for productID and returns its stock. Removing
// the last line deletes the cart and reports Emptied.
func (s *Service) RemoveItem(ctx context.Context, cartID, productID string) (RemoveResult, error) {
	if !validID(cartID) {
		return RemoveResult{}, ErrCartNotFound
	}

	var out RemoveResult
	err := postgres.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		repo := s.repo(tx)
		c, err := repo.Lock(ctx, cartID)
		if err != nil {
			return err
		}
		item, ok := c.Remove(productID)
		if !ok {
			return ErrItemNotInCart
		}
		if err := s.Inventory.WithTx(tx).Release(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}

		if c.Empty() {
			out.Emptied = true
			return repo.Delete(ctx, cartID)
		}
		c.UpdatedAt = s.now()
		out.Cart = c
		return repo.Save(ctx, c)
	})
	if err != nil {
		return RemoveResult{}, err
	}
	return out, nil
}

// Discard returns the stock of every line and deletes the cart. Lines whose
// product no longer exists are skipped.
func (s *Service) Discard(ctx context.Context, cartID string) error {
	return s.discard(ctx, cartID, nil)
}

// DiscardIfStale is Discard for the sweeper: the cart must still be idle
// since before idleBefore or created before createdBefore when its row is
// locked, otherwise ErrCartActive is returned and nothing changes.
func (s *Service) DiscardIfStale(ctx context.Context, cartID string, idleBefore, createdBefore time.Time) error {
	return s.discard(ctx, cartID, func(c *Cart) error {
		if c.UpdatedAt.Before(idleBefore) || c.CreatedAt.Before(createdBefore) {
			return nil
		}
		return ErrCartActive
	})
}

func (s *Service) discard(ctx context.Context, cartID string, check func(*Cart) error) error {
	if !validID(cartID) {
		return ErrCartNotFound
	}
	return postgres.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		repo, inv := s.repo(tx), s.Inventory.WithTx(tx)
		c, err := repo.Lock(ctx, cartID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(c); err != nil {
				return err
			}
		}
		for _, it := range c.Items {
			err := inv.Release(ctx, it.ProductID, it.Quantity)
			if errors.Is(err, inventory.ErrProductNotFound) {
				s.Log.Warn("discard: product gone, stock not returned",
					zap.String("cart_id", cartID), zap.String("product_id", it.ProductID))
				continue
			}
			if err != nil {
				return err
			}
		}
		return repo.Delete(ctx, cartID)
	})
}

// Stale lists carts the sweeper should discard.
func (s *Service) Stale(ctx context.Context, idleBefore, createdBefore time.Time, limit int) ([]string, error) {
	return s.repo(s.DB).Stale(ctx, idleBefore, createdBefore, limit)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
