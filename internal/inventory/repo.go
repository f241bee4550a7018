package inventory

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-shop-checkout/internal/postgres"
	"github.com/ariefcatur/go-shop-checkout/internal/telemetry"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repo is the only writer of products.stock. Every adjustment is a single
// conditional UPDATE so concurrent reservations cannot oversell.
type Repo struct {
	DB      postgres.DBTX
	Metrics *telemetry.Metrics
}

// WithTx returns a Repo bound to tx so stock changes commit or roll back
// together with the caller's cart/order writes.
func (r *Repo) WithTx(tx pgx.Tx) *Repo {
	return &Repo{DB: tx, Metrics: r.Metrics}
}

// Reserve decrements stock by qty if at least qty units are available.
func (r *Repo) Reserve(ctx context.Context, productID string, qty int) (Reservation, error) {
	if qty <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}
	if !validID(productID) {
		r.Metrics.StockAdjusted(ctx, "reserve", "not_found")
		return Reservation{}, ErrProductNotFound
	}

	res := Reservation{ProductID: productID}
	err := r.DB.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING name, price_cents, stock`, productID, qty,
	).Scan(&res.Name, &res.PriceCents, &res.Remaining)
	if err == nil {
		r.Metrics.StockAdjusted(ctx, "reserve", "ok")
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, err
	}

	// no row updated: either unknown product or not enough stock
	exists, err := r.exists(ctx, productID)
	if err != nil {
		return Reservation{}, err
	}
	if !exists {
		r.Metrics.StockAdjusted(ctx, "reserve", "not_found")
		return Reservation{}, ErrProductNotFound
	}
	r.Metrics.StockAdjusted(ctx, "reserve", "out_of_stock")
	return Reservation{}, ErrOutOfStock
}

// Release returns qty units to stock.
func (r *Repo) Release(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if !validID(productID) {
		return ErrProductNotFound
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id = $1`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		r.Metrics.StockAdjusted(ctx, "release", "not_found")
		return ErrProductNotFound
	}
	r.Metrics.StockAdjusted(ctx, "release", "ok")
	return nil
}

func (r *Repo) Get(ctx context.Context, productID string) (Product, error) {
	if !validID(productID) {
		return Product{}, ErrProductNotFound
	}
	var p Product
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, price_cents, stock, created_at, updated_at
		FROM products WHERE id = $1`, productID,
	).Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *Repo) List(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, price_cents, stock, created_at, updated_at
                                FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetStock overwrites the stock count. Admin override only: it ignores
// outstanding reservations.
func (r *Repo) SetStock(ctx context.Context, productID string, stock int) error {
	if stock < 0 {
		return ErrNegativeStock
	}
	if !validID(productID) {
		return ErrProductNotFound
	}
	ct, err := r.DB.Exec(ctx, `UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`, productID, stock)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrProductNotFound
	}
	r.Metrics.StockAdjusted(ctx, "set", "ok")
	return nil
}

func (r *Repo) exists(ctx context.Context, productID string) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&ok)
	return ok, err
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
