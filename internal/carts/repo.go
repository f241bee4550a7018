package carts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-shop-checkout/internal/postgres"
	"github.com/jackc/pgx/v5"
	"time"
)

// Repo stores carts as one row per cart with the line items in a JSONB
// document.
type Repo struct{ DB postgres.DBTX }

func (r *Repo) WithTx(tx pgx.Tx) *Repo { return &Repo{DB: tx} }

const cartColumns = `id, items, amount_cents, created_at, updated_at`

func (r *Repo) Insert(ctx context.Context, c *Cart) error {
	items, err := encodeItems(c.Items)
	if err != nil {
		return err
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO carts(id, items, amount_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, items, c.AmountCents, c.CreatedAt, c.UpdatedAt)
	return err
}

// Lock loads a cart and holds its row lock until the transaction ends.
func (r *Repo) Lock(ctx context.Context, id string) (*Cart, error) {
	return r.scanOne(r.DB.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1 FOR UPDATE`, id))
}

// Touch bumps updated_at and returns the cart, keeping it alive for the
// idle sweep.
func (r *Repo) Touch(ctx context.Context, id string, now time.Time) (*Cart, error) {
	return r.scanOne(r.DB.QueryRow(ctx, `
		UPDATE carts SET updated_at = $2 WHERE id = $1
		RETURNING `+cartColumns, id, now))
}

func (r *Repo) Save(ctx context.Context, c *Cart) error {
	items, err := encodeItems(c.Items)
	if err != nil {
		return err
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE carts SET items = $2, amount_cents = $3, updated_at = $4
		WHERE id = $1`, c.ID, items, c.AmountCents, c.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrCartNotFound
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM carts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrCartNotFound
	}
	return nil
}

// Take deletes the cart and returns what it held. Stock is left reserved:
// the caller becomes the owner of the reservation.
func (r *Repo) Take(ctx context.Context, id string) (*Cart, error) {
	return r.scanOne(r.DB.QueryRow(ctx, `DELETE FROM carts WHERE id = $1 RETURNING `+cartColumns, id))
}

// Stale lists carts idle since before idleBefore or created before
// createdBefore, oldest activity first.
func (r *Repo) Stale(ctx context.Context, idleBefore, createdBefore time.Time, limit int) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id FROM carts
		WHERE updated_at < $1 OR created_at < $2
		ORDER BY updated_at
		LIMIT $3`, idleBefore, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repo) scanOne(row pgx.Row) (*Cart, error) {
	var (
		c   Cart
		raw []byte
	)
	err := row.Scan(&c.ID, &raw, &c.AmountCents, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &c.Items); err != nil {
		return nil, fmt.Errorf("decode cart items: %w", err)
	}
	if c.Items == nil {
		c.Items = []Item{}
	}
	return &c, nil
}

func encodeItems(items []Item) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	return json.Marshal(items)
}
