package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-shop-checkout/internal/postgres"
	"github.com/jackc/pgx/v5"
	"time"
)

type Repo struct{ DB postgres.DBTX }

func (r *Repo) WithTx(tx pgx.Tx) *Repo { return &Repo{DB: tx} }

const orderColumns = `id, customer, cart, delivery, total_amount_cents, status, p24_order_id, created_at, updated_at`

func (r *Repo) Insert(ctx context.Context, o *Order) error {
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return err
	}
	cart, err := json.Marshal(o.Cart)
	if err != nil {
		return err
	}
	delivery, err := json.Marshal(o.Delivery)
	if err != nil {
		return err
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO orders(id, customer, cart, delivery, total_amount_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, customer, cart, delivery, o.TotalAmountCents, string(o.Status), o.CreatedAt, o.UpdatedAt)
	return err
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// Lock loads the order and holds its row lock until the transaction ends.
func (r *Repo) Lock(ctx context.Context, id string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repo) GetStatus(ctx context.Context, id string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

func (r *Repo) SetStatus(ctx context.Context, id string, st Status, now time.Time) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, id, string(st), now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

// SetStatusIf moves the order from one status to another only if it is
// still in from. It reports whether the row changed.
func (r *Repo) SetStatusIf(ctx context.Context, id string, from, to Status, now time.Time) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`, id, string(from), string(to), now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) SetP24OrderID(ctx context.Context, id string, p24OrderID int64, now time.Time) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET p24_order_id = $2, updated_at = $3 WHERE id = $1`, id, p24OrderID, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *Repo) List(ctx context.Context, f Filter) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY `+sortColumns[f.Sort]+`
		LIMIT $2 OFFSET $3`, string(f.Status), f.PageSize, f.Page*f.PageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// StalePending lists pending orders created before the cutoff.
func (r *Repo) StalePending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`, string(StatusPending), before, limit)
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

func (r *Repo) Delivery(ctx context.Context, id string) (Delivery, error) {
	var d Delivery
	err := r.DB.QueryRow(ctx, `SELECT id, name, cost_cents, points FROM deliveries WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.CostCents, &d.Points)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrDeliveryNotFound
	}
	return d, err
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                        Order
		customer, cart, delivery []byte
		status                   string
	)
	err := row.Scan(&o.ID, &customer, &cart, &delivery, &o.TotalAmountCents, &status, &o.P24OrderID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	if err := json.Unmarshal(cart, &o.Cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	if err := json.Unmarshal(delivery, &o.Delivery); err != nil {
		return nil, fmt.Errorf("decode delivery: %w", err)
	}
	return &o, nil
}
