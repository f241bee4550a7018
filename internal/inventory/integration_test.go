package inventory

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/go-shop-checkout/internal/postgres"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Runs against a real database only when TEST_POSTGRES_DSN is set.
func TestReserve_ConcurrentNeverOversells(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	require.NoError(t, postgres.Migrate(ctx, dsn))
	db, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	id := uuid.NewString()
	_, err = db.Exec(ctx, `INSERT INTO products(id, name, price_cents, stock) VALUES ($1, 'Lamp', 4900, 10)`, id)
	require.NoError(t, err)
	defer db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)

	repo := &Repo{DB: db}
	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Reserve(ctx, id, 1)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrOutOfStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	p, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int32(10), ok.Load())
	require.Equal(t, int32(30), rejected.Load())
	require.Equal(t, 0, p.Stock)
}
