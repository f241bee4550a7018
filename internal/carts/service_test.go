package carts

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-checkout/internal/apperr"
	"github.com/ariefcatur/go-shop-checkout/internal/inventory"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	cartID = "0f1d2c3b-4a59-4687-a7b6-c5d4e3f2a1b0"
	mugID  = "8c7b0e6a-3f0e-4d7a-9a59-2f4a7f0c9b11"
	teaID  = "5e2a1f3c-7b6d-4e8f-9a0b-1c2d3e4f5a6b"
)

var (
	lockSQL    = regexp.QuoteMeta("FROM carts WHERE id = $1 FOR UPDATE")
	saveSQL    = regexp.QuoteMeta("UPDATE carts SET items = $2")
	insertSQL  = regexp.QuoteMeta("INSERT INTO carts")
	deleteSQL  = regexp.QuoteMeta("DELETE FROM carts WHERE id = $1")
	touchSQL   = regexp.QuoteMeta("UPDATE carts SET updated_at = $2")
	reserveSQL = regexp.QuoteMeta("SET stock = stock - $2")
	releaseSQL = regexp.QuoteMeta("SET stock = stock + $2")
	existsSQL  = regexp.QuoteMeta("SELECT EXISTS(")

	t0  = time.Date(2026, 10, 17, 11, 0, 0, 0, time.UTC)
	now = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
)

func newService(t *testing.T) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &Service{
		DB:        mock,
		Inventory: &inventory.Repo{DB: mock},
		Log:       zaptest.NewLogger(t),
		Now:       func() time.Time { return now },
	}, mock
}

func itemsJSON(t *testing.T, items ...Item) []byte {
	t.Helper()
	if items == nil {
		items = []Item{}
	}
	b, err := json.Marshal(items)
	require.NoError(t, err)
	return b
}

func cartRows(t *testing.T, items ...Item) *pgxmock.Rows {
	return cartRowsAt(t, t0, t0, items...)
}

func cartRowsAt(t *testing.T, created, updated time.Time, items ...Item) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "items", "amount_cents", "created_at", "updated_at"}).
		AddRow(cartID, itemsJSON(t, items...), Amount(items), created, updated)
}

func reservedRows(name string, price, left int) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"name", "price_cents", "stock"}).AddRow(name, price, left)
}

func TestAddOrUpdateItem_NewItemReservesAtCurrentPrice(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WithArgs(cartID).WillReturnRows(cartRows(t))
	mock.ExpectQuery(reserveSQL).WithArgs(mugID, 2).WillReturnRows(reservedRows("Mug", 1990, 8))
	want := Item{ProductID: mugID, Name: "Mug", CostCents: 1990, Quantity: 2}
	mock.ExpectExec(saveSQL).WithArgs(cartID, itemsJSON(t, want), 3980, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	c, err := svc.AddOrUpdateItem(context.Background(), cartID, mugID, 2)
	require.NoError(t, err)
	assert.Equal(t, []Item{want}, c.Items)
	assert.Equal(t, 3980, c.AmountCents)
	assert.Equal(t, now, c.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddOrUpdateItem_IncreaseReservesDeltaAndKeepsCost(t *testing.T) {
	svc, mock := newService(t)
	existing := Item{ProductID: mugID, Name: "Mug", CostCents: 1000, Quantity: 3}

	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WithArgs(cartID).WillReturnRows(cartRows(t, existing))
	// product price has since changed to 9999; the line keeps 1000
	mock.ExpectQuery(reserveSQL).WithArgs(mugID, 4).WillReturnRows(reservedRows("Mug", 9999, 0))
	updated := existing
	updated.Quantity = 7
	mock.ExpectExec(saveSQL).WithArgs(cartID, itemsJSON(t, updated), 7000, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	c, err := svc.AddOrUpdateItem(context.Background(), cartID, mugID, 7)
	require.NoError(t, err)
	assert.Equal(t, 7000, c.AmountCents)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddOrUpdateItem_DecreaseReleasesDelta(t *testing.T) {
	svc, mock := newService(t)
	existing := Item{ProductID: mugID, Name: "Mug", CostCents: 1000, Quantity: 3}

	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WithArgs(cartID).WillReturnRows(cartRows(t, existing))
	mock.ExpectExec(releaseSQL).WithArgs(mugID, 1).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	updated := existing
	updated.Quantity = 2
	mock.ExpectExec(saveSQL).WithArgs(cartID, itemsJSON(t, updated), 2000, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	_, err := svc.AddOrUpdateItem(context.Background(), cartID, mugID, 2)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddOrUpdateItem_SameQuantityTouchesNoStock(t *testing.T) {
	svc, mock := newService(t)
	existing := Item{ProductID: mugID, Name: "Mug", CostCents: 1000, Quantity: 3}

	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WithArgs(cartID).WillReturnRows(cartRows(t, existing))
	mock.ExpectExec(saveSQL).WithArgs(cartID, itemsJSON(t, existing), 3000, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	_, err := svc.AddOrUpdateItem(context.Background(), cartID, mugID, 3)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddOrUpdateItem_QuantityOverLimitFailsBeforeStock(t *testing.T) {
	svc, mock := newService(t)

	_, err := svc.AddOrUpdateItem(context.Background(), cartID, mugID, 1000)
	require.ErrorIs(t, err, ErrQuantityOutOfRange)
	require.ErrorIs(t, err, apperr.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddOrUpdateItem_InsufficientStockRollsBack(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WithArgs(cartID).WillReturnRows(cartRows(t))
	mock.ExpectQuery(reserveSQL).WithArgs(mugID, 5).
		WillReturnRows(pgxmock.NewRows([]string{"name", "price_cents", "stock"}))
	mock.ExpectQuery(existsSQL).WithArgs(mugID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := svc.AddOrUpdateItem(context.Background(), cartID, mugID, 5)
	require.ErrorIs(t, err, inventory.ErrOutOfStock)
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddOrUpdateItem_UnknownCart(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WithArgs(cartID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "items", "amount_cents", "created_at", "updated_at"}))
	mock.ExpectRollback()

	_, err := svc.AddOrUpdateItem(context.Background(), cartID, mugID, 1)
	require.ErrorIs(t, err, ErrCartNotFound)

	_, err = svc.AddOrUpdateItem(context.Background(), "1", mugID, 1)
	require.ErrorIs(t, err, ErrCartNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveItem_LastItemDeletesCart(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WithArgs(cartID).
		WillReturnRows(cartRows(t, Item{ProductID: mugID, Name: "Mug", CostCents: 1000, Quantity: 2}))
	mock.ExpectExec(releaseSQL).WithArgs(mugID, 2).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(deleteSQL).WithArgs(cartID).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	res, err := svc.RemoveItem(context.Background(), cartID, mugID)
	require.NoError(t, err)
	assert.True(t, res.Emptied)
	assert.Nil(t, res.Cart)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveItem_KeepsOtherLines(t *testing.T) {
	svc, mock := newService(t)
	mug := Item{ProductID: mugID, Name: "Mug", CostCents: 1000, Quantity: 2}
	tea := Item{ProductID: teaID, Name: "Tea", CostCents: 500, Quantity: 1}

	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WithArgs(cartID).WillReturnRows(cartRows(t, mug, tea))
	mock.ExpectExec(releaseSQL).WithArgs(teaID, 1).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(saveSQL).WithArgs(cartID, itemsJSON(t, mug), 2000, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := svc.RemoveItem(context.Background(), cartID, teaID)
	require.NoError(t, err)
	require.False(t, res.Emptied)
	assert.Equal(t, []Item{mug}, res.Cart.Items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveItem_NotInCart(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WithArgs(cartID).
		WillReturnRows(cartRows(t, Item{ProductID: mugID, CostCents: 1000, Quantity: 2}))
	mock.ExpectRollback()

	_, err := svc.RemoveItem(context.Background(), cartID, teaID)
	require.ErrorIs(t, err, ErrItemNotInCart)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Adding q units then removing the line hands exactly q units back.
func TestAddThenRemoveRestoresStock(t *testing.T) {
	svc, mock := newService(t)
	line := Item{ProductID: mugID, Name: "Mug", CostCents: 1990, Quantity: 4}

	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WithArgs(cartID).WillReturnRows(cartRows(t))
	mock.ExpectQuery(reserveSQL).WithArgs(mugID, 4).WillReturnRows(reservedRows("Mug", 1990, 6))
	mock.ExpectExec(saveSQL).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WithArgs(cartID).WillReturnRows(cartRows(t, line))
	mock.ExpectExec(releaseSQL).WithArgs(mugID, 4).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(deleteSQL).WithArgs(cartID).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	_, err := svc.AddOrUpdateItem(context.Background(), cartID, mugID, 4)
	require.NoError(t, err)
	res, err := svc.RemoveItem(context.Background(), cartID, mugID)
	require.NoError(t, err)
	assert.True(t, res.Emptied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDiscardReleasesEveryLine(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WithArgs(cartID).WillReturnRows(cartRows(t,
		Item{ProductID: mugID, CostCents: 1000, Quantity: 2},
		Item{ProductID: teaID, CostCents: 500, Quantity: 3},
	))
	mock.ExpectExec(releaseSQL).WithArgs(mugID, 2).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	// product deleted meanwhile: skipped, cart still goes away
	mock.ExpectExec(releaseSQL).WithArgs(teaID, 3).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(deleteSQL).WithArgs(cartID).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, svc.Discard(context.Background(), cartID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDiscardIfStale(t *testing.T) {
	idleBefore, createdBefore := now.Add(-20*time.Minute), now.Add(-3*time.Hour)
	mug := Item{ProductID: mugID, CostCents: 1000, Quantity: 2}

	t.Run("idle cart is discarded", func(t *testing.T) {
		svc, mock := newService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSQL).WithArgs(cartID).
			WillReturnRows(cartRowsAt(t, now.Add(-time.Hour), now.Add(-21*time.Minute), mug))
		mock.ExpectExec(releaseSQL).WithArgs(mugID, 2).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(deleteSQL).WithArgs(cartID).WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectCommit()

		require.NoError(t, svc.DiscardIfStale(context.Background(), cartID, idleBefore, createdBefore))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cart past max age is discarded even if active", func(t *testing.T) {
		svc, mock := newService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSQL).WithArgs(cartID).
			WillReturnRows(cartRowsAt(t, now.Add(-4*time.Hour), now, mug))
		mock.ExpectExec(releaseSQL).WithArgs(mugID, 2).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(deleteSQL).WithArgs(cartID).WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectCommit()

		require.NoError(t, svc.DiscardIfStale(context.Background(), cartID, idleBefore, createdBefore))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cart touched after listing is kept", func(t *testing.T) {
		svc, mock := newService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSQL).WithArgs(cartID).
			WillReturnRows(cartRowsAt(t, now.Add(-time.Hour), now, mug))
		mock.ExpectRollback()

		err := svc.DiscardIfStale(context.Background(), cartID, idleBefore, createdBefore)
		require.ErrorIs(t, err, ErrCartActive)
		require.ErrorIs(t, err, apperr.ErrStateConflict)
		// no release, no delete
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateWithItems(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(reserveSQL).WithArgs(mugID, 1).WillReturnRows(reservedRows("Mug", 1990, 9))
	mock.ExpectQuery(reserveSQL).WithArgs(teaID, 3).WillReturnRows(reservedRows("Tea", 500, 1))
	mock.ExpectExec(insertSQL).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	c, err := svc.Create(context.Background(), []ItemInput{
		{ProductID: mugID},
		{ProductID: teaID, Quantity: 3},
	})
	require.NoError(t, err)
	assert.Len(t, c.Items, 2)
	assert.Equal(t, 1, c.Items[0].Quantity)
	assert.Equal(t, 1990+1500, c.AmountCents)
	assert.Equal(t, now, c.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsDuplicates(t *testing.T) {
	svc, mock := newService(t)

	_, err := svc.Create(context.Background(), []ItemInput{{ProductID: mugID}, {ProductID: mugID, Quantity: 2}})
	require.ErrorIs(t, err, ErrDuplicateItem)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTouchesCart(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectQuery(touchSQL).WithArgs(cartID, now).WillReturnRows(cartRows(t, Item{ProductID: mugID, CostCents: 10, Quantity: 1}))

	c, err := svc.Get(context.Background(), cartID)
	require.NoError(t, err)
	assert.Equal(t, 10, c.AmountCents)

	_, err = svc.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrCartNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
