package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-shop-checkout/internal/carts"
	"github.com/ariefcatur/go-shop-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-shop-checkout/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"strconv"
	"time"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type StatusCache interface {
	GetStatus(ctx context.Context, orderID string) (string, bool, error)
	SetStatus(ctx context.Context, orderID, status string) error
	Invalidate(ctx context.Context, orderID string) error
}

// Service owns order persistence. Cache and Publisher are optional.
type Service struct {
	DB          postgres.Pool
	Inventory   *inventory.Repo
	Cache       StatusCache
	Publisher   Publisher
	Log         *zap.Logger
	Now         func() time.Time
	ServiceName string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) repo(db postgres.DBTX) *Repo { return &Repo{DB: db} }

// CreateFromCart turns a cart (or an inline item list) into a pending order.
// A cart is consumed without releasing its stock: the reservation moves to
// the order. Inline items are reserved in the same transaction.
func (s *Service) CreateFromCart(ctx context.Context, in CreateInput) (*Order, error) {
	if (in.CartID == "") == (len(in.Items) == 0) {
		return nil, ErrNoCartSource
	}
	if in.CartID != "" && !validID(in.CartID) {
		return nil, carts.ErrCartNotFound
	}
	if !validID(in.DeliveryID) {
		return nil, ErrDeliveryNotFound
	}
	if err := normalizeItems(in.Items); err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:        uuid.NewString(),
		Customer:  in.Customer,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := postgres.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		repo := s.repo(tx)
		d, err := repo.Delivery(ctx, in.DeliveryID)
		if err != nil {
			return err
		}
		o.Delivery = d

		if in.CartID != "" {
			c, err := (&carts.Repo{DB: tx}).Take(ctx, in.CartID)
			if err != nil {
				return err
			}
			if c.Empty() {
				return ErrEmptyCart
			}
			o.Cart = CartSnapshot{Items: c.Items, AmountCents: c.AmountCents}
		} else {
			inv := s.Inventory.WithTx(tx)
			snap := &carts.Cart{}
			for _, it := range in.Items {
				res, err := inv.Reserve(ctx, it.ProductID, it.Quantity)
				if err != nil {
					return fmt.Errorf("reserve %s: %w", it.ProductID, err)
				}
				snap.Set(carts.Item{ProductID: it.ProductID, Name: res.Name, CostCents: res.PriceCents, Quantity: it.Quantity})
			}
			o.Cart = CartSnapshot{Items: snap.Items, AmountCents: snap.AmountCents}
		}

		o.TotalAmountCents = o.Cart.AmountCents + o.Delivery.CostCents
		return repo.Insert(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("cart_id", in.CartID),
		zap.Int("total_amount_cents", o.TotalAmountCents))
	s.emit(ctx, EventOrderCreated, o, "")
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	if !validID(id) {
		return nil, ErrOrderNotFound
	}
	return s.repo(s.DB).Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	f, err := f.normalize()
	if err != nil {
		return nil, err
	}
	return s.repo(s.DB).List(ctx, f)
}

// GetStatus serves from the status cache and falls back to the database.
func (s *Service) GetStatus(ctx context.Context, id string) (Status, error) {
	if !validID(id) {
		return "", ErrOrderNotFound
	}
	if s.Cache != nil {
		if st, ok, err := s.Cache.GetStatus(ctx, id); err == nil && ok {
			return Status(st), nil
		}
	}
	st, err := s.repo(s.DB).GetStatus(ctx, id)
	if err != nil {
		return "", err
	}
	if s.Cache != nil {
		_ = s.Cache.SetStatus(ctx, id, string(st))
	}
	return st, nil
}

// UpdateStatus applies an administrative status change. Moving to
// interrupted goes through Interrupt so the reservation is returned.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*Order, error) {
	to, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if to == StatusInterrupted {
		return s.Interrupt(ctx, id)
	}
	if !validID(id) {
		return nil, ErrOrderNotFound
	}

	var (
		o    *Order
		from Status
	)
	err = postgres.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		repo := s.repo(tx)
		if o, err = repo.Lock(ctx, id); err != nil {
			return err
		}
		from = o.Status
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
		}
		o.Status, o.UpdatedAt = to, s.now()
		return repo.SetStatus(ctx, id, to, o.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	s.afterStatusChange(ctx, EventOrderStatusChanged, o, from)
	return o, nil
}

// Interrupt moves a pending order to interrupted and returns the stock of
// every snapshot line.
func (s *Service) Interrupt(ctx context.Context, id string) (*Order, error) {
	if !validID(id) {
		return nil, ErrOrderNotFound
	}
	var o *Order
	err := postgres.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		repo, inv := s.repo(tx), s.Inventory.WithTx(tx)
		var err error
		if o, err = repo.Lock(ctx, id); err != nil {
			return err
		}
		if !CanTransition(o.Status, StatusInterrupted) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, StatusInterrupted)
		}
		for _, it := range o.Cart.Items {
			err := inv.Release(ctx, it.ProductID, it.Quantity)
			if errors.Is(err, inventory.ErrProductNotFound) {
				s.Log.Warn("interrupt: product gone, stock not returned",
					zap.String("order_id", id), zap.String("product_id", it.ProductID))
				continue
			}
			if err != nil {
				return err
			}
		}
		o.Status, o.UpdatedAt = StatusInterrupted, s.now()
		return repo.SetStatus(ctx, id, StatusInterrupted, o.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("order interrupted", zap.String("order_id", id))
	s.afterStatusChange(ctx, EventOrderInterrupted, o, StatusPending)
	return o, nil
}

func (s *Service) StalePending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return s.repo(s.DB).StalePending(ctx, before, limit)
}

func (s *Service) RecordProviderTransaction(ctx context.Context, id string, p24OrderID int64) error {
	if !validID(id) {
		return ErrOrderNotFound
	}
	return s.repo(s.DB).SetP24OrderID(ctx, id, p24OrderID, s.now())
}

// MarkPaid moves a pending order to paid. It reports false, without error,
// when the order is no longer pending.
func (s *Service) MarkPaid(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, ErrOrderNotFound
	}
	ok, err := s.repo(s.DB).SetStatusIf(ctx, id, StatusPending, StatusPaid, s.now())
	if err != nil || !ok {
		return false, err
	}
	o, err := s.repo(s.DB).Get(ctx, id)
	if err != nil {
		// status is committed; only the event payload is degraded
		s.Log.Warn("order paid but reload failed", zap.String("order_id", id), zap.Error(err))
		o = &Order{ID: id, Status: StatusPaid}
	}
	s.afterStatusChange(ctx, EventOrderPaid, o, StatusPending)
	return true, nil
}

func (s *Service) afterStatusChange(ctx context.Context, eventType string, o *Order, from Status) {
	if s.Cache != nil {
		if err := s.Cache.Invalidate(ctx, o.ID); err != nil {
			s.Log.Warn("status cache invalidate failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	s.emit(ctx, eventType, o, from)
}

func (s *Service) emit(ctx context.Context, eventType string, o *Order, from Status) {
	if s.Publisher == nil {
		return
	}
	p := StatusPayload{
		OrderID:          o.ID,
		Status:           o.Status,
		PreviousStatus:   from,
		TotalAmountCents: o.TotalAmountCents,
		Items:            itemQtys(o),
	}
	if o.P24OrderID != nil {
		p.P24OrderID = *o.P24OrderID
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.ServiceName,
		TraceID:       kafkax.TraceID(ctx),
		CorrelationID: o.ID,
		Payload:       kafkax.MustMarshal(p),
	}
	headers := append([]kafkago.Header{
		{Key: "x-event-type", Value: []byte(eventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(ev.EventVersion))},
	}, kafkax.TraceHeaders(ctx)...)
	s.Publisher.Publish(PartitionKey(o.ID), kafkax.MustMarshal(ev), headers...)
}

func normalizeItems(items []carts.ItemInput) error {
	seen := make(map[string]bool, len(items))
	for i := range items {
		if items[i].Quantity == 0 {
			items[i].Quantity = 1
		}
		if err := carts.ValidateQuantity(items[i].Quantity); err != nil {
			return err
		}
		if seen[items[i].ProductID] {
			return carts.ErrDuplicateItem
		}
		seen[items[i].ProductID] = true
	}
	return nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
