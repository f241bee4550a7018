package orders

import (
	"context"
	"errors"
	"fmt"
	kafkax "github.com/ariefcatur/go-shop-checkout/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const projectorScope = "order-status-projector"

type StatusReader interface {
	GetStatus(ctx context.Context, id string) (Status, error)
}

type Dedup interface {
	FirstSeen(ctx context.Context, scope, id string) (bool, error)
	Forget(ctx context.Context, scope, id string) error
}

// Projector keeps the status cache in line with order.status events. The
// status written is always re-read from the database, so events arriving
// out of order cannot leave a stale value behind.
type Projector struct {
	Orders StatusReader
	Cache  StatusCache
	Dedup  Dedup
	Log    *zap.Logger
}

func (p *Projector) Handle(ctx context.Context, m kafkago.Message) error {
	ev, err := kafkax.Decode[Envelope](m.Value)
	if err != nil {
		// poison message; commit and move on
		p.Log.Warn("projector: bad envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	pl, err := kafkax.Decode[StatusPayload](ev.Payload)
	if err != nil || pl.OrderID == "" {
		p.Log.Warn("projector: bad payload", zap.String("event_id", ev.EventID), zap.Error(err))
		return nil
	}

	first, err := p.Dedup.FirstSeen(ctx, projectorScope, ev.EventID)
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if !first {
		return nil
	}

	if err := p.project(ctx, pl.OrderID); err != nil {
		if ferr := p.Dedup.Forget(ctx, projectorScope, ev.EventID); ferr != nil {
			p.Log.Warn("projector: forget failed", zap.String("event_id", ev.EventID), zap.Error(ferr))
		}
		return err
	}
	p.Log.Debug("status projected",
		zap.String("event_type", ev.EventType),
		zap.String("order_id", pl.OrderID))
	return nil
}

func (p *Projector) project(ctx context.Context, orderID string) error {
	st, err := p.Orders.GetStatus(ctx, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		p.Log.Warn("projector: order missing", zap.String("order_id", orderID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read status %s: %w", orderID, err)
	}
	return p.Cache.SetStatus(ctx, orderID, string(st))
}
