// Package sweeper reclaims stock held by abandoned carts and unpaid orders.
package sweeper

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-shop-checkout/internal/apperr"
	"github.com/ariefcatur/go-shop-checkout/internal/config"
	"github.com/ariefcatur/go-shop-checkout/internal/orders"
	"github.com/ariefcatur/go-shop-checkout/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"sync"
	"sync/atomic"
	"time"
)

const batchSize = 500

type Carts interface {
	Stale(ctx context.Context, idleBefore, createdBefore time.Time, limit int) ([]string, error)
	DiscardIfStale(ctx context.Context, cartID string, idleBefore, createdBefore time.Time) error
}

type Orders interface {
	StalePending(ctx context.Context, before time.Time, limit int) ([]string, error)
	Interrupt(ctx context.Context, id string) (*orders.Order, error)
}

// Sweeper runs two schedules: a short one discarding idle or too old carts
// and a long one interrupting orders left unpaid.
type Sweeper struct {
	Carts   Carts
	Orders  Orders
	Cfg     config.Sweeper
	Metrics *telemetry.Metrics
	Log     *zap.Logger
	Now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Start launches both schedules. Each runs once immediately, then on its
// interval until Stop or ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.loop(ctx, "carts", s.Cfg.CartInterval, func(ctx context.Context) error {
		_, err := s.SweepCarts(ctx)
		return err
	})
	go s.loop(ctx, "orders", s.Cfg.OrderInterval, func(ctx context.Context) error {
		_, err := s.SweepOrders(ctx)
		return err
	})
}

// Stop cancels both schedules and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context, name string, every time.Duration, sweep func(context.Context) error) {
	defer s.wg.Done()
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if err := sweep(ctx); err != nil && ctx.Err() == nil {
			s.Log.Error("sweep failed", zap.String("sweep", name), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// SweepCarts discards carts idle for longer than CartIdleTTL or older than
// CartMaxAge and returns how many were discarded. A cart that fails is
// logged and left for the next run; one used since listing is skipped.
func (s *Sweeper) SweepCarts(ctx context.Context) (int, error) {
	now := s.now()
	idleBefore, createdBefore := now.Add(-s.Cfg.CartIdleTTL), now.Add(-s.Cfg.CartMaxAge)
	return s.drain(ctx, "cart",
		func(ctx context.Context) ([]string, error) {
			return s.Carts.Stale(ctx, idleBefore, createdBefore, batchSize)
		},
		func(ctx context.Context, id string) error {
			return s.Carts.DiscardIfStale(ctx, id, idleBefore, createdBefore)
		})
}

// SweepOrders interrupts orders still pending OrderPendingTTL after
// creation and returns how many were interrupted.
func (s *Sweeper) SweepOrders(ctx context.Context) (int, error) {
	before := s.now().Add(-s.Cfg.OrderPendingTTL)
	return s.drain(ctx, "order",
		func(ctx context.Context) ([]string, error) {
			return s.Orders.StalePending(ctx, before, batchSize)
		},
		func(ctx context.Context, id string) error {
			_, err := s.Orders.Interrupt(ctx, id)
			return err
		})
}

// drain lists and processes batches until a listing comes back short or
// holds only ids already tried in this run. Failed ids stay listed, so the
// seen set keeps them from being retried until the next run.
func (s *Sweeper) drain(ctx context.Context, kind string, list func(context.Context) ([]string, error), fn func(context.Context, string) error) (int, error) {
	var (
		total int
		seen  = make(map[string]struct{})
	)
	for ctx.Err() == nil {
		ids, err := list(ctx)
		if err != nil {
			return total, err
		}
		fresh := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				fresh = append(fresh, id)
			}
		}
		if len(fresh) == 0 {
			break
		}
		total += s.each(ctx, kind, fresh, fn)
		if len(ids) < batchSize {
			break
		}
	}
	return total, nil
}

func (s *Sweeper) each(ctx context.Context, kind string, ids []string, fn func(context.Context, string) error) int {
	var (
		g    errgroup.Group
		done atomic.Int64
	)
	g.SetLimit(max(s.Cfg.Concurrency, 1))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := fn(ctx, id)
			switch {
			case err == nil:
				done.Add(1)
				s.Metrics.Reclaimed(ctx, kind, "ok")
			case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrStateConflict):
				// already gone, paid or interrupted elsewhere since listing
				s.Metrics.Reclaimed(ctx, kind, "skipped")
				s.Log.Debug("sweep skipped", zap.String("kind", kind), zap.String("id", id), zap.Error(err))
			default:
				s.Metrics.Reclaimed(ctx, kind, "failed")
				s.Log.Warn("sweep item failed", zap.String("kind", kind), zap.String("id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	if n := done.Load(); n > 0 {
		s.Log.Info("sweep reclaimed", zap.String("kind", kind), zap.Int64("count", n), zap.Int("candidates", len(ids)))
	}
	return int(done.Load())
}
