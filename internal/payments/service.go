package payments

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-shop-checkout/internal/apperr"
	"github.com/ariefcatur/go-shop-checkout/internal/orders"
	"github.com/ariefcatur/go-shop-checkout/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"strings"
)

var (
	ErrBadSignature     = fmt.Errorf("payment notification %w", apperr.ErrVerificationFailed)
	ErrNotPaidInFull    = fmt.Errorf("order is not paid in full: %w", apperr.ErrAmountMismatch)
	ErrOrderUnavailable = fmt.Errorf("order %w", apperr.ErrUnavailable)
	ErrNotPayable       = fmt.Errorf("order is not awaiting payment: %w", apperr.ErrStateConflict)
	ErrUnverified       = fmt.Errorf("p24 %w", apperr.ErrTransactionUnverified)
	ErrProvider         = fmt.Errorf("p24 request failed: %w", apperr.ErrTransactionUnverified)
)

type Orders interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
	RecordProviderTransaction(ctx context.Context, id string, p24OrderID int64) error
	MarkPaid(ctx context.Context, id string) (bool, error)
}

type Provider interface {
	RegisterTransaction(ctx context.Context, r Registration) (string, error)
	RedirectURL(token string) string
	VerifyNotification(n Notification) bool
	VerifyTransaction(ctx context.Context, v Verification) error
	PaymentMethods(ctx context.Context, lang string) ([]Method, error)
}

// Service starts payments and reconciles P24 notifications with orders.
type Service struct {
	Orders    Orders
	P24       Provider
	PublicURL string
	Metrics   *telemetry.Metrics
	Log       *zap.Logger
}

var tracer = otel.Tracer("github.com/ariefcatur/go-shop-checkout/internal/payments")

// Initiate registers a P24 transaction for a pending order and returns the
// URL the customer should be redirected to.
func (s *Service) Initiate(ctx context.Context, orderID string, method int) (string, error) {
	ctx, span := tracer.Start(ctx, "payments.Initiate")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	o, err := s.Orders.Get(ctx, orderID)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", ErrOrderUnavailable
	}
	if err != nil {
		return "", err
	}
	switch o.Status {
	case orders.StatusInterrupted:
		return "", ErrOrderUnavailable
	case orders.StatusPending:
	default:
		return "", fmt.Errorf("%w: %s", ErrNotPayable, o.Status)
	}

	base := strings.TrimRight(s.PublicURL, "/") + "/orders/" + o.ID
	token, err := s.P24.RegisterTransaction(ctx, Registration{
		SessionID:   o.ID,
		Amount:      o.TotalCost(),
		Description: "Order " + o.ID,
		Email:       o.Customer.Email,
		Method:      method,
		URLReturn:   base + "/status",
		URLStatus:   base + "/p24-callback",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "register failed")
		s.Log.Error("p24 register failed", zap.String("order_id", o.ID), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	s.Log.Info("payment initiated", zap.String("order_id", o.ID), zap.Int("amount", o.TotalCost()))
	return s.P24.RedirectURL(token), nil
}

// Reconcile handles a P24 notification for orderID. Checks run in a fixed
// order and stop at the first failure; replaying a notification for an
// order that is already paid succeeds without side effects.
func (s *Service) Reconcile(ctx context.Context, orderID string, n Notification) (err error) {
	ctx, span := tracer.Start(ctx, "payments.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.Int64("p24.order_id", n.OrderID),
		attribute.Int("p24.amount", n.Amount),
	)
	result := "paid"
	defer func() {
		if err != nil {
			result = callbackResult(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		s.Metrics.PaymentCallback(ctx, result)
	}()

	if !s.P24.VerifyNotification(n) || n.SessionID != orderID {
		return ErrBadSignature
	}
	if n.Amount != n.OriginAmount {
		return ErrNotPaidInFull
	}

	o, err := s.Orders.Get(ctx, orderID)
	if errors.Is(err, apperr.ErrNotFound) {
		return ErrOrderUnavailable
	}
	if err != nil {
		return err
	}
	if o.Status == orders.StatusInterrupted {
		s.Log.Error("payment notified for interrupted order, refund required",
			zap.String("order_id", orderID), zap.Int64("p24_order_id", n.OrderID))
		return ErrOrderUnavailable
	}
	if n.Amount != o.TotalCost() {
		return fmt.Errorf("%w: got %d, want %d", ErrNotPaidInFull, n.Amount, o.TotalCost())
	}
	if o.Status != orders.StatusPending {
		result = "duplicate"
		return nil
	}

	if err := s.Orders.RecordProviderTransaction(ctx, orderID, n.OrderID); err != nil {
		return err
	}
	if err := s.P24.VerifyTransaction(ctx, Verification{SessionID: n.SessionID, Amount: n.Amount, OrderID: n.OrderID}); err != nil {
		s.Log.Warn("p24 verify failed", zap.String("order_id", orderID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnverified, err)
	}

	ok, err := s.Orders.MarkPaid(ctx, orderID)
	if err != nil {
		return err
	}
	if !ok {
		// lost a race with another transition
		cur, err := s.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if cur.Status == orders.StatusInterrupted {
			s.Log.Error("order interrupted during payment, refund required",
				zap.String("order_id", orderID), zap.Int64("p24_order_id", n.OrderID))
			return ErrOrderUnavailable
		}
		result = "duplicate"
		return nil
	}
	s.Log.Info("order paid", zap.String("order_id", orderID), zap.Int64("p24_order_id", n.OrderID))
	return nil
}

// Methods lists P24 payment methods for lang, "pl" when empty.
func (s *Service) Methods(ctx context.Context, lang string) ([]Method, error) {
	if lang == "" {
		lang = "pl"
	}
	m, err := s.P24.PaymentMethods(ctx, lang)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return m, nil
}

func callbackResult(err error) string {
	switch apperr.Kind(err) {
	case apperr.ErrVerificationFailed:
		return "bad_signature"
	case apperr.ErrAmountMismatch:
		return "amount_mismatch"
	case apperr.ErrUnavailable:
		return "unavailable"
	case apperr.ErrTransactionUnverified:
		return "unverified"
	}
	return "error"
}
