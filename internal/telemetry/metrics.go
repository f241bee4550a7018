package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records shop counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	stockAdjustments metric.Int64Counter
	reclaimed        metric.Int64Counter
	paymentCallbacks metric.Int64Counter
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("github.com/ariefcatur/go-shop-checkout")

	stock, err := meter.Int64Counter(
		"shop_stock_adjustments_total",
		metric.WithDescription("Stock reserve/release attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}
	reclaimed, err := meter.Int64Counter(
		"shop_sweeper_reclaimed_total",
		metric.WithDescription("Carts and orders processed by the expiry sweeper"),
	)
	if err != nil {
		return nil, err
	}
	callbacks, err := meter.Int64Counter(
		"shop_payment_callbacks_total",
		metric.WithDescription("Payment provider notifications by outcome"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{stockAdjustments: stock, reclaimed: reclaimed, paymentCallbacks: callbacks}, nil
}

// Discard returns metrics backed by a no-op meter.
func Discard() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// SetupPrometheus wires an otel meter provider to a private prometheus
// registry and returns the scrape handler for it.
func SetupPrometheus() (*Metrics, http.Handler, func(context.Context) error, error) {
	reg := prometheus.NewRegistry()
	exp, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	m, err := NewMetrics(mp)
	if err != nil {
		return nil, nil, nil, err
	}
	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), mp.Shutdown, nil
}

func (m *Metrics) StockAdjusted(ctx context.Context, op, result string) {
	if m == nil {
		return
	}
	m.stockAdjustments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
}

func (m *Metrics) Reclaimed(ctx context.Context, kind, result string) {
	if m == nil {
		return
	}
	m.reclaimed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

func (m *Metrics) PaymentCallback(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.paymentCallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
