package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments holds the order lifecycle counters. A nil *Instruments
// records nothing.
type Instruments struct {
	ordersPlaced      metric.Int64Counter
	submitFailures    metric.Int64Counter
	statusTransitions metric.Int64Counter
	sweepPromotions   metric.Int64Counter
	sweepFailures     metric.Int64Counter
}

func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.ordersPlaced, err = meter.Int64Counter("orders_placed_total",
		metric.WithDescription("Orders persisted by checkout")); err != nil {
		return nil, err
	}
	if in.submitFailures, err = meter.Int64Counter("order_submit_failures_total",
		metric.WithDescription("Canteen groups that failed to persist at checkout")); err != nil {
		return nil, err
	}
	if in.statusTransitions, err = meter.Int64Counter("order_status_transitions_total",
		metric.WithDescription("Manual order status transitions")); err != nil {
		return nil, err
	}
	if in.sweepPromotions, err = meter.Int64Counter("sweep_promotions_total",
		metric.WithDescription("Orders promoted by the age sweep")); err != nil {
		return nil, err
	}
	if in.sweepFailures, err = meter.Int64Counter("sweep_failures_total",
		metric.WithDescription("Sweep rules that failed")); err != nil {
		return nil, err
	}
	return &in, nil
}

// Default builds instruments on the global MeterProvider.
func Default() *Instruments {
	in, err := NewInstruments(otel.Meter("github.com/ariefcatur/go-canteen-orders"))
	if err != nil {
		return nil
	}
	return in
}

func (in *Instruments) OrderPlaced(ctx context.Context, canteenID string) {
	if in == nil {
		return
	}
	in.ordersPlaced.Add(ctx, 1, metric.WithAttributes(attribute.String("canteen_id", canteenID)))
}

func (in *Instruments) SubmitFailed(ctx context.Context, canteenID string) {
	if in == nil {
		return
	}
	in.submitFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("canteen_id", canteenID)))
}

func (in *Instruments) StatusChanged(ctx context.Context, from, to, role string) {
	if in == nil {
		return
	}
	in.statusTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("role", role),
	))
}

func (in *Instruments) Promoted(ctx context.Context, from, to string, n int) {
	if in == nil || n == 0 {
		return
	}
	in.sweepPromotions.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (in *Instruments) SweepFailed(ctx context.Context, from string) {
	if in == nil {
		return
	}
	in.sweepFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("from", from)))
}
