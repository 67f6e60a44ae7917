package vault

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"agenti/models"
	"agenti/services"
)

type metrics struct {
	movements metric.Int64Counter
	rejects   metric.Int64Counter
	expiries  metric.Int64Counter
}

// newMetrics registers the ledger counters. A provider that refuses an
// instrument degrades to no-op counters rather than failing the ledger.
func newMetrics(provider metric.MeterProvider) *metrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("agenti.vault")
	fallback := noop.NewMeterProvider().Meter("agenti.vault")

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{movement}"))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	return &metrics{
		movements: counter("vault.movements", "Vault movements written, by type and resulting status"),
		rejects:   counter("vault.operations.rejected", "Vault operations refused by a business rule"),
		expiries:  counter("vault.movements.expired", "Pending movements expired by the sweep"),
	}
}

func (m *metrics) movement(typ models.MovementType, status models.MovementStatus) {
	m.movements.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", string(typ)),
		attribute.String("status", string(status)),
	))
}

func (m *metrics) rejected(ctx context.Context, op string, code services.Code) {
	m.rejects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("error_code", string(code)),
	))
}

func (m *metrics) expired(n int64) {
	m.expiries.Add(context.Background(), n)
}
