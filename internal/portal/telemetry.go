package portal

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	report_authenticator_login = "authenticator.login"
	report_fetcher_fetch       = "fetcher.fetch-schedule"
	report_fetcher_navigate    = "fetcher.navigate"
	report_fetcher_subresource = "fetcher.subresource"
	report_fetcher_entries     = "fetcher.entries"
	report_fetcher_expired     = "fetcher.session-expired"
)

var tracer = otel.Tracer("horario/portal")
var meter = otel.Meter("horario/portal")

var loginCounter, _ = meter.Int64Counter("portal.logins")
var fetchCounter, _ = meter.Int64Counter("portal.fetches")

func countOutcome(ctx context.Context, counter metric.Int64Counter, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
