package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/deepskandpal/LangChef/auth"

// AuthMetrics records login, polling and credential-check counters and provider call latency.
// A nil *AuthMetrics records nothing.
type AuthMetrics struct {
	logins           metric.Int64Counter
	pollOutcomes     metric.Int64Counter
	credentialChecks metric.Int64Counter
	providerLatency  metric.Float64Histogram
}

// NewAuthMetrics registers the auth instruments on mp.
func NewAuthMetrics(mp metric.MeterProvider) (*AuthMetrics, error) {
	meter := mp.Meter(meterName)
	logins, err := meter.Int64Counter("langchef.auth.logins",
		metric.WithDescription("Completed login attempts by method and result"))
	if err != nil {
		return nil, err
	}
	polls, err := meter.Int64Counter("langchef.auth.poll_outcomes",
		metric.WithDescription("Device code poll results by outcome"))
	if err != nil {
		return nil, err
	}
	checks, err := meter.Int64Counter("langchef.auth.credential_checks",
		metric.WithDescription("Delegated credential validity checks by result"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("langchef.auth.provider_latency",
		metric.WithDescription("Identity provider and STS call latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &AuthMetrics{
		logins:           logins,
		pollOutcomes:     polls,
		credentialChecks: checks,
		providerLatency:  latency,
	}, nil
}

// RecordLogin counts one login attempt; method is "device" or "ambient", result "success" or an error class.
func (m *AuthMetrics) RecordLogin(ctx context.Context, method, result string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("result", result),
	))
}

// RecordPollOutcome counts one poll result.
func (m *AuthMetrics) RecordPollOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.pollOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCredentialCheck counts one delegated credential check.
func (m *AuthMetrics) RecordCredentialCheck(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.credentialChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// ObserveProviderCall records the latency of one remote call.
func (m *AuthMetrics) ObserveProviderCall(ctx context.Context, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.providerLatency.Record(context.WithoutCancel(ctx), d.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}
