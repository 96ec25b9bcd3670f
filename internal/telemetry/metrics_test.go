package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestAuthMetrics_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewAuthMetrics(mp)
	if err != nil {
		t.Fatalf("NewAuthMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordLogin(ctx, "device", "success")
	m.RecordLogin(ctx, "device", "success")
	m.RecordPollOutcome(ctx, "authorization_pending")
	m.RecordCredentialCheck(ctx, "valid")
	m.ObserveProviderCall(ctx, "create_token", 120*time.Millisecond, nil)
	m.ObserveProviderCall(ctx, "create_token", 10*time.Millisecond, errors.New("boom"))

	got := collect(t, reader)
	logins, ok := got["langchef.auth.logins"].Data.(metricdata.Sum[int64])
	if !ok || len(logins.DataPoints) != 1 {
		t.Fatalf("logins = %+v", got["langchef.auth.logins"])
	}
	dp := logins.DataPoints[0]
	if dp.Value != 2 {
		t.Errorf("logins value = %d, want 2", dp.Value)
	}
	if v, _ := dp.Attributes.Value(attribute.Key("method")); v.AsString() != "device" {
		t.Errorf("method attr = %q", v.AsString())
	}
	for _, name := range []string{"langchef.auth.poll_outcomes", "langchef.auth.credential_checks", "langchef.auth.provider_latency"} {
		if _, ok := got[name]; !ok {
			t.Errorf("metric %s not recorded", name)
		}
	}
	hist, ok := got["langchef.auth.provider_latency"].Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 2 {
		t.Errorf("provider_latency should have ok and error series: %+v", got["langchef.auth.provider_latency"])
	}
}

func TestAuthMetrics_NilIsNoop(t *testing.T) {
	var m *AuthMetrics
	ctx := context.Background()
	m.RecordLogin(ctx, "ambient", "success")
	m.RecordPollOutcome(ctx, "slow_down")
	m.RecordCredentialCheck(ctx, "missing")
	m.ObserveProviderCall(ctx, "get_caller_identity", time.Second, nil)
}
