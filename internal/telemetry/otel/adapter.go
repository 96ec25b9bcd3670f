package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/deepskandpal/LangChef/internal/telemetry"
)

const eventScope = "langchef.auth.events"

// NewEventEmitter returns an EventEmitter that sends auth events as OTel log records via provider.
// A nil provider yields a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &logEmitter{logger: provider.Logger(eventScope)}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *telemetry.AuthEvent) error { return nil }

type logEmitter struct {
	logger otellog.Logger
}

// Emit converts the event to one log record whose body is the event type.
func (e *logEmitter) Emit(ctx context.Context, event *telemetry.AuthEvent) error {
	if event == nil {
		return nil
	}
	var rec otellog.Record
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetBody(otellog.StringValue(event.Type))
	rec.SetSeverity(otellog.SeverityInfo)
	if event.Outcome != "" && event.Outcome != "success" && event.Type == telemetry.EventLoginFailure {
		rec.SetSeverity(otellog.SeverityWarn)
	}
	for _, kv := range []struct{ k, v string }{
		{"event_id", event.ID},
		{"user_id", event.UserID},
		{"username", event.Username},
		{"method", event.Method},
		{"outcome", event.Outcome},
		{"client_ip", event.ClientIP},
		{"code_fingerprint", event.CodeFingerprint},
	} {
		if kv.v != "" {
			rec.AddAttributes(otellog.String(kv.k, kv.v))
		}
	}
	e.logger.Emit(ctx, rec)
	return nil
}
