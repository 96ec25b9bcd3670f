// Package telemetry carries auth events and metrics out of the request path.
package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// Auth event types.
const (
	EventLoginSuccess       = "login_success"
	EventLoginFailure       = "login_failure"
	EventDevicePoll         = "device_poll"
	EventCredentialsChecked = "credentials_checked"
	EventSessionRefreshed   = "session_refreshed"
)

// AuthEvent is one auth event. It never carries credential material, device codes or tokens;
// CodeFingerprint is a short hash prefix of the device code.
type AuthEvent struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	UserID          string    `json:"user_id,omitempty"`
	Username        string    `json:"username,omitempty"`
	Method          string    `json:"method,omitempty"`
	Outcome         string    `json:"outcome,omitempty"`
	ClientIP        string    `json:"client_ip,omitempty"`
	CodeFingerprint string    `json:"code_fingerprint,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// EventEmitter ships auth events to a sink (Kafka, OTel logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *AuthEvent) error
}

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the servers stop before shutting down
// emitters, so in-flight async emits can finish. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with emitTimeout so the caller is not blocked. The goroutine
// uses a fresh context so request cancellation does not abort the emit. Nil emitter or event is a no-op.
func EmitAsync(emitter EventEmitter, logger *slog.Logger, event *AuthEvent) {
	if emitter == nil || event == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, event); err != nil {
			logger.Warn("telemetry: async emit failed", "event_type", event.Type, "error", err)
		}
	}()
}
