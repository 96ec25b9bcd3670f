// Package audit records auth events as structured log lines and forwards them to event sinks.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deepskandpal/LangChef/internal/telemetry"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger records a single auth event. LogEvent is best-effort: failures never reach the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, ev telemetry.AuthEvent)
}

// Logger implements AuditLogger with slog plus zero or more async emitters (Kafka, OTel logs).
type Logger struct {
	logger      *slog.Logger
	ipExtractor IPExtractor
	emitters    []telemetry.EventEmitter
	now         func() time.Time
}

// NewLogger returns a Logger. logger may be nil (slog.Default); ipExtractor may be nil, in which case
// the IP is recorded as "unknown". Nil emitters are skipped.
func NewLogger(logger *slog.Logger, ipExtractor IPExtractor, emitters ...telemetry.EventEmitter) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{logger: logger, ipExtractor: ipExtractor, now: time.Now}
	for _, e := range emitters {
		if e != nil {
			l.emitters = append(l.emitters, e)
		}
	}
	return l
}

// LogEvent stamps id, time and client IP on ev, logs it and hands a copy to every emitter.
func (l *Logger) LogEvent(ctx context.Context, ev telemetry.AuthEvent) {
	if l == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now().UTC()
	}
	if ev.ClientIP == "" {
		ev.ClientIP = "unknown"
		if l.ipExtractor != nil {
			if ip := l.ipExtractor(ctx); ip != "" {
				ev.ClientIP = ip
			}
		}
	}

	level := slog.LevelInfo
	if ev.Type == telemetry.EventLoginFailure {
		level = slog.LevelWarn
	}
	l.logger.LogAttrs(ctx, level, "audit: "+ev.Type,
		slog.String("event_id", ev.ID),
		slog.String("user_id", ev.UserID),
		slog.String("username", ev.Username),
		slog.String("method", ev.Method),
		slog.String("outcome", ev.Outcome),
		slog.String("client_ip", ev.ClientIP),
		slog.String("code_fingerprint", ev.CodeFingerprint),
	)
	for _, e := range l.emitters {
		cp := ev
		telemetry.EmitAsync(e, l.logger, &cp)
	}
}

var _ AuditLogger = (*Logger)(nil)
