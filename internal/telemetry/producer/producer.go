// Package producer publishes auth events to a message broker.
package producer

import "github.com/deepskandpal/LangChef/internal/telemetry"

// Producer publishes auth events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	telemetry.EventEmitter
	// Close flushes and releases the underlying writer. Safe to call if already closed.
	Close() error
}
