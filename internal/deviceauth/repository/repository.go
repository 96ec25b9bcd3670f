package repository

import (
	"context"
	"errors"
	"time"

	"github.com/deepskandpal/LangChef/internal/deviceauth/domain"
)

// ErrInvalidRecord is returned when a record has no code hash or a non-terminal status.
var ErrInvalidRecord = errors.New("deviceauth: record needs a code hash and a terminal status")

// Repository persists terminal device authorization outcomes.
type Repository interface {
	// Get returns the record for codeHash, or nil if none was recorded.
	Get(ctx context.Context, codeHash string) (*domain.Record, error)
	// RecordTerminal stores r unless a record for r.CodeHash already exists, and returns the
	// stored record. The first terminal outcome wins.
	RecordTerminal(ctx context.Context, r *domain.Record) (*domain.Record, error)
	// DeleteBefore removes records created before t and returns how many were removed.
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}

func validate(r *domain.Record) error {
	if r == nil || r.CodeHash == "" || !r.Status.Valid() {
		return ErrInvalidRecord
	}
	return nil
}
