package repository

import (
	"context"
	"sync"
	"time"

	"github.com/deepskandpal/LangChef/internal/deviceauth/domain"
)

// MemoryRepository is an in-process ledger used when no database is configured and in tests.
type MemoryRepository struct {
	mu sync.Mutex
	m  map[string]domain.Record
}

// NewMemoryRepository returns an empty ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]domain.Record)}
}

func (r *MemoryRepository) Get(ctx context.Context, codeHash string) (*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.m[codeHash]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *MemoryRepository) RecordTerminal(ctx context.Context, rec *domain.Record) (*domain.Record, error) {
	if err := validate(rec); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.m[rec.CodeHash]; ok {
		return &existing, nil
	}
	stored := *rec
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.m[rec.CodeHash] = stored
	return &stored, nil
}

func (r *MemoryRepository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, rec := range r.m {
		if rec.CreatedAt.Before(t) {
			delete(r.m, k)
			n++
		}
	}
	return n, nil
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
)
