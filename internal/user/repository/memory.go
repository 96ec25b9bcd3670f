package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/deepskandpal/LangChef/internal/user/domain"
)

// MemoryRepository is an in-process Repository used when no database is configured and in tests.
// A single mutex serializes upserts, matching the row lock taken by PostgresRepository.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.User
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.User)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneUser(r.byID[id]), nil
}

func (r *MemoryRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneUser(r.findLocked(func(u *domain.User) bool { return u.Username == username })), nil
}

func (r *MemoryRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	if externalID == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneUser(r.findLocked(func(u *domain.User) bool { return u.ExternalID == externalID })), nil
}

// Upsert applies p under the repository lock.
func (r *MemoryRepository) Upsert(ctx context.Context, p UserPatch) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.targetLocked(p)
	var next *domain.User
	if current == nil {
		u, err := p.newUser(uuid.NewString())
		if err != nil {
			return nil, err
		}
		next = u
	} else {
		next = cloneUser(current)
		p.apply(next)
	}
	if r.conflictsLocked(next) {
		return nil, ErrConflict
	}
	r.byID[next.ID] = next
	return cloneUser(next), nil
}

// Len returns the number of stored users.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *MemoryRepository) targetLocked(p UserPatch) *domain.User {
	if p.ExternalID != "" {
		if u := r.findLocked(func(u *domain.User) bool { return u.ExternalID == p.ExternalID }); u != nil {
			return u
		}
		return r.findLocked(func(u *domain.User) bool { return u.Username == p.Username && u.ExternalID == "" })
	}
	if p.Username == "" {
		return nil
	}
	return r.findLocked(func(u *domain.User) bool { return u.Username == p.Username })
}

func (r *MemoryRepository) findLocked(match func(*domain.User) bool) *domain.User {
	for _, u := range r.byID {
		if match(u) {
			return u
		}
	}
	return nil
}

func (r *MemoryRepository) conflictsLocked(next *domain.User) bool {
	for id, u := range r.byID {
		if id == next.ID {
			continue
		}
		if u.Username == next.Username || u.Email == next.Email {
			return true
		}
		if next.ExternalID != "" && u.ExternalID == next.ExternalID {
			return true
		}
	}
	return false
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Credentials != nil {
		creds := *u.Credentials
		c.Credentials = &creds
	}
	if u.CredentialsExpireAt != nil {
		exp := *u.CredentialsExpireAt
		c.CredentialsExpireAt = &exp
	}
	return &c
}
