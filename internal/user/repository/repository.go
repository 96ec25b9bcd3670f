package repository

import (
	"context"
	"errors"
	"time"

	"github.com/deepskandpal/LangChef/internal/user/domain"
)

var (
	// ErrConflict is returned when an upsert would violate a uniqueness constraint
	// (username, email or external id owned by another user).
	ErrConflict = errors.New("user: conflicting username, email or external id")
	// ErrIncompletePatch is returned when an upsert must create a user but the patch lacks username or email.
	ErrIncompletePatch = errors.New("user: patch needs username and email to create a user")
)

// Repository defines persistence for users. Get methods return (nil, nil) when no user matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.User, error)
	// Upsert creates or updates the user identified by the patch in one serialized unit of work
	// and returns the stored record.
	Upsert(ctx context.Context, p UserPatch) (*domain.User, error)
}

// UserPatch describes a partial write. The target is looked up by ExternalID when set; when no
// user has that ExternalID, a user with the same Username and no ExternalID of its own is adopted.
// Otherwise the lookup is by Username. Nil fields are left untouched on update.
type UserPatch struct {
	ExternalID string
	Username   string

	Email    *string
	FullName *string
	Active   *bool

	// Credentials, when non-nil, replaces the whole triple and CredentialsExpireAt together.
	Credentials         *domain.DelegatedCredentials
	CredentialsExpireAt *time.Time

	// At stamps UpdatedAt (and CreatedAt on insert). Zero means time.Now().
	At time.Time
}

func (p UserPatch) at() time.Time {
	if p.At.IsZero() {
		return time.Now().UTC()
	}
	return p.At.UTC()
}

// apply writes the non-nil fields of p onto u. u is a copy owned by the caller.
func (p UserPatch) apply(u *domain.User) {
	if p.ExternalID != "" && u.ExternalID == "" {
		u.ExternalID = p.ExternalID
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.FullName != nil {
		u.FullName = *p.FullName
	}
	if p.Active != nil {
		u.Active = *p.Active
	}
	if p.Credentials != nil {
		c := *p.Credentials
		u.Credentials = &c
		u.CredentialsExpireAt = nil
		if p.CredentialsExpireAt != nil {
			exp := p.CredentialsExpireAt.UTC()
			u.CredentialsExpireAt = &exp
		}
	}
	u.UpdatedAt = p.at()
}

// newUser builds the record inserted when nothing matches p.
func (p UserPatch) newUser(id string) (*domain.User, error) {
	if p.Username == "" || p.Email == nil || *p.Email == "" {
		return nil, ErrIncompletePatch
	}
	now := p.at()
	u := &domain.User{
		ID:         id,
		Username:   p.Username,
		ExternalID: p.ExternalID,
		Active:     true,
		CreatedAt:  now,
	}
	p.apply(u)
	return u, nil
}
