package domain

import (
	"log/slog"
	"time"
)

// User is the durable identity record. Credentials and CredentialsExpireAt are written together
// by the login paths; a user without credentials has no delegated access.
type User struct {
	ID                  string
	Username            string
	Email               string
	FullName            string
	ExternalID          string // provider principal/correlation id; empty when unknown
	Credentials         *DelegatedCredentials
	CredentialsExpireAt *time.Time
	Active              bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DelegatedCredentials is the short-lived access key, secret key and session token triple.
type DelegatedCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Complete reports whether every field of the triple is set.
func (c *DelegatedCredentials) Complete() bool {
	return c != nil && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.SessionToken != ""
}

// String redacts the triple so it never ends up in error messages or logs.
func (c *DelegatedCredentials) String() string {
	if c == nil {
		return "<nil>"
	}
	return "DelegatedCredentials{redacted}"
}

// GoString redacts %#v formatting as well.
func (c *DelegatedCredentials) GoString() string {
	return c.String()
}

// LogValue implements slog.LogValuer; only presence is logged.
func (c *DelegatedCredentials) LogValue() slog.Value {
	return slog.GroupValue(slog.Bool("complete", c.Complete()))
}

// HasDelegatedAccess reports whether the user carries a complete credential triple.
func (u *User) HasDelegatedAccess() bool {
	return u != nil && u.Credentials.Complete()
}

// PublicUser is the subset of User returned to clients. It never carries credentials.
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Active   bool   `json:"is_active"`
}

// Public returns the client-facing view of u.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		FullName: u.FullName,
		Active:   u.Active,
	}
}

// LogValue implements slog.LogValuer with identity fields only.
func (u *User) LogValue() slog.Value {
	if u == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("id", u.ID),
		slog.String("username", u.Username),
		slog.Bool("active", u.Active),
		slog.Bool("delegated", u.HasDelegatedAccess()),
	)
}
