package domain

import "time"

// Status is the terminal outcome recorded for a device code.
type Status string

const (
	StatusAuthorized Status = "authorized"
	StatusExpired    Status = "expired"
	StatusDenied     Status = "denied"
)

// Valid reports whether s is one of the terminal statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAuthorized, StatusExpired, StatusDenied:
		return true
	}
	return false
}

// Record is the terminal outcome of one device authorization. The device code itself is never
// stored; CodeHash is its SHA-256 hex digest. UserID is set only for StatusAuthorized.
type Record struct {
	CodeHash  string
	ClientID  string
	Status    Status
	UserID    string
	CreatedAt time.Time
}
