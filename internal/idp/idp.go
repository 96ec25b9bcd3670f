// Package idp defines the contract between the login flows and an external identity provider:
// OAuth client registration, device authorization, device-code exchange and caller-identity lookup.
package idp

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrProviderUnavailable wraps every provider failure that is not one of the typed exchange
	// outcomes. Callers may retry.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrLookupFailed wraps failures of the caller-identity lookup.
	ErrLookupFailed = errors.New("identity lookup failed")
)

// Client is a registered OAuth client.
type Client struct {
	ID        string
	Secret    string
	ExpiresAt time.Time
}

// DeviceAuthorization is what the human needs to approve the login, plus the polling contract.
type DeviceAuthorization struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresIn               time.Duration
	Interval                time.Duration
}

// Outcome is the closed set of results of one device-code exchange.
type Outcome int

const (
	OutcomeAuthorized Outcome = iota + 1
	OutcomePending
	OutcomeSlowDown
	OutcomeExpired
	OutcomeDenied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthorized:
		return "authorized"
	case OutcomePending:
		return "authorization_pending"
	case OutcomeSlowDown:
		return "slow_down"
	case OutcomeExpired:
		return "expired_token"
	case OutcomeDenied:
		return "access_denied"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further polling can change the outcome.
func (o Outcome) Terminal() bool {
	return o == OutcomeAuthorized || o == OutcomeExpired || o == OutcomeDenied
}

// Credentials is a delegated access key, secret key and session token triple.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// String keeps the triple out of logs and error messages.
func (c *Credentials) String() string { return "Credentials{redacted}" }

// Principal is the caller identity returned by the cloud identity lookup.
type Principal struct {
	ARN     string
	UserID  string
	Account string
}

// DelegatedIdentity is the result of an authorized exchange.
type DelegatedIdentity struct {
	Principal   Principal
	Email       string // empty when the provider exposes no profile address
	Credentials Credentials
	ExpiresAt   time.Time
}

// Exchange is the result of one ExchangeDeviceCode call. Identity is set only for OutcomeAuthorized.
type Exchange struct {
	Outcome  Outcome
	Identity *DelegatedIdentity
}

// Provider performs the remote operations of the device authorization flow. Implementations
// do not retry; pending and slow-down are returned as outcomes, not errors.
type Provider interface {
	RegisterClient(ctx context.Context) (*Client, error)
	StartDeviceAuthorization(ctx context.Context, clientID, clientSecret string) (*DeviceAuthorization, error)
	ExchangeDeviceCode(ctx context.Context, clientID, clientSecret, deviceCode string) (*Exchange, error)
}

// IdentityLookup returns the principal for a credential triple. A nil triple means the process's
// ambient credentials.
type IdentityLookup interface {
	CallerIdentity(ctx context.Context, creds *Credentials) (*Principal, error)
}
