package service

import (
	"context"
	"fmt"
	"time"

	"github.com/deepskandpal/LangChef/internal/idp"
	"github.com/deepskandpal/LangChef/internal/security"
	"github.com/deepskandpal/LangChef/internal/telemetry"
	userdomain "github.com/deepskandpal/LangChef/internal/user/domain"
)

// Credential check results recorded in metrics and audit events.
const (
	checkValid    = "valid"
	checkMissing  = "missing"
	checkExpired  = "expired"
	checkRejected = "rejected"
)

// SessionValidator verifies bearer tokens and the delegated credentials of their users.
type SessionValidator struct {
	tokens *security.TokenProvider
	users  UserStore
	lookup idp.IdentityLookup
	instruments
}

// NewSessionValidator returns a SessionValidator. lookup performs the live credential check.
func NewSessionValidator(tokens *security.TokenProvider, users UserStore, lookup idp.IdentityLookup, opts Options) *SessionValidator {
	return &SessionValidator{
		tokens:      tokens,
		users:       users,
		lookup:      lookup,
		instruments: opts.instruments(),
	}
}

// VerifySession returns the token's user. It fails with ErrDelegatedCredentialsExpired when the
// user's delegated credentials are past their recorded expiry, even though the token is valid.
func (v *SessionValidator) VerifySession(ctx context.Context, token string) (*userdomain.User, error) {
	u, err := v.VerifyIdentity(ctx, token)
	if err != nil {
		return nil, err
	}
	if u.CredentialsExpireAt != nil && expired(*u.CredentialsExpireAt, v.now()) {
		v.logger.Warn("session: delegated credentials expired", "user", u)
		return u, ErrDelegatedCredentialsExpired
	}
	return u, nil
}

// VerifyIdentity is VerifySession without the delegated credential expiry check, for callers
// that only need to know who is calling.
func (v *SessionValidator) VerifyIdentity(ctx context.Context, token string) (*userdomain.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims, err := v.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	u, err := v.users.GetByUsername(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("session: load user: %w", err)
	}
	// A missing user and a user re-created under the same name both look like a bad token.
	if u == nil || (claims.AWSIdentityID != "" && u.ExternalID != "" && claims.AWSIdentityID != u.ExternalID) {
		return nil, ErrInvalidToken
	}
	if !u.Active {
		return nil, ErrUserInactive
	}
	return u, nil
}

// ValidateDelegatedCredentials reports whether u's delegated credentials are usable right now.
// Missing or expired credentials return false without a network call. Otherwise the triple is
// checked live; any lookup failure counts as invalid. It never mutates u or the store.
func (v *SessionValidator) ValidateDelegatedCredentials(ctx context.Context, u *userdomain.User) bool {
	result := v.checkCredentials(ctx, u)
	v.metrics.RecordCredentialCheck(ctx, result)
	ev := telemetry.AuthEvent{Type: telemetry.EventCredentialsChecked, Outcome: result}
	if u != nil {
		ev.UserID, ev.Username = u.ID, u.Username
	}
	v.event(ctx, ev)
	return result == checkValid
}

func (v *SessionValidator) checkCredentials(ctx context.Context, u *userdomain.User) string {
	if !u.HasDelegatedAccess() {
		return checkMissing
	}
	// No recorded expiry means unknown: fall through to the live check.
	if u.CredentialsExpireAt != nil && expired(*u.CredentialsExpireAt, v.now()) {
		return checkExpired
	}
	_, err := v.lookup.CallerIdentity(ctx, &idp.Credentials{
		AccessKeyID:     u.Credentials.AccessKeyID,
		SecretAccessKey: u.Credentials.SecretAccessKey,
		SessionToken:    u.Credentials.SessionToken,
	})
	if err != nil {
		v.logger.Warn("session: delegated credential check failed", "user", u, "error", err)
		return checkRejected
	}
	return checkValid
}

// expired compares instants in UTC. Wall-clock values read without a zone are stored as UTC, so
// normalizing both sides makes naive and zoned expiries comparable. An expiry that cannot be
// compared (zero time) counts as expired.
func expired(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return true
	}
	return !now.UTC().Before(expiresAt.UTC())
}
