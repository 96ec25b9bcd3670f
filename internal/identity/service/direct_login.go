package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepskandpal/LangChef/internal/config"
	"github.com/deepskandpal/LangChef/internal/idp"
	"github.com/deepskandpal/LangChef/internal/telemetry"
)

// DirectLogin logs in with the process's ambient cloud credentials instead of a device flow.
// It never stores a credential triple on the user.
type DirectLogin struct {
	ambient  config.AmbientCredentials
	lookup   idp.IdentityLookup
	users    UserStore
	sessions *Sessions
	profile  ProfilePolicy
	instruments
}

// NewDirectLogin returns a DirectLogin. lookup must resolve a nil triple to the ambient credentials.
func NewDirectLogin(ambient config.AmbientCredentials, lookup idp.IdentityLookup, users UserStore, sessions *Sessions, profile ProfilePolicy, opts Options) *DirectLogin {
	return &DirectLogin{
		ambient:     ambient,
		lookup:      lookup,
		users:       users,
		sessions:    sessions,
		profile:     profile,
		instruments: opts.instruments(),
	}
}

// Login resolves the ambient principal, upserts its user and issues a session.
func (d *DirectLogin) Login(ctx context.Context) (*Session, error) {
	sess, username, err := d.login(ctx)
	if err != nil {
		class := failureClass(err)
		d.metrics.RecordLogin(ctx, MethodAmbient, class)
		d.event(ctx, telemetry.AuthEvent{
			Type:     telemetry.EventLoginFailure,
			Username: username,
			Method:   MethodAmbient,
			Outcome:  class,
		})
		return nil, err
	}
	d.metrics.RecordLogin(ctx, MethodAmbient, "success")
	d.event(ctx, telemetry.AuthEvent{
		Type:     telemetry.EventLoginSuccess,
		UserID:   sess.User.ID,
		Username: sess.User.Username,
		Method:   MethodAmbient,
		Outcome:  "success",
	})
	return sess, nil
}

func (d *DirectLogin) login(ctx context.Context) (*Session, string, error) {
	if !d.ambient.Configured() {
		return nil, "", ErrCredentialsNotConfigured
	}
	principal, err := d.lookup.CallerIdentity(ctx, nil)
	if err != nil {
		d.logger.Warn("direct login: caller identity failed", "error", err)
		if errors.Is(err, ErrIdentityLookupFailed) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%w: %v", ErrIdentityLookupFailed, err)
	}
	existing, err := d.users.GetByExternalID(ctx, externalID(*principal))
	if err != nil {
		return nil, "", fmt.Errorf("direct login: load user: %w", err)
	}
	// The ambient principal has no profile endpoint; placeholders are always allowed here.
	patch, err := d.profile.profilePatch(*principal, "", false, existing)
	if err != nil {
		return nil, "", err
	}
	patch.At = d.now()
	u, err := d.users.Upsert(ctx, patch)
	if err != nil {
		return nil, patch.Username, upsertErr("direct login: upsert user", err)
	}
	sess, err := d.sessions.Issue(u)
	if err != nil {
		return nil, u.Username, err
	}
	d.logger.Info("direct login: login", "user", u)
	return sess, u.Username, nil
}
