package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	devicedomain "github.com/deepskandpal/LangChef/internal/deviceauth/domain"
	devicerepo "github.com/deepskandpal/LangChef/internal/deviceauth/repository"
	"github.com/deepskandpal/LangChef/internal/idp"
	"github.com/deepskandpal/LangChef/internal/security"
	"github.com/deepskandpal/LangChef/internal/telemetry"
	userdomain "github.com/deepskandpal/LangChef/internal/user/domain"
	userrepo "github.com/deepskandpal/LangChef/internal/user/repository"
)

// DefaultPollInterval is the wait suggested to callers when the provider did not advertise one.
const DefaultPollInterval = 5 * time.Second

// slowDownStep is added to the interval on every slow_down, as RFC 8628 prescribes.
const slowDownStep = 5 * time.Second

// UserStore is the subset of the user repository the login paths need.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*userdomain.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*userdomain.User, error)
	Upsert(ctx context.Context, p userrepo.UserPatch) (*userdomain.User, error)
}

// PollResult is the result of one Poll. Session is set only for idp.OutcomeAuthorized.
// Interval is the minimum wait before the next poll for pending and slow-down outcomes.
type PollResult struct {
	Outcome  idp.Outcome
	Session  *Session
	Interval time.Duration
}

// DeviceFlow drives the device authorization login one caller-visible step at a time.
// It holds no timers; backoff between polls is the caller's job.
type DeviceFlow struct {
	provider idp.Provider
	users    UserStore
	ledger   devicerepo.Repository
	sessions *Sessions
	profile  ProfilePolicy
	instruments
}

// NewDeviceFlow returns a DeviceFlow.
func NewDeviceFlow(provider idp.Provider, users UserStore, ledger devicerepo.Repository, sessions *Sessions, profile ProfilePolicy, opts Options) *DeviceFlow {
	return &DeviceFlow{
		provider:    provider,
		users:       users,
		ledger:      ledger,
		sessions:    sessions,
		profile:     profile,
		instruments: opts.instruments(),
	}
}

// Register registers an OAuth client with the provider.
func (f *DeviceFlow) Register(ctx context.Context) (*idp.Client, error) {
	c, err := f.provider.RegisterClient(ctx)
	if err != nil {
		f.logger.Warn("device flow: register client failed", "error", err)
		return nil, providerErr(err)
	}
	return c, nil
}

// Begin starts a device authorization for a registered client. The caller shows
// VerificationURIComplete (or VerificationURI plus UserCode) to the human.
func (f *DeviceFlow) Begin(ctx context.Context, clientID, clientSecret string) (*idp.DeviceAuthorization, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrInvalidArgument
	}
	da, err := f.provider.StartDeviceAuthorization(ctx, clientID, clientSecret)
	if err != nil {
		f.logger.Warn("device flow: start device authorization failed", "error", err)
		return nil, providerErr(err)
	}
	if da.Interval <= 0 {
		da.Interval = DefaultPollInterval
	}
	return da, nil
}

// Poll exchanges deviceCode once. Pending and slow-down are results, not errors. Once a code
// reached expired or denied every later poll returns that same outcome; a code that already
// produced a session returns ErrDeviceCodeConsumed.
func (f *DeviceFlow) Poll(ctx context.Context, clientID, clientSecret, deviceCode string) (*PollResult, error) {
	if clientID == "" || clientSecret == "" || deviceCode == "" {
		return nil, ErrInvalidArgument
	}
	codeHash := security.HashDeviceCode(deviceCode)
	fp := security.Fingerprint(deviceCode)

	rec, err := f.ledger.Get(ctx, codeHash)
	if err != nil {
		return nil, fmt.Errorf("device flow: read ledger: %w", err)
	}
	if rec != nil {
		return f.replay(ctx, rec, fp)
	}

	// No store transaction is open across the provider call.
	ex, err := f.provider.ExchangeDeviceCode(ctx, clientID, clientSecret, deviceCode)
	if err != nil {
		f.logger.Warn("device flow: exchange failed", "code_fingerprint", fp, "error", err)
		f.metrics.RecordPollOutcome(ctx, "error")
		f.fail(ctx, fp, "", ErrProviderUnavailable)
		return nil, providerErr(err)
	}

	switch ex.Outcome {
	case idp.OutcomePending:
		return f.keepPolling(ctx, ex.Outcome, fp, DefaultPollInterval), nil
	case idp.OutcomeSlowDown:
		return f.keepPolling(ctx, ex.Outcome, fp, DefaultPollInterval+slowDownStep), nil
	case idp.OutcomeExpired:
		return f.terminate(ctx, clientID, codeHash, fp, devicedomain.StatusExpired)
	case idp.OutcomeDenied:
		return f.terminate(ctx, clientID, codeHash, fp, devicedomain.StatusDenied)
	case idp.OutcomeAuthorized:
		if ex.Identity == nil {
			f.fail(ctx, fp, "", ErrProviderUnavailable)
			return nil, fmt.Errorf("%w: authorized exchange without identity", ErrProviderUnavailable)
		}
		return f.authorize(ctx, clientID, codeHash, fp, ex.Identity)
	default:
		f.fail(ctx, fp, "", ErrProviderUnavailable)
		return nil, fmt.Errorf("%w: unknown exchange outcome %d", ErrProviderUnavailable, ex.Outcome)
	}
}

// Prune drops ledger entries older than retention. Device codes expire at the provider long
// before any sensible retention, so pruned codes can no longer be exchanged anyway.
func (f *DeviceFlow) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := f.ledger.DeleteBefore(ctx, f.now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		f.logger.Info("device flow: pruned ledger", "removed", n)
	}
	return n, nil
}

func (f *DeviceFlow) keepPolling(ctx context.Context, outcome idp.Outcome, fp string, interval time.Duration) *PollResult {
	f.metrics.RecordPollOutcome(ctx, outcome.String())
	f.event(ctx, telemetry.AuthEvent{
		Type:            telemetry.EventDevicePoll,
		Method:          MethodDevice,
		Outcome:         outcome.String(),
		CodeFingerprint: fp,
	})
	return &PollResult{Outcome: outcome, Interval: interval}
}

func (f *DeviceFlow) terminate(ctx context.Context, clientID, codeHash, fp string, status devicedomain.Status) (*PollResult, error) {
	stored, err := f.ledger.RecordTerminal(ctx, &devicedomain.Record{
		CodeHash:  codeHash,
		ClientID:  clientID,
		Status:    status,
		CreatedAt: f.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("device flow: record outcome: %w", err)
	}
	return f.replay(ctx, stored, fp)
}

// authorize materializes the user and issues the session. The ledger entry is written after the
// user so a store failure leaves the code retryable at the provider's discretion.
func (f *DeviceFlow) authorize(ctx context.Context, clientID, codeHash, fp string, ident *idp.DelegatedIdentity) (*PollResult, error) {
	u, err := f.materialize(ctx, ident)
	if err != nil {
		f.metrics.RecordPollOutcome(ctx, "error")
		f.fail(ctx, fp, UsernameFromARN(ident.Principal.ARN), err)
		return nil, err
	}
	stored, err := f.ledger.RecordTerminal(ctx, &devicedomain.Record{
		CodeHash:  codeHash,
		ClientID:  clientID,
		Status:    devicedomain.StatusAuthorized,
		UserID:    u.ID,
		CreatedAt: f.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("device flow: record outcome: %w", err)
	}
	if stored.Status != devicedomain.StatusAuthorized || stored.UserID != u.ID {
		return f.replay(ctx, stored, fp)
	}
	sess, err := f.sessions.Issue(u)
	if err != nil {
		f.fail(ctx, fp, u.Username, err)
		return nil, err
	}
	f.metrics.RecordPollOutcome(ctx, idp.OutcomeAuthorized.String())
	f.metrics.RecordLogin(ctx, MethodDevice, "success")
	f.event(ctx, telemetry.AuthEvent{
		Type:            telemetry.EventLoginSuccess,
		UserID:          u.ID,
		Username:        u.Username,
		Method:          MethodDevice,
		Outcome:         "success",
		CodeFingerprint: fp,
	})
	f.logger.Info("device flow: login", "user", u, "code_fingerprint", fp)
	return &PollResult{Outcome: idp.OutcomeAuthorized, Session: sess}, nil
}

// materialize creates or updates the user for ident, marks it active and stores the new
// credential triple.
func (f *DeviceFlow) materialize(ctx context.Context, ident *idp.DelegatedIdentity) (*userdomain.User, error) {
	existing, err := f.users.GetByExternalID(ctx, externalID(ident.Principal))
	if err != nil {
		return nil, fmt.Errorf("device flow: load user: %w", err)
	}
	patch, err := f.profile.profilePatch(ident.Principal, ident.Email, f.profile.RequireProviderEmail, existing)
	if err != nil {
		return nil, err
	}
	patch.Credentials = &userdomain.DelegatedCredentials{
		AccessKeyID:     ident.Credentials.AccessKeyID,
		SecretAccessKey: ident.Credentials.SecretAccessKey,
		SessionToken:    ident.Credentials.SessionToken,
	}
	if !ident.ExpiresAt.IsZero() {
		exp := ident.ExpiresAt.UTC()
		patch.CredentialsExpireAt = &exp
	}
	patch.At = f.now()
	u, err := f.users.Upsert(ctx, patch)
	if err != nil {
		return nil, upsertErr("device flow: upsert user", err)
	}
	return u, nil
}

// replay maps a recorded terminal outcome to the poll result.
func (f *DeviceFlow) replay(ctx context.Context, rec *devicedomain.Record, fp string) (*PollResult, error) {
	var outcome idp.Outcome
	switch rec.Status {
	case devicedomain.StatusAuthorized:
		f.metrics.RecordPollOutcome(ctx, "consumed")
		f.fail(ctx, fp, "", ErrDeviceCodeConsumed)
		return nil, ErrDeviceCodeConsumed
	case devicedomain.StatusExpired:
		outcome = idp.OutcomeExpired
	case devicedomain.StatusDenied:
		outcome = idp.OutcomeDenied
	default:
		return nil, fmt.Errorf("device flow: unexpected ledger status %q", rec.Status)
	}
	f.metrics.RecordPollOutcome(ctx, outcome.String())
	f.metrics.RecordLogin(ctx, MethodDevice, outcome.String())
	f.event(ctx, telemetry.AuthEvent{
		Type:            telemetry.EventLoginFailure,
		Method:          MethodDevice,
		Outcome:         outcome.String(),
		CodeFingerprint: fp,
	})
	return &PollResult{Outcome: outcome}, nil
}

func (f *DeviceFlow) fail(ctx context.Context, fp, username string, err error) {
	class := failureClass(err)
	f.metrics.RecordLogin(ctx, MethodDevice, class)
	f.event(ctx, telemetry.AuthEvent{
		Type:            telemetry.EventLoginFailure,
		Username:        username,
		Method:          MethodDevice,
		Outcome:         class,
		CodeFingerprint: fp,
	})
}

// providerErr makes sure err matches ErrProviderUnavailable.
func providerErr(err error) error {
	if errors.Is(err, ErrProviderUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
