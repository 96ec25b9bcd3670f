package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deepskandpal/LangChef/internal/config"
	devicerepo "github.com/deepskandpal/LangChef/internal/deviceauth/repository"
	"github.com/deepskandpal/LangChef/internal/idp"
	"github.com/deepskandpal/LangChef/internal/idp/idptest"
	"github.com/deepskandpal/LangChef/internal/security"
	"github.com/deepskandpal/LangChef/internal/telemetry"
	userdomain "github.com/deepskandpal/LangChef/internal/user/domain"
	userrepo "github.com/deepskandpal/LangChef/internal/user/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []telemetry.AuthEvent
}

func (a *recordingAudit) LogEvent(ctx context.Context, ev telemetry.AuthEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *recordingAudit) Events(eventType string) []telemetry.AuthEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []telemetry.AuthEvent
	for _, ev := range a.events {
		if eventType == "" || ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	clock     *testClock
	provider  *idptest.Provider
	lookup    *idptest.Lookup
	users     *userrepo.MemoryRepository
	ledger    *devicerepo.MemoryRepository
	tokens    *security.TokenProvider
	audit     *recordingAudit
	sessions  *Sessions
	flow      *DeviceFlow
	direct    *DirectLogin
	validator *SessionValidator
}

type fixtureOpt func(*fixtureConfig)

type fixtureConfig struct {
	profile ProfilePolicy
	ambient config.AmbientCredentials
}

func withProfile(p ProfilePolicy) fixtureOpt {
	return func(c *fixtureConfig) { c.profile = p }
}

func withAmbient(a config.AmbientCredentials) fixtureOpt {
	return func(c *fixtureConfig) { c.ambient = a }
}

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()
	cfg := fixtureConfig{profile: ProfilePolicy{EmailDomain: "example.com"}}
	for _, o := range opts {
		o(&cfg)
	}
	f := &fixture{
		clock:    &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		provider: idptest.NewProvider(),
		lookup:   &idptest.Lookup{},
		users:    userrepo.NewMemoryRepository(),
		ledger:   devicerepo.NewMemoryRepository(),
		audit:    &recordingAudit{},
	}
	f.tokens = security.NewTestHMACTokenProvider().WithClock(f.clock.Now)
	o := Options{Audit: f.audit, Now: f.clock.Now}
	f.sessions = NewSessions(f.tokens, o)
	f.flow = NewDeviceFlow(f.provider, f.users, f.ledger, f.sessions, cfg.profile, o)
	f.direct = NewDirectLogin(cfg.ambient, f.lookup, f.users, f.sessions, cfg.profile, o)
	f.validator = NewSessionValidator(f.tokens, f.users, f.lookup, o)
	return f
}

// begin registers a client and starts a device authorization, returning the device code.
func (f *fixture) begin(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	c, err := f.flow.Register(ctx)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	da, err := f.flow.Begin(ctx, c.ID, c.Secret)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return da.DeviceCode
}

func (f *fixture) poll(t *testing.T, code string) (*PollResult, error) {
	t.Helper()
	return f.flow.Poll(context.Background(), "c1", "s1", code)
}

// storeUser creates a user directly in the store.
func (f *fixture) storeUser(t *testing.T, username string, creds *userdomain.DelegatedCredentials, exp *time.Time) *userdomain.User {
	t.Helper()
	email := username + "@example.com"
	u, err := f.users.Upsert(context.Background(), userrepo.UserPatch{
		ExternalID:          "AROAEXAMPLE:" + username,
		Username:            username,
		Email:               &email,
		Credentials:         creds,
		CredentialsExpireAt: exp,
		At:                  f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return u
}

func (f *fixture) token(t *testing.T, u *userdomain.User) string {
	t.Helper()
	tok, _, err := f.tokens.Issue(u.Username, u.Email, u.ExternalID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func testCreds(suffix string) idp.Credentials {
	return idp.Credentials{
		AccessKeyID:     "ASIA" + strings.ToUpper(suffix),
		SecretAccessKey: "secret-" + suffix,
		SessionToken:    "session-" + suffix,
	}
}

func delegated(c idp.Credentials) *userdomain.DelegatedCredentials {
	return &userdomain.DelegatedCredentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
	}
}
