// Package idptest provides scriptable in-memory implementations of the idp interfaces for tests.
package idptest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deepskandpal/LangChef/internal/idp"
)

// Step is one scripted ExchangeDeviceCode result.
type Step struct {
	Outcome  idp.Outcome
	Identity *idp.DelegatedIdentity
	Err      error
}

// Provider is a fake idp.Provider. Exchange results are scripted per device code; the last step
// repeats once the script is exhausted. Unscripted codes are pending.
type Provider struct {
	mu          sync.Mutex
	Client      idp.Client
	RegisterErr error
	StartErr    error
	Interval    time.Duration
	ExpiresIn   time.Duration

	nextCode int
	script   map[string][]Step
	calls    map[string]int
}

// NewProvider returns a Provider that registers client "c1"/"s1" and advertises a 5s interval.
func NewProvider() *Provider {
	return &Provider{
		Client:    idp.Client{ID: "c1", Secret: "s1", ExpiresAt: time.Now().Add(90 * 24 * time.Hour)},
		Interval:  5 * time.Second,
		ExpiresIn: 10 * time.Minute,
		script:    make(map[string][]Step),
		calls:     make(map[string]int),
	}
}

// Script sets the exchange results for deviceCode.
func (p *Provider) Script(deviceCode string, steps ...Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script[deviceCode] = steps
}

// ExchangeCalls returns how many times deviceCode was exchanged.
func (p *Provider) ExchangeCalls(deviceCode string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[deviceCode]
}

func (p *Provider) RegisterClient(ctx context.Context) (*idp.Client, error) {
	if p.RegisterErr != nil {
		return nil, p.RegisterErr
	}
	c := p.Client
	return &c, nil
}

func (p *Provider) StartDeviceAuthorization(ctx context.Context, clientID, clientSecret string) (*idp.DeviceAuthorization, error) {
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	if clientID != p.Client.ID || clientSecret != p.Client.Secret {
		return nil, fmt.Errorf("%w: unknown client", idp.ErrProviderUnavailable)
	}
	p.mu.Lock()
	p.nextCode++
	n := p.nextCode
	p.mu.Unlock()
	return &idp.DeviceAuthorization{
		DeviceCode:              fmt.Sprintf("device-code-%d", n),
		UserCode:                fmt.Sprintf("ABCD-%04d", n),
		VerificationURI:         "https://device.example.com",
		VerificationURIComplete: fmt.Sprintf("https://device.example.com/?user_code=ABCD-%04d", n),
		ExpiresIn:               p.ExpiresIn,
		Interval:                p.Interval,
	}, nil
}

func (p *Provider) ExchangeDeviceCode(ctx context.Context, clientID, clientSecret, deviceCode string) (*idp.Exchange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.calls[deviceCode]
	p.calls[deviceCode] = n + 1
	steps := p.script[deviceCode]
	if len(steps) == 0 {
		return &idp.Exchange{Outcome: idp.OutcomePending}, nil
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	s := steps[n]
	if s.Err != nil {
		return nil, s.Err
	}
	return &idp.Exchange{Outcome: s.Outcome, Identity: s.Identity}, nil
}

// Authorized returns a Step that succeeds with a principal named name whose credentials expire at exp.
func Authorized(name string, creds idp.Credentials, exp time.Time) Step {
	return Step{
		Outcome: idp.OutcomeAuthorized,
		Identity: &idp.DelegatedIdentity{
			Principal: idp.Principal{
				ARN:     "arn:aws:sts::123456789012:assumed-role/Developer/" + name,
				UserID:  "AROAEXAMPLE:" + name,
				Account: "123456789012",
			},
			Credentials: creds,
			ExpiresAt:   exp,
		},
	}
}

// Lookup is a fake idp.IdentityLookup. Valid decides which triples are accepted; nil accepts all.
type Lookup struct {
	mu        sync.Mutex
	Principal idp.Principal
	Err       error
	Valid     func(*idp.Credentials) bool
	calls     int
}

// CallerIdentity returns Principal, or an error wrapping idp.ErrLookupFailed.
func (l *Lookup) CallerIdentity(ctx context.Context, creds *idp.Credentials) (*idp.Principal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.Err != nil {
		return nil, l.Err
	}
	if l.Valid != nil && !l.Valid(creds) {
		return nil, fmt.Errorf("%w: credentials rejected", idp.ErrLookupFailed)
	}
	p := l.Principal
	return &p, nil
}

// Calls returns how many lookups were made.
func (l *Lookup) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

var (
	_ idp.Provider       = (*Provider)(nil)
	_ idp.IdentityLookup = (*Lookup)(nil)
)
