package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/deepskandpal/LangChef/internal/audit"
	"github.com/deepskandpal/LangChef/internal/security"
	"github.com/deepskandpal/LangChef/internal/telemetry"
	userdomain "github.com/deepskandpal/LangChef/internal/user/domain"
)

// Login methods recorded in metrics and audit events.
const (
	MethodDevice  = "device"
	MethodAmbient = "ambient"
	MethodRefresh = "refresh"
)

// Session is the result of a successful login or refresh. It never carries delegated credentials.
type Session struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	User        userdomain.PublicUser
}

// Options holds the optional collaborators shared by the services. Zero values are safe.
type Options struct {
	Logger  *slog.Logger
	Audit   audit.AuditLogger
	Metrics *telemetry.AuthMetrics
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

type instruments struct {
	logger  *slog.Logger
	audit   audit.AuditLogger
	metrics *telemetry.AuthMetrics
	now     func() time.Time
}

func (o Options) instruments() instruments {
	in := instruments{logger: o.Logger, audit: o.Audit, metrics: o.Metrics, now: o.Now}
	if in.logger == nil {
		in.logger = slog.Default()
	}
	if in.now == nil {
		in.now = time.Now
	}
	return in
}

func (in instruments) event(ctx context.Context, ev telemetry.AuthEvent) {
	if in.audit != nil {
		in.audit.LogEvent(ctx, ev)
	}
}

// Sessions issues session tokens for users that passed a login path.
type Sessions struct {
	tokens *security.TokenProvider
	instruments
}

// NewSessions returns Sessions signing with tokens.
func NewSessions(tokens *security.TokenProvider, opts Options) *Sessions {
	return &Sessions{tokens: tokens, instruments: opts.instruments()}
}

// Issue signs a token for u. Inactive users never get a session.
func (s *Sessions) Issue(u *userdomain.User) (*Session, error) {
	if u == nil || !u.Active {
		return nil, ErrUserInactive
	}
	token, exp, err := s.tokens.Issue(u.Username, u.Email, u.ExternalID)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   exp,
		User:        u.Public(),
	}, nil
}

// Refresh re-issues a token of the same shape for an already verified user.
func (s *Sessions) Refresh(ctx context.Context, u *userdomain.User) (*Session, error) {
	sess, err := s.Issue(u)
	if err != nil {
		return nil, err
	}
	s.event(ctx, telemetry.AuthEvent{
		Type:     telemetry.EventSessionRefreshed,
		UserID:   u.ID,
		Username: u.Username,
		Method:   MethodRefresh,
		Outcome:  "success",
	})
	return sess, nil
}
