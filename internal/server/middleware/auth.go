// Package middleware holds the HTTP middleware of the API: client IP, bearer authentication,
// access policy, rate limiting and request logging.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/deepskandpal/LangChef/internal/identity/service"
	"github.com/deepskandpal/LangChef/internal/server/respond"
	userdomain "github.com/deepskandpal/LangChef/internal/user/domain"
)

const bearerPrefix = "bearer "

// SessionVerifier verifies bearer tokens (implemented by *service.SessionValidator).
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (*userdomain.User, error)
	VerifyIdentity(ctx context.Context, token string) (*userdomain.User, error)
}

// Authenticator puts the bearer token's user into the request context.
type Authenticator struct {
	sessions SessionVerifier
	logger   *slog.Logger
}

// NewAuthenticator returns an Authenticator. logger may be nil.
func NewAuthenticator(sessions SessionVerifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{sessions: sessions, logger: logger}
}

// RequireSession rejects requests whose token is invalid or whose user's delegated credentials expired.
func (a *Authenticator) RequireSession(next http.Handler) http.Handler {
	return a.require(next, a.sessions.VerifySession)
}

// RequireIdentity rejects requests whose token is invalid; lapsed delegated credentials are allowed.
func (a *Authenticator) RequireIdentity(next http.Handler) http.Handler {
	return a.require(next, a.sessions.VerifyIdentity)
}

func (a *Authenticator) require(next http.Handler, verify func(context.Context, string) (*userdomain.User, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := verify(r.Context(), extractBearer(r))
		if err != nil {
			WriteSessionError(w, a.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

// WriteSessionError maps session verification errors to HTTP responses.
func WriteSessionError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrTokenExpired):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="token expired"`)
		respond.Error(w, http.StatusUnauthorized, "token_expired", "Session expired, please log in again")
	case errors.Is(err, service.ErrInvalidToken):
		w.Header().Set("WWW-Authenticate", "Bearer")
		respond.Error(w, http.StatusUnauthorized, "invalid_token", "Could not validate credentials")
	case errors.Is(err, service.ErrDelegatedCredentialsExpired):
		w.Header().Set("X-AWS-Session-Expired", "true")
		respond.Error(w, http.StatusUnauthorized, "aws_session_expired", "AWS session expired, please log in again")
	case errors.Is(err, service.ErrUserInactive):
		respond.Error(w, http.StatusForbidden, "user_inactive", "Inactive user")
	default:
		if logger != nil {
			logger.Error("auth: session verification failed", "error", err)
		}
		respond.Error(w, http.StatusInternalServerError, "internal", "")
	}
}

// extractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
