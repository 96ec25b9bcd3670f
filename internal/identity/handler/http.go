// Package handler exposes the login flows and session endpoints under /api/auth.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deepskandpal/LangChef/internal/identity/service"
	"github.com/deepskandpal/LangChef/internal/idp"
	"github.com/deepskandpal/LangChef/internal/server/middleware"
	"github.com/deepskandpal/LangChef/internal/server/respond"
	userdomain "github.com/deepskandpal/LangChef/internal/user/domain"
)

// DeviceFlow is implemented by *service.DeviceFlow.
type DeviceFlow interface {
	Register(ctx context.Context) (*idp.Client, error)
	Begin(ctx context.Context, clientID, clientSecret string) (*idp.DeviceAuthorization, error)
	Poll(ctx context.Context, clientID, clientSecret, deviceCode string) (*service.PollResult, error)
}

// DirectLogin is implemented by *service.DirectLogin.
type DirectLogin interface {
	Login(ctx context.Context) (*service.Session, error)
}

// SessionRefresher is implemented by *service.Sessions.
type SessionRefresher interface {
	Refresh(ctx context.Context, u *userdomain.User) (*service.Session, error)
}

// Deps are the collaborators of Handler.
type Deps struct {
	DeviceFlow  DeviceFlow
	DirectLogin DirectLogin
	Sessions    SessionRefresher
	Credentials middleware.CredentialChecker
	Logger      *slog.Logger
}

// Handler serves the /api/auth endpoints.
type Handler struct {
	flow        DeviceFlow
	direct      DirectLogin
	sessions    SessionRefresher
	credentials middleware.CredentialChecker
	logger      *slog.Logger
}

// NewHandler returns a Handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		flow:        d.DeviceFlow,
		direct:      d.DirectLogin,
		sessions:    d.Sessions,
		credentials: d.Credentials,
		logger:      logger,
	}
}

// Mount registers the routes on r, which is expected to be mounted at /api/auth.
func (h *Handler) Mount(r chi.Router, auth *middleware.Authenticator) {
	r.Post("/register-client", h.RegisterClient)
	r.Post("/device-authorization", h.DeviceAuthorization)
	r.Post("/token", h.Token)
	r.Post("/aws-login", h.AWSLogin)

	r.With(auth.RequireIdentity).Get("/me", h.Me)
	r.With(auth.RequireIdentity).Get("/credentials/status", h.CredentialsStatus)
	r.With(auth.RequireSession).Post("/refresh", h.Refresh)
}

type clientResponse struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type deviceAuthorizationRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type deviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	DeviceCode   string `json:"device_code"`
}

type pollStatusResponse struct {
	Status   string `json:"status"`
	Interval int    `json:"interval"`
}

type sessionResponse struct {
	AccessToken string                `json:"access_token"`
	TokenType   string                `json:"token_type"`
	ExpiresAt   time.Time             `json:"expires_at"`
	User        userdomain.PublicUser `json:"user"`
}

type credentialsStatusResponse struct {
	Valid     bool       `json:"valid"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// RegisterClient registers an OAuth client with the identity provider.
// POST /api/auth/register-client
func (h *Handler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	c, err := h.flow.Register(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, clientResponse{ClientID: c.ID, ClientSecret: c.Secret, ExpiresAt: c.ExpiresAt.UTC()})
}

// DeviceAuthorization starts a device authorization.
// POST /api/auth/device-authorization
func (h *Handler) DeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	var req deviceAuthorizationRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	da, err := h.flow.Begin(r.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, deviceAuthorizationResponse{
		DeviceCode:              da.DeviceCode,
		UserCode:                da.UserCode,
		VerificationURI:         da.VerificationURI,
		VerificationURIComplete: da.VerificationURIComplete,
		ExpiresIn:               seconds(da.ExpiresIn),
		Interval:                seconds(da.Interval),
	})
}

// Token polls the device code once.
// POST /api/auth/token
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	res, err := h.flow.Poll(r.Context(), req.ClientID, req.ClientSecret, req.DeviceCode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	switch res.Outcome {
	case idp.OutcomeAuthorized:
		respond.JSON(w, http.StatusOK, toSessionResponse(res.Session))
	case idp.OutcomePending:
		respond.JSON(w, http.StatusAccepted, pollStatusResponse{Status: res.Outcome.String(), Interval: seconds(res.Interval)})
	case idp.OutcomeSlowDown:
		w.Header().Set("Retry-After", strconv.Itoa(seconds(res.Interval)))
		respond.JSON(w, http.StatusTooManyRequests, pollStatusResponse{Status: res.Outcome.String(), Interval: seconds(res.Interval)})
	case idp.OutcomeExpired:
		respond.Error(w, http.StatusGone, res.Outcome.String(), "Device code expired, start a new login")
	case idp.OutcomeDenied:
		respond.Error(w, http.StatusForbidden, res.Outcome.String(), "Authorization was denied")
	default:
		h.logger.Error("auth: unexpected poll outcome", "outcome", res.Outcome.String())
		respond.Error(w, http.StatusInternalServerError, "internal", "")
	}
}

// AWSLogin logs in with the server's ambient credentials.
// POST /api/auth/aws-login
func (h *Handler) AWSLogin(w http.ResponseWriter, r *http.Request) {
	s, err := h.direct.Login(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toSessionResponse(s))
}

// Me returns the caller's public profile.
// GET /api/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFrom(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "invalid_token", "Could not validate credentials")
		return
	}
	respond.JSON(w, http.StatusOK, u.Public())
}

// Refresh issues a new session token for the caller.
// POST /api/auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFrom(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "invalid_token", "Could not validate credentials")
		return
	}
	s, err := h.sessions.Refresh(r.Context(), u)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toSessionResponse(s))
}

// CredentialsStatus reports whether the caller's delegated credentials pass the live check.
// GET /api/auth/credentials/status
func (h *Handler) CredentialsStatus(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFrom(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "invalid_token", "Could not validate credentials")
		return
	}
	resp := credentialsStatusResponse{Valid: h.credentials.ValidateDelegatedCredentials(r.Context(), u)}
	if u.CredentialsExpireAt != nil {
		exp := u.CredentialsExpireAt.UTC()
		resp.ExpiresAt = &exp
	}
	respond.JSON(w, http.StatusOK, resp)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		respond.Error(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrCredentialsNotConfigured):
		respond.Error(w, http.StatusBadRequest, "credentials_not_configured", "AWS credentials are not configured on the server")
	case errors.Is(err, service.ErrDeviceCodeConsumed):
		respond.Error(w, http.StatusConflict, "device_code_consumed", "Device code was already exchanged, start a new login")
	case errors.Is(err, service.ErrProfileConflict):
		h.logger.Warn("auth: profile conflict", "error", err)
		respond.Error(w, http.StatusConflict, "profile_conflict", "Username or email already belongs to another identity")
	case errors.Is(err, service.ErrUserInactive):
		respond.Error(w, http.StatusForbidden, "user_inactive", "Inactive user")
	case errors.Is(err, service.ErrIdentityLookupFailed):
		h.logger.Warn("auth: identity lookup failed", "error", err)
		respond.Error(w, http.StatusBadGateway, "identity_lookup_failed", "Could not resolve the AWS caller identity")
	case errors.Is(err, service.ErrProfileUnavailable):
		respond.Error(w, http.StatusBadGateway, "profile_unavailable", "Identity provider returned no email address")
	case errors.Is(err, service.ErrProviderUnavailable):
		h.logger.Warn("auth: identity provider unavailable", "error", err)
		respond.Error(w, http.StatusBadGateway, "provider_unavailable", "Identity provider unavailable, try again")
	default:
		h.logger.Error("auth: request failed", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "")
	}
}

func toSessionResponse(s *service.Session) sessionResponse {
	return sessionResponse{
		AccessToken: s.AccessToken,
		TokenType:   s.TokenType,
		ExpiresAt:   s.ExpiresAt.UTC(),
		User:        s.User,
	}
}

// seconds rounds d up to whole seconds.
func seconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}
