package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepskandpal/LangChef/internal/catalog/domain"
	cataloghandler "github.com/deepskandpal/LangChef/internal/catalog/handler"
	catalogservice "github.com/deepskandpal/LangChef/internal/catalog/service"
	"github.com/deepskandpal/LangChef/internal/config"
	devicerepo "github.com/deepskandpal/LangChef/internal/deviceauth/repository"
	healthhandler "github.com/deepskandpal/LangChef/internal/health/handler"
	identityhandler "github.com/deepskandpal/LangChef/internal/identity/handler"
	"github.com/deepskandpal/LangChef/internal/identity/service"
	"github.com/deepskandpal/LangChef/internal/idp"
	"github.com/deepskandpal/LangChef/internal/idp/idptest"
	"github.com/deepskandpal/LangChef/internal/policy/engine"
	"github.com/deepskandpal/LangChef/internal/security"
	"github.com/deepskandpal/LangChef/internal/server/middleware"
	userrepo "github.com/deepskandpal/LangChef/internal/user/repository"
)

type apiFixture struct {
	provider *idptest.Provider
	handler  http.Handler
}

func newAPIFixture(t *testing.T, limiter *middleware.RateLimiter) *apiFixture {
	t.Helper()
	provider := idptest.NewProvider()
	lookup := &idptest.Lookup{Principal: idp.Principal{
		ARN:    "arn:aws:iam::123456789012:user/bob",
		UserID: "AIDAEXAMPLE",
	}}
	users := userrepo.NewMemoryRepository()
	tokens := security.NewTestHMACTokenProvider()
	profile := service.ProfilePolicy{EmailDomain: "example.com"}
	sessions := service.NewSessions(tokens, service.Options{})
	flow := service.NewDeviceFlow(provider, users, devicerepo.NewMemoryRepository(), sessions, profile, service.Options{})
	direct := service.NewDirectLogin(config.AmbientCredentials{AccessKeyID: "AKIA", SecretAccessKey: "secret"}, lookup, users, sessions, profile, service.Options{})
	validator := service.NewSessionValidator(tokens, users, lookup, service.Options{})
	policy, err := engine.NewOPAEvaluator(context.Background(), "")
	require.NoError(t, err)

	h := NewRouter(&RouterDeps{
		Auth: identityhandler.NewHandler(identityhandler.Deps{
			DeviceFlow:  flow,
			DirectLogin: direct,
			Sessions:    sessions,
			Credentials: validator,
		}),
		Catalog:       cataloghandler.NewHandler(catalogservice.NewCatalog(validator, nil)),
		Health:        healthhandler.NewServer(nil, policy, nil),
		Authenticator: middleware.NewAuthenticator(validator, nil),
		Policy:        policy,
		Credentials:   validator,
		RateLimiter:   limiter,
		CORSOrigins:   []string{"http://localhost:3000"},
	})
	return &apiFixture{provider: provider, handler: h}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) token(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotEmpty(t, body.AccessToken)
	return body.AccessToken
}

func (f *apiFixture) deviceLogin(t *testing.T, name string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/auth/device-authorization", map[string]string{"client_id": "c1", "client_secret": "s1"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var da struct {
		DeviceCode string `json:"device_code"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&da))
	creds := idp.Credentials{AccessKeyID: "ASIA", SecretAccessKey: "secret", SessionToken: "session"}
	f.provider.Script(da.DeviceCode, idptest.Authorized(name, creds, time.Now().Add(time.Hour)))
	return f.token(t, f.do(t, http.MethodPost, "/api/auth/token", map[string]string{
		"client_id": "c1", "client_secret": "s1", "device_code": da.DeviceCode,
	}, ""))
}

func models(t *testing.T, rec *httptest.ResponseRecorder) []domain.Model {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out []domain.Model
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestRouter_Probes(t *testing.T) {
	f := newAPIFixture(t, nil)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil, "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/nope", nil, "").Code)
}

func TestRouter_ModelCatalog(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/models/available", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	direct := f.token(t, f.do(t, http.MethodPost, "/api/auth/aws-login", nil, ""))
	assert.Len(t, models(t, f.do(t, http.MethodGet, "/api/models/available", nil, direct)), 2)

	rec = f.do(t, http.MethodGet, "/api/models/bedrock", nil, direct)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-AWS-Session-Expired"))

	delegated := f.deviceLogin(t, "alice")
	assert.Len(t, models(t, f.do(t, http.MethodGet, "/api/models/available", nil, delegated)), 7)
	assert.Len(t, models(t, f.do(t, http.MethodGet, "/api/models/bedrock", nil, delegated)), 5)
}

func TestRouter_CORSPreflight(t *testing.T) {
	f := newAPIFixture(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/auth/token", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/auth/token", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_AuthRateLimit(t *testing.T) {
	f := newAPIFixture(t, middleware.NewRateLimiter(0.001, 2))
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/auth/register-client", nil, "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/api/auth/register-client", nil, "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil, "").Code, "probes are not limited")
}
