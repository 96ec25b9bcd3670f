package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	status int
	body   interface{}
}

// tokenServer answers /api/auth/token with the scripted responses in order.
func tokenServer(t *testing.T, script ...scripted) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/token", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dev-code", req["device_code"])

		n := atomic.AddInt32(&calls, 1)
		step := script[len(script)-1]
		if int(n) <= len(script) {
			step = script[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(step.status)
		_ = json.NewEncoder(w).Encode(step.body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// fakeClock advances by every wait so expiry can be tested without sleeping.
type fakeClock struct {
	at    time.Time
	waits []time.Duration
}

func (f *fakeClock) install(c *Client) {
	c.now = func() time.Time { return f.at }
	c.wait = func(_ context.Context, d time.Duration) error {
		f.waits = append(f.waits, d)
		f.at = f.at.Add(d)
		return nil
	}
}

var (
	testReg = &Registration{ClientID: "c1", ClientSecret: "s1"}
	testDA  = &DeviceAuthorization{DeviceCode: "dev-code", UserCode: "ABCD-EFGH", ExpiresIn: 600, Interval: 5}
)

func TestPollToken_PendingThenApproved(t *testing.T) {
	srv, calls := tokenServer(t,
		scripted{http.StatusAccepted, map[string]interface{}{"status": "authorization_pending", "interval": 5}},
		scripted{http.StatusTooManyRequests, map[string]interface{}{"status": "slow_down", "interval": 10}},
		scripted{http.StatusOK, map[string]interface{}{
			"access_token": "tok", "token_type": "bearer",
			"user": map[string]interface{}{"id": "u1", "username": "alice", "is_active": true},
		}},
	)
	c := New(srv.URL, nil)
	clock := &fakeClock{at: time.Unix(1_700_000_000, 0)}
	clock.install(c)

	s, err := c.PollToken(context.Background(), testReg, testDA)
	require.NoError(t, err)
	assert.Equal(t, "tok", s.AccessToken)
	assert.Equal(t, "alice", s.User.Username)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 10 * time.Second}, clock.waits)
}

func TestPollToken_SlowDownWithoutIntervalAddsFiveSeconds(t *testing.T) {
	srv, _ := tokenServer(t,
		scripted{http.StatusTooManyRequests, map[string]string{"status": "slow_down"}},
		scripted{http.StatusOK, map[string]string{"access_token": "tok"}},
	)
	c := New(srv.URL, nil)
	clock := &fakeClock{at: time.Unix(1_700_000_000, 0)}
	clock.install(c)

	_, err := c.PollToken(context.Background(), testReg, testDA)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, clock.waits)
}

func TestPollToken_TerminalOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   interface{}
		want   error
		apiErr int
	}{
		{"expired", http.StatusGone, map[string]string{"error": "expired_token"}, ErrExpired, 0},
		{"denied", http.StatusForbidden, map[string]string{"error": "access_denied"}, ErrDenied, 0},
		{"consumed", http.StatusConflict, map[string]string{"error": "invalid_grant", "detail": "used"}, nil, http.StatusConflict},
		{"server error", http.StatusInternalServerError, map[string]string{"error": "internal"}, nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := tokenServer(t, scripted{tt.status, tt.body})
			c := New(srv.URL, nil)
			(&fakeClock{at: time.Unix(1_700_000_000, 0)}).install(c)

			_, err := c.PollToken(context.Background(), testReg, testDA)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			} else {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.apiErr, apiErr.Status)
			}
			assert.EqualValues(t, 1, atomic.LoadInt32(calls))
		})
	}
}

func TestPollToken_StopsAtExpiry(t *testing.T) {
	srv, calls := tokenServer(t,
		scripted{http.StatusAccepted, map[string]interface{}{"status": "authorization_pending", "interval": 5}},
	)
	c := New(srv.URL, nil)
	(&fakeClock{at: time.Unix(1_700_000_000, 0)}).install(c)

	da := *testDA
	da.ExpiresIn = 12
	_, err := c.PollToken(context.Background(), testReg, &da)
	assert.ErrorIs(t, err, ErrExpired)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestPollToken_ContextCanceled(t *testing.T) {
	srv, calls := tokenServer(t, scripted{http.StatusOK, map[string]string{"access_token": "tok"}})
	c := New(srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.PollToken(ctx, testReg, testDA)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, atomic.LoadInt32(calls))
}

func TestLoginHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/register-client":
			_ = json.NewEncoder(w).Encode(map[string]string{"client_id": "c1", "client_secret": "s1"})
		case "/api/auth/device-authorization":
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "c1", req["client_id"])
			assert.Equal(t, "s1", req["client_secret"])
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"device_code": "dev-code", "user_code": "ABCD-EFGH",
				"verification_uri": "https://device.sso.example/", "expires_in": 600, "interval": 5,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", nil)
	reg, err := c.RegisterClient(context.Background())
	require.NoError(t, err)
	da, err := c.Authorize(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-EFGH", da.UserCode)
	assert.Equal(t, 600, da.ExpiresIn)
}

func TestRegisterClient_ProviderDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"provider_unavailable","detail":"identity provider unavailable"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).RegisterClient(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "provider_unavailable", apiErr.Code)
	assert.Contains(t, err.Error(), "register client")
}

func TestAuthenticatedCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/me":
			_, _ = w.Write([]byte(`{"id":"u1","username":"alice","email":"alice@example.com","is_active":true}`))
		case "/api/auth/credentials/status":
			_, _ = w.Write([]byte(`{"valid":false,"expires_at":null}`))
		case "/api/auth/refresh":
			_, _ = w.Write([]byte(`{"access_token":"tok2","token_type":"bearer"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewAuthenticated(ctx, srv.URL, "tok")
	u, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	st, err := c.CredentialsStatus(ctx)
	require.NoError(t, err)
	assert.False(t, st.Valid)
	assert.Nil(t, st.ExpiresAt)

	s, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok2", s.AccessToken)

	_, err = NewAuthenticated(ctx, srv.URL, "wrong").Me(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid_token", apiErr.Code)
}
