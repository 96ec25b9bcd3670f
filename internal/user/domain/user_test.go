package domain

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestDelegatedCredentials_Complete(t *testing.T) {
	testCases := []struct {
		name  string
		creds *DelegatedCredentials
		want  bool
	}{
		{"nil", nil, false},
		{"empty", &DelegatedCredentials{}, false},
		{"missing token", &DelegatedCredentials{AccessKeyID: "AK", SecretAccessKey: "SK"}, false},
		{"missing secret", &DelegatedCredentials{AccessKeyID: "AK", SessionToken: "ST"}, false},
		{"complete", &DelegatedCredentials{AccessKeyID: "AK", SecretAccessKey: "SK", SessionToken: "ST"}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.creds.Complete(); got != tc.want {
				t.Errorf("Complete() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDelegatedCredentials_Redacted(t *testing.T) {
	creds := &DelegatedCredentials{AccessKeyID: "AKIASECRET", SecretAccessKey: "very-secret", SessionToken: "session-tok"}
	u := &User{ID: "u1", Username: "alice", Credentials: creds, Active: true}

	for _, s := range []string{
		fmt.Sprintf("%v", creds),
		fmt.Sprintf("%+v", creds),
		fmt.Sprintf("%#v", creds),
		fmt.Sprintf("%s", creds),
	} {
		if strings.Contains(s, "very-secret") || strings.Contains(s, "AKIASECRET") || strings.Contains(s, "session-tok") {
			t.Errorf("formatted credentials leak values: %q", s)
		}
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("login", "user", u, "creds", creds)
	out := buf.String()
	if strings.Contains(out, "very-secret") || strings.Contains(out, "AKIASECRET") || strings.Contains(out, "session-tok") {
		t.Errorf("log output leaks credential values: %s", out)
	}
	if !strings.Contains(out, `"username":"alice"`) {
		t.Errorf("log output missing username: %s", out)
	}
}

func TestUser_Public(t *testing.T) {
	u := &User{
		ID:          "u1",
		Username:    "alice",
		Email:       "alice@example.com",
		FullName:    "Alice",
		ExternalID:  "AROA:alice",
		Credentials: &DelegatedCredentials{AccessKeyID: "AK", SecretAccessKey: "SK", SessionToken: "ST"},
		Active:      true,
	}
	p := u.Public()
	if p.ID != "u1" || p.Username != "alice" || p.Email != "alice@example.com" || p.FullName != "Alice" || !p.Active {
		t.Errorf("Public() = %+v", p)
	}
	if !u.HasDelegatedAccess() {
		t.Error("HasDelegatedAccess should be true with a complete triple")
	}
	var nilUser *User
	if nilUser.HasDelegatedAccess() {
		t.Error("nil user has no delegated access")
	}
}
