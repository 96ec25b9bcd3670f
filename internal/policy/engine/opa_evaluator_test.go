package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	userdomain "github.com/deepskandpal/LangChef/internal/user/domain"
)

func newTestEvaluator(t *testing.T, policy string) *OPAEvaluator {
	t.Helper()
	e, err := NewOPAEvaluator(context.Background(), policy)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	return e
}

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e := newTestEvaluator(t, "")
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_RequiresDelegated(t *testing.T) {
	e := newTestEvaluator(t, "")
	testCases := []struct {
		op   string
		want bool
	}{
		{OperationModelsBedrock, true},
		{OperationModelsList, false},
		{OperationCredentials, false},
		{"unknown.op", false},
	}
	for _, tc := range testCases {
		got, err := e.RequiresDelegated(context.Background(), tc.op)
		if err != nil {
			t.Fatalf("RequiresDelegated(%q): %v", tc.op, err)
		}
		if got != tc.want {
			t.Errorf("RequiresDelegated(%q) = %v, want %v", tc.op, got, tc.want)
		}
	}
}

func TestOPAEvaluator_Allow(t *testing.T) {
	e := newTestEvaluator(t, "")
	creds := &userdomain.DelegatedCredentials{AccessKeyID: "ASIA", SecretAccessKey: "s", SessionToken: "t"}
	active := &userdomain.User{ID: "u1", Active: true}
	delegated := &userdomain.User{ID: "u2", Active: true, Credentials: creds}
	inactive := &userdomain.User{ID: "u3", Active: false, Credentials: creds}

	testCases := []struct {
		name string
		in   AccessInput
		want bool
	}{
		{"active plain op", AccessInput{Operation: OperationModelsList, User: active}, true},
		{"inactive plain op", AccessInput{Operation: OperationModelsList, User: inactive}, false},
		{"nil user", AccessInput{Operation: OperationModelsList}, false},
		{"bedrock without credentials", AccessInput{Operation: OperationModelsBedrock, User: active, DelegatedValid: true}, false},
		{"bedrock invalid credentials", AccessInput{Operation: OperationModelsBedrock, User: delegated}, false},
		{"bedrock valid credentials", AccessInput{Operation: OperationModelsBedrock, User: delegated, DelegatedValid: true}, true},
		{"bedrock inactive", AccessInput{Operation: OperationModelsBedrock, User: inactive, DelegatedValid: true}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Allow(context.Background(), tc.in)
			if err != nil {
				t.Fatalf("Allow: %v", err)
			}
			if got != tc.want {
				t.Errorf("Allow = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	policy := `package langchef.access

default requires_delegated := true

default allow := false

allow if {
	input.user.active
	input.user.delegated_valid
}
`
	e := newTestEvaluator(t, policy)
	req, err := e.RequiresDelegated(context.Background(), OperationModelsList)
	if err != nil || !req {
		t.Fatalf("RequiresDelegated = %v, %v; want true", req, err)
	}
	ok, err := e.Allow(context.Background(), AccessInput{Operation: OperationModelsList, User: &userdomain.User{Active: true}})
	if err != nil || ok {
		t.Errorf("Allow without valid credentials = %v, %v; want false", ok, err)
	}
}

func TestOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package langchef.access\n\nallow if {"); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestLoadPolicyFile(t *testing.T) {
	if s, err := LoadPolicyFile(""); err != nil || s != "" {
		t.Fatalf("LoadPolicyFile(\"\") = %q, %v", s, err)
	}
	path := filepath.Join(t.TempDir(), "access.rego")
	if err := os.WriteFile(path, []byte(DefaultPolicy), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := LoadPolicyFile(path)
	if err != nil || s != DefaultPolicy {
		t.Fatalf("LoadPolicyFile = %q, %v", s, err)
	}
	if _, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
