package service

import (
	"context"
	"errors"
	"testing"

	"github.com/deepskandpal/LangChef/internal/config"
	"github.com/deepskandpal/LangChef/internal/idp"
	"github.com/deepskandpal/LangChef/internal/telemetry"
	userrepo "github.com/deepskandpal/LangChef/internal/user/repository"
)

var testAmbient = config.AmbientCredentials{
	AccessKeyID:     "AKIAAMBIENT",
	SecretAccessKey: "ambient-secret",
	Region:          "us-east-1",
}

var bobPrincipal = idp.Principal{
	ARN:     "arn:aws:iam::123456789012:user/engineering/bob.smith",
	UserID:  "AIDAEXAMPLEBOB",
	Account: "123456789012",
}

func TestDirectLogin_NotConfigured(t *testing.T) {
	f := newFixture(t)
	_, err := f.direct.Login(context.Background())
	if !errors.Is(err, ErrCredentialsNotConfigured) {
		t.Fatalf("Login error = %v, want ErrCredentialsNotConfigured", err)
	}
	if f.users.Len() != 0 {
		t.Error("Login must not touch the store without credentials")
	}
	if f.lookup.Calls() != 0 {
		t.Error("Login must not call the identity lookup without credentials")
	}
	failures := f.audit.Events(telemetry.EventLoginFailure)
	if len(failures) != 1 || failures[0].Outcome != "credentials_not_configured" {
		t.Errorf("login_failure events = %+v", failures)
	}
}

func TestDirectLogin_Success(t *testing.T) {
	f := newFixture(t, withAmbient(testAmbient))
	f.lookup.Principal = bobPrincipal
	ctx := context.Background()

	sess, err := f.direct.Login(ctx)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.User.Username != "bob.smith" || sess.User.Email != "bob.smith@example.com" || sess.User.FullName != "Bob Smith" {
		t.Errorf("session user = %+v", sess.User)
	}
	claims, err := f.tokens.Validate(sess.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "bob.smith" || claims.AWSIdentityID != bobPrincipal.UserID {
		t.Errorf("claims = %q/%q", claims.Subject, claims.AWSIdentityID)
	}

	u, err := f.users.GetByExternalID(ctx, bobPrincipal.UserID)
	if err != nil || u == nil {
		t.Fatalf("GetByExternalID: %v, %v", u, err)
	}
	if u.HasDelegatedAccess() || u.CredentialsExpireAt != nil {
		t.Error("direct login must not store a credential triple")
	}

	// No delegated access is not an invalid session.
	got, err := f.validator.VerifySession(ctx, sess.AccessToken)
	if err != nil {
		t.Fatalf("VerifySession: %v", err)
	}
	calls := f.lookup.Calls()
	if f.validator.ValidateDelegatedCredentials(ctx, got) {
		t.Error("ValidateDelegatedCredentials = true for a user without credentials")
	}
	if f.lookup.Calls() != calls {
		t.Error("missing credentials must not trigger a live check")
	}
}

func TestDirectLogin_RepeatedLoginUpdatesOneUser(t *testing.T) {
	f := newFixture(t, withAmbient(testAmbient))
	f.lookup.Principal = bobPrincipal
	for i := 0; i < 3; i++ {
		if _, err := f.direct.Login(context.Background()); err != nil {
			t.Fatalf("Login %d: %v", i, err)
		}
	}
	if f.users.Len() != 1 {
		t.Errorf("users = %d, want 1", f.users.Len())
	}
}

func TestDirectLogin_LookupFailure(t *testing.T) {
	f := newFixture(t, withAmbient(testAmbient))
	f.lookup.Err = errors.New("ExpiredToken")

	_, err := f.direct.Login(context.Background())
	if !errors.Is(err, ErrIdentityLookupFailed) {
		t.Fatalf("Login error = %v, want ErrIdentityLookupFailed", err)
	}
	if f.users.Len() != 0 {
		t.Error("failed lookup must not create users")
	}
}

func TestDirectLogin_ReactivatesInactiveUser(t *testing.T) {
	f := newFixture(t, withAmbient(testAmbient))
	f.lookup.Principal = bobPrincipal
	ctx := context.Background()

	first, err := f.direct.Login(ctx)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	inactive := false
	if _, err := f.users.Upsert(ctx, userrepo.UserPatch{ExternalID: bobPrincipal.UserID, Username: "bob.smith", Active: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.validator.VerifyIdentity(ctx, first.AccessToken); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("VerifyIdentity before re-login = %v, want ErrUserInactive", err)
	}

	sess, err := f.direct.Login(ctx)
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if !sess.User.Active || sess.User.ID != first.User.ID {
		t.Errorf("session user = %+v, want reactivated %s", sess.User, first.User.ID)
	}
	if _, err := f.validator.VerifyIdentity(ctx, sess.AccessToken); err != nil {
		t.Errorf("VerifyIdentity after re-login: %v", err)
	}
}

func TestDirectLogin_UsernameTakenByAnotherPrincipal(t *testing.T) {
	f := newFixture(t, withAmbient(testAmbient))
	f.lookup.Principal = bobPrincipal
	ctx := context.Background()
	email := "bob@other.example"
	if _, err := f.users.Upsert(ctx, userrepo.UserPatch{ExternalID: "AIDAOTHER", Username: "bob.smith", Email: &email}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	_, err := f.direct.Login(ctx)
	if !errors.Is(err, ErrProfileConflict) {
		t.Fatalf("Login error = %v, want ErrProfileConflict", err)
	}
	failures := f.audit.Events(telemetry.EventLoginFailure)
	if len(failures) != 1 || failures[0].Outcome != "profile_conflict" {
		t.Errorf("login_failure events = %+v", failures)
	}
}
