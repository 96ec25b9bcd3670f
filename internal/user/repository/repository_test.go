package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/deepskandpal/LangChef/internal/user/domain"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// runRepositoryContract exercises behaviour every Repository implementation must share.
// Names are suffixed so the suite can run against a shared database.
func runRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("create then update by external id", func(t *testing.T) {
		sfx := uuid.NewString()[:8]
		ext := "AROA:" + sfx
		exp1 := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		u1, err := repo.Upsert(ctx, UserPatch{
			ExternalID:          ext,
			Username:            "alice-" + sfx,
			Email:               strPtr("alice-" + sfx + "@example.com"),
			FullName:            strPtr("Alice"),
			Active:              boolPtr(true),
			Credentials:         &domain.DelegatedCredentials{AccessKeyID: "AK1", SecretAccessKey: "SK1", SessionToken: "ST1"},
			CredentialsExpireAt: &exp1,
		})
		if err != nil {
			t.Fatalf("Upsert create: %v", err)
		}
		if u1.ID == "" || !u1.Active {
			t.Fatalf("created user = %+v", u1.Public())
		}

		exp2 := exp1.Add(time.Hour)
		u2, err := repo.Upsert(ctx, UserPatch{
			ExternalID:          ext,
			Username:            "alice-" + sfx,
			Credentials:         &domain.DelegatedCredentials{AccessKeyID: "AK2", SecretAccessKey: "SK2", SessionToken: "ST2"},
			CredentialsExpireAt: &exp2,
		})
		if err != nil {
			t.Fatalf("Upsert update: %v", err)
		}
		if u2.ID != u1.ID {
			t.Errorf("update created a new user: %s != %s", u2.ID, u1.ID)
		}
		if u2.Credentials.AccessKeyID != "AK2" || u2.Credentials.SecretAccessKey != "SK2" || u2.Credentials.SessionToken != "ST2" {
			t.Error("second login's credentials should fully replace the first")
		}
		if !u2.CredentialsExpireAt.Equal(exp2) {
			t.Errorf("CredentialsExpireAt = %v, want %v", u2.CredentialsExpireAt, exp2)
		}
		if u2.FullName != "Alice" || u2.Email != "alice-"+sfx+"@example.com" {
			t.Errorf("nil patch fields clobbered stored values: %+v", u2.Public())
		}

		got, err := repo.GetByExternalID(ctx, ext)
		if err != nil || got == nil || got.ID != u1.ID {
			t.Fatalf("GetByExternalID = %v, %v", got, err)
		}
		got, err = repo.GetByUsername(ctx, "alice-"+sfx)
		if err != nil || got == nil || got.ID != u1.ID {
			t.Fatalf("GetByUsername = %v, %v", got, err)
		}
		got, err = repo.GetByID(ctx, u1.ID)
		if err != nil || got == nil || got.Credentials.AccessKeyID != "AK2" {
			t.Fatalf("GetByID = %v, %v", got, err)
		}
	})

	t.Run("not found returns nil", func(t *testing.T) {
		u, err := repo.GetByUsername(ctx, "nobody-"+uuid.NewString())
		if err != nil || u != nil {
			t.Errorf("GetByUsername missing = %v, %v", u, err)
		}
		u, err = repo.GetByExternalID(ctx, "")
		if err != nil || u != nil {
			t.Errorf("GetByExternalID empty = %v, %v", u, err)
		}
	})

	t.Run("adopts username-only record", func(t *testing.T) {
		sfx := uuid.NewString()[:8]
		direct, err := repo.Upsert(ctx, UserPatch{Username: "bob-" + sfx, Email: strPtr("bob-" + sfx + "@example.com")})
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		linked, err := repo.Upsert(ctx, UserPatch{ExternalID: "AIDA:" + sfx, Username: "bob-" + sfx})
		if err != nil {
			t.Fatalf("Upsert link: %v", err)
		}
		if linked.ID != direct.ID || linked.ExternalID != "AIDA:"+sfx {
			t.Errorf("linked = %+v, want external id set on %s", linked, direct.ID)
		}
	})

	t.Run("conflict on email owned by another user", func(t *testing.T) {
		sfx := uuid.NewString()[:8]
		email := "carol-" + sfx + "@example.com"
		if _, err := repo.Upsert(ctx, UserPatch{Username: "carol-" + sfx, Email: strPtr(email)}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		_, err := repo.Upsert(ctx, UserPatch{Username: "carol2-" + sfx, Email: strPtr(email)})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("duplicate email: want ErrConflict, got %v", err)
		}
	})

	t.Run("incomplete patch", func(t *testing.T) {
		_, err := repo.Upsert(ctx, UserPatch{Username: "dave-" + uuid.NewString()[:8]})
		if !errors.Is(err, ErrIncompletePatch) {
			t.Errorf("missing email: want ErrIncompletePatch, got %v", err)
		}
	})

	t.Run("concurrent upserts of one identity", func(t *testing.T) {
		sfx := uuid.NewString()[:8]
		ext := "AROA:" + sfx
		var wg sync.WaitGroup
		ids := make([]string, 8)
		errs := make([]error, 8)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				u, err := repo.Upsert(ctx, UserPatch{
					ExternalID:  ext,
					Username:    "erin-" + sfx,
					Email:       strPtr("erin-" + sfx + "@example.com"),
					Credentials: &domain.DelegatedCredentials{AccessKeyID: "AK", SecretAccessKey: "SK", SessionToken: "ST"},
				})
				errs[i] = err
				if u != nil {
					ids[i] = u.ID
				}
			}(i)
		}
		wg.Wait()
		for i := range ids {
			if errs[i] != nil {
				t.Fatalf("Upsert %d: %v", i, errs[i])
			}
			if ids[i] != ids[0] {
				t.Fatalf("concurrent upserts produced different users: %v", ids)
			}
		}
	})
}

func TestMemoryRepository_Contract(t *testing.T) {
	runRepositoryContract(t, NewMemoryRepository())
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	u, err := repo.Upsert(ctx, UserPatch{
		Username:    "frank",
		Email:       strPtr("frank@example.com"),
		Credentials: &domain.DelegatedCredentials{AccessKeyID: "AK", SecretAccessKey: "SK", SessionToken: "ST"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	u.Active = false
	u.Credentials.AccessKeyID = "mutated"

	got, _ := repo.GetByID(ctx, u.ID)
	if !got.Active || got.Credentials.AccessKeyID != "AK" {
		t.Error("callers must not be able to mutate stored records in place")
	}
	if repo.Len() != 1 {
		t.Errorf("Len = %d, want 1", repo.Len())
	}
}

func TestUserPatch_ApplyKeepsTripleAndExpiryTogether(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.FixedZone("X", 3600))
	u := &domain.User{CredentialsExpireAt: &exp}
	UserPatch{Credentials: &domain.DelegatedCredentials{AccessKeyID: "AK"}}.apply(u)
	if u.CredentialsExpireAt != nil {
		t.Error("new credentials without expiry should clear the old expiry")
	}
	UserPatch{Credentials: &domain.DelegatedCredentials{AccessKeyID: "AK"}, CredentialsExpireAt: &exp}.apply(u)
	if u.CredentialsExpireAt.Location() != time.UTC {
		t.Error("expiry should be stored in UTC")
	}
}
