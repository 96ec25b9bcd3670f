// seed creates a development user and prints a session token for it, so the API can be exercised
// locally without an IAM Identity Center instance. Idempotent: an existing dev user is reused.
// Refuses to run with APP_ENV=production.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/deepskandpal/LangChef/internal/config"
	"github.com/deepskandpal/LangChef/internal/db"
	"github.com/deepskandpal/LangChef/internal/identity/service"
	"github.com/deepskandpal/LangChef/internal/security"
	userrepo "github.com/deepskandpal/LangChef/internal/user/repository"
)

const (
	devUsername   = "dev.user"
	devExternalID = "AIDADEVUSER"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Env == "production" {
		log.Fatal("seed: refusing to run with APP_ENV=production")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	users := userrepo.NewPostgresRepository(conn)

	email := devUsername + "@" + cfg.ProfileEmailDomain
	fullName := service.DisplayName(devUsername)
	active := true
	u, err := users.Upsert(ctx, userrepo.UserPatch{
		ExternalID: devExternalID,
		Username:   devUsername,
		Email:      &email,
		FullName:   &fullName,
		Active:     &active,
	})
	if err != nil {
		log.Fatalf("upsert dev user: %v", err)
	}

	tokens, err := security.NewTokenProviderFromConfig(security.SigningConfig{
		Secret:     cfg.JWTSecret,
		PrivateKey: cfg.JWTPrivateKey,
		PublicKey:  cfg.JWTPublicKey,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		TTL:        cfg.AccessTTL(),
	})
	if err != nil {
		log.Fatalf("token signing: %v", err)
	}
	sess, err := service.NewSessions(tokens, service.Options{}).Issue(u)
	if err != nil {
		log.Fatalf("issue session: %v", err)
	}

	log.Printf("dev user %s (%s) ready; it has no delegated AWS credentials", u.Username, u.ID)
	fmt.Println(sess.AccessToken)
}
