package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/deepskandpal/LangChef/internal/policy/engine"
	"github.com/deepskandpal/LangChef/internal/server/respond"
	userdomain "github.com/deepskandpal/LangChef/internal/user/domain"
)

// CredentialChecker performs the live delegated credential check (implemented by *service.SessionValidator).
type CredentialChecker interface {
	ValidateDelegatedCredentials(ctx context.Context, u *userdomain.User) bool
}

// RequireDelegatedAccess asks the access policy whether the context user may perform operation.
// The live credential check only runs when the policy says the operation needs delegated access.
// Must run after an Authenticator. Policy errors fail closed.
func RequireDelegatedAccess(policy engine.Evaluator, checker CredentialChecker, operation string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			u, ok := UserFrom(ctx)
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respond.Error(w, http.StatusUnauthorized, "invalid_token", "Could not validate credentials")
				return
			}
			requires, err := policy.RequiresDelegated(ctx, operation)
			if err != nil {
				logger.Error("access: policy evaluation failed", "operation", operation, "error", err)
				respond.Error(w, http.StatusForbidden, "access_denied", "")
				return
			}
			in := engine.AccessInput{Operation: operation, User: u}
			if requires {
				in.DelegatedValid = checker.ValidateDelegatedCredentials(ctx, u)
			}
			allowed, err := policy.Allow(ctx, in)
			if err != nil {
				logger.Error("access: policy evaluation failed", "operation", operation, "error", err)
				allowed = false
			}
			if !allowed {
				if requires && !in.DelegatedValid {
					w.Header().Set("X-AWS-Session-Expired", "true")
					respond.Error(w, http.StatusForbidden, "delegated_access_required", "Valid AWS credentials are required, please log in again")
					return
				}
				respond.Error(w, http.StatusForbidden, "access_denied", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
