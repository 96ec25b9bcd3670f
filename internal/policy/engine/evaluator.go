package engine

import (
	"context"

	userdomain "github.com/deepskandpal/LangChef/internal/user/domain"
)

// Operation names checked by the access policy.
const (
	OperationModelsList    = "models.list"
	OperationModelsBedrock = "models.bedrock"
	OperationCredentials   = "credentials.status"
)

// AccessInput is what the access policy sees for one request.
type AccessInput struct {
	Operation string
	User      *userdomain.User
	// DelegatedValid is the result of the live delegated credential check. Only meaningful when
	// the operation requires delegated access.
	DelegatedValid bool
}

// Evaluator decides whether an operation needs live delegated credentials and whether a user may perform it.
type Evaluator interface {
	RequiresDelegated(ctx context.Context, operation string) (bool, error)
	Allow(ctx context.Context, in AccessInput) (bool, error)
}
