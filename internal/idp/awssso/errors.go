package awssso

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ssooidc/types"
	"github.com/aws/smithy-go"

	"github.com/deepskandpal/LangChef/internal/idp"
)

// classifyCreateTokenErr maps the typed CreateToken exceptions onto the closed outcome set.
// InvalidGrantException is reported by the service while the grant is not yet usable and is
// treated as pending.
func classifyCreateTokenErr(err error) (idp.Outcome, bool) {
	var (
		pending      *types.AuthorizationPendingException
		slowDown     *types.SlowDownException
		expired      *types.ExpiredTokenException
		denied       *types.AccessDeniedException
		invalidGrant *types.InvalidGrantException
	)
	switch {
	case errors.As(err, &pending), errors.As(err, &invalidGrant):
		return idp.OutcomePending, true
	case errors.As(err, &slowDown):
		return idp.OutcomeSlowDown, true
	case errors.As(err, &expired):
		return idp.OutcomeExpired, true
	case errors.As(err, &denied):
		return idp.OutcomeDenied, true
	}
	return 0, false
}

func providerErr(op string, err error) error {
	if errors.Is(err, idp.ErrProviderUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", idp.ErrProviderUnavailable, op, describe(err))
}

// describe reduces SDK errors to their API error code so request parameters never reach logs.
// Context errors are kept as is so callers can match them.
func describe(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &apiError{code: apiErr.ErrorCode(), fault: apiErr.ErrorFault()}
	}
	return err
}

type apiError struct {
	code  string
	fault smithy.ErrorFault
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %s (%s fault)", e.code, e.fault)
}
