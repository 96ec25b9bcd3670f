package service

import (
	"errors"
	"fmt"

	"github.com/deepskandpal/LangChef/internal/idp"
	"github.com/deepskandpal/LangChef/internal/security"
	userrepo "github.com/deepskandpal/LangChef/internal/user/repository"
)

// Sentinel errors for the login flows and the session validator; handlers map them to HTTP
// status codes. Pending, slow-down, expired and denied are poll outcomes, not errors.
var (
	// ErrProviderUnavailable is a transport or provider failure. The caller may retry.
	ErrProviderUnavailable = idp.ErrProviderUnavailable
	// ErrInvalidArgument is returned when a required request field is empty.
	ErrInvalidArgument = errors.New("client_id, client_secret and device_code are required")
	// ErrDeviceCodeConsumed is returned when a device code that already produced a session is polled again.
	ErrDeviceCodeConsumed = errors.New("device code already exchanged")
	// ErrProfileUnavailable is returned when the provider identity carries no usable profile and
	// placeholders are not allowed.
	ErrProfileUnavailable = errors.New("identity provider returned no usable profile")
	// ErrProfileConflict is returned when the derived username or email already belongs to
	// another principal.
	ErrProfileConflict = errors.New("username or email already belongs to another identity")

	ErrInvalidToken = security.ErrInvalidToken
	ErrTokenExpired = security.ErrTokenExpired
	// ErrDelegatedCredentialsExpired means the session is valid but delegated access has lapsed.
	ErrDelegatedCredentialsExpired = errors.New("delegated credentials expired")
	ErrUserInactive                = errors.New("user is inactive")

	// ErrCredentialsNotConfigured is returned by the direct login path when no ambient credentials exist.
	ErrCredentialsNotConfigured = errors.New("ambient credentials not configured")
	// ErrIdentityLookupFailed is returned when the caller-identity call fails.
	ErrIdentityLookupFailed = idp.ErrLookupFailed
)

// failureClass returns a low-cardinality label for err, used in metrics and audit events.
func failureClass(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrIdentityLookupFailed):
		return "identity_lookup_failed"
	case errors.Is(err, ErrCredentialsNotConfigured):
		return "credentials_not_configured"
	case errors.Is(err, ErrProfileUnavailable):
		return "profile_unavailable"
	case errors.Is(err, ErrProfileConflict):
		return "profile_conflict"
	case errors.Is(err, ErrUserInactive):
		return "user_inactive"
	case errors.Is(err, ErrDeviceCodeConsumed):
		return "device_code_consumed"
	default:
		return "internal"
	}
}

// upsertErr wraps a user store failure, turning uniqueness violations into ErrProfileConflict.
func upsertErr(op string, err error) error {
	if errors.Is(err, userrepo.ErrConflict) {
		return fmt.Errorf("%s: %w: %w", op, ErrProfileConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
