package service

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/deepskandpal/LangChef/internal/idp"
	userdomain "github.com/deepskandpal/LangChef/internal/user/domain"
	userrepo "github.com/deepskandpal/LangChef/internal/user/repository"
)

// ProfilePolicy controls how username, email and display name are derived from a provider principal.
type ProfilePolicy struct {
	// EmailDomain is used for placeholder addresses (username@EmailDomain) when the provider
	// exposes no email. Placeholders are low-fidelity and only identify the account locally.
	EmailDomain string
	// RequireProviderEmail rejects device logins whose identity has no provider email.
	RequireProviderEmail bool
}

func (p ProfilePolicy) domain() string {
	if p.EmailDomain == "" {
		return "example.com"
	}
	return p.EmailDomain
}

// UsernameFromARN returns the last path segment of a principal ARN, e.g. "alice" for
// "arn:aws:sts::123456789012:assumed-role/Developer/alice". Session names carrying an email
// are kept whole so principals from different domains stay distinct.
func UsernameFromARN(arn string) string {
	arn = strings.TrimSpace(arn)
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	if i := strings.LastIndex(arn, ":"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}

// placeholderEmail is username@domain. An "@" inside the username becomes "+" so the result
// is a single valid address that stays unique per username.
func (p ProfilePolicy) placeholderEmail(username string) string {
	local := strings.ReplaceAll(strings.ToLower(username), "@", "+")
	return local + "@" + p.domain()
}

// DisplayName turns a username into a display name: separators become spaces, words are title-cased.
func DisplayName(username string) string {
	words := strings.FieldsFunc(username, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || unicode.IsSpace(r)
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// externalID is the correlation id users are keyed by on both login paths.
func externalID(p idp.Principal) string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.ARN
}

// profilePatch builds the upsert for principal. existing is the current record for the principal,
// if any; placeholder email and display name are only written when creating or filling blanks.
// A successful login always marks the user active.
func (p ProfilePolicy) profilePatch(principal idp.Principal, providerEmail string, requireEmail bool, existing *userdomain.User) (userrepo.UserPatch, error) {
	username := UsernameFromARN(principal.ARN)
	if username == "" {
		return userrepo.UserPatch{}, fmt.Errorf("%w: principal has no name", ErrProfileUnavailable)
	}
	if providerEmail == "" && requireEmail {
		return userrepo.UserPatch{}, fmt.Errorf("%w: no email for %s", ErrProfileUnavailable, username)
	}
	patch := userrepo.UserPatch{
		ExternalID: externalID(principal),
		Username:   username,
	}
	switch {
	case providerEmail != "":
		email := strings.ToLower(strings.TrimSpace(providerEmail))
		patch.Email = &email
	case existing == nil || existing.Email == "":
		email := p.placeholderEmail(username)
		patch.Email = &email
	}
	if existing == nil || existing.FullName == "" {
		name := DisplayName(username)
		patch.FullName = &name
	}
	active := true
	patch.Active = &active
	return patch, nil
}
