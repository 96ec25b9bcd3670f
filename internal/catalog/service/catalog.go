// Package service serves the model catalog. Bedrock models are listed only to users whose
// delegated credentials pass the live check.
package service

import (
	"context"
	"log/slog"

	"github.com/deepskandpal/LangChef/internal/catalog/domain"
	userdomain "github.com/deepskandpal/LangChef/internal/user/domain"
)

// CredentialChecker performs the live delegated credential check.
type CredentialChecker interface {
	ValidateDelegatedCredentials(ctx context.Context, u *userdomain.User) bool
}

var chatFeatures = []string{"text-generation", "chat"}

var openAIModels = []domain.Model{
	{ID: "gpt-4", Name: "GPT-4", Provider: domain.ProviderOpenAI, Description: "OpenAI GPT-4 model"},
	{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Provider: domain.ProviderOpenAI, Description: "OpenAI GPT-3.5 Turbo model"},
}

var bedrockModels = []domain.Model{
	{ID: "anthropic.claude-v2", Name: "Claude 2", Provider: domain.ProviderBedrock, Description: "Anthropic Claude 2 via AWS Bedrock"},
	{ID: "anthropic.claude-instant-v1", Name: "Claude Instant", Provider: domain.ProviderBedrock, Description: "Anthropic Claude Instant via AWS Bedrock"},
	{ID: "anthropic.claude-3-sonnet-20240229-v1:0", Name: "Claude 3 Sonnet", Provider: domain.ProviderBedrock, Description: "Anthropic Claude 3 Sonnet via AWS Bedrock"},
	{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku", Provider: domain.ProviderBedrock, Description: "Anthropic Claude 3 Haiku via AWS Bedrock"},
	{ID: "anthropic.claude-3-opus-20240229-v1:0", Name: "Claude 3 Opus", Provider: domain.ProviderBedrock, Description: "Anthropic Claude 3 Opus via AWS Bedrock"},
}

// Catalog lists models.
type Catalog struct {
	checker CredentialChecker
	logger  *slog.Logger
}

// NewCatalog returns a Catalog. logger may be nil.
func NewCatalog(checker CredentialChecker, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{checker: checker, logger: logger}
}

// Available returns the OpenAI models and, when u's delegated credentials validate, the Bedrock models.
func (c *Catalog) Available(ctx context.Context, u *userdomain.User) []domain.Model {
	out := clone(openAIModels)
	if !u.HasDelegatedAccess() {
		return out
	}
	if !c.checker.ValidateDelegatedCredentials(ctx, u) {
		c.logger.DebugContext(ctx, "catalog: bedrock models withheld", "user_id", u.ID)
		return out
	}
	return append(out, clone(bedrockModels)...)
}

// Bedrock returns the Bedrock models. Callers gate it on delegated access.
func (c *Catalog) Bedrock() []domain.Model {
	return clone(bedrockModels)
}

func clone(models []domain.Model) []domain.Model {
	out := make([]domain.Model, len(models))
	for i, m := range models {
		m.SupportedFeatures = append([]string(nil), chatFeatures...)
		out[i] = m
	}
	return out
}
