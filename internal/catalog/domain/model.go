package domain

// Provider names as returned to clients.
const (
	ProviderOpenAI  = "openai"
	ProviderBedrock = "aws_bedrock"
)

// Model is one entry of the model catalog.
type Model struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Provider          string   `json:"provider"`
	Description       string   `json:"description"`
	SupportedFeatures []string `json:"supported_features"`
}
