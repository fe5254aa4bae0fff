package llms

import (
	"context"
	"strings"
)

// ProviderType identifies the API family of a model backend
type ProviderType string

const (
	// ProviderOpenAI covers OpenAI and OpenAI-compatible gateways
	ProviderOpenAI ProviderType = "OPENAI"
	// ProviderAnthropic is the Anthropic Messages API
	ProviderAnthropic ProviderType = "ANTHROPIC"
)

// ParseProviderType returns the provider type for the configured API type.
// Empty and OPEN_AI are OpenAI, other values are returned upper-cased.
func ParseProviderType(apiType string) ProviderType {
	switch t := strings.ToUpper(strings.TrimSpace(apiType)); t {
	case "", "OPEN_AI":
		return ProviderOpenAI
	default:
		return ProviderType(t)
	}
}

// Model is a chat model with tool calling.
type Model interface {
	// GetName returns the default model name
	GetName() string
	// GetProviderType returns the API family of the backend
	GetProviderType() ProviderType
	// GenerateContent sends the conversation and returns the choices of the model.
	// With WithStreamingFunc the text is also delivered as it is produced.
	GenerateContent(ctx context.Context, messages []Message, options ...CallOption) (*ContentResponse, error)
}
