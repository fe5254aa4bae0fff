package llmfactory

import (
	"slices"

	"github.com/effective-security/x/configloader"
)

type Config struct {
	// Providers specifies the list of providers to use
	Providers []*ProviderConfig `json:"providers" yaml:"providers" toml:"providers" validate:"omitempty,dive"`
	// DefaultProvider specifies the default provider to use
	DefaultProvider string `json:"default_provider" yaml:"default_provider" toml:"default_provider"`
}

// ProviderConfig describes one LLM provider
type ProviderConfig struct {
	Name            string       `json:"name" yaml:"name" toml:"name" validate:"required"`
	Token           string       `json:"token,omitempty" yaml:"token,omitempty" toml:"token"`
	DefaultModel    string       `json:"default_model,omitempty" yaml:"default_model,omitempty" toml:"default_model"`
	AvailableModels []string     `json:"available_models,omitempty" yaml:"available_models,omitempty" toml:"available_models"`
	OpenAI          OpenAIConfig `json:"open_ai" yaml:"open_ai" toml:"open_ai"`
}

// OpenAIConfig specifies the API options
type OpenAIConfig struct {
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url"`
	// APIType specifies the type of API to use: OPENAI|ANTHROPIC
	APIType string `json:"api_type,omitempty" yaml:"api_type,omitempty" toml:"api_type"`
	// OrgID specifies which organization's quota and billing should be used when making API requests.
	OrgID string `json:"org_id,omitempty" yaml:"org_id,omitempty" toml:"org_id"`
	// Beta lists the anthropic-beta features, ANTHROPIC only.
	Beta []string `json:"beta,omitempty" yaml:"beta,omitempty" toml:"beta"`
}

// FindModel returns the first of models served by the provider,
// or the provider's default model.
func (c *ProviderConfig) FindModel(models ...string) string {
	for _, model := range models {
		if slices.Contains(c.AvailableModels, model) {
			return model
		}
	}
	return c.DefaultModel
}

// Provider returns the provider by name
func (c *Config) Provider(name string) *ProviderConfig {
	for _, p := range c.Providers {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// LoadConfig from file
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
