// Package llmfactory creates LLM models from a provider configuration.
package llmfactory
