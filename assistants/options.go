package assistants

import (
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/store"
)

// Option is a function that can be used to modify the behavior of the Assistant Config.
type Option func(*Config)

type Config struct {
	// SystemPrompt is a text/template rendered with sprig functions before each model request.
	// The template receives PromptData.
	SystemPrompt string

	// Model is the model to use in an LLM call.
	Model    string
	modelSet bool

	// MaxTokens is the maximum number of tokens to generate to use in an LLM call.
	MaxTokens    int
	maxTokensSet bool

	// Temperature is the temperature for sampling to use in an LLM call, between 0 and 1.
	Temperature    float64
	temperatureSet bool

	// TopP is the cumulative probability for nucleus sampling, 0 leaves the provider default.
	TopP float64

	// StopWords end the generation when produced by the model.
	StopWords []string

	// CallbackHandler is the callback handler for the conversation loop
	CallbackHandler Callback

	// QualifiedToolNames exposes tools to the model as `server__tool`
	QualifiedToolNames bool

	// MaxIterations caps the number of model requests in one turn,
	// 0 means no limit.
	MaxIterations int

	// Store keeps the history, in memory by default.
	Store store.MessageStore
}

func NewConfig(opts ...Option) *Config {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithSystemPrompt sets the system prompt template.
func WithSystemPrompt(prompt string) Option {
	return func(o *Config) {
		o.SystemPrompt = prompt
	}
}

// WithModel is an option for LLM.Call.
func WithModel(model string) Option {
	return func(o *Config) {
		o.Model = model
		o.modelSet = true
	}
}

// WithMaxTokens is an option for LLM.Call.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Config) {
		o.MaxTokens = maxTokens
		o.maxTokensSet = true
	}
}

// WithTemperature is an option for LLM.Call.
func WithTemperature(temperature float64) Option {
	return func(o *Config) {
		o.Temperature = temperature
		o.temperatureSet = true
	}
}

// WithTopP sets the nucleus sampling probability for LLM.Call.
func WithTopP(topP float64) Option {
	return func(o *Config) {
		o.TopP = topP
	}
}

// WithStopWords sets the stop sequences for LLM.Call.
func WithStopWords(words ...string) Option {
	return func(o *Config) {
		o.StopWords = append(o.StopWords, words...)
	}
}

// WithCallback allows setting a custom Callback Handler.
func WithCallback(callbackHandler Callback) Option {
	return func(o *Config) {
		o.CallbackHandler = callbackHandler
	}
}

// WithQualifiedToolNames exposes the tools to the model by qualified name.
func WithQualifiedToolNames(qualified bool) Option {
	return func(o *Config) {
		o.QualifiedToolNames = qualified
	}
}

// WithMaxIterations caps the number of model requests in one turn.
func WithMaxIterations(n int) Option {
	return func(o *Config) {
		o.MaxIterations = n
	}
}

// WithMessageStore sets the history backend.
func WithMessageStore(st store.MessageStore) Option {
	return func(o *Config) {
		o.Store = st
	}
}

// GetCallOptions returns the LLM call options for the config,
// followed by the extra options.
func (c *Config) GetCallOptions(extra ...llms.CallOption) []llms.CallOption {
	var callOptions []llms.CallOption
	if c.modelSet {
		callOptions = append(callOptions, llms.WithModel(c.Model))
	}
	if c.maxTokensSet {
		callOptions = append(callOptions, llms.WithMaxTokens(c.MaxTokens))
	}
	if c.temperatureSet {
		callOptions = append(callOptions, llms.WithTemperature(c.Temperature))
	}
	if c.TopP > 0 {
		callOptions = append(callOptions, llms.WithTopP(c.TopP))
	}
	if len(c.StopWords) > 0 {
		callOptions = append(callOptions, llms.WithStopWords(c.StopWords))
	}
	return append(callOptions, extra...)
}
