package anthropic

import (
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	TokenEnvVarName = "ANTHROPIC_API_KEY" //nolint:gosec
)

// Defaults of the client
const (
	DefaultBaseURL        = "https://api.anthropic.com"
	DefaultMaxRetries     = 2
	DefaultRequestTimeout = 5 * time.Minute
)

// Options of the Anthropic client
type Options struct {
	Token          string
	Model          string
	BaseURL        string
	HTTPClient     option.HTTPClient
	MaxRetries     int
	RequestTimeout time.Duration
	// Beta lists the features sent in the anthropic-beta header
	Beta []string
}

// Option is a functional option for the Anthropic client.
type Option func(*Options)

// WithToken passes the API key, ANTHROPIC_API_KEY is used when not set.
func WithToken(token string) Option {
	return func(opts *Options) {
		opts.Token = token
	}
}

// WithModel sets the model used when a call does not name one.
func WithModel(model string) Option {
	return func(opts *Options) {
		opts.Model = model
	}
}

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(baseURL string) Option {
	return func(opts *Options) {
		opts.BaseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client, http.DefaultClient by default.
func WithHTTPClient(client option.HTTPClient) Option {
	return func(opts *Options) {
		opts.HTTPClient = client
	}
}

// WithMaxRetries sets the number of retries for failed requests.
func WithMaxRetries(retries int) Option {
	return func(opts *Options) {
		opts.MaxRetries = retries
	}
}

// WithRequestTimeout bounds each request, retries included.
func WithRequestTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.RequestTimeout = d
	}
}

// WithBeta enables beta features, they are sent in the anthropic-beta header.
func WithBeta(features ...string) Option {
	return func(opts *Options) {
		opts.Beta = append(opts.Beta, features...)
	}
}
