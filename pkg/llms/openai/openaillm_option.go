package openai

import (
	"github.com/openai/openai-go/v3/option"
)

const (
	TokenEnvVarName        = "OPENAI_API_KEY"      //nolint:gosec
	ModelEnvVarName        = "OPENAI_MODEL"        //nolint:gosec
	BaseURLEnvVarName      = "OPENAI_BASE_URL"     //nolint:gosec
	OrganizationEnvVarName = "OPENAI_ORGANIZATION" //nolint:gosec
)

// DefaultModel is used when neither options nor OPENAI_MODEL specify one.
const DefaultModel = "gpt-5-mini"

type options struct {
	token        string
	model        string
	baseURL      string
	organization string
	maxRetries   int
	httpClient   option.HTTPClient
}

// Option is a functional option for the OpenAI client.
type Option func(*options)

// WithToken passes the OpenAI API token to the client. If not set, the token
// is read from the OPENAI_API_KEY environment variable.
func WithToken(token string) Option {
	return func(opts *options) {
		opts.token = token
	}
}

// WithModel passes the OpenAI model to the client. If not set, the model
// is read from the OPENAI_MODEL environment variable.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithBaseURL passes the OpenAI base url to the client. If not set, the base url
// is read from the OPENAI_BASE_URL environment variable. If still not set,
// then the default value https://api.openai.com/v1 is used.
// Any OpenAI-compatible chat completions endpoint can be used.
func WithBaseURL(baseURL string) Option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

// WithOrganization passes the OpenAI organization to the client. If not set, the
// organization is read from the OPENAI_ORGANIZATION.
func WithOrganization(organization string) Option {
	return func(opts *options) {
		opts.organization = organization
	}
}

// WithMaxRetries sets the number of retries for failed requests.
func WithMaxRetries(retries int) Option {
	return func(opts *options) {
		opts.maxRetries = retries
	}
}

// WithHTTPClient allows setting a custom HTTP client. If not set, the default value
// is http.DefaultClient.
func WithHTTPClient(client option.HTTPClient) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}
