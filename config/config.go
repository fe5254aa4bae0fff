// Package config loads the server declarations and agent settings.
//
// The file is JSON, YAML or TOML, the format is selected by the extension.
// Server declaration order is preserved: it defines the tool catalog order.
package config

import (
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/pkg/llmfactory"
	"github.com/effective-security/mcpagent/pkg/schema"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "config")

// DefaultFile is the configuration file used when none is specified
const DefaultFile = "mcp-config.json"

var (
	// ErrNotFound is returned when the configuration file does not exist
	ErrNotFound = errors.New("configuration file not found")
	// ErrInvalid is returned when the configuration fails validation
	ErrInvalid = errors.New("invalid configuration")
)

// Config is the loaded configuration
type Config struct {
	// Servers are the tool servers, in declaration order
	Servers *orderedmap.OrderedMap[string, *mcp.ServerDescriptor]
	// LLM is the completion providers configuration
	LLM llmfactory.Config
	// Agent is the conversation settings
	Agent Agent
}

// Agent specifies the conversation settings
type Agent struct {
	// SystemPrompt is a template, rendered on every request
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty" toml:"system_prompt"`
	// Model overrides the default model of the provider
	Model string `json:"model,omitempty" yaml:"model,omitempty" toml:"model"`
	// MaxTokens limits the completion size, 0 uses the provider default
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" toml:"max_tokens" validate:"gte=0"`
	// Temperature of the completion
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature" validate:"gte=0,lte=2"`
	// MaxIterations caps the model round trips of one turn, 0 is unbounded
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty" toml:"max_iterations" validate:"gte=0"`
	// QualifiedToolNames exposes tools to the model as server__tool
	QualifiedToolNames bool `json:"qualified_tool_names,omitempty" yaml:"qualified_tool_names,omitempty" toml:"qualified_tool_names"`
	// ShutdownTimeout in seconds, bounds the shutdown of all servers
	ShutdownTimeout int `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty" toml:"shutdown_timeout" validate:"gte=0"`
	// ConnectTimeout in seconds, bounds the connection of each server, 0 uses the default
	ConnectTimeout int `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty" toml:"connect_timeout" validate:"gte=0"`
	// TopP is the nucleus sampling probability, 0 uses the provider default
	TopP float64 `json:"top_p,omitempty" yaml:"top_p,omitempty" toml:"top_p" validate:"gte=0,lte=1"`
	// Stop are the sequences that end the completion
	Stop []string `json:"stop,omitempty" yaml:"stop,omitempty" toml:"stop"`
	// Concurrency limits the number of servers connected at once, 0 is unlimited
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty" toml:"concurrency" validate:"gte=0"`
}

// document is the file layout, used for the schema and TOML
type document struct {
	// Servers maps the server name to its declaration
	Servers map[string]*mcp.ServerDescriptor `json:"servers" yaml:"servers" toml:"servers" jsonschema:"required"`
	// LLM is the completion providers configuration
	LLM llmfactory.Config `json:"llm,omitempty" yaml:"llm,omitempty" toml:"llm"`
	// Agent is the conversation settings
	Agent Agent `json:"agent,omitempty" yaml:"agent,omitempty" toml:"agent"`
}

// Descriptors returns the enabled and disabled servers in declaration order
func (c *Config) Descriptors() []mcp.ServerDescriptor {
	if c.Servers == nil {
		return nil
	}
	list := make([]mcp.ServerDescriptor, 0, c.Servers.Len())
	for pair := c.Servers.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, *pair.Value)
	}
	return list
}

// ServerNames returns the server names in declaration order
func (c *Config) ServerNames() []string {
	if c.Servers == nil {
		return nil
	}
	names := make([]string, 0, c.Servers.Len())
	for pair := c.Servers.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Server returns the server declaration by name
func (c *Config) Server(name string) (*mcp.ServerDescriptor, bool) {
	if c.Servers == nil {
		return nil, false
	}
	return c.Servers.Get(name)
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Servers == nil {
		return errors.Wrap(ErrInvalid, `"servers" field is required`)
	}

	validate := validator.New()
	for pair := c.Servers.Oldest(); pair != nil; pair = pair.Next() {
		desc := pair.Value
		if desc == nil {
			return errors.Wrapf(ErrInvalid, "server %q: declaration is empty", pair.Key)
		}
		if err := validate.Struct(desc); err != nil {
			return errors.Wrapf(ErrInvalid, "server %q: %v", pair.Key, err)
		}
		if desc.Type == mcp.TransportSSE {
			if err := validate.Var(desc.URL, "url"); err != nil {
				return errors.Wrapf(ErrInvalid, "server %q: invalid url: %s", pair.Key, desc.URL)
			}
		}
	}

	if err := validate.Struct(&c.Agent); err != nil {
		return errors.Wrapf(ErrInvalid, "agent: %v", err)
	}
	if err := validate.Struct(&c.LLM); err != nil {
		return errors.Wrapf(ErrInvalid, "llm: %v", err)
	}
	if c.LLM.DefaultProvider != "" && c.LLM.Provider(c.LLM.DefaultProvider) == nil {
		return errors.Wrapf(ErrInvalid, "llm: default provider %q is not configured", c.LLM.DefaultProvider)
	}
	return nil
}

// Schema returns the JSON Schema of the configuration file
func Schema() *jsonschema.Schema {
	s := schema.JSONSchema(reflect.TypeFor[document]())
	s.Title = "mcpagent configuration"
	return s
}
