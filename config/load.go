package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/pkg/llmfactory"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// orderedDocument is the JSON and YAML file layout,
// the servers keep the document order.
type orderedDocument struct {
	Servers *orderedmap.OrderedMap[string, *mcp.ServerDescriptor] `json:"servers" yaml:"servers"`
	LLM     llmfactory.Config                                     `json:"llm,omitempty" yaml:"llm,omitempty"`
	Agent   Agent                                                 `json:"agent,omitempty" yaml:"agent,omitempty"`
}

// Load reads and validates the configuration file
func Load(file string) (*Config, error) {
	file = values.StringsCoalesce(file, DefaultFile)
	if _, err := os.Stat(file); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "unable to load %s", file)
		}
		return nil, errors.WithStack(err)
	}

	var (
		cfg *Config
		err error
	)
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json", ".yaml", ".yml":
		cfg, err = decodeOrdered(file)
	case ".toml":
		cfg, err = decodeTOML(file)
	default:
		return nil, errors.Newf("unsupported configuration format: %s", file)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load configuration: %s", file)
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	logger.KV(xlog.INFO,
		"status", "loaded",
		"file", file,
		"servers", cfg.ServerNames(),
	)
	return cfg, nil
}

// decodeOrdered decodes a JSON or YAML file,
// variables are expanded in every section after decoding.
func decodeOrdered(file string) (*Config, error) {
	var doc orderedDocument
	if err := configloader.Unmarshal(file, &doc); err != nil {
		return nil, err
	}

	if doc.Servers != nil {
		for pair := doc.Servers.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Value == nil {
				continue
			}
			if err := configloader.ExpandAll(pair.Value); err != nil {
				return nil, errors.Wrapf(err, "server %q", pair.Key)
			}
			setDefaults(pair.Key, pair.Value)
		}
	}
	if err := configloader.ExpandAll(&doc.LLM); err != nil {
		return nil, errors.Wrap(err, "llm")
	}
	if err := configloader.ExpandAll(&doc.Agent); err != nil {
		return nil, errors.Wrap(err, "agent")
	}

	return &Config{
		Servers: doc.Servers,
		LLM:     doc.LLM,
		Agent:   doc.Agent,
	}, nil
}

// decodeTOML decodes the file with environment variables expanded,
// the servers are ordered by the decoded keys.
func decodeTOML(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var doc document
	md, err := toml.Decode(os.ExpandEnv(string(data)), &doc)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		logger.KV(xlog.WARNING,
			"status", "unknown_keys",
			"file", file,
			"keys", undecoded,
		)
	}

	cfg := &Config{
		LLM:   doc.LLM,
		Agent: doc.Agent,
	}
	if doc.Servers == nil {
		return cfg, nil
	}

	cfg.Servers = orderedmap.New[string, *mcp.ServerDescriptor]()
	for _, key := range md.Keys() {
		if len(key) != 2 || key[0] != "servers" {
			continue
		}
		name := key[1]
		if _, present := cfg.Servers.Get(name); present {
			continue
		}
		desc := doc.Servers[name]
		setDefaults(name, desc)
		cfg.Servers.Set(name, desc)
	}
	return cfg, nil
}

func setDefaults(name string, desc *mcp.ServerDescriptor) {
	if desc == nil {
		return
	}
	desc.Name = name
	desc.Type = values.StringsCoalesce(desc.Type, mcp.TransportStdio)
}
