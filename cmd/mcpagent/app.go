package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/catalog"
	"github.com/effective-security/mcpagent/config"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/localtransport"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/llmfactory"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/xlog"
)

func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return nil, err
	}
	if c.llmConfig != "" {
		llmCfg, err := llmfactory.LoadConfig(c.llmConfig)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load LLM configuration: %s", c.llmConfig)
		}
		cfg.LLM = *llmCfg
	}
	return cfg, nil
}

// newDialer returns the dialer for all transports,
// local servers are served in-process.
func newDialer() (mcp.Dialer, error) {
	builtin, err := tools.NewBuiltinServer(Version, nil)
	if err != nil {
		return nil, err
	}
	local := localtransport.NewDialer().
		Register(tools.BuiltinServerName, builtin)
	return transport.New().Register(mcp.TransportLocal, local), nil
}

// connect initializes the catalog and reports the result to w
func connect(ctx context.Context, cfg *config.Config, dialer mcp.Dialer, w io.Writer) *catalog.Manager {
	opts := []catalog.Option{
		catalog.WithConcurrency(cfg.Agent.Concurrency),
	}
	if cfg.Agent.ConnectTimeout > 0 {
		opts = append(opts, catalog.WithConnectTimeout(time.Duration(cfg.Agent.ConnectTimeout)*time.Second))
	}
	if cfg.Agent.ShutdownTimeout > 0 {
		opts = append(opts, catalog.WithShutdownTimeout(time.Duration(cfg.Agent.ShutdownTimeout)*time.Second))
	}

	mgr := catalog.New(dialer, opts...)
	res := mgr.Initialize(ctx, cfg.Descriptors())

	for _, name := range cfg.ServerNames() {
		if err, ok := res.Failed[name]; ok {
			_, _ = fmt.Fprintf(w, "Failed to connect to %s: %s\n", name, err.Error())
		}
	}
	_, _ = fmt.Fprintf(w, "Successfully connected to %d/%d servers\n", res.Connected, res.Total)
	mgr.DisplayStats(w)
	return mgr
}

// newModel returns the model of the named provider, or the default one.
// Without configured providers, OpenAI is used with the settings from the environment.
func newModel(cfg *config.Config, provider string) (llms.Model, error) {
	if len(cfg.LLM.Providers) == 0 {
		if provider != "" {
			return nil, errors.Newf("provider not found: %s", provider)
		}
		logger.KV(xlog.INFO, "status", "default_provider", "type", llms.ProviderOpenAI)
		return llmfactory.NewLLM(&llmfactory.ProviderConfig{
			Name:   "openai",
			OpenAI: llmfactory.OpenAIConfig{APIType: string(llms.ProviderOpenAI)},
		})
	}

	f := llmfactory.New(&cfg.LLM)
	switch {
	case provider != "":
		if cfg.LLM.Provider(provider) != nil {
			return f.ModelByProvider(provider)
		}
		return f.ModelByType(provider)
	case cfg.Agent.Model != "":
		return f.ModelByName(cfg.Agent.Model)
	default:
		return f.DefaultModel()
	}
}
