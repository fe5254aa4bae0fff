package main

import (
	"context"
	"fmt"

	"github.com/effective-security/mcpagent/catalog"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/spf13/cobra"
)

type toolInfo struct {
	Name        string         `json:"name" yaml:"name"`
	Server      string         `json:"server" yaml:"server"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
}

type toolsReport struct {
	Fingerprint string                   `json:"fingerprint" yaml:"fingerprint"`
	Servers     []catalog.ConnectionInfo `json:"servers" yaml:"servers"`
	Tools       []toolInfo               `json:"tools" yaml:"tools"`
}

func (c *cli) toolsCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools of the configured servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runTools(cmd.Context(), asYAML)
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print as YAML, JSON otherwise")
	return cmd
}

func (c *cli) runTools(ctx context.Context, asYAML bool) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	dialer, err := newDialer()
	if err != nil {
		return err
	}

	mgr := connect(ctx, cfg, dialer, c.stderr)
	defer mgr.ShutdownAll(context.Background())

	report := toolsReport{
		Fingerprint: mgr.Fingerprint(),
		Servers:     mgr.Connections(),
		Tools:       []toolInfo{},
	}
	for _, t := range mgr.ListAllTools() {
		report.Tools = append(report.Tools, toolInfo{
			Name:        catalog.QualifiedName(t.Server, t.Name),
			Server:      t.Server,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	if asYAML {
		_, err = fmt.Fprint(c.stdout, llmutils.ToYAML(report))
	} else {
		_, err = fmt.Fprintln(c.stdout, llmutils.ToJSONIndent(report))
	}
	return err
}
