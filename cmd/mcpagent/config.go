package main

import (
	"fmt"

	"github.com/effective-security/mcpagent/config"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/spf13/cobra"
)

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON Schema of the configuration file",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				_, err := fmt.Fprintln(c.stdout, llmutils.ToJSONIndent(config.Schema()))
				return err
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration file",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(c.stdout, "%s is valid: %d servers, %d LLM providers\n",
					c.configFile, len(cfg.ServerNames()), len(cfg.LLM.Providers))
				return err
			},
		},
	)
	return cmd
}
