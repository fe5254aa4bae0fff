// Command mcpagent connects to the configured tool servers
// and chats with a language model that can call their tools.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/config"
	"github.com/effective-security/xlog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "cmd")

// Version is set at build time
var Version = "dev"

type cli struct {
	configFile string
	llmConfig  string
	envFile    string
	logLevel   string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	c := &cli{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	if err := c.rootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mcpagent",
		Short:         "MCP multi-server agent",
		Long:          "mcpagent aggregates the tools of the configured MCP servers and exposes them to a language model.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
	}
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", config.DefaultFile, "path to the servers configuration: json, yaml or toml")
	flags.StringVar(&c.llmConfig, "llm-config", "", "path to a standalone LLM providers configuration")
	flags.StringVar(&c.envFile, "env-file", ".env", "path to the .env file, ignored if absent")
	flags.StringVar(&c.logLevel, "log-level", "warning", "log level: trace|debug|info|notice|warning|error|critical")

	root.AddCommand(
		c.chatCmd(),
		c.toolsCmd(),
		c.configCmd(),
		c.versionCmd(),
	)
	return root
}

func (c *cli) setup() error {
	level, err := parseLogLevel(c.logLevel)
	if err != nil {
		return err
	}
	xlog.SetFormatter(xlog.NewStringFormatter(c.stderr))
	xlog.SetGlobalLogLevel(level)

	if c.envFile != "" {
		if _, err := os.Stat(c.envFile); err == nil {
			if err := godotenv.Load(c.envFile); err != nil {
				return errors.Wrapf(err, "failed to load env file: %s", c.envFile)
			}
			logger.KV(xlog.DEBUG, "status", "env_loaded", "file", c.envFile)
		}
	}
	return nil
}

func parseLogLevel(s string) (xlog.LogLevel, error) {
	switch strings.ToLower(s) {
	case "trace":
		return xlog.TRACE, nil
	case "debug":
		return xlog.DEBUG, nil
	case "info":
		return xlog.INFO, nil
	case "notice":
		return xlog.NOTICE, nil
	case "warning", "warn", "":
		return xlog.WARNING, nil
	case "error":
		return xlog.ERROR, nil
	case "critical":
		return xlog.CRITICAL, nil
	}
	return xlog.WARNING, errors.Newf("invalid log level: %s", s)
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(c.stdout, "mcpagent %s\n", Version)
			return err
		},
	}
}
