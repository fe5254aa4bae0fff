package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/assistants"
	"github.com/effective-security/mcpagent/callbacks"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
)

type chatFlags struct {
	stream     bool
	verbose    bool
	provider   string
	transcript string
}

// chatter is the conversation used by the console loop
type chatter interface {
	Chat(ctx context.Context, input string) (string, error)
	ChatStream(ctx context.Context, input string) iter.Seq2[string, error]
	ClearHistory()
	History() []llms.Message
}

func (c *cli) chatCmd() *cobra.Command {
	var f chatFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.runChat(ctx, &f)
		},
	}
	cmd.Flags().BoolVar(&f.stream, "stream", false, "stream the responses")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "print the model and tool calls")
	cmd.Flags().StringVar(&f.provider, "provider", "", "LLM provider name or type, the default provider if empty")
	cmd.Flags().StringVar(&f.transcript, "transcript", "", "write the session transcript and statistics to the file")
	return cmd
}

func (c *cli) runChat(ctx context.Context, f *chatFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	model, err := newModel(cfg, f.provider)
	if err != nil {
		return errors.Wrap(err, "failed to create LLM")
	}
	dialer, err := newDialer()
	if err != nil {
		return err
	}

	displayWelcome(c.stdout)

	mgr := connect(ctx, cfg, dialer, c.stdout)
	defer mgr.ShutdownAll(context.Background())

	handlers := callbacks.NewFanout(callbacks.NewPackageLogger(logger))
	if f.verbose {
		handlers.Add(callbacks.NewPrinter(c.stderr, callbacks.ModeVerbose))
	}

	var pad *callbacks.Scratchpad
	if f.transcript != "" {
		pad = callbacks.NewScratchpad(callbacks.ModeVerbose)
		handlers.Add(pad)
		pad.StartRun()
	}

	opts := []assistants.Option{
		assistants.WithCallback(handlers),
		assistants.WithQualifiedToolNames(cfg.Agent.QualifiedToolNames),
		assistants.WithMaxIterations(cfg.Agent.MaxIterations),
	}
	if cfg.Agent.SystemPrompt != "" {
		opts = append(opts, assistants.WithSystemPrompt(cfg.Agent.SystemPrompt))
	}
	if cfg.Agent.Model != "" {
		opts = append(opts, assistants.WithModel(cfg.Agent.Model))
	}
	if cfg.Agent.MaxTokens > 0 {
		opts = append(opts, assistants.WithMaxTokens(cfg.Agent.MaxTokens))
	}
	if cfg.Agent.Temperature > 0 {
		opts = append(opts, assistants.WithTemperature(cfg.Agent.Temperature))
	}
	if cfg.Agent.TopP > 0 {
		opts = append(opts, assistants.WithTopP(cfg.Agent.TopP))
	}
	if len(cfg.Agent.Stop) > 0 {
		opts = append(opts, assistants.WithStopWords(cfg.Agent.Stop...))
	}

	ast, err := assistants.New(model, mgr, opts...)
	if err != nil {
		return err
	}
	logger.KV(xlog.INFO,
		"status", "chat_started",
		"model", ast.ModelName(),
		"tools", ast.ToolsCount(),
		"fingerprint", mgr.Fingerprint(),
	)

	err = chatLoop(ctx, ast, c.stdin, c.stdout, f.stream)

	if pad != nil {
		stats, transcript := pad.EndRun()
		if werr := os.WriteFile(f.transcript, transcript, 0o600); werr != nil {
			logger.KV(xlog.ERROR, "reason", "write_transcript", "file", f.transcript, "err", werr.Error())
		} else if stats != nil {
			_, _ = fmt.Fprintf(c.stdout, "Transcript: %s, %d turns, %d tool calls, %d tokens\n",
				f.transcript, stats.ChatTurns, stats.ToolsCalls, stats.LLMTotalTokens)
		}
	}
	return err
}

func displayWelcome(w io.Writer) {
	line := strings.Repeat("=", 60)
	_, _ = fmt.Fprintf(w, "\n%s\nMCP Multi-Server Agent\n%s\n", line, line)
}

// chatLoop reads the user input line by line until exit, quit, EOF or ctx is done
func chatLoop(ctx context.Context, ast chatter, in io.Reader, out io.Writer, stream bool) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	_, _ = fmt.Fprintf(out, "\nInteractive chat mode started. Type \"exit\" or \"quit\" to end the conversation.\n")
	_, _ = fmt.Fprintf(out, "Type \"clear\" to reset the history, \"history\" to print it.\n")
	for {
		_, _ = fmt.Fprint(out, "\nYou: ")

		var line string
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				_, _ = fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			_, _ = fmt.Fprintln(out, "Goodbye!")
			return nil
		case "clear":
			ast.ClearHistory()
			_, _ = fmt.Fprintln(out, "Conversation history cleared.")
			continue
		case "history":
			llmutils.PrintMessages(out, ast.History())
			continue
		}

		_, _ = fmt.Fprint(out, "\nAssistant: ")
		if stream {
			for chunk, err := range ast.ChatStream(ctx, line) {
				if err != nil {
					_, _ = fmt.Fprintf(out, "\nError: %s", err.Error())
					break
				}
				_, _ = fmt.Fprint(out, chunk)
			}
			_, _ = fmt.Fprintln(out)
			continue
		}

		resp, err := ast.Chat(ctx, line)
		if err != nil {
			_, _ = fmt.Fprintf(out, "Error: %s\n", err.Error())
			continue
		}
		_, _ = fmt.Fprintln(out, resp)
	}
}
