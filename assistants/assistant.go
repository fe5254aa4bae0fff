package assistants

import (
	"context"
	"encoding/json"
	"iter"
	"strings"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/catalog"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/mcpagent/store"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

// errStreamStopped is returned from the streaming func when the consumer stopped ranging
var errStreamStopped = errors.New("stream stopped by consumer")

// PromptData is passed to the system prompt template
type PromptData struct {
	// Tools is a JSON block describing the available tools
	Tools string
	// ToolsCount is the number of available tools
	ToolsCount int
}

// Assistant runs conversation turns against a model and a tool catalog.
// Turns must be serialized by the caller, the history accessors are safe
// to call from other goroutines.
type Assistant struct {
	LLM llms.Model

	catalog   Catalog
	cfg       *Config
	store     store.MessageStore
	callback  Callback
	sysprompt *template.Template
}

// New returns an Assistant with empty history
func New(model llms.Model, catalog Catalog, opts ...Option) (*Assistant, error) {
	cfg := NewConfig(opts...)
	a := &Assistant{
		LLM:      model,
		catalog:  catalog,
		cfg:      cfg,
		store:    cfg.Store,
		callback: cfg.CallbackHandler,
	}
	if a.store == nil {
		a.store = store.NewMemoryStore()
	}
	if a.callback == nil {
		a.callback = noopCallback{}
	}
	if cfg.SystemPrompt != "" {
		tmpl, err := template.New("system").Funcs(sprig.TxtFuncMap()).Parse(cfg.SystemPrompt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse system prompt")
		}
		a.sysprompt = tmpl
	}
	return a, nil
}

// Config returns the configuration of the Assistant
func (a *Assistant) Config() *Config {
	return a.cfg
}

// ModelName returns the model name used for requests
func (a *Assistant) ModelName() string {
	return values.StringsCoalesce(a.cfg.Model, a.LLM.GetName())
}

// History returns a copy of the message history
func (a *Assistant) History() []llms.Message {
	return a.store.Messages(context.Background())
}

// ClearHistory resets the message history
func (a *Assistant) ClearHistory() {
	if err := a.store.Reset(context.Background()); err != nil {
		logger.KV(xlog.ERROR,
			"status", "failed_to_clear_history",
			"err", err.Error(),
		)
	}
}

// ToolsCount returns the number of tools currently exposed to the model
func (a *Assistant) ToolsCount() int {
	return len(a.catalog.ListAllTools())
}

// SystemPrompt renders the system prompt for the tools,
// empty if no prompt is configured.
func (a *Assistant) SystemPrompt(list []mcp.Tool) (string, error) {
	if a.sysprompt == nil {
		return "", nil
	}
	data := PromptData{
		Tools:      tools.GetDescriptions(list...),
		ToolsCount: len(list),
	}
	var buf strings.Builder
	if err := a.sysprompt.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "failed to render system prompt")
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Chat runs one turn and returns the final answer of the model.
func (a *Assistant) Chat(ctx context.Context, input string) (string, error) {
	return a.turn(ctx, input, nil)
}

// ChatStream runs one turn and yields the text fragments as the model produces them.
// Tool calls are executed between streamed segments and are not yielded.
// A failure is yielded once, as the last element.
// Breaking out of the range stops the model stream and ends the turn
// without adding the partial answer to history.
// The sequence can be ranged only once.
func (a *Assistant) ChatStream(ctx context.Context, input string) iter.Seq2[string, error] {
	var consumed atomic.Bool
	return func(yield func(string, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield("", errors.WithStack(ErrStreamConsumed))
			return
		}

		s := &stream{yield: yield}
		if _, err := a.turn(ctx, input, s); err != nil && !s.stopped {
			yield("", err)
		}
	}
}

type stream struct {
	yield   func(string, error) bool
	stopped bool
}

func (s *stream) onChunk(_ context.Context, chunk []byte) error {
	if s.stopped {
		return errStreamStopped
	}
	if len(chunk) == 0 {
		return nil
	}
	if !s.yield(string(chunk), nil) {
		s.stopped = true
		return errStreamStopped
	}
	return nil
}

func (a *Assistant) turn(ctx context.Context, input string, s *stream) (string, error) {
	started := time.Now()
	modelName := a.ModelName()
	defer metricskey.PerfChatTurn.MeasureSince(started, modelName)

	a.callback.OnChatStart(ctx, input)

	output, err := a.run(ctx, input, s)
	if s != nil && s.stopped {
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "stream_stopped",
			"model", modelName,
		)
		// the partial answer is not kept
		a.callback.OnChatEnd(ctx, input, "")
		return "", errStreamStopped
	}
	if err != nil {
		metricskey.StatsChatTurnsFailed.IncrCounter(1, modelName)
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "chat_failed",
			"model", modelName,
			"input", slices.StringUpto(input, 64),
			"err", err.Error(),
		)
		a.callback.OnChatError(ctx, input, err)
		return "", err
	}

	metricskey.StatsChatTurnsSucceeded.IncrCounter(1, modelName)
	a.callback.OnChatEnd(ctx, input, output)
	return output, nil
}

// run executes the model loop until the model answers without tool calls.
func (a *Assistant) run(ctx context.Context, input string, s *stream) (string, error) {
	if err := a.store.Add(ctx, llms.MessageFromTextParts(llms.RoleHuman, input)); err != nil {
		return "", errors.Wrap(err, "failed to add message to history")
	}

	for iteration := 1; ; iteration++ {
		if a.cfg.MaxIterations > 0 && iteration > a.cfg.MaxIterations {
			return "", errors.Wrapf(ErrMaxIterations, "turn did not complete in %d iterations", a.cfg.MaxIterations)
		}

		list := a.catalog.ListAllTools()
		messages, err := a.requestMessages(ctx, list)
		if err != nil {
			return "", err
		}

		resp, err := a.generate(ctx, messages, list, s)
		if s != nil && s.stopped {
			return "", errStreamStopped
		}
		if err != nil {
			return "", err
		}

		toolCalls := resp.ToolCalls()
		if len(toolCalls) == 0 {
			result := resp.Text()
			if err = a.store.Add(ctx, llms.MessageFromTextParts(llms.RoleAI, result)); err != nil {
				return "", errors.Wrap(err, "failed to add message to history")
			}
			logger.ContextKV(ctx, xlog.DEBUG,
				"status", "completed",
				"iterations", iteration,
				"ai", slices.StringUpto(result, 64),
			)
			return result, nil
		}

		toolCalls = normalizeToolCalls(toolCalls)
		if err = a.store.Add(ctx, llms.MessageFromToolCalls(llms.RoleAI, resp.Text(), toolCalls...)); err != nil {
			return "", errors.Wrap(err, "failed to add message to history")
		}

		for _, tc := range toolCalls {
			content := a.executeToolCall(ctx, tc)
			msg := llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
				ToolCallID: tc.ID,
				Name:       tc.Name(),
				Content:    content,
			})
			if err = a.store.Add(ctx, msg); err != nil {
				return "", errors.Wrap(err, "failed to add message to history")
			}
		}
	}
}

// requestMessages returns the system prompt followed by the history
func (a *Assistant) requestMessages(ctx context.Context, list []mcp.Tool) ([]llms.Message, error) {
	history := a.store.Messages(ctx)
	prompt, err := a.SystemPrompt(list)
	if err != nil {
		return nil, err
	}
	if prompt == "" {
		return history, nil
	}
	return append([]llms.Message{llms.MessageFromTextParts(llms.RoleSystem, prompt)}, history...), nil
}

func (a *Assistant) generate(ctx context.Context, messages []llms.Message, list []mcp.Tool, s *stream) (*llms.ContentResponse, error) {
	modelName := a.ModelName()

	var extra []llms.CallOption
	if len(list) > 0 {
		extra = append(extra,
			llms.WithTools(tools.ToLLMTools(list, a.cfg.QualifiedToolNames)),
			llms.WithToolChoice(llms.FunctionCallBehaviorAuto),
		)
	}
	if s != nil {
		extra = append(extra, llms.WithStreamingFunc(s.onChunk))
	}

	a.callback.OnLLMCallStart(ctx, a.LLM, messages)
	metricskey.StatsLLMRequests.IncrCounter(1, modelName)

	started := time.Now()
	resp, err := a.LLM.GenerateContent(ctx, messages, a.cfg.GetCallOptions(extra...)...)
	metricskey.PerfLLMCall.MeasureSince(started, modelName)
	if err != nil {
		metricskey.StatsLLMRequestsFailed.IncrCounter(1, modelName)
		return nil, errors.Wrap(err, "failed to generate content from LLM")
	}
	if resp == nil || len(resp.Choices) == 0 {
		metricskey.StatsLLMRequestsFailed.IncrCounter(1, modelName)
		return nil, errors.WithStack(ErrEmptyResponse)
	}

	a.callback.OnLLMCallEnd(ctx, a.LLM, resp)

	tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
	metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), modelName)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), modelName)
	metricskey.StatsLLMTotalTokens.IncrCounter(float64(tokensTotal), modelName)

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "llm_response",
		"model", modelName,
		"messages", len(messages),
		"tools", len(list),
		"choices", len(resp.Choices),
		"tokens", tokensTotal,
	)
	return resp, nil
}

// executeToolCall calls the tool and returns the text for the history.
// Failures are returned as text, prefixed with ErrorPrefix.
func (a *Assistant) executeToolCall(ctx context.Context, tc llms.ToolCall) string {
	name := tc.Name()
	var input string
	if tc.FunctionCall != nil {
		input = tc.FunctionCall.Arguments
	}

	a.callback.OnToolStart(ctx, name, input)

	args, err := parseArguments(input)
	if err != nil {
		a.callback.OnToolError(ctx, name, input, err)
		return ErrorPrefix + err.Error()
	}

	res, err := a.catalog.Call(ctx, name, args)
	if err != nil {
		if errors.IsAny(err, catalog.ErrUnknownTool, catalog.ErrUnknownServer) {
			a.callback.OnToolNotFound(ctx, name)
		} else {
			a.callback.OnToolError(ctx, name, input, err)
		}
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_call_failed",
			"tool_call_id", tc.ID,
			"tool", name,
			"err", err.Error(),
		)
		return ErrorPrefix + err.Error()
	}

	if res.IsError {
		text := "tool reported an error"
		if len(res.Content) > 0 {
			text = res.Text()
		}
		a.callback.OnToolError(ctx, name, input, errors.New(text))
		return ErrorPrefix + text
	}

	text := res.Text()
	a.callback.OnToolEnd(ctx, name, input, text)

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "tool_call_response",
		"tool_call_id", tc.ID,
		"tool", name,
		"content_length", len(text),
	)
	return text
}

// parseArguments decodes the JSON arguments of a tool call,
// an empty payload is an empty object.
func parseArguments(payload string) (map[string]any, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(payload), &args); err != nil {
		return nil, errors.Wrap(err, "invalid arguments")
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// normalizeToolCalls returns copies of the calls, with generated ids
// for calls the model did not identify.
func normalizeToolCalls(list []llms.ToolCall) []llms.ToolCall {
	res := make([]llms.ToolCall, 0, len(list))
	for _, tc := range list {
		tc = tc.Clone()
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		tc.Type = values.StringsCoalesce(tc.Type, tools.ToolTypeFunction)
		res = append(res, tc)
	}
	return res
}
