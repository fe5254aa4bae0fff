package assistants_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/assistants"
	"github.com/effective-security/mcpagent/callbacks"
	"github.com/effective-security/mcpagent/catalog"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/localtransport"
	"github.com/effective-security/mcpagent/mocks/mockllms"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// newCatalog returns a catalog with one in-process server named util
func newCatalog(t *testing.T) *catalog.Manager {
	t.Helper()

	srv := localtransport.NewServer("util", "1.0.0").
		RegisterTool(mcp.Tool{
			Name:        "echo",
			Description: "Echoes the text",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
				"required": []any{"text"},
			},
		}, func(_ context.Context, args map[string]any) (*mcp.ToolResult, error) {
			return mcp.TextResult(fmt.Sprint(args["text"])), nil
		}).
		RegisterTool(mcp.Tool{Name: "fail"}, func(context.Context, map[string]any) (*mcp.ToolResult, error) {
			return nil, errors.New("boom")
		}).
		RegisterTool(mcp.Tool{Name: "denied"}, func(context.Context, map[string]any) (*mcp.ToolResult, error) {
			return mcp.ErrorResult("access denied"), nil
		}).
		RegisterTool(mcp.Tool{Name: "silent"}, nil)

	m := catalog.New(localtransport.NewDialer().Register("util", srv))
	res := m.Initialize(context.Background(), []mcp.ServerDescriptor{
		{Name: "util", Type: mcp.TransportLocal},
	})
	require.Equal(t, 1, res.Connected)
	t.Cleanup(func() {
		m.ShutdownAll(context.Background())
	})
	return m
}

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:           id,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
	}
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text, StopReason: "stop"}},
	}
}

func toolsResponse(calls ...llms.ToolCall) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{StopReason: "tool_calls", ToolCalls: calls}},
	}
}

func Test_Chat_ToolBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	var second []llms.Message
	mockLLM := mockllms.NewMockModel(ctrl)
	mockLLM.EXPECT().GetName().Return("test-model").AnyTimes()
	gomock.InOrder(
		mockLLM.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msgs []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
				require.Len(t, msgs, 1)
				assert.Equal(t, llms.RoleHuman, msgs[0].Role)

				opts := llms.NewCallOptions(options...)
				require.Len(t, opts.Tools, 4)
				assert.Equal(t, "echo", opts.Tools[0].Function.Name)
				assert.Equal(t, "Echoes the text", opts.Tools[0].Function.Description)
				assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, opts.Tools[1].Function.Parameters)
				assert.Nil(t, opts.StreamingFunc)

				return toolsResponse(
					toolCall("call_1", "echo", `{"text":"one"}`),
					toolCall("call_2", "fail", `{}`),
					toolCall("call_3", "echo", `{"text":"three"}`),
				), nil
			}),
		mockLLM.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msgs []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
				second = llms.CloneMessages(msgs)
				return textResponse("done"), nil
			}),
	)

	a, err := assistants.New(mockLLM, newCatalog(t))
	require.NoError(t, err)
	assert.Equal(t, 4, a.ToolsCount())

	res, err := a.Chat(ctx, "run the tools")
	require.NoError(t, err)
	assert.Equal(t, "done", res)

	// the second request sees all three results
	require.Len(t, second, 5)
	assert.Equal(t, llms.RoleAI, second[1].Role)
	assert.Len(t, second[1].GetToolCalls(), 3)

	expected := []llms.ToolCallResponse{
		{ToolCallID: "call_1", Name: "echo", Content: "one"},
		{ToolCallID: "call_2", Name: "fail", Content: `Error: failed to call tool "fail" on server "util": boom`},
		{ToolCallID: "call_3", Name: "echo", Content: "three"},
	}
	for i, exp := range expected {
		msg := second[2+i]
		assert.Equal(t, llms.RoleTool, msg.Role)
		require.Len(t, msg.Parts, 1)
		assert.Equal(t, exp, msg.Parts[0])
	}

	history := a.History()
	require.Len(t, history, 6)
	assert.Empty(t, cmp.Diff(second, history[:5]))
	assert.Equal(t, llms.RoleAI, history[5].Role)
	assert.Equal(t, "done", history[5].GetText())
}

func Test_Chat_ToolFailures(t *testing.T) {
	ctx := context.Background()

	model := &scriptedModel{
		steps: []step{
			{
				chunks: []string{"Let me check."},
				toolCalls: []llms.ToolCall{
					toolCall("", "util__echo", `{"text":"qualified"}`),
					toolCall("c2", "nope", `{}`),
					toolCall("c3", "echo", `{not json`),
					toolCall("c4", "denied", ``),
					toolCall("c5", "silent", ``),
					toolCall("c6", "other__echo", `{"text":"x"}`),
				},
			},
			{chunks: []string{"all done"}},
		},
	}

	a, err := assistants.New(model, newCatalog(t))
	require.NoError(t, err)

	res, err := a.Chat(ctx, "go")
	require.NoError(t, err)
	assert.Equal(t, "all done", res)

	history := a.History()
	require.Len(t, history, 9)

	calls := history[1].GetToolCalls()
	require.Len(t, calls, 6)
	assert.Equal(t, "Let me check.", history[1].GetText())
	assert.True(t, strings.HasPrefix(calls[0].ID, "call_"), calls[0].ID)
	assert.Greater(t, len(calls[0].ID), len("call_"))

	responses := make([]llms.ToolCallResponse, 0, 6)
	for _, msg := range history[2:8] {
		require.Equal(t, llms.RoleTool, msg.Role)
		responses = append(responses, msg.Parts[0].(llms.ToolCallResponse))
	}
	assert.Equal(t, calls[0].ID, responses[0].ToolCallID)
	assert.Equal(t, "qualified", responses[0].Content)
	assert.Equal(t, `Error: tool "nope" not found in any server`, responses[1].Content)
	assert.True(t, strings.HasPrefix(responses[2].Content, "Error: invalid arguments: "), responses[2].Content)
	assert.Equal(t, "Error: access denied", responses[3].Content)
	assert.Equal(t, mcp.EmptyResultText, responses[4].Content)
	// unknown server prefix falls back to the bare name, which does not exist
	assert.Equal(t, `Error: tool "other__echo" not found in any server`, responses[5].Content)

	assert.Equal(t, "all done", history[8].GetText())
}

func Test_Chat_QualifiedToolNames(t *testing.T) {
	model := &scriptedModel{
		steps: []step{{chunks: []string{"ok"}}},
	}
	a, err := assistants.New(model, newCatalog(t),
		assistants.WithQualifiedToolNames(true),
		assistants.WithModel("gpt-x"),
		assistants.WithTemperature(0.2),
		assistants.WithMaxTokens(100),
	)
	require.NoError(t, err)
	assert.Equal(t, "gpt-x", a.ModelName())

	_, err = a.Chat(context.Background(), "hi")
	require.NoError(t, err)

	require.Len(t, model.options, 1)
	opts := model.options[0]
	assert.Equal(t, "gpt-x", opts.Model)
	assert.Equal(t, 0.2, opts.Temperature)
	assert.Equal(t, 100, opts.MaxTokens)
	assert.Equal(t, llms.FunctionCallBehaviorAuto, opts.ToolChoice)

	var names []string
	for _, tool := range opts.Tools {
		names = append(names, tool.Function.Name)
	}
	assert.Equal(t, []string{"util__echo", "util__fail", "util__denied", "util__silent"}, names)
}

func Test_Chat_NoTools(t *testing.T) {
	model := &scriptedModel{
		steps: []step{{chunks: []string{"plain"}}},
	}
	a, err := assistants.New(model, catalog.New(localtransport.NewDialer()))
	require.NoError(t, err)
	assert.Equal(t, 0, a.ToolsCount())

	res, err := a.Chat(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "plain", res)
	assert.Empty(t, model.options[0].Tools)
	assert.Empty(t, model.options[0].ToolChoice)
}

func Test_Chat_SystemPrompt(t *testing.T) {
	model := &scriptedModel{
		steps: []step{
			{toolCalls: []llms.ToolCall{toolCall("c1", "echo", `{"text":"x"}`)}},
			{chunks: []string{"ok"}},
		},
	}
	a, err := assistants.New(model, newCatalog(t),
		assistants.WithSystemPrompt(`You are {{ "helpful" | upper }}. You have {{ .ToolsCount }} tools.
{{ .Tools }}
`),
	)
	require.NoError(t, err)

	prompt, err := a.SystemPrompt(nil)
	require.NoError(t, err)
	assert.Equal(t, "You are HELPFUL. You have 0 tools.\n\n```json\n{\n\t\"Tools\": null\n}\n```", prompt)

	_, err = a.Chat(context.Background(), "hi")
	require.NoError(t, err)

	require.Len(t, model.requests, 2)
	for _, req := range model.requests {
		assert.Equal(t, llms.RoleSystem, req[0].Role)
		assert.Contains(t, req[0].GetText(), "You are HELPFUL. You have 4 tools.")
		assert.Contains(t, req[0].GetText(), `"Name": "util__echo"`)
	}
	assert.Len(t, model.requests[1], 4)

	// the system prompt is not stored
	for _, msg := range a.History() {
		assert.NotEqual(t, llms.RoleSystem, msg.Role)
	}

	_, err = assistants.New(model, newCatalog(t), assistants.WithSystemPrompt("{{ .Broken "))
	assert.ErrorContains(t, err, "failed to parse system prompt")
}

func Test_Chat_Errors(t *testing.T) {
	ctx := context.Background()
	cat := newCatalog(t)

	t.Run("completion", func(t *testing.T) {
		model := &scriptedModel{
			steps: []step{{err: errors.New("connection refused")}},
		}
		a, err := assistants.New(model, cat)
		require.NoError(t, err)

		_, err = a.Chat(ctx, "hi")
		assert.EqualError(t, err, "failed to generate content from LLM: connection refused")

		history := a.History()
		require.Len(t, history, 1)
		assert.Equal(t, "hi", history[0].GetText())
	})

	t.Run("empty", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockLLM := mockllms.NewMockModel(ctrl)
		mockLLM.EXPECT().GetName().Return("test-model").AnyTimes()
		mockLLM.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&llms.ContentResponse{}, nil)

		a, err := assistants.New(mockLLM, cat)
		require.NoError(t, err)

		_, err = a.Chat(ctx, "hi")
		assert.ErrorIs(t, err, assistants.ErrEmptyResponse)
	})

	t.Run("max_iterations", func(t *testing.T) {
		model := &scriptedModel{
			steps: []step{
				{toolCalls: []llms.ToolCall{toolCall("c1", "echo", `{"text":"1"}`)}},
				{toolCalls: []llms.ToolCall{toolCall("c2", "echo", `{"text":"2"}`)}},
				{toolCalls: []llms.ToolCall{toolCall("c3", "echo", `{"text":"3"}`)}},
			},
		}
		a, err := assistants.New(model, cat, assistants.WithMaxIterations(2))
		require.NoError(t, err)

		_, err = a.Chat(ctx, "loop")
		assert.ErrorIs(t, err, assistants.ErrMaxIterations)
		assert.EqualError(t, err, "turn did not complete in 2 iterations: max iterations reached")
		assert.Len(t, model.requests, 2)
		// human, then two rounds of call and result
		assert.Len(t, a.History(), 5)
	})

	t.Run("canceled", func(t *testing.T) {
		model := &scriptedModel{
			steps: []step{{chunks: []string{"never"}}},
		}
		a, err := assistants.New(model, cat)
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = a.Chat(cctx, "hi")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func Test_ChatStream_MatchesChat(t *testing.T) {
	ctx := context.Background()
	cat := newCatalog(t)

	script := func() *scriptedModel {
		return &scriptedModel{
			steps: []step{{chunks: []string{"The ", "answer ", "is ", "42."}}},
		}
	}

	a1, err := assistants.New(script(), cat)
	require.NoError(t, err)
	expected, err := a1.Chat(ctx, "question")
	require.NoError(t, err)

	a2, err := assistants.New(script(), cat)
	require.NoError(t, err)

	var fragments []string
	for chunk, err := range a2.ChatStream(ctx, "question") {
		require.NoError(t, err)
		fragments = append(fragments, chunk)
	}
	assert.Equal(t, []string{"The ", "answer ", "is ", "42."}, fragments)
	assert.Equal(t, expected, strings.Join(fragments, ""))
	assert.Empty(t, cmp.Diff(a1.History(), a2.History()))
}

func Test_ChatStream_WithTools(t *testing.T) {
	ctx := context.Background()

	model := &scriptedModel{
		steps: []step{
			{
				chunks:    []string{"Checking. "},
				toolCalls: []llms.ToolCall{toolCall("c1", "echo", `{"text":"pong"}`)},
			},
			{chunks: []string{"Got ", "pong."}},
		},
	}
	a, err := assistants.New(model, newCatalog(t))
	require.NoError(t, err)

	var out strings.Builder
	for chunk, err := range a.ChatStream(ctx, "ping") {
		require.NoError(t, err)
		out.WriteString(chunk)
	}
	assert.Equal(t, "Checking. Got pong.", out.String())

	for _, opts := range model.options {
		assert.NotNil(t, opts.StreamingFunc)
	}

	history := a.History()
	require.Len(t, history, 4)
	assert.Equal(t, "Checking. ", history[1].GetText())
	assert.Equal(t, llms.ToolCallResponse{ToolCallID: "c1", Name: "echo", Content: "pong"}, history[2].Parts[0])
	assert.Equal(t, "Got pong.", history[3].GetText())
}

func Test_ChatStream_Break(t *testing.T) {
	ctx := context.Background()

	model := &scriptedModel{
		steps: []step{{chunks: []string{"a", "b", "c"}}},
	}
	events := &chatEvents{}
	a, err := assistants.New(model, newCatalog(t), assistants.WithCallback(events))
	require.NoError(t, err)

	var got []string
	for chunk, err := range a.ChatStream(ctx, "hi") {
		require.NoError(t, err)
		got = append(got, chunk)
		break
	}
	assert.Equal(t, []string{"a"}, got)

	// the turn is closed with an empty answer
	assert.Equal(t, []string{"start:hi", "end:hi:"}, events.list())

	// partial answer is not stored
	history := a.History()
	require.Len(t, history, 1)
	assert.Equal(t, llms.RoleHuman, history[0].Role)
}

func Test_ChatStream_Error(t *testing.T) {
	ctx := context.Background()

	model := &scriptedModel{
		steps: []step{{err: errors.New("rate limited")}},
	}
	a, err := assistants.New(model, newCatalog(t))
	require.NoError(t, err)

	seq := a.ChatStream(ctx, "hi")

	var errs []error
	for chunk, err := range seq {
		assert.Empty(t, chunk)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "failed to generate content from LLM: rate limited")

	// single use
	errs = nil
	for _, err := range seq {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], assistants.ErrStreamConsumed)
	assert.Len(t, model.requests, 1)
}

func Test_ClearHistory(t *testing.T) {
	ctx := context.Background()

	model := &scriptedModel{
		steps: []step{{chunks: []string{"one"}}, {chunks: []string{"two"}}},
	}
	a, err := assistants.New(model, newCatalog(t))
	require.NoError(t, err)

	_, err = a.Chat(ctx, "first")
	require.NoError(t, err)

	snapshot := a.History()
	require.Len(t, snapshot, 2)
	expected := llms.CloneMessages(snapshot)

	// mutating the snapshot does not change the engine
	snapshot[0].Parts[0] = llms.TextPart("tampered")
	assert.Equal(t, "first", a.History()[0].GetText())
	snapshot[0].Parts[0] = llms.TextPart("first")

	a.ClearHistory()
	assert.Empty(t, a.History())
	assert.Empty(t, cmp.Diff(expected, snapshot))

	_, err = a.Chat(ctx, "second")
	require.NoError(t, err)
	history := a.History()
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].GetText())
	// the cleared turn is not sent again
	assert.Len(t, model.requests[1], 1)
}

// chatEvents records the turn events
type chatEvents struct {
	callbacks.Noop

	lock   sync.Mutex
	events []string
}

func (c *chatEvents) OnChatStart(_ context.Context, input string) {
	c.add("start:" + input)
}

func (c *chatEvents) OnChatEnd(_ context.Context, input string, output string) {
	c.add("end:" + input + ":" + output)
}

func (c *chatEvents) OnChatError(_ context.Context, input string, err error) {
	c.add("error:" + input + ":" + err.Error())
}

func (c *chatEvents) add(e string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.events = append(c.events, e)
}

func (c *chatEvents) list() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string{}, c.events...)
}
