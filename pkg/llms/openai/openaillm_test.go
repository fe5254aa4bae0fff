package openai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llms/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLLM(t *testing.T, handler http.HandlerFunc) *openai.LLM {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	llm, err := openai.New(
		openai.WithToken("fake-token"),
		openai.WithModel("gpt-test"),
		openai.WithBaseURL(srv.URL),
		openai.WithHTTPClient(srv.Client()),
		openai.WithMaxRetries(0),
	)
	require.NoError(t, err)
	return llm
}

func TestNew(t *testing.T) {
	t.Setenv(openai.TokenEnvVarName, "")
	t.Setenv(openai.ModelEnvVarName, "")

	_, err := openai.New()
	assert.ErrorIs(t, err, openai.ErrMissingToken)

	llm, err := openai.New(openai.WithToken("x"))
	require.NoError(t, err)
	assert.Equal(t, openai.DefaultModel, llm.GetName())
	assert.Equal(t, llms.ProviderOpenAI, llm.GetProviderType())

	t.Setenv(openai.ModelEnvVarName, "from-env")
	llm, err = openai.New(openai.WithToken("x"), openai.WithOrganization("org"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", llm.GetName())
}

func TestToMessages(t *testing.T) {
	t.Parallel()

	msgs, err := openai.ToMessages([]llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "sys"),
		llms.MessageFromTextParts(llms.RoleHuman, "hi"),
		llms.MessageFromToolCalls(llms.RoleAI, "",
			llms.ToolCall{ID: "c1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "ping", Arguments: `{"host":"a"}`}},
			llms.ToolCall{ID: "c2", Type: "function", FunctionCall: &llms.FunctionCall{Name: "now"}},
		),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "c1", Name: "ping", Content: "pong"}),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "c2", Name: "now", Content: "noon"}),
		llms.MessageFromTextParts(llms.RoleAI, "done"),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 6)

	js, err := json.Marshal(msgs)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(js, &decoded))
	assert.Equal(t, "system", decoded[0]["role"])
	assert.Equal(t, "user", decoded[1]["role"])
	assert.Equal(t, "assistant", decoded[2]["role"])
	assert.Len(t, decoded[2]["tool_calls"], 2)
	assert.Equal(t, "tool", decoded[3]["role"])
	assert.Equal(t, "c1", decoded[3]["tool_call_id"])
	assert.Equal(t, "assistant", decoded[5]["role"])

	_, err = openai.ToMessages([]llms.Message{llms.MessageFromTextParts(llms.Role("generic"), "x")})
	assert.ErrorIs(t, err, llms.ErrUnexpectedRole)

	_, err = openai.ToMessages([]llms.Message{llms.MessageFromTextParts(llms.RoleTool, "x")})
	assert.Error(t, err)
}

func TestToTools(t *testing.T) {
	t.Parallel()

	tools := openai.ToTools([]llms.Tool{
		{Type: "function", Function: &llms.FunctionDefinition{Name: "a", Description: "A", Parameters: map[string]any{"type": "object", "properties": map[string]any{"x": map[string]any{"type": "string"}}}}},
		{Type: "function", Function: &llms.FunctionDefinition{Name: "b"}},
		{Type: "function"},
	})
	require.Len(t, tools, 2)

	js, err := json.Marshal(tools)
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(js, &decoded))

	fn := decoded[1]["function"].(map[string]any)
	assert.Equal(t, "b", fn["name"])
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, fn["parameters"])
}

func TestGenerateContent(t *testing.T) {
	t.Parallel()

	var request map[string]any
	llm := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &request)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-test",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "ping", "arguments": "{\"host\":\"a\"}"}}]
				}
			}],
			"usage": {"prompt_tokens": 11, "completion_tokens": 3, "total_tokens": 14}
		}`)
	})

	resp, err := llm.GenerateContent(context.Background(),
		[]llms.Message{llms.MessageFromTextParts(llms.RoleHuman, "ping a")},
		llms.WithTools([]llms.Tool{{Type: "function", Function: &llms.FunctionDefinition{Name: "ping"}}}),
		llms.WithToolChoice(llms.FunctionCallBehaviorAuto),
		llms.WithMaxTokens(100),
		llms.WithTopP(0.9),
		llms.WithStopWords([]string{"END"}),
	)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "tool_calls", resp.Choices[0].StopReason)
	assert.Equal(t, int64(11), resp.Choices[0].GenerationInfo["InputTokens"])

	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "ping", calls[0].FunctionCall.Name)
	assert.Equal(t, `{"host":"a"}`, calls[0].FunctionCall.Arguments)

	assert.Equal(t, "gpt-test", request["model"])
	assert.Len(t, request["tools"], 1)
	assert.EqualValues(t, 100, request["max_completion_tokens"])
	assert.Equal(t, "auto", request["tool_choice"])
	assert.Equal(t, 0.9, request["top_p"])
	assert.Equal(t, []any{"END"}, request["stop"])
}

func TestGenerateContent_Streaming(t *testing.T) {
	t.Parallel()

	chunks := []string{
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"ping","arguments":"{\"host\":"}}]},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a\"}"}}]},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}

	llm := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", c)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	var got []string
	resp, err := llm.GenerateContent(context.Background(),
		[]llms.Message{llms.MessageFromTextParts(llms.RoleHuman, "ping a")},
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			got = append(got, string(chunk))
			return nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.Equal(t, "Hello", resp.Text())

	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, `{"host":"a"}`, calls[0].FunctionCall.Arguments)
}

func TestGenerateContent_StreamingStopped(t *testing.T) {
	t.Parallel()

	llm := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"content":"a"},"finish_reason":null}]}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	stop := fmt.Errorf("stop")
	_, err := llm.GenerateContent(context.Background(),
		[]llms.Message{llms.MessageFromTextParts(llms.RoleHuman, "x")},
		llms.WithStreamingFunc(func(_ context.Context, _ []byte) error { return stop }),
	)
	assert.ErrorIs(t, err, stop)
}

func TestGenerateContent_Empty(t *testing.T) {
	t.Parallel()

	llm := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"gpt-test","choices":[]}`)
	})

	_, err := llm.GenerateContent(context.Background(), []llms.Message{llms.MessageFromTextParts(llms.RoleHuman, "x")})
	assert.ErrorIs(t, err, openai.ErrEmptyResponse)
}
