package openai

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "openai")

var (
	ErrEmptyResponse = errors.New("openai: no response")
	ErrMissingToken  = errors.New("openai: missing API key, set it in the OPENAI_API_KEY environment variable")
)

type LLM struct {
	client openai.Client
	model  string
}

var _ llms.Model = (*LLM)(nil)

// New returns a new OpenAI chat completions LLM.
func New(opts ...Option) (*LLM, error) {
	o := &options{
		token:        os.Getenv(TokenEnvVarName),
		model:        os.Getenv(ModelEnvVarName),
		baseURL:      os.Getenv(BaseURLEnvVarName),
		organization: os.Getenv(OrganizationEnvVarName),
		maxRetries:   2,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.token == "" {
		return nil, ErrMissingToken
	}

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(o.token),
		option.WithMaxRetries(o.maxRetries),
		option.WithRequestTimeout(5 * time.Minute),
	}
	if o.baseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(o.baseURL))
	}
	if o.organization != "" {
		sdkOpts = append(sdkOpts, option.WithOrganization(o.organization))
	}
	if o.httpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(o.httpClient))
	}

	return &LLM{
		client: openai.NewClient(sdkOpts...),
		model:  values.StringsCoalesce(o.model, DefaultModel),
	}, nil
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderOpenAI
}

// GenerateContent implements the Model interface.
//
// With llms.WithStreamingFunc the request is streamed: only content deltas
// are passed to the streaming function, tool calls are returned once the
// stream is fully accumulated.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(append([]llms.CallOption{llms.WithModel(o.model)}, options...)...)

	params, err := o.newParams(messages, opts)
	if err != nil {
		return nil, err
	}

	var completion *openai.ChatCompletion
	if opts.StreamingFunc != nil {
		completion, err = o.stream(ctx, params, opts.StreamingFunc)
	} else {
		completion, err = o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			err = errors.Wrap(err, "openai: failed to create chat completion")
		}
	}
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	return toContentResponse(completion), nil
}

func (o *LLM) stream(ctx context.Context, params openai.ChatCompletionNewParams, streamingFunc func(context.Context, []byte) error) (*openai.ChatCompletion, error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			if err := streamingFunc(ctx, []byte(chunk.Choices[0].Delta.Content)); err != nil {
				return nil, errors.Wrap(err, "openai: streaming function error")
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.Wrap(err, "openai: streaming error")
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "stream_completed",
		"id", acc.ID,
		"choices", len(acc.Choices),
	)
	return &acc.ChatCompletion, nil
}

func (o *LLM) newParams(messages []llms.Message, opts *llms.CallOptions) (openai.ChatCompletionNewParams, error) {
	msgs, err := ToMessages(messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(values.StringsCoalesce(opts.Model, o.model)),
		Messages: msgs,
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	if len(opts.StopWords) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.StopWords}
	}
	if len(opts.Tools) > 0 {
		params.Tools = ToTools(opts.Tools)
		if opts.ToolChoice != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(string(opts.ToolChoice))}
		}
	}
	return params, nil
}

// ToMessages converts generic messages to chat completion messages.
func ToMessages(messages []llms.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	res := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llms.RoleSystem:
			res = append(res, openai.SystemMessage(m.GetText()))
		case llms.RoleHuman:
			res = append(res, openai.UserMessage(m.GetText()))
		case llms.RoleAI:
			res = append(res, assistantMessage(m))
		case llms.RoleTool:
			for _, p := range m.Parts {
				tr, ok := p.(llms.ToolCallResponse)
				if !ok {
					return nil, errors.Errorf("openai: expected part of type ToolCallResponse for role %v, got %T", m.Role, p)
				}
				res = append(res, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
		default:
			return nil, errors.Wrapf(llms.ErrUnexpectedRole, "openai: role %v not supported", m.Role)
		}
	}
	return res, nil
}

func assistantMessage(m llms.Message) openai.ChatCompletionMessageParamUnion {
	toolCalls := m.GetToolCalls()
	if len(toolCalls) == 0 {
		return openai.AssistantMessage(m.GetText())
	}

	asst := openai.ChatCompletionAssistantMessageParam{}
	if text := m.GetText(); text != "" {
		asst.Content.OfString = openai.String(text)
	}
	for _, tc := range toolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.FunctionCall.Name,
					Arguments: values.StringsCoalesce(tc.FunctionCall.Arguments, "{}"),
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

// ToTools converts tool definitions to chat completion function tools.
// A missing parameters schema is replaced with an empty object schema.
func ToTools(tools []llms.Tool) []openai.ChatCompletionToolUnionParam {
	res := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		def := openai.FunctionDefinitionParam{
			Name:       t.Function.Name,
			Parameters: openai.FunctionParameters(schemaMap(t.Function.Parameters)),
		}
		if t.Function.Description != "" {
			def.Description = openai.String(t.Function.Description)
		}
		if t.Function.Strict {
			def.Strict = openai.Bool(true)
		}
		res = append(res, openai.ChatCompletionFunctionTool(def))
	}
	return res
}

func schemaMap(parameters any) map[string]any {
	var m map[string]any
	switch p := parameters.(type) {
	case nil:
	case map[string]any:
		m = p
	default:
		if js, err := json.Marshal(parameters); err == nil {
			_ = json.Unmarshal(js, &m)
		}
	}
	if len(m) == 0 {
		m = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return m
}

func toContentResponse(completion *openai.ChatCompletion) *llms.ContentResponse {
	choices := make([]*llms.ContentChoice, len(completion.Choices))
	for i, c := range completion.Choices {
		choices[i] = &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: string(c.FinishReason),
			GenerationInfo: map[string]any{
				"InputTokens":  completion.Usage.PromptTokens,
				"OutputTokens": completion.Usage.CompletionTokens,
				"TotalTokens":  completion.Usage.TotalTokens,
				"ID":           completion.ID,
				"Index":        i,
			},
		}
		for _, tc := range c.Message.ToolCalls {
			choices[i].ToolCalls = append(choices[i].ToolCalls, llms.ToolCall{
				ID:   tc.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
	}
	return &llms.ContentResponse{Choices: choices}
}
