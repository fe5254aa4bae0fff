package assistants_test

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
)

// step is one scripted model response
type step struct {
	chunks    []string
	toolCalls []llms.ToolCall
	err       error
}

// scriptedModel replays steps, streaming the chunks when asked to
type scriptedModel struct {
	lock     sync.Mutex
	steps    []step
	requests [][]llms.Message
	options  []*llms.CallOptions
}

func (m *scriptedModel) GetName() string {
	return "scripted"
}

func (m *scriptedModel) GetProviderType() llms.ProviderType {
	return llms.ProviderOpenAI
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := llms.NewCallOptions(options...)

	m.lock.Lock()
	m.requests = append(m.requests, llms.CloneMessages(messages))
	m.options = append(m.options, opts)
	if len(m.steps) == 0 {
		m.lock.Unlock()
		return nil, errors.New("script exhausted")
	}
	st := m.steps[0]
	m.steps = m.steps[1:]
	m.lock.Unlock()

	if st.err != nil {
		return nil, st.err
	}
	if opts.StreamingFunc != nil {
		for _, chunk := range st.chunks {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, errors.Wrap(err, "streaming function error")
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{
				Content:   strings.Join(st.chunks, ""),
				ToolCalls: st.toolCalls,
				GenerationInfo: map[string]any{
					"InputTokens":  int64(10),
					"OutputTokens": int64(5),
					"TotalTokens":  int64(15),
				},
			},
		},
	}, nil
}
