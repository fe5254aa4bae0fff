package assistants

import (
	"context"

	"github.com/effective-security/mcpagent/pkg/llms"
)

// noopCallback is used when no callback is configured
type noopCallback struct{}

var _ Callback = noopCallback{}

func (noopCallback) OnChatStart(context.Context, string)                             {}
func (noopCallback) OnChatEnd(context.Context, string, string)                       {}
func (noopCallback) OnChatError(context.Context, string, error)                      {}
func (noopCallback) OnLLMCallStart(context.Context, llms.Model, []llms.Message)      {}
func (noopCallback) OnLLMCallEnd(context.Context, llms.Model, *llms.ContentResponse) {}
func (noopCallback) OnToolStart(context.Context, string, string)                     {}
func (noopCallback) OnToolEnd(context.Context, string, string, string)               {}
func (noopCallback) OnToolError(context.Context, string, string, error)              {}
func (noopCallback) OnToolNotFound(context.Context, string)                          {}
