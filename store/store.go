// Package store provides the history backends of the conversation engine.
package store

import (
	"context"

	"github.com/effective-security/mcpagent/pkg/llms"
)

// MessageStore keeps the ordered message history of one conversation
type MessageStore interface {
	// Messages returns a copy of the history
	Messages(ctx context.Context) []llms.Message
	// Add appends messages to the history
	Add(ctx context.Context, msgs ...llms.Message) error
	// Reset clears the history
	Reset(ctx context.Context) error
	// Len returns the number of messages
	Len() int
}
