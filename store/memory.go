package store

import (
	"context"
	"sync"

	"github.com/effective-security/mcpagent/pkg/llms"
)

type inMemory struct {
	mu       sync.RWMutex
	messages []llms.Message
}

// NewMemoryStore returns a MessageStore that lives in process memory
func NewMemoryStore() MessageStore {
	return &inMemory{}
}

func (m *inMemory) Messages(_ context.Context) []llms.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := llms.CloneMessages(m.messages)
	if res == nil {
		res = []llms.Message{}
	}
	return res
}

func (m *inMemory) Add(_ context.Context, msgs ...llms.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, llms.CloneMessages(msgs)...)
	return nil
}

func (m *inMemory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	return nil
}

func (m *inMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}
