package core

import (
	"context"
	"sync"

	"github.com/agenthands/consolidator/internal/core/index"
)

type MockEmbedder struct {
	Vector []float32
	Err    error
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Vector, nil
}

type MockLLM struct {
	Response      string
	ResponseQueue []string
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	if len(m.ResponseQueue) > 0 {
		resp := m.ResponseQueue[0]
		m.ResponseQueue = m.ResponseQueue[1:]
		return resp, nil
	}
	return m.Response, nil
}

type MockSnapshots struct {
	mu    sync.Mutex
	Snap  index.Snapshot
	Has   bool
	Saved int
	Err   error
}

func (m *MockSnapshots) Save(ctx context.Context, snap index.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Snap, m.Has = snap, true
	m.Saved++
	return nil
}

func (m *MockSnapshots) Load(ctx context.Context) (index.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Snap, m.Has, nil
}

func (m *MockSnapshots) Close() error {
	return nil
}

func (m *MockSnapshots) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}
