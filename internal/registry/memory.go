package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process registry for development and tests.
type Memory struct {
	mu    sync.RWMutex
	items map[string]Integration
	order []string
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]Integration)}
}

func (m *Memory) Create(_ context.Context, in Integration) (Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now
	if _, exists := m.items[in.ID]; !exists {
		m.order = append(m.order, in.ID)
	}
	m.items[in.ID] = in
	return in, nil
}

func (m *Memory) Get(_ context.Context, id string) (Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.items[id]
	if !ok {
		return Integration{}, ErrNotFound
	}
	return in, nil
}

func (m *Memory) List(context.Context) ([]Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Integration, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.items[id])
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
