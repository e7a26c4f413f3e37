package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/maruel/balloonist/balloon"
)

// Memory is a Backend keeping encoded documents in memory.
//
// Documents are encoded on write so callers never share maps with the store.
type Memory struct {
	codec Codec

	mu    sync.RWMutex
	parts map[string]map[string][]byte
}

// NewMemory returns an empty in-memory backend using the JSON codec.
func NewMemory() *Memory {
	return &Memory{codec: JSON, parts: make(map[string]map[string][]byte)}
}

// Write implements Backend.
func (m *Memory) Write(ctx context.Context, partition, name string, doc balloon.Document) error {
	if err := ValidateKey(partition, name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := m.codec.Marshal(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.parts[partition]
	if p == nil {
		p = make(map[string][]byte)
		m.parts[partition] = p
	}
	p[name] = data
	return nil
}

// Read implements Backend.
func (m *Memory) Read(ctx context.Context, partition, name string) (balloon.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.parts[partition][name]
	m.mu.RUnlock()
	if !ok {
		return nil, NotFound(partition, name)
	}
	return m.codec.Unmarshal(data)
}

// Exists implements Backend.
func (m *Memory) Exists(ctx context.Context, partition, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.parts[partition][name]
	return ok, nil
}

// Delete implements Backend.
func (m *Memory) Delete(ctx context.Context, partition, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.parts[partition]
	if _, ok := p[name]; !ok {
		return NotFound(partition, name)
	}
	delete(p, name)
	if len(p) == 0 {
		delete(m.parts, partition)
	}
	return nil
}

// Names implements Backend.
func (m *Memory) Names(ctx context.Context, partition string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.parts[partition]))
	for n := range m.parts[partition] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Partitions implements Backend.
func (m *Memory) Partitions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	parts := make([]string, 0, len(m.parts))
	for p := range m.parts {
		parts = append(parts, p)
	}
	sort.Strings(parts)
	return parts, nil
}
