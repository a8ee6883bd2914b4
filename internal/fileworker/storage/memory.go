package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/bitacora/internal/common"
)

type memObject struct {
	info Object
	data []byte
}

type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

func (m *MemoryStore) Put(_ context.Context, obj Object, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	obj.Size = int64(len(data))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[obj.Key] = memObject{info: obj, data: data}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, Object{}, fmt.Errorf("object %s: %w", key, common.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(o.data)), o.info, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("object %s: %w", key, common.ErrNotFound)
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len is the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
