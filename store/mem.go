package store

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// Memory is an in-process BlobStore backed by a map, used by tests in
// place of a real S3 or GCS bucket. It is grounded on bendo's
// store.NewMemory() test double.
type Memory struct {
	mu    sync.Mutex
	items map[string]memItem
}

type memItem struct {
	data []byte
	info Info
}

// NewMemory returns an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]memItem)}
}

// Put installs or replaces the contents of key. Callers typically use this
// to seed fixtures before exercising a cache under test.
func (m *Memory) Put(key string, data []byte, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{
		data: append([]byte(nil), data...),
		info: Info{Length: int64(len(data)), LastModified: time.Now(), Tag: tag},
	}
}

// Delete removes key, making subsequent Stat/Open calls return ErrNotFound.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

func (m *Memory) Stat(ctx context.Context, key string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return Info{}, ErrNotFound
	}
	return it.info, nil
}

func (m *Memory) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	it, ok := m.items[key]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(it.data)), nil
}

func (m *Memory) OpenIfChanged(ctx context.Context, key, tag string) (io.ReadCloser, string, bool, error) {
	m.mu.Lock()
	it, ok := m.items[key]
	m.mu.Unlock()
	if !ok {
		return nil, "", false, ErrNotFound
	}
	if tag != "" && tag == it.info.Tag {
		return nil, it.info.Tag, false, nil
	}
	return io.NopCloser(bytes.NewReader(it.data)), it.info.Tag, true, nil
}
