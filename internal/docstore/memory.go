package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inklet/inklet/internal/patch"
)

// Memory is the in-memory Store used by tests, the conformance harness,
// and throwaway servers. Safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	docs  map[string]Document
	codec *patch.Codec
	now   func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:  make(map[string]Document),
		codec: patch.NewCodec(),
		now:   time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return doc, nil
}

func (m *Memory) Create(ctx context.Context, id, content string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := m.docs[id]; ok {
		return Document{}, fmt.Errorf("create %s: %w", id, ErrExists)
	}

	now := m.now()
	doc := Document{ID: id, Content: content, Version: 1, CreatedAt: now, UpdatedAt: now}
	m.docs[id] = doc
	return doc, nil
}

func (m *Memory) ApplyPatch(ctx context.Context, id, patchText string, expectedVersion int64) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("apply patch %s: %w", id, ErrNotFound)
	}
	if doc.Version != expectedVersion {
		return Document{}, &ConflictError{ID: id, ExpectedVersion: expectedVersion, CurrentVersion: doc.Version}
	}

	p, err := m.codec.Parse(patchText)
	if err != nil {
		return Document{}, fmt.Errorf("apply patch %s: %w: %v", id, ErrBadPatch, err)
	}
	next, err := m.codec.Apply(doc.Content, p)
	if err != nil {
		if errors.Is(err, patch.ErrApplyMismatch) {
			return Document{}, fmt.Errorf("apply patch %s: %w", id, ErrPatchMismatch)
		}
		return Document{}, fmt.Errorf("apply patch %s: %w", id, err)
	}

	doc.Content = next
	doc.Version++
	doc.UpdatedAt = m.now()
	m.docs[id] = doc
	return doc, nil
}

func (m *Memory) List(ctx context.Context) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := make([]Document, 0, len(m.docs))
	for _, doc := range m.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	delete(m.docs, id)
	return nil
}

func (m *Memory) Close() error { return nil }
