package blob

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/boardx/internal/shared"
)

// Object is an uploaded body held by a MemoryStore.
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore keeps objects in memory.
//
// FailKeys makes Upload fail for specific keys.
type MemoryStore struct {
	name     string
	mu       sync.Mutex
	objects  map[string]Object
	uploads  int
	FailKeys map[string]error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name, objects: make(map[string]Object)}
}

func (s *MemoryStore) Name() string { return s.name }

func (s *MemoryStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validKey(key); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.FailKeys[key]; ok {
		return "", err
	}
	s.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	s.uploads++
	return key, nil
}

func (s *MemoryStore) PresignDownload(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return "", fmt.Errorf("%w: blob %s", shared.ErrNotFound, key)
	}
	return "memory://" + s.name + "/" + key, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Get returns the object stored under key.
func (s *MemoryStore) Get(key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	return o, ok
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Uploads returns the number of successful Upload calls, overwrites included.
func (s *MemoryStore) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}
