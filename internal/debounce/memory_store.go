package debounce

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is the single-process Store. State lives only as long as the
// process; an in-flight batch is lost on restart, which costs one turn of
// coalescing, nothing more.
type MemoryStore struct {
	mu      sync.Mutex
	batches map[string]*memoryBatch
}

type memoryBatch struct {
	messages []string
	latest   string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{batches: make(map[string]*memoryBatch)}
}

func (s *MemoryStore) Append(_ context.Context, contactID, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[contactID]
	if !ok {
		batch = &memoryBatch{}
		s.batches[contactID] = batch
	}
	batch.messages = append(batch.messages, message)
	batch.latest = uuid.NewString()
	return batch.latest, nil
}

func (s *MemoryStore) IsLatest(_ context.Context, contactID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[contactID]
	return ok && batch.latest == token, nil
}

func (s *MemoryStore) Claim(_ context.Context, contactID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[contactID]
	if !ok {
		return nil, nil
	}
	delete(s.batches, contactID)
	return batch.messages, nil
}
