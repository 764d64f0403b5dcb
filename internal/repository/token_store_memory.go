package repository

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/checkpoint-service/internal/domain"
)

// MemoryTokenStore keeps credentials in a process-local map. Readers always
// receive copies, so a concurrent sweep never exposes a partially mutated entry.
type MemoryTokenStore struct {
	mu      sync.Mutex
	entries map[string]domain.Credential
}

// NewMemoryTokenStore constructs an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{entries: make(map[string]domain.Credential)}
}

func (s *MemoryTokenStore) Put(ctx context.Context, cred *domain.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[cred.ID]; exists {
		return ErrDuplicateID
	}
	s.entries[cred.ID] = *cred
	return nil
}

func (s *MemoryTokenStore) Get(ctx context.Context, id string) (*domain.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	cred, ok := s.entries[id]
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	return &cred, nil
}

func (s *MemoryTokenStore) MarkConsumed(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if cred.Consumed {
		return ErrAlreadyConsumed
	}
	cred.Consumed = true
	s.entries[id] = cred
	return nil
}

func (s *MemoryTokenStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, cred := range s.entries {
		if cred.ExpiresAt.Before(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored credentials.
func (s *MemoryTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
