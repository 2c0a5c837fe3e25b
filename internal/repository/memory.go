package repository

import (
	"context"
	"sync"
	"time"

	"courtbook/internal/models"
)

type memoryResponse struct {
	resp      *models.StoredResponse
	expiresAt time.Time
}

// MemoryResponseStore is the single-process ResponseStore.
type MemoryResponseStore struct {
	mu      sync.Mutex
	entries map[string]memoryResponse
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryResponseStore(ttl time.Duration) *MemoryResponseStore {
	return &MemoryResponseStore{
		entries: make(map[string]memoryResponse),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (r *MemoryResponseStore) Get(_ context.Context, key string) (*models.StoredResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return nil, nil
	}
	if r.ttl > 0 && r.now().After(e.expiresAt) {
		delete(r.entries, key)
		return nil, nil
	}
	return e.resp, nil
}

func (r *MemoryResponseStore) Put(_ context.Context, key string, resp *models.StoredResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if e, ok := r.entries[key]; ok && (r.ttl <= 0 || !now.After(e.expiresAt)) {
		return nil
	}
	r.entries[key] = memoryResponse{resp: resp, expiresAt: now.Add(r.ttl)}
	r.sweep(now)
	return nil
}

// sweep drops expired entries; called with mu held.
func (r *MemoryResponseStore) sweep(now time.Time) {
	if r.ttl <= 0 {
		return
	}
	for k, e := range r.entries {
		if now.After(e.expiresAt) {
			delete(r.entries, k)
		}
	}
}
