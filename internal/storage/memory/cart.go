package memory

import (
	"context"
	"sync"

	"github.com/xenking/bookshop-checkout/internal/domain/cart"
)

var _ cart.Store = (*CartStore)(nil)

// CartStore keeps session carts in process memory, cloned on every read and
// write so callers never share map instances.
type CartStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]cart.Entry
}

// NewCartStore creates an empty CartStore.
func NewCartStore() *CartStore {
	return &CartStore{sessions: make(map[string]map[string]cart.Entry)}
}

func (s *CartStore) Load(ctx context.Context, sessionID string) (map[string]cart.Entry, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneItems(s.sessions[sessionID]), nil
}

func (s *CartStore) Save(ctx context.Context, sessionID string, items map[string]cart.Entry) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = cloneItems(items)
	return nil
}

func (s *CartStore) Delete(ctx context.Context, sessionID string) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

func cloneItems(items map[string]cart.Entry) map[string]cart.Entry {
	out := make(map[string]cart.Entry, len(items))
	for k, v := range items {
		out[k] = v
	}
	return out
}
