package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	builder *Builder

	mu     sync.RWMutex // guards chains, byHash, nextID
	chains map[string][]*Entry
	byHash map[string]*Entry
	nextID int64

	lockMu sync.Mutex // guards locks
	locks  map[string]*sync.Mutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(builder *Builder) *MemoryStore {
	return &MemoryStore{
		builder: builder,
		chains:  make(map[string][]*Entry),
		byHash:  make(map[string]*Entry),
		locks:   make(map[string]*sync.Mutex),
	}
}

// resourceLock returns the append mutex for a resource, creating it on
// first use. Holding only the per-resource lock keeps appends to
// unrelated resources independent of each other.
func (s *MemoryStore) resourceLock(resourceID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[resourceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[resourceID] = l
	}
	return l
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, req AppendRequest) (*Entry, error) {
	if req.ResourceID == "" {
		return nil, ErrInvalidResourceID
	}

	l := s.resourceLock(req.ResourceID)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	var prev *Entry
	if chain := s.chains[req.ResourceID]; len(chain) > 0 {
		prev = chain[len(chain)-1]
	}
	s.mu.RUnlock()

	entry, err := s.builder.Build(req.ResourceID, req.Metadata, req.CreatedBy, prev)
	if err != nil {
		return nil, err
	}
	entry.AnchorTx = req.AnchorTx

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHash[entry.EntryHash]; exists {
		return nil, ErrDuplicateHash
	}
	s.nextID++
	entry.ID = s.nextID
	s.chains[req.ResourceID] = append(s.chains[req.ResourceID], entry)
	s.byHash[entry.EntryHash] = entry
	return entry, nil
}

// Chain implements Store.
func (s *MemoryStore) Chain(_ context.Context, resourceID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[resourceID]
	out := make([]*Entry, len(chain))
	copy(out, chain)
	return out, nil
}

// Resources implements Store.
func (s *MemoryStore) Resources(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.chains))
	for id := range s.chains {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ByHash implements Store.
func (s *MemoryStore) ByHash(_ context.Context, entryHash string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byHash[entryHash]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}
