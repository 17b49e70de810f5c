package cart

import (
	"context"
	"sync"
	"time"

	"github.com/safar/go-storefront/internal/models"
)

const defaultSweepInterval = time.Minute

type memoryEntry struct {
	lines     []models.CartLine
	expiresAt time.Time
}

// MemoryStore implements Store in process memory. Expired carts are
// invisible to Get and are removed by a background sweeper.
type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string]*memoryEntry
	ttl   time.Duration
	now   func() time.Time

	stopCleanup chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// NewMemoryStore creates a store whose carts live for ttl after their last
// write, sweeping expired carts every sweepInterval. A non-positive
// sweepInterval falls back to defaultSweepInterval.
func NewMemoryStore(ttl, sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}

	s := &MemoryStore{
		carts:       make(map[string]*memoryEntry),
		ttl:         ttl,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop(sweepInterval)

	return s
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCleanup:
			return
		}
	}
}

// sweep deletes every cart past its expiry and returns how many were removed.
func (s *MemoryStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, entry := range s.carts {
		if now.After(entry.expiresAt) {
			delete(s.carts, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]models.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.carts[key]
	if !ok || s.now().After(entry.expiresAt) {
		return []models.CartLine{}, nil
	}

	lines := make([]models.CartLine, len(entry.lines))
	copy(lines, entry.lines)
	return lines, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, lines []models.CartLine) error {
	stored := make([]models.CartLine, len(lines))
	copy(stored, lines)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.carts[key] = &memoryEntry{
		lines:     stored,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, key)
	return nil
}

// Len reports the number of carts held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.carts)
}

// Close stops the sweeper and waits for it to exit. It is safe to call
// more than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	s.wg.Wait()
	return nil
}
