package tokenstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the token in process memory.
//
// Clients sharing one MemoryStore behave like tabs sharing browser storage.
type MemoryStore struct {
	mu       sync.Mutex
	token    string
	origin   string
	closed   bool
	nextID   int
	watchers map[int]chan Change
	done     chan struct{}
	now      func() time.Time
}

// NewMemoryStore returns an empty store that stamps notifications with origin.
func NewMemoryStore(origin string) *MemoryStore {
	return &MemoryStore{
		origin:   origin,
		watchers: make(map[int]chan Change),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Get returns the stored token.
func (s *MemoryStore) Get(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.token, nil
}

// Set replaces the stored token and notifies watchers.
func (s *MemoryStore) Set(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.token = token
	s.broadcastLocked(Change{Token: token, Origin: s.origin, At: s.now()})
	return nil
}

// Delete clears the stored token and notifies watchers.
func (s *MemoryStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.token = ""
	s.broadcastLocked(Change{Deleted: true, Origin: s.origin, At: s.now()})
	return nil
}

// Watch registers a watcher that lives until ctx ends or the store closes.
func (s *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	id := s.nextID
	s.nextID++
	ch := make(chan Change, 1)
	s.watchers[id] = ch

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}()

	return ch, nil
}

// Close closes every watcher channel. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	return nil
}

func (s *MemoryStore) broadcastLocked(c Change) {
	for _, ch := range s.watchers {
		offer(ch, c)
	}
}
