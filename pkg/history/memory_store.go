package history

import (
	"context"
	"sync"

	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/google/uuid"
)

// MemoryStore keeps archived conversations in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	opts   storeOptions
	byUser map[string][]ArchivedConversation
	closed bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(options ...StoreOption) *MemoryStore {
	return &MemoryStore{
		opts:   newStoreOptions(options...),
		byUser: map[string][]ArchivedConversation{},
	}
}

func (s *MemoryStore) Append(ctx context.Context, userID string, msgs turns.Conversation) (ArchivedConversation, error) {
	if err := ctx.Err(); err != nil {
		return ArchivedConversation{}, err
	}
	if err := validateAppend(userID, msgs); err != nil {
		return ArchivedConversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ArchivedConversation{}, ErrStoreClosed
	}

	a := ArchivedConversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Messages:  msgs.Clone(),
		CreatedAt: s.opts.now().UTC(),
	}
	s.byUser[userID] = append(s.byUser[userID], a)
	return a.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, userID string) ([]ArchivedConversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	entries := s.byUser[userID]
	ret := make([]ArchivedConversation, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		ret = append(ret, entries[i].Clone())
	}
	SortNewestFirst(ret)
	return ret, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
