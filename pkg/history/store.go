// Package history persists finished conversations and keeps subscribers up to
// date when the set of archived conversations changes.
//
// A Store appends and lists conversations for a user; the store, not the
// caller, assigns the identifier and the creation timestamp. LiveStore wraps
// any Store with a watermill pub/sub so that every successful Append pushes a
// fresh, newest-first listing to the user's subscribers.
package history

import (
	"context"
	"sort"
	"time"

	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/pkg/errors"
)

var (
	ErrStoreClosed   = errors.New("history: store is closed")
	ErrEmptyUserID   = errors.New("history: empty user id")
	ErrInvalidConfig = errors.New("history: invalid store configuration")
)

// ArchivedConversation is an immutable snapshot of a finished conversation.
type ArchivedConversation struct {
	ID        string             `json:"id" yaml:"id"`
	UserID    string             `json:"userId" yaml:"user_id"`
	Messages  turns.Conversation `json:"messages" yaml:"messages"`
	CreatedAt time.Time          `json:"createdAt" yaml:"created_at"`
}

func (a ArchivedConversation) Clone() ArchivedConversation {
	a.Messages = a.Messages.Clone()
	return a
}

// Store is a persisted, appendable collection of archived conversations.
type Store interface {
	// Append archives msgs for userID and returns the stored record.
	Append(ctx context.Context, userID string, msgs turns.Conversation) (ArchivedConversation, error)
	// List returns all archived conversations of userID, newest first.
	List(ctx context.Context, userID string) ([]ArchivedConversation, error)
	Close() error
}

// Watcher pushes the full history of a user to a callback whenever it changes.
type Watcher interface {
	Subscribe(
		ctx context.Context,
		userID string,
		onChange func([]ArchivedConversation),
		onError func(error),
	) (*Subscription, error)
}

// LiveHistory is a Store whose changes can be watched.
type LiveHistory interface {
	Store
	Watcher
}

type StoreOption func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

func newStoreOptions(options ...StoreOption) storeOptions {
	ret := storeOptions{now: time.Now}
	for _, o := range options {
		o(&ret)
	}
	return ret
}

// WithClock overrides the clock used to stamp CreatedAt.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func validateAppend(userID string, msgs turns.Conversation) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if err := msgs.Validate(); err != nil {
		return errors.Wrap(err, "history: refusing to archive")
	}
	return nil
}

// SortNewestFirst orders by CreatedAt descending. The sort is stable, so
// callers pass entries in reverse insertion order to break ties newest first.
func SortNewestFirst(list []ArchivedConversation) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// Find returns the entry with the given id.
func Find(list []ArchivedConversation, id string) (ArchivedConversation, bool) {
	for _, a := range list {
		if a.ID == id {
			return a, true
		}
	}
	return ArchivedConversation{}, false
}
