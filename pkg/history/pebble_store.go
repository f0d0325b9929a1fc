package history

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PebbleStore persists archived conversations in a pebble key-value store.
//
// Keys have the form
//
//	conv/<hex user id>/<inverted unix millis>-<inverted seq>
//
// so a forward scan over a user prefix yields conversations newest first,
// with later appends winning timestamp ties.
type PebbleStore struct {
	mu     sync.RWMutex
	opts   storeOptions
	db     *pebble.DB
	seq    uint64
	closed bool
}

var _ Store = (*PebbleStore)(nil)

type pebbleRecord struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	CreatedAtMs int64              `json:"createdAtMs"`
	Messages    turns.Conversation `json:"messages"`
}

func NewPebbleStore(path string, options ...StoreOption) (*PebbleStore, error) {
	if path == "" {
		return nil, errors.Wrap(ErrInvalidConfig, "pebble history store: empty path")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "pebble history store: open")
	}
	return &PebbleStore{
		opts: newStoreOptions(options...),
		db:   db,
		// seeded from the wall clock so tie-breaks stay monotonic across reopen
		seq: uint64(time.Now().UnixNano()),
	}, nil
}

func userPrefix(userID string) string {
	return "conv/" + hex.EncodeToString([]byte(userID)) + "/"
}

func conversationKey(userID string, createdAtMs int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d-%020d",
		userPrefix(userID), math.MaxInt64-createdAtMs, math.MaxUint64-seq))
}

// prefixUpperBound returns the smallest key greater than every key carrying prefix.
func prefixUpperBound(prefix string) []byte {
	upper := []byte(prefix)
	upper[len(upper)-1]++
	return upper
}

func (s *PebbleStore) Append(ctx context.Context, userID string, msgs turns.Conversation) (ArchivedConversation, error) {
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

	rec := pebbleRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		CreatedAtMs: s.opts.now().UnixMilli(),
		Messages:    msgs,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return ArchivedConversation{}, errors.Wrap(err, "pebble history store: marshal")
	}
	s.seq++
	seq := s.seq
	if err := s.db.Set(conversationKey(userID, rec.CreatedAtMs, seq), data, pebble.Sync); err != nil {
		return ArchivedConversation{}, errors.Wrap(err, "pebble history store: set")
	}

	return ArchivedConversation{
		ID:        rec.ID,
		UserID:    userID,
		Messages:  msgs.Clone(),
		CreatedAt: time.UnixMilli(rec.CreatedAtMs).UTC(),
	}, nil
}

func (s *PebbleStore) List(ctx context.Context, userID string) ([]ArchivedConversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	prefix := userPrefix(userID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "pebble history store: iterator")
	}
	defer func() {
		_ = iter.Close()
	}()

	ret := []ArchivedConversation{}
	for iter.First(); iter.Valid(); iter.Next() {
		v := append([]byte(nil), iter.Value()...)
		var rec pebbleRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, errors.Wrapf(err, "pebble history store: decode %s", string(iter.Key()))
		}
		ret = append(ret, ArchivedConversation{
			ID:        rec.ID,
			UserID:    rec.UserID,
			Messages:  rec.Messages,
			CreatedAt: time.UnixMilli(rec.CreatedAtMs).UTC(),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "pebble history store: iterate")
	}
	return ret, nil
}

func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
