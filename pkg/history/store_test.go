package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory struct {
	name string
	open func(t *testing.T, options ...StoreOption) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{
			name: "memory",
			open: func(t *testing.T, options ...StoreOption) Store {
				return NewMemoryStore(options...)
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T, options ...StoreOption) Store {
				dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "history.db"))
				require.NoError(t, err)
				s, err := NewSQLiteStore(dsn, options...)
				require.NoError(t, err)
				return s
			},
		},
		{
			name: "pebble",
			open: func(t *testing.T, options ...StoreOption) Store {
				s, err := NewPebbleStore(filepath.Join(t.TempDir(), "pebble"), options...)
				require.NoError(t, err)
				return s
			},
		},
	}
}

func exchange(user, assistant string) turns.Conversation {
	return turns.NewConversation(turns.Greeting("")).
		Append(turns.NewUserTurn(user)).
		Append(turns.NewAssistantTurn(assistant))
}

func TestStore_AppendAssignsIdentity(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			s := f.open(t, WithClock(clock.Now))
			defer func() { _ = s.Close() }()

			a, err := s.Append(context.Background(), "u1", exchange("hi", "hello"))
			require.NoError(t, err)
			assert.NotEmpty(t, a.ID)
			assert.Equal(t, "u1", a.UserID)
			assert.True(t, a.CreatedAt.Equal(clock.Now()))
			assert.Equal(t, exchange("hi", "hello"), a.Messages)

			b, err := s.Append(context.Background(), "u1", exchange("again", "sure"))
			require.NoError(t, err)
			assert.NotEqual(t, a.ID, b.ID)
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			s := f.open(t, WithClock(clock.Now))
			defer func() { _ = s.Close() }()
			ctx := context.Background()

			first, err := s.Append(ctx, "u1", exchange("one", "1"))
			require.NoError(t, err)
			clock.Advance(time.Second)
			second, err := s.Append(ctx, "u1", exchange("two", "2"))
			require.NoError(t, err)
			// same timestamp as second, later insertion wins the tie
			third, err := s.Append(ctx, "u1", exchange("three", "3"))
			require.NoError(t, err)

			list, err := s.List(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, third.ID, list[0].ID)
			assert.Equal(t, second.ID, list[1].ID)
			assert.Equal(t, first.ID, list[2].ID)
			assert.Equal(t, exchange("one", "1"), list[2].Messages)
		})
	}
}

func TestStore_ListIsolatesUsers(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t)
			defer func() { _ = s.Close() }()
			ctx := context.Background()

			_, err := s.Append(ctx, "alice", exchange("a", "b"))
			require.NoError(t, err)
			_, err = s.Append(ctx, "alice2", exchange("c", "d"))
			require.NoError(t, err)

			list, err := s.List(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "alice", list[0].UserID)

			empty, err := s.List(ctx, "bob")
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestStore_RejectsInvalidAppend(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t)
			defer func() { _ = s.Close() }()
			ctx := context.Background()

			_, err := s.Append(ctx, "", exchange("a", "b"))
			assert.ErrorIs(t, err, ErrEmptyUserID)

			_, err = s.Append(ctx, "u1", turns.Conversation{})
			assert.Error(t, err)
		})
	}
}

func TestStore_ClosedStoreFails(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t)
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			_, err := s.Append(context.Background(), "u1", exchange("a", "b"))
			assert.ErrorIs(t, err, ErrStoreClosed)
			_, err = s.List(context.Background(), "u1")
			assert.ErrorIs(t, err, ErrStoreClosed)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	msgs := exchange("a", "b")
	_, err := s.Append(ctx, "u1", msgs)
	require.NoError(t, err)
	msgs[1].Content = "mutated"

	list, err := s.List(ctx, "u1")
	require.NoError(t, err)
	list[0].Messages[1].Content = "also mutated"

	again, err := s.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].Messages[1].Content)
}

func TestPebbleStore_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pebble")
	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	a, err := s.Append(context.Background(), "u1", exchange("a", "b"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	b, err := s.Append(context.Background(), "u1", exchange("c", "d"))
	require.NoError(t, err)

	list, err := s.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(Config{Backend: "SQLite", Path: filepath.Join(t.TempDir(), "nested", "h.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(Config{Backend: BackendPebble, Path: filepath.Join(t.TempDir(), "p")})
	require.NoError(t, err)
	assert.IsType(t, &PebbleStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(Config{Backend: "redis"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Open(Config{Backend: BackendSQLite})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFind(t *testing.T) {
	list := []ArchivedConversation{{ID: "a"}, {ID: "b"}}
	got, ok := Find(list, "b")
	assert.True(t, ok)
	assert.Equal(t, "b", got.ID)
	_, ok = Find(list, "c")
	assert.False(t, ok)
}
