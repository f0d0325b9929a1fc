package events

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	seen   []EventType
	signal chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{signal: make(chan struct{}, 16)}
}

func (r *recordingHandler) record(e Event) error {
	r.mu.Lock()
	r.seen = append(r.seen, e.Type)
	r.mu.Unlock()
	r.signal <- struct{}{}
	return nil
}

func (r *recordingHandler) HandleTurnAppended(_ context.Context, e Event) error   { return r.record(e) }
func (r *recordingHandler) HandlePendingChanged(_ context.Context, e Event) error { return r.record(e) }
func (r *recordingHandler) HandleCompletionFailed(_ context.Context, e Event) error {
	return r.record(e)
}
func (r *recordingHandler) HandleSessionChanged(_ context.Context, e Event) error { return r.record(e) }
func (r *recordingHandler) HandleHistoryUpdated(_ context.Context, e Event) error { return r.record(e) }

func (r *recordingHandler) wait(t *testing.T, n int) []EventType {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.signal:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", i, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventType(nil), r.seen...)
}

func TestEventRouter_DispatchesInOrder(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	h := newRecordingHandler()
	router.AddHandler("session", "session", NewSessionDispatchHandler(h))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	sink := NewWatermillSink(router.Publisher, "session")
	require.NoError(t, sink.PublishEvent(NewEvent(EventTypeTurnAppended, "u1").WithTurn(turns.NewUserTurn("hi"))))
	require.NoError(t, sink.PublishEvent(NewEvent(EventTypePendingChanged, "u1")))
	require.NoError(t, sink.PublishEvent(NewEvent(EventTypeSessionReset, "u1")))
	require.NoError(t, sink.PublishEvent(NewEvent(EventTypeHistoryUpdated, "u1")))

	seen := h.wait(t, 4)
	assert.Equal(t, []EventType{
		EventTypeTurnAppended,
		EventTypePendingChanged,
		EventTypeSessionReset,
		EventTypeHistoryUpdated,
	}, seen)
}

func TestSessionDispatchHandler_DropsGarbage(t *testing.T) {
	h := newRecordingHandler()
	handler := NewSessionDispatchHandler(h)
	err := handler(message.NewMessage(watermill.NewUUID(), []byte("not json")))
	assert.NoError(t, err)
	err = handler(message.NewMessage(watermill.NewUUID(), []byte(`{"userId":"u1"}`)))
	assert.NoError(t, err)
	assert.Empty(t, h.seen)
}

func TestDumpRawEvents(t *testing.T) {
	var buf bytes.Buffer
	router, err := NewEventRouter(WithOutput(&buf))
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	msg := message.NewMessage(watermill.NewUUID(), []byte(`{"type":"archived","userId":"u1","time":"2024-01-01T00:00:00Z"}`))
	require.NoError(t, router.DumpRawEvents(msg))
	assert.Contains(t, buf.String(), `"type": "archived"`)
	assert.NotContains(t, buf.String(), "time")
}

func TestNewEventFromJson(t *testing.T) {
	e, err := NewEventFromJson([]byte(`{"type":"turn-appended","userId":"u1","turn":{"role":"user","content":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventTypeTurnAppended, e.Type)
	require.NotNil(t, e.Turn)
	assert.Equal(t, turns.NewUserTurn("hi"), *e.Turn)
}
