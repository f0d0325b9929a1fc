// Package events describes what happens inside a chat session and moves those
// events over a watermill bus to whoever renders them.
package events

import (
	"encoding/json"
	"time"

	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/pkg/errors"
)

type EventType string

const (
	// EventTypeTurnAppended fires for the user turn on submit and for the reply.
	EventTypeTurnAppended EventType = "turn-appended"
	// EventTypePendingChanged carries the new value of the pending indicator.
	EventTypePendingChanged   EventType = "pending-changed"
	EventTypeCompletionFailed EventType = "completion-failed"
	EventTypeArchived         EventType = "archived"
	EventTypeArchiveFailed    EventType = "archive-failed"
	EventTypeSessionReset     EventType = "session-reset"
	EventTypeSessionLoaded    EventType = "session-loaded"
	EventTypeHistoryUpdated   EventType = "history-updated"
)

// Event is a flat record; fields that do not apply to Type stay empty.
type Event struct {
	Type           EventType   `json:"type"`
	UserID         string      `json:"userId"`
	Time           time.Time   `json:"time"`
	Turn           *turns.Turn `json:"turn,omitempty"`
	Pending        bool        `json:"pending,omitempty"`
	ConversationID string      `json:"conversationId,omitempty"`
	HistorySize    int         `json:"historySize,omitempty"`
	Error          string      `json:"error,omitempty"`
}

func NewEvent(t EventType, userID string) Event {
	return Event{Type: t, UserID: userID, Time: time.Now().UTC()}
}

func (e Event) WithTurn(t turns.Turn) Event {
	e.Turn = &t
	return e
}

func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func NewEventFromJson(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, errors.Wrap(err, "could not decode event")
	}
	if e.Type == "" {
		return Event{}, errors.New("event has no type")
	}
	return e, nil
}
