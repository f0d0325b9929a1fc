// Package session owns the active chat conversation of one user.
//
// A Manager appends the user's turns, asks the completion engine for replies,
// archives finished conversations into a history store and keeps a cached,
// newest-first view of that history for loading past conversations back.
//
// At most one request is in flight per Manager. While a completion or an
// archive write is running, every other mutating call fails fast with
// ErrSessionBusy instead of queueing.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/history"
	"github.com/go-go-golems/parley/pkg/inference/engine"
	"github.com/go-go-golems/parley/pkg/metrics"
	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type State int

const (
	StateIdle State = iota
	// StatePending means a completion request is outstanding.
	StatePending
	// StateArchiving means the conversation is being written to the store.
	StateArchiving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateArchiving:
		return "archiving"
	default:
		return "unknown"
	}
}

type Manager struct {
	engine  engine.Engine
	store   history.Store
	watcher history.Watcher

	userID   string
	greeting turns.Turn
	sinks    []events.EventSink
	metrics  *metrics.Collector
	timeout  time.Duration
	logger   zerolog.Logger

	mu           sync.Mutex
	conversation turns.Conversation
	state        State
	draft        string
	known        []history.ArchivedConversation
	sub          *history.Subscription
	subscribing  bool
}

// New creates a Manager with a fresh conversation. If store also implements
// history.Watcher, SubscribeHistory is available.
func New(e engine.Engine, store history.Store, options ...Option) (*Manager, error) {
	if e == nil {
		return nil, ErrEngineNil
	}
	if store == nil {
		return nil, ErrStoreNil
	}

	m := &Manager{
		engine:   e,
		store:    store,
		userID:   DefaultUserID,
		greeting: turns.Greeting(""),
		logger:   defaultLogger(),
	}
	if w, ok := store.(history.Watcher); ok {
		m.watcher = w
	}
	for _, o := range options {
		o(m)
	}
	m.logger = m.logger.With().Str("user_id", m.userID).Logger()
	m.conversation = turns.NewConversation(m.greeting)
	return m, nil
}

// SendMessage appends text as a user turn and requests a reply.
//
// Blank input is ignored and returns (nil, nil). Otherwise the draft is
// cleared and the user turn is visible in Conversation as soon as the call
// starts. It stays there if the completion fails, in which case a
// *CompletionError is returned.
func (m *Manager) SendMessage(ctx context.Context, text string) (*turns.Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		m.metrics.ObserveSend(metrics.OutcomeBusy, 0)
		m.logger.Debug().Str("state", state.String()).Msg("rejecting message, session busy")
		return nil, ErrSessionBusy
	}
	userTurn := turns.NewUserTurn(text)
	m.conversation = m.conversation.Append(userTurn)
	prompt := m.conversation
	m.state = StatePending
	m.draft = ""
	m.mu.Unlock()

	m.emit(events.NewEvent(events.EventTypeTurnAppended, m.userID).WithTurn(userTurn))
	m.emitPending(true)

	callCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	tokens := m.metrics.ObservePrompt(prompt)
	m.logger.Debug().Int("turns", len(prompt)).Int("prompt_tokens", tokens).Msg("requesting completion")

	start := time.Now()
	reply, err := m.engine.RunInference(callCtx, prompt)
	elapsed := time.Since(start)
	if err == nil && reply.Role != turns.RoleAssistant {
		err = errors.Wrapf(engine.ErrUnexpectedRole, "got %q", reply.Role)
	}

	m.mu.Lock()
	m.state = StateIdle
	if err == nil {
		m.conversation = m.conversation.Append(reply)
	}
	m.mu.Unlock()

	m.emitPending(false)

	if err != nil {
		m.metrics.ObserveSend(metrics.OutcomeFailure, elapsed)
		m.logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("completion failed")
		m.emit(events.NewEvent(events.EventTypeCompletionFailed, m.userID).WithError(err))
		return nil, &CompletionError{Err: err}
	}

	m.metrics.ObserveSend(metrics.OutcomeSuccess, elapsed)
	m.logger.Debug().Dur("elapsed", elapsed).Msg("completion succeeded")
	m.emit(events.NewEvent(events.EventTypeTurnAppended, m.userID).WithTurn(reply))
	return &reply, nil
}

// StartNewSession archives the current conversation, if the user took part
// in it, and replaces it with a fresh greeting. On archive failure the
// current conversation is kept and an *ArchiveError is returned.
func (m *Manager) StartNewSession(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrSessionBusy
	}
	if !m.conversation.HasUserInput() {
		m.resetLocked()
		m.mu.Unlock()
		m.metrics.ObserveArchive(metrics.OutcomeSkipped)
		m.emit(events.NewEvent(events.EventTypeSessionReset, m.userID))
		return nil
	}
	snapshot := m.conversation
	m.state = StateArchiving
	m.mu.Unlock()

	archived, err := m.store.Append(ctx, m.userID, snapshot)

	m.mu.Lock()
	m.state = StateIdle
	if err == nil {
		m.resetLocked()
		m.rememberLocked(archived)
	}
	m.mu.Unlock()

	if err != nil {
		m.metrics.ObserveArchive(metrics.OutcomeFailure)
		m.logger.Warn().Err(err).Msg("could not archive conversation")
		m.emit(events.NewEvent(events.EventTypeArchiveFailed, m.userID).WithError(err))
		return &ArchiveError{UserID: m.userID, Err: err}
	}

	m.metrics.ObserveArchive(metrics.OutcomeSuccess)
	m.logger.Debug().Str("conversation_id", archived.ID).Int("turns", len(snapshot)).Msg("archived conversation")
	ev := events.NewEvent(events.EventTypeArchived, m.userID)
	ev.ConversationID = archived.ID
	m.emit(ev)
	m.emit(events.NewEvent(events.EventTypeSessionReset, m.userID))
	return nil
}

// LoadSession makes a copy of the archived conversation id the active one.
// Only conversations in the cached history are found; the cache is filled
// by SubscribeHistory, RefreshHistory and successful archives.
func (m *Manager) LoadSession(id string) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrSessionBusy
	}
	archived, ok := history.Find(m.known, id)
	if !ok {
		m.mu.Unlock()
		return errors.Wrapf(ErrNotFound, "conversation %s", id)
	}
	loaded := archived.Messages.Clone()
	if len(loaded) == 0 {
		loaded = turns.NewConversation(m.greeting)
	}
	m.conversation = loaded
	m.mu.Unlock()

	m.logger.Debug().Str("conversation_id", id).Int("turns", len(loaded)).Msg("loaded conversation")
	ev := events.NewEvent(events.EventTypeSessionLoaded, m.userID)
	ev.ConversationID = id
	m.emit(ev)
	return nil
}

// SubscribeHistory starts watching the user's archived conversations. Every
// snapshot refreshes the cache used by LoadSession before onChange runs.
// Only one subscription may be active at a time.
func (m *Manager) SubscribeHistory(
	ctx context.Context,
	onChange func([]history.ArchivedConversation),
	onError func(error),
) (*history.Subscription, error) {
	if m.watcher == nil {
		return nil, &history.SubscriptionError{UserID: m.userID, Err: ErrNotWatchable}
	}

	m.mu.Lock()
	if m.subscribing || (m.sub != nil && !m.sub.Closed()) {
		m.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	m.subscribing = true
	m.mu.Unlock()

	sub, err := m.watcher.Subscribe(ctx, m.userID,
		func(list []history.ArchivedConversation) {
			m.setKnown(list)
			m.metrics.ObserveHistoryUpdate()
			ev := events.NewEvent(events.EventTypeHistoryUpdated, m.userID)
			ev.HistorySize = len(list)
			m.emit(ev)
			if onChange != nil {
				onChange(list)
			}
		},
		func(err error) {
			m.logger.Warn().Err(err).Msg("history subscription failed")
			if onError != nil {
				onError(err)
			}
		},
	)

	m.mu.Lock()
	m.subscribing = false
	if err == nil {
		m.sub = sub
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return sub, nil
}

// RefreshHistory lists the store once and replaces the cached history.
func (m *Manager) RefreshHistory(ctx context.Context) ([]history.ArchivedConversation, error) {
	list, err := m.store.List(ctx, m.userID)
	if err != nil {
		return nil, errors.Wrap(err, "could not list history")
	}
	m.setKnown(list)
	return m.History(), nil
}

// Close ends the history subscription, if any, and waits for a history
// callback in progress to return. It must not be called from inside the
// history callback. The store stays open.
func (m *Manager) Close() error {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()
	if sub != nil {
		sub.UnsubscribeAndWait()
	}
	return nil
}

func (m *Manager) Conversation() turns.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversation.Clone()
}

// History returns the cached archived conversations, newest first.
func (m *Manager) History() []history.ArchivedConversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]history.ArchivedConversation, len(m.known))
	for i, a := range m.known {
		ret[i] = a.Clone()
	}
	return ret
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pending reports whether a completion request is outstanding.
func (m *Manager) Pending() bool {
	return m.State() == StatePending
}

func (m *Manager) Draft() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draft
}

func (m *Manager) SetDraft(draft string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = draft
}

func (m *Manager) UserID() string {
	return m.userID
}

// Suggestions returns starter prompts while the conversation only holds the
// greeting, and nil afterwards.
func (m *Manager) Suggestions() []Suggestion {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conversation.HasUserInput() {
		return nil
	}
	return DefaultSuggestions()
}

func (m *Manager) resetLocked() {
	m.conversation = turns.NewConversation(m.greeting)
	m.draft = ""
}

// rememberLocked adds a freshly archived conversation to the cache so it can
// be loaded before the next history snapshot arrives.
func (m *Manager) rememberLocked(a history.ArchivedConversation) {
	if _, ok := history.Find(m.known, a.ID); ok {
		return
	}
	known := make([]history.ArchivedConversation, 0, len(m.known)+1)
	known = append(known, a.Clone())
	known = append(known, m.known...)
	history.SortNewestFirst(known)
	m.known = known
}

// setKnown replaces the cache with a listing. Cached entries missing from
// the listing survive when they are at least as new as its newest entry:
// they were archived after the listing was taken.
func (m *Manager) setKnown(list []history.ArchivedConversation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	known := make([]history.ArchivedConversation, 0, len(list)+1)
	for _, a := range m.known {
		if _, ok := history.Find(list, a.ID); ok {
			continue
		}
		if len(list) == 0 || !a.CreatedAt.Before(list[0].CreatedAt) {
			known = append(known, a)
		}
	}
	for _, a := range list {
		known = append(known, a.Clone())
	}
	history.SortNewestFirst(known)
	m.known = known
}

func (m *Manager) emitPending(pending bool) {
	ev := events.NewEvent(events.EventTypePendingChanged, m.userID)
	ev.Pending = pending
	m.emit(ev)
}

func (m *Manager) emit(ev events.Event) {
	for _, s := range m.sinks {
		if err := s.PublishEvent(ev); err != nil {
			m.logger.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("could not publish session event")
		}
	}
}
