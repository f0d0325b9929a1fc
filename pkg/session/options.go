package session

import (
	"time"

	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/metrics"
	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultUserID = "anonymous-user"

type Option func(*Manager)

// WithUserID sets the identity that owns archived conversations.
func WithUserID(userID string) Option {
	return func(m *Manager) {
		if userID != "" {
			m.userID = userID
		}
	}
}

// WithUserName personalizes the greeting.
func WithUserName(name string) Option {
	return func(m *Manager) {
		m.greeting = turns.Greeting(name)
	}
}

// WithGreeting replaces the greeting that seeds every fresh conversation.
func WithGreeting(greeting turns.Turn) Option {
	return func(m *Manager) {
		m.greeting = greeting
	}
}

func WithSink(sink events.EventSink) Option {
	return func(m *Manager) {
		if sink != nil {
			m.sinks = append(m.sinks, sink)
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

// WithCompletionTimeout bounds every completion call. Zero means no bound
// beyond the caller's context.
func WithCompletionTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func defaultLogger() zerolog.Logger {
	return log.With().Str("component", "session").Logger()
}
