package engine

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// HandlerFunc processes a single inference request.
type HandlerFunc func(ctx context.Context, conversation turns.Conversation) (turns.Turn, error)

// Middleware wraps a HandlerFunc with additional functionality.
// Middleware are applied in order: Chain(h, m1, m2, m3) results in m1(m2(m3(h))).
type Middleware func(HandlerFunc) HandlerFunc

// Chain composes multiple middleware into a single HandlerFunc.
func Chain(handler HandlerFunc, middlewares ...Middleware) HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// EngineWithMiddleware wraps an Engine with a middleware chain.
type EngineWithMiddleware struct {
	handler HandlerFunc
}

var _ Engine = (*EngineWithMiddleware)(nil)

func NewEngineWithMiddleware(e Engine, middlewares ...Middleware) *EngineWithMiddleware {
	return &EngineWithMiddleware{
		handler: Chain(e.RunInference, middlewares...),
	}
}

// RunInference hands a private copy of the conversation to the chain, so no
// middleware or engine can reach into the caller's turns.
func (e *EngineWithMiddleware) RunInference(ctx context.Context, conversation turns.Conversation) (turns.Turn, error) {
	if len(conversation) == 0 {
		return turns.Turn{}, ErrEmptyConversation
	}
	return e.handler(ctx, conversation.Clone())
}

// WithTimeout bounds every call. A zero or negative duration disables the bound.
func WithTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, conversation turns.Conversation) (turns.Turn, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			t, err := next(ctx, conversation)
			if err != nil && ctx.Err() == context.DeadlineExceeded && !errors.Is(err, context.DeadlineExceeded) {
				return turns.Turn{}, errors.Wrapf(context.DeadlineExceeded, "inference timed out after %s: %v", d, err)
			}
			return t, err
		}
	}
}

// WithLogging logs the start and outcome of each call.
func WithLogging(provider string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, conversation turns.Conversation) (turns.Turn, error) {
			logger := log.With().
				Str("provider", provider).
				Int("turn_count", len(conversation)).
				Logger()
			logger.Debug().Msg("Starting inference")

			start := time.Now()
			t, err := next(ctx, conversation)
			if err != nil {
				logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("Inference failed")
				return t, err
			}
			logger.Debug().
				Dur("duration", time.Since(start)).
				Int("response_len", len(t.Content)).
				Msg("Inference completed")
			return t, nil
		}
	}
}

// WithRoleCheck rejects responses that are not a non-empty assistant turn.
func WithRoleCheck() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, conversation turns.Conversation) (turns.Turn, error) {
			t, err := next(ctx, conversation)
			if err != nil {
				return t, err
			}
			if t.Role != turns.RoleAssistant {
				return turns.Turn{}, errors.Wrapf(ErrUnexpectedRole, "got role %q", t.Role)
			}
			if strings.TrimSpace(t.Content) == "" {
				return turns.Turn{}, ErrEmptyResponse
			}
			return t, nil
		}
	}
}
