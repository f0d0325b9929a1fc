package engine

import (
	"context"

	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/pkg/errors"
)

var (
	ErrEmptyConversation = errors.New("engine: conversation is empty")
	ErrUnexpectedRole    = errors.New("engine: response turn is not an assistant turn")
	ErrEmptyResponse     = errors.New("engine: provider returned no text")
)

// Engine represents a remote text-generation service. It receives the full
// conversation so far, ending in the newest user turn, and returns exactly
// one new assistant turn. Engines must not modify the conversation they are
// given, and must not retry on their own.
type Engine interface {
	RunInference(ctx context.Context, conversation turns.Conversation) (turns.Turn, error)
}

// EngineFunc adapts a plain function to the Engine interface.
type EngineFunc func(ctx context.Context, conversation turns.Conversation) (turns.Turn, error)

func (f EngineFunc) RunInference(ctx context.Context, conversation turns.Conversation) (turns.Turn, error) {
	return f(ctx, conversation)
}

var _ Engine = EngineFunc(nil)
