package engine

import (
	"context"

	"github.com/go-go-golems/parley/pkg/turns"
)

// EchoEngine answers with the last user turn. It never leaves the process and
// is what the CLI falls back to when no provider is configured.
type EchoEngine struct {
	Prefix string
}

var _ Engine = (*EchoEngine)(nil)

func NewEchoEngine(prefix string) *EchoEngine {
	return &EchoEngine{Prefix: prefix}
}

func (e *EchoEngine) RunInference(ctx context.Context, conversation turns.Conversation) (turns.Turn, error) {
	if err := ctx.Err(); err != nil {
		return turns.Turn{}, err
	}
	last, ok := conversation.LastUserTurn()
	if !ok {
		return turns.Turn{}, ErrEmptyConversation
	}
	return turns.NewAssistantTurn(e.Prefix + last.Content), nil
}
