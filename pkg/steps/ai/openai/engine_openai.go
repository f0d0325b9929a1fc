package openai

import (
	"context"
	"time"

	"github.com/go-go-golems/parley/pkg/inference/engine"
	"github.com/go-go-golems/parley/pkg/steps/ai/settings"
	ai_types "github.com/go-go-golems/parley/pkg/steps/ai/types"
	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

// OpenAIEngine talks to the OpenAI chat completion API, or any server that
// speaks it when a base URL is configured.
type OpenAIEngine struct {
	settings *settings.StepSettings
	client   *go_openai.Client
}

var _ engine.Engine = (*OpenAIEngine)(nil)

func NewOpenAIEngine(s *settings.StepSettings) (*OpenAIEngine, error) {
	if s == nil || s.Chat == nil {
		return nil, errors.New("openai: no chat settings")
	}
	client, err := MakeClient(s.API, ai_types.ApiTypeOpenAI)
	if err != nil {
		return nil, err
	}
	return &OpenAIEngine{settings: s.Clone(), client: client}, nil
}

func (e *OpenAIEngine) RunInference(ctx context.Context, conversation turns.Conversation) (turns.Turn, error) {
	req, err := MakeCompletionRequest(e.settings, conversation)
	if err != nil {
		return turns.Turn{}, err
	}

	start := time.Now()
	log.Debug().Str("model", req.Model).Int("num_messages", len(req.Messages)).Msg("OpenAI RunInference started")

	resp, err := e.client.CreateChatCompletion(ctx, *req)
	if err != nil {
		return turns.Turn{}, errors.Wrap(err, "openai: create chat completion")
	}
	text, err := responseText(resp)
	if err != nil {
		return turns.Turn{}, err
	}

	log.Debug().
		Str("model", req.Model).
		Dur("duration", time.Since(start)).
		Int("input_tokens", resp.Usage.PromptTokens).
		Int("output_tokens", resp.Usage.CompletionTokens).
		Msg("OpenAI RunInference completed")

	return turns.NewAssistantTurn(text), nil
}
