package gemini

import (
	"context"
	"math"
	"time"

	"github.com/go-go-golems/parley/pkg/inference/engine"
	"github.com/go-go-golems/parley/pkg/steps/ai/settings"
	"github.com/go-go-golems/parley/pkg/steps/ai/types"
	"github.com/go-go-golems/parley/pkg/turns"
	genai "github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// GeminiEngine implements the Engine interface for Google's Gemini API.
type GeminiEngine struct {
	settings *settings.StepSettings
}

var _ engine.Engine = (*GeminiEngine)(nil)

func NewGeminiEngine(s *settings.StepSettings) (*GeminiEngine, error) {
	if s == nil || s.Chat == nil {
		return nil, errors.New("gemini: no chat settings")
	}
	if s.API.APIKey(types.ApiTypeGemini) == "" {
		return nil, errors.Errorf("gemini: missing API key %s", types.ApiTypeGemini.APIKeyName())
	}
	return &GeminiEngine{settings: s.Clone()}, nil
}

func (e *GeminiEngine) makeClient(ctx context.Context) (*genai.Client, error) {
	opts := []option.ClientOption{option.WithAPIKey(e.settings.API.APIKey(types.ApiTypeGemini))}
	if baseURL := e.settings.API.BaseURL(types.ApiTypeGemini); baseURL != "" {
		opts = append(opts, option.WithEndpoint(baseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gemini client")
	}
	return client, nil
}

func (e *GeminiEngine) configureModel(model *genai.GenerativeModel) {
	chat := e.settings.Chat
	if chat.MaxResponseTokens != nil {
		mt := *chat.MaxResponseTokens
		switch {
		case mt < 0:
			log.Warn().Int("requested_max_tokens", mt).Msg("Negative MaxResponseTokens provided; clamping to 0")
			mt = 0
		case mt > math.MaxInt32:
			log.Warn().Int("requested_max_tokens", mt).Msg("MaxResponseTokens exceeds int32; clamping")
			mt = math.MaxInt32
		}
		model.SetMaxOutputTokens(int32(mt)) // #nosec G115
	}
	if chat.Temperature != nil {
		model.SetTemperature(float32(*chat.Temperature))
	}
	if chat.TopP != nil {
		model.SetTopP(float32(*chat.TopP))
	}
}

// RunInference replays all but the last turn as chat history and sends the
// last user turn as the new message.
func (e *GeminiEngine) RunInference(ctx context.Context, conversation turns.Conversation) (turns.Turn, error) {
	history, prompt, err := splitConversation(conversation)
	if err != nil {
		return turns.Turn{}, err
	}

	client, err := e.makeClient(ctx)
	if err != nil {
		return turns.Turn{}, err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close gemini client")
		}
	}()

	modelName := e.settings.Chat.EngineOrDefault()
	model := client.GenerativeModel(modelName)
	e.configureModel(model)

	cs := model.StartChat()
	cs.History = history

	start := time.Now()
	log.Debug().
		Str("model", modelName).
		Int("history_len", len(history)).
		Msg("Gemini RunInference started")

	resp, err := cs.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return turns.Turn{}, errors.Wrap(err, "gemini: send message")
	}
	text, err := responseText(resp)
	if err != nil {
		return turns.Turn{}, err
	}

	ev := log.Debug().
		Str("model", modelName).
		Dur("duration", time.Since(start)).
		Int("final_text_len", len(text))
	if resp.UsageMetadata != nil {
		ev = ev.
			Int32("input_tokens", resp.UsageMetadata.PromptTokenCount).
			Int32("output_tokens", resp.UsageMetadata.CandidatesTokenCount)
	}
	ev.Msg("Gemini RunInference completed")

	return turns.NewAssistantTurn(text), nil
}
