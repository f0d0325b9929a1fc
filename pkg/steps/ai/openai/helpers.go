package openai

import (
	"strings"

	"github.com/go-go-golems/parley/pkg/inference/engine"
	"github.com/go-go-golems/parley/pkg/steps/ai/settings"
	ai_types "github.com/go-go-golems/parley/pkg/steps/ai/types"
	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
)

func IsOpenAiEngine(engine string) bool {
	if strings.HasPrefix(engine, "gpt") {
		return true
	}
	if strings.HasPrefix(engine, "text-") {
		return true
	}

	return false
}

func roleToOpenAIRole(r turns.Role) string {
	if r == turns.RoleAssistant {
		return go_openai.ChatMessageRoleAssistant
	}
	return go_openai.ChatMessageRoleUser
}

// MakeCompletionRequest builds a chat completion request from the whole conversation.
func MakeCompletionRequest(s *settings.StepSettings, c turns.Conversation) (*go_openai.ChatCompletionRequest, error) {
	if len(c) == 0 {
		return nil, engine.ErrEmptyConversation
	}
	if s == nil || s.Chat == nil {
		return nil, errors.New("openai: no chat settings")
	}

	msgs := make([]go_openai.ChatCompletionMessage, 0, len(c))
	for _, t := range c {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    roleToOpenAIRole(t.Role),
			Content: t.Content,
		})
	}

	req := &go_openai.ChatCompletionRequest{
		Model:    s.Chat.EngineOrDefault(),
		Messages: msgs,
	}
	if s.Chat.MaxResponseTokens != nil {
		req.MaxTokens = *s.Chat.MaxResponseTokens
	}
	if s.Chat.Temperature != nil {
		req.Temperature = float32(*s.Chat.Temperature)
	}
	if s.Chat.TopP != nil {
		req.TopP = float32(*s.Chat.TopP)
	}
	return req, nil
}

func MakeClient(apiSettings *settings.APISettings, apiType ai_types.ApiType) (*go_openai.Client, error) {
	apiKey := apiSettings.APIKey(apiType)
	if apiKey == "" {
		return nil, errors.Errorf("no API key for %s", apiType)
	}
	config := go_openai.DefaultConfig(apiKey)
	if baseURL := apiSettings.BaseURL(apiType); baseURL != "" {
		config.BaseURL = baseURL
	}
	return go_openai.NewClientWithConfig(config), nil
}

func responseText(resp go_openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", engine.ErrEmptyResponse
	}
	text := resp.Choices[0].Message.Content
	if text == "" {
		return "", engine.ErrEmptyResponse
	}
	return text, nil
}
