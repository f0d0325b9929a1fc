package gemini

import (
	"strings"

	"github.com/go-go-golems/parley/pkg/inference/engine"
	"github.com/go-go-golems/parley/pkg/turns"
	genai "github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
)

const (
	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

func IsGeminiEngine(engine string) bool {
	return strings.HasPrefix(engine, "gemini")
}

func roleToGeminiRole(r turns.Role) string {
	if r == turns.RoleAssistant {
		return geminiRoleModel
	}
	return geminiRoleUser
}

// splitConversation turns a conversation into chat history plus the message to send.
// The last turn must be a user turn. Gemini rejects a history that opens with a
// model turn, so assistant turns before the first user turn (the greeting) are dropped.
func splitConversation(c turns.Conversation) ([]*genai.Content, string, error) {
	last, ok := c.Last()
	if !ok {
		return nil, "", engine.ErrEmptyConversation
	}
	if last.Role != turns.RoleUser {
		return nil, "", errors.Errorf("gemini: last turn must be a user turn, got %q", last.Role)
	}

	prior := c[:len(c)-1]
	start := 0
	for start < len(prior) && prior[start].Role != turns.RoleUser {
		start++
	}

	history := make([]*genai.Content, 0, len(prior)-start)
	for _, t := range prior[start:] {
		history = append(history, &genai.Content{
			Role:  roleToGeminiRole(t.Role),
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	return history, last.Content, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", engine.ErrEmptyResponse
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return "", engine.ErrEmptyResponse
	}
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		if txt, ok := p.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if sb.Len() == 0 {
		return "", engine.ErrEmptyResponse
	}
	return sb.String(), nil
}
