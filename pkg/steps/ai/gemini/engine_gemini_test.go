package gemini

import (
	"testing"

	"github.com/go-go-golems/parley/pkg/inference/engine"
	"github.com/go-go-golems/parley/pkg/steps/ai/settings"
	"github.com/go-go-golems/parley/pkg/steps/ai/types"
	"github.com/go-go-golems/parley/pkg/turns"
	genai "github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitConversation_DropsLeadingGreeting(t *testing.T) {
	c := turns.NewConversation(turns.Greeting("Jessie")).
		Append(turns.NewUserTurn("plan a trip")).
		Append(turns.NewAssistantTurn("where to?")).
		Append(turns.NewUserTurn("Lisbon"))

	history, prompt, err := splitConversation(c)
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", prompt)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, []genai.Part{genai.Text("plan a trip")}, history[0].Parts)
	assert.Equal(t, "model", history[1].Role)
	assert.Equal(t, []genai.Part{genai.Text("where to?")}, history[1].Parts)
}

func TestSplitConversation_FirstMessage(t *testing.T) {
	c := turns.NewConversation(turns.Greeting("")).Append(turns.NewUserTurn("hi"))
	history, prompt, err := splitConversation(c)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, "hi", prompt)
}

func TestSplitConversation_Errors(t *testing.T) {
	_, _, err := splitConversation(nil)
	require.ErrorIs(t, err, engine.ErrEmptyConversation)

	_, _, err = splitConversation(turns.NewConversation(turns.Greeting("")))
	require.Error(t, err)
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []genai.Part{genai.Text("Hello, "), genai.Text("world")}},
		}},
	}
	text, err := responseText(resp)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)

	_, err = responseText(&genai.GenerateContentResponse{})
	require.ErrorIs(t, err, engine.ErrEmptyResponse)

	_, err = responseText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}})
	require.ErrorIs(t, err, engine.ErrEmptyResponse)
}

func TestNewGeminiEngine_RequiresKey(t *testing.T) {
	s := settings.NewStepSettings()
	_, err := NewGeminiEngine(s)
	require.Error(t, err)

	s.API.SetAPIKey(types.ApiTypeGemini, "key")
	e, err := NewGeminiEngine(s)
	require.NoError(t, err)
	require.NotNil(t, e)
}

func TestIsGeminiEngine(t *testing.T) {
	assert.True(t, IsGeminiEngine("gemini-1.5-flash"))
	assert.False(t, IsGeminiEngine("gpt-4o-mini"))
}
