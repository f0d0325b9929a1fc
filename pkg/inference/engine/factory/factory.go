package factory

import (
	"strings"
	"time"

	"github.com/go-go-golems/parley/pkg/inference/engine"
	"github.com/go-go-golems/parley/pkg/steps/ai/gemini"
	"github.com/go-go-golems/parley/pkg/steps/ai/openai"
	"github.com/go-go-golems/parley/pkg/steps/ai/settings"
	"github.com/go-go-golems/parley/pkg/steps/ai/types"
	"github.com/pkg/errors"
)

// EngineFactory creates inference engines based on provider settings.
type EngineFactory interface {
	// CreateEngine creates an Engine for settings.Chat.ApiType, falling back to DefaultProvider.
	CreateEngine(settings *settings.StepSettings) (engine.Engine, error)
	SupportedProviders() []string
	DefaultProvider() string
}

// StandardEngineFactory builds gemini, openai and echo engines, each wrapped
// with the timeout, logging and role-check middleware.
type StandardEngineFactory struct {
	// Middlewares are appended after the standard ones.
	Middlewares []engine.Middleware
}

var _ EngineFactory = (*StandardEngineFactory)(nil)

func NewStandardEngineFactory(middlewares ...engine.Middleware) *StandardEngineFactory {
	return &StandardEngineFactory{Middlewares: middlewares}
}

func (f *StandardEngineFactory) CreateEngine(s *settings.StepSettings) (engine.Engine, error) {
	if s == nil {
		return nil, errors.New("settings cannot be nil")
	}
	if s.Chat == nil {
		return nil, errors.New("chat settings cannot be nil")
	}

	provider := f.DefaultProvider()
	if s.Chat.ApiType != nil && *s.Chat.ApiType != "" {
		provider = strings.ToLower(string(*s.Chat.ApiType))
	}

	var (
		e   engine.Engine
		err error
	)
	switch provider {
	case string(types.ApiTypeGemini):
		e, err = gemini.NewGeminiEngine(s)
	case string(types.ApiTypeOpenAI):
		e, err = openai.NewOpenAIEngine(s)
	case string(types.ApiTypeEcho):
		e = engine.NewEchoEngine("")
	default:
		return nil, errors.Errorf("unsupported provider %s. Supported providers: %s",
			provider, strings.Join(f.SupportedProviders(), ", "))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "invalid settings for provider %s", provider)
	}

	var timeout time.Duration
	if s.Chat.Timeout != nil {
		timeout = *s.Chat.Timeout
	}
	middlewares := []engine.Middleware{
		engine.WithLogging(provider),
		engine.WithTimeout(timeout),
		engine.WithRoleCheck(),
	}
	middlewares = append(middlewares, f.Middlewares...)
	return engine.NewEngineWithMiddleware(e, middlewares...), nil
}

func (f *StandardEngineFactory) SupportedProviders() []string {
	return []string{
		string(types.ApiTypeGemini),
		string(types.ApiTypeOpenAI),
		string(types.ApiTypeEcho),
	}
}

func (f *StandardEngineFactory) DefaultProvider() string {
	return string(types.ApiTypeGemini)
}

// NewEngineFromSettings creates an engine with the standard factory.
func NewEngineFromSettings(s *settings.StepSettings, middlewares ...engine.Middleware) (engine.Engine, error) {
	return NewStandardEngineFactory(middlewares...).CreateEngine(s)
}
