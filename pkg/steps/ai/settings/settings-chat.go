package settings

import (
	"time"

	"github.com/go-go-golems/parley/pkg/steps/ai/types"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultGeminiEngine      = "gemini-1.5-flash"
	DefaultOpenAIEngine      = "gpt-4o-mini"
	DefaultMaxResponseTokens = 1000
	DefaultTimeout           = 60 * time.Second
)

type ChatSettings struct {
	ApiType           *types.ApiType `yaml:"api_type,omitempty"`
	Engine            *string        `yaml:"engine,omitempty"`
	MaxResponseTokens *int           `yaml:"max_response_tokens,omitempty"`
	Temperature       *float64       `yaml:"temperature,omitempty"`
	TopP              *float64       `yaml:"top_p,omitempty"`
	Timeout           *time.Duration `yaml:"timeout,omitempty"`
}

func NewChatSettings() *ChatSettings {
	apiType := types.ApiTypeGemini
	maxTokens := DefaultMaxResponseTokens
	timeout := DefaultTimeout
	return &ChatSettings{
		ApiType:           &apiType,
		MaxResponseTokens: &maxTokens,
		Timeout:           &timeout,
	}
}

func (s *ChatSettings) Clone() *ChatSettings {
	return clone.Clone(s).(*ChatSettings)
}

// EngineOrDefault returns the configured model name, or the provider default.
func (s *ChatSettings) EngineOrDefault() string {
	if s.Engine != nil && *s.Engine != "" {
		return *s.Engine
	}
	if s.ApiType != nil && *s.ApiType == types.ApiTypeOpenAI {
		return DefaultOpenAIEngine
	}
	return DefaultGeminiEngine
}

// UnmarshalYAML accepts the timeout either as a duration string ("30s") or as
// a number of seconds. Fields missing from the document keep their current value.
func (s *ChatSettings) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ApiType           *types.ApiType `yaml:"api_type"`
		Engine            *string        `yaml:"engine"`
		MaxResponseTokens *int           `yaml:"max_response_tokens"`
		Temperature       *float64       `yaml:"temperature"`
		TopP              *float64       `yaml:"top_p"`
		Timeout           *yaml.Node     `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.ApiType != nil {
		s.ApiType = raw.ApiType
	}
	if raw.Engine != nil {
		s.Engine = raw.Engine
	}
	if raw.MaxResponseTokens != nil {
		s.MaxResponseTokens = raw.MaxResponseTokens
	}
	if raw.Temperature != nil {
		s.Temperature = raw.Temperature
	}
	if raw.TopP != nil {
		s.TopP = raw.TopP
	}
	if raw.Timeout == nil {
		return nil
	}

	var seconds int
	if err := raw.Timeout.Decode(&seconds); err == nil {
		d := time.Duration(seconds) * time.Second
		s.Timeout = &d
		return nil
	}
	var str string
	if err := raw.Timeout.Decode(&str); err != nil {
		return err
	}
	d, err := time.ParseDuration(str)
	if err != nil {
		return errors.Wrapf(err, "invalid chat timeout %q", str)
	}
	s.Timeout = &d
	return nil
}
