package settings

import (
	"io"

	"github.com/huandu/go-clone"
	"gopkg.in/yaml.v3"
)

type StepSettings struct {
	Chat *ChatSettings `yaml:"chat,omitempty"`
	API  *APISettings  `yaml:"api,omitempty"`
}

func NewStepSettings() *StepSettings {
	return &StepSettings{
		Chat: NewChatSettings(),
		API:  NewAPISettings(),
	}
}

// NewStepSettingsFromYAML decodes settings on top of the defaults, so a file
// only needs to name what it overrides.
func NewStepSettingsFromYAML(r io.Reader) (*StepSettings, error) {
	ret := NewStepSettings()
	if err := yaml.NewDecoder(r).Decode(ret); err != nil {
		if err == io.EOF {
			return ret, nil
		}
		return nil, err
	}
	if ret.Chat == nil {
		ret.Chat = NewChatSettings()
	}
	if ret.API == nil {
		ret.API = NewAPISettings()
	}
	return ret, nil
}

func (ss *StepSettings) Clone() *StepSettings {
	return clone.Clone(ss).(*StepSettings)
}

// GetMetadata returns the settings that are safe to attach to logs. API keys are never included.
func (ss *StepSettings) GetMetadata() map[string]interface{} {
	metadata := make(map[string]interface{})

	if ss.Chat != nil {
		if ss.Chat.ApiType != nil {
			metadata["ai-api-type"] = string(*ss.Chat.ApiType)
		}
		metadata["ai-engine"] = ss.Chat.EngineOrDefault()
		if ss.Chat.MaxResponseTokens != nil {
			metadata["ai-max-response-tokens"] = *ss.Chat.MaxResponseTokens
		}
		if ss.Chat.Temperature != nil {
			metadata["ai-temperature"] = *ss.Chat.Temperature
		}
		if ss.Chat.TopP != nil && *ss.Chat.TopP != 1 {
			metadata["ai-top-p"] = *ss.Chat.TopP
		}
		if ss.Chat.Timeout != nil {
			metadata["ai-timeout"] = ss.Chat.Timeout.String()
		}
	}

	return metadata
}
