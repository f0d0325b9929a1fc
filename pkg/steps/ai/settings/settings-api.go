package settings

import (
	"github.com/go-go-golems/parley/pkg/steps/ai/types"
	"github.com/huandu/go-clone"
)

// APISettings holds credentials and endpoints, keyed "<provider>-api-key" and "<provider>-base-url".
type APISettings struct {
	APIKeys  map[string]string `yaml:"api_keys,omitempty"`
	BaseUrls map[string]string `yaml:"base_urls,omitempty"`
}

func NewAPISettings() *APISettings {
	return &APISettings{
		APIKeys:  map[string]string{},
		BaseUrls: map[string]string{},
	}
}

func (s *APISettings) Clone() *APISettings {
	return clone.Clone(s).(*APISettings)
}

func (s *APISettings) APIKey(apiType types.ApiType) string {
	if s == nil || s.APIKeys == nil {
		return ""
	}
	return s.APIKeys[apiType.APIKeyName()]
}

func (s *APISettings) BaseURL(apiType types.ApiType) string {
	if s == nil || s.BaseUrls == nil {
		return ""
	}
	return s.BaseUrls[apiType.BaseURLName()]
}

func (s *APISettings) SetAPIKey(apiType types.ApiType, key string) {
	if s.APIKeys == nil {
		s.APIKeys = map[string]string{}
	}
	s.APIKeys[apiType.APIKeyName()] = key
}

func (s *APISettings) SetBaseURL(apiType types.ApiType, url string) {
	if s.BaseUrls == nil {
		s.BaseUrls = map[string]string{}
	}
	s.BaseUrls[apiType.BaseURLName()] = url
}
