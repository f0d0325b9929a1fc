package types

type ApiType string

const (
	ApiTypeGemini ApiType = "gemini"
	ApiTypeOpenAI ApiType = "openai"
	// ApiTypeEcho answers locally with the last user message, no network involved.
	ApiTypeEcho ApiType = "echo"
)

func (a ApiType) String() string {
	return string(a)
}

// APIKeyName is the key under which the provider's API key is stored in APISettings.
func (a ApiType) APIKeyName() string {
	return string(a) + "-api-key"
}

// BaseURLName is the key under which the provider's base URL override is stored in APISettings.
func (a ApiType) BaseURLName() string {
	return string(a) + "-base-url"
}
