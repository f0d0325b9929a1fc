package cmds

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-go-golems/parley/pkg/history"
	"github.com/go-go-golems/parley/pkg/inference/engine"
	"github.com/go-go-golems/parley/pkg/inference/engine/factory"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/steps/ai/settings"
	"github.com/go-go-golems/parley/pkg/steps/ai/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// AddPersistentFlags registers the identity, store and provider flags shared
// by every subcommand.
func AddPersistentFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("user-id", session.DefaultUserID, "Identity that owns the archived conversations")
	flags.String("user-name", "", "Name used in the greeting")

	flags.String("store-backend", string(history.BackendSQLite), "History store backend (memory, sqlite, pebble)")
	flags.String("store-path", "", "History database file (sqlite) or directory (pebble), default under ~/.parley")

	flags.String("ai-settings-file", "", "YAML file with chat and api settings")
	flags.String("ai-api-type", "", "Completion provider: gemini, openai or echo (default gemini)")
	flags.String("ai-engine", "", "Model name (default depends on the provider)")
	flags.Int("ai-max-response-tokens", 0, fmt.Sprintf("Maximum tokens in a reply (default %d)", settings.DefaultMaxResponseTokens))
	flags.Float64("ai-temperature", 0, "Sampling temperature, 0 keeps the provider default")
	flags.Duration("ai-timeout", 0, fmt.Sprintf("Completion timeout (default %s)", settings.DefaultTimeout))

	flags.String("gemini-api-key", "", "Gemini API key")
	flags.String("gemini-base-url", "", "Gemini API endpoint override")
	flags.String("openai-api-key", "", "OpenAI API key")
	flags.String("openai-base-url", "", "OpenAI compatible base URL")
}

// StepSettingsFromViper builds settings from the optional settings file,
// then overlays the flag, environment and config values that are set.
func StepSettingsFromViper() (*settings.StepSettings, error) {
	s := settings.NewStepSettings()
	if path := viper.GetString("ai-settings-file"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "could not open settings file %s", path)
		}
		defer func() {
			_ = f.Close()
		}()
		s, err = settings.NewStepSettingsFromYAML(f)
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse settings file %s", path)
		}
	}

	if v := viper.GetString("ai-api-type"); v != "" {
		apiType := types.ApiType(v)
		s.Chat.ApiType = &apiType
	}
	if v := viper.GetString("ai-engine"); v != "" {
		s.Chat.Engine = &v
	}
	if v := viper.GetInt("ai-max-response-tokens"); v > 0 {
		s.Chat.MaxResponseTokens = &v
	}
	if v := viper.GetFloat64("ai-temperature"); v > 0 {
		s.Chat.Temperature = &v
	}
	if v := viper.GetDuration("ai-timeout"); v > 0 {
		s.Chat.Timeout = &v
	}

	for _, apiType := range []types.ApiType{types.ApiTypeGemini, types.ApiTypeOpenAI} {
		if key := viper.GetString(apiType.APIKeyName()); key != "" {
			s.API.SetAPIKey(apiType, key)
		}
		if url := viper.GetString(apiType.BaseURLName()); url != "" {
			s.API.SetBaseURL(apiType, url)
		}
	}
	return s, nil
}

// NewEngine creates the configured engine. A remote provider without an API
// key falls back to the echo engine so the CLI stays usable offline.
func NewEngine(s *settings.StepSettings) (engine.Engine, error) {
	apiType := types.ApiTypeGemini
	if s.Chat.ApiType != nil && *s.Chat.ApiType != "" {
		apiType = *s.Chat.ApiType
	}
	if apiType != types.ApiTypeEcho && s.API.APIKey(apiType) == "" {
		log.Warn().Str("provider", apiType.String()).
			Msgf("no %s configured, falling back to the echo engine", apiType.APIKeyName())
		s = s.Clone()
		echo := types.ApiTypeEcho
		s.Chat.ApiType = &echo
	}
	log.Debug().Fields(s.GetMetadata()).Msg("creating engine")
	return factory.NewEngineFromSettings(s)
}

// StoreConfigFromViper resolves the store backend and its default location.
func StoreConfigFromViper() (history.Config, error) {
	cfg := history.Config{
		Backend: history.Backend(viper.GetString("store-backend")),
		Path:    viper.GetString("store-path"),
	}
	if cfg.Path != "" || cfg.Backend == history.BackendMemory || cfg.Backend == "" {
		return cfg, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, errors.Wrap(err, "could not determine home directory for the history store")
	}
	switch cfg.Backend {
	case history.BackendPebble:
		cfg.Path = filepath.Join(home, ".parley", "history.pebble")
	default:
		cfg.Path = filepath.Join(home, ".parley", "history.db")
	}
	return cfg, nil
}

// OpenLiveStore opens the configured store and wraps it with the change feed.
func OpenLiveStore() (*history.LiveStore, error) {
	cfg, err := StoreConfigFromViper()
	if err != nil {
		return nil, err
	}
	store, err := history.Open(cfg)
	if err != nil {
		return nil, err
	}
	return history.NewLiveStore(store, history.WithLogger(log.Logger)), nil
}

// SessionOptionsFromViper returns the identity options for a Manager.
func SessionOptionsFromViper() []session.Option {
	return []session.Option{
		session.WithUserID(viper.GetString("user-id")),
		session.WithUserName(viper.GetString("user-name")),
	}
}
