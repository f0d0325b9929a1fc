package cmds

import (
	"context"
	"io"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/parley/pkg/history"
	"github.com/go-go-golems/parley/pkg/steps/ai/settings"
	"github.com/go-go-golems/parley/pkg/steps/ai/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(mustBuild(NewConfigShowCommand()))
	return cmd
}

type effectiveConfig struct {
	ConfigFile string                 `yaml:"config_file,omitempty"`
	UserID     string                 `yaml:"user_id"`
	UserName   string                 `yaml:"user_name,omitempty"`
	Store      history.Config         `yaml:"store"`
	Chat       map[string]interface{} `yaml:"chat"`
	// API keys are reported as present or missing, never printed.
	APIKeys map[string]bool `yaml:"api_keys"`
}

type ConfigShowCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*ConfigShowCommand)(nil)

func NewConfigShowCommand() (*ConfigShowCommand, error) {
	return &ConfigShowCommand{
		CommandDescription: cmds.NewCommandDescription(
			"show",
			cmds.WithShort("Print the settings after merging config file, environment and flags"),
		),
	}, nil
}

func (c *ConfigShowCommand) RunIntoWriter(ctx context.Context, parsedLayers *layers.ParsedLayers, w io.Writer) error {
	s, err := StepSettingsFromViper()
	if err != nil {
		return err
	}
	store, err := StoreConfigFromViper()
	if err != nil {
		return err
	}
	return writeEffectiveConfig(w, s, store)
}

func writeEffectiveConfig(w io.Writer, s *settings.StepSettings, store history.Config) error {
	c := effectiveConfig{
		ConfigFile: viper.ConfigFileUsed(),
		UserID:     viper.GetString("user-id"),
		UserName:   viper.GetString("user-name"),
		Store:      store,
		Chat:       s.GetMetadata(),
		APIKeys:    map[string]bool{},
	}
	for _, apiType := range []types.ApiType{types.ApiTypeGemini, types.ApiTypeOpenAI} {
		c.APIKeys[apiType.APIKeyName()] = s.API.APIKey(apiType) != ""
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
