package main

import (
	"os"
	"strings"

	"github.com/go-go-golems/parley/cmd/parley/cmds"
	"github.com/go-go-golems/parley/pkg/logging"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "parley is a terminal chat assistant with a persistent conversation history",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger now that --log-level and co are parsed
		initLogger()
	},
	SilenceUsage: true,
}

func initLogger() {
	err := logging.InitLogger(logging.ConfigFromViper())
	cobra.CheckErr(err)
}

func initCommands(rootCmd *cobra.Command, configPath string) error {
	// .env is optional, it usually only carries API keys
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not load .env")
	}

	viper.SetEnvPrefix("parley")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.parley")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/parley")
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, flags and env only
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}

	initLogger()

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.parley/config.yaml)")

	cmds.AddPersistentFlags(rootCmd)

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" && len(os.Args) > idx+1 {
			configFile = os.Args[idx+1]
		} else if strings.HasPrefix(arg, "--config=") {
			configFile = strings.TrimPrefix(arg, "--config=")
		}
	}

	if err := initCommands(rootCmd, configFile); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(cmds.NewChatCommand())
	rootCmd.AddCommand(cmds.NewHistoryCommand())
	rootCmd.AddCommand(cmds.NewTokensCommand())
	rootCmd.AddCommand(cmds.NewConfigCommand())
}
