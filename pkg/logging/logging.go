// Package logging configures the global zerolog logger from command line and
// config file settings.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	WithCaller bool
	Level      string
	// LogFormat is "text" or "json".
	LogFormat string
	LogFile   string
	// Output defaults to stderr.
	Output io.Writer
}

// ConfigFromViper reads the log-* keys, bumping the level to debug when
// --verbose is set.
func ConfigFromViper() *Config {
	level := viper.GetString("log-level")
	if viper.GetBool("verbose") && level != "trace" {
		level = "debug"
	}
	return &Config{
		Level:      level,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	}
}

func InitLogger(config *Config) error {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	var logWriter io.Writer
	switch strings.ToLower(config.LogFormat) {
	case "", "text":
		noColor := true
		if f, ok := out.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd())
		}
		logWriter = zerolog.ConsoleWriter{Out: out, NoColor: noColor}
	case "json":
		logWriter = out
	default:
		return errors.Errorf("unknown log format %q (json, text)", config.LogFormat)
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
				},
			})
	}

	logger := zerolog.New(logWriter).With().Timestamp()
	if config.WithCaller {
		logger = logger.Caller()
	}
	log.Logger = logger.Logger()

	level, err := ParseLevel(config.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

// ParseLevel maps a level name to zerolog, defaulting to info when empty.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	default:
		return zerolog.NoLevel, errors.Errorf("unknown log level %q", level)
	}
}
