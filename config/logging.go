package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

type (
	ConsoleLoggingConfig struct {
		Level string `yaml:"level" validate:"required,oneof=none normal debug"`
	}

	FileLoggingConfig struct {
		Destination string `yaml:"destination" sanitize:"path_clean" validate:"required"`
		Level       string `yaml:"level" validate:"required,oneof=none normal debug"`
		Mode        string `yaml:"mode" validate:"required,oneof=append overwrite"`
	}

	LoggingConfig struct {
		Console ConsoleLoggingConfig `yaml:"console"`
		File    FileLoggingConfig    `yaml:"file"`
	}
)

func logLevel(name string) zapcore.Level {
	if name == "debug" {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// Prepare builds the program logger: a console core on stderr (colored
// levels when stderr is a terminal) teed with an optional file core.
// Either side can be silenced with level "none".
func (c *LoggingConfig) Prepare() (*zap.Logger, error) {
	var cores []zapcore.Core

	if c.Console.Level != "none" {
		encCfg := zap.NewDevelopmentEncoderConfig()
		if term.IsTerminal(int(os.Stderr.Fd())) {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			logLevel(c.Console.Level)))
	}

	if c.File.Level != "none" && len(c.File.Destination) > 0 {
		flags := os.O_CREATE | os.O_WRONLY
		if c.File.Mode == "append" {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		f, err := os.OpenFile(c.File.Destination, flags, 0644)
		if err != nil {
			return nil, fmt.Errorf("unable to open log file '%s': %w", c.File.Destination, err)
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.Lock(f),
			logLevel(c.File.Level)))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}
