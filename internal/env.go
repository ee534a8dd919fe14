// Package internal holds the process-wide configuration the CLI commands
// share, folded from the environment over built-in defaults.
package internal

import (
	"os"
	"strconv"

	"fathom/internal/pkg/validate"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Built-in defaults, overridable through the environment.
const (
	DefaultPort   = 27015
	DefaultWSPort = 27016
)

// Environment-derived settings. Read after ValidateEnv has run.
var (
	LogLevel = "info"
	Port     = DefaultPort
	WSPort   = DefaultWSPort
	Password = ""
	Name     = "player"
	Version  = "1.0.0"
)

type env struct {
	LogLevel string `validate:"oneof=trace debug info warn error"`
	Port     int    `validate:"min=1,max=65535"`
	WSPort   int    `validate:"min=0,max=65535"`
	Name     string `validate:"required"`
}

// ValidateEnv loads a .env file if one exists, folds the environment over
// the defaults and validates the result.
func ValidateEnv() error {
	_ = godotenv.Load()
	if v := os.Getenv("FATHOM_LOG_LEVEL"); v != "" {
		LogLevel = v
	}
	if v := os.Getenv("FATHOM_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "parse FATHOM_PORT failed")
		}
		Port = port
	}
	if v := os.Getenv("FATHOM_WS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "parse FATHOM_WS_PORT failed")
		}
		WSPort = port
	}
	if v := os.Getenv("FATHOM_PASSWORD"); v != "" {
		Password = v
	}
	if v := os.Getenv("FATHOM_NAME"); v != "" {
		Name = v
	}
	if v := os.Getenv("FATHOM_VERSION"); v != "" {
		Version = v
	}
	err := validate.Validate().Struct(env{
		LogLevel: LogLevel,
		Port:     Port,
		WSPort:   WSPort,
		Name:     Name,
	})
	return errors.Wrap(err, "validate env failed")
}
