package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New builds a sugared zap logger. "prod" selects JSON output; anything
// else selects the human-readable development encoder.
func New(mode string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
