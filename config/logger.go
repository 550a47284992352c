package config

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NewLogger builds the process logger described by c.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(strings.ToLower(c.Level))
	if err != nil {
		return nil, errors.Wrap(err, "parse log level")
	}
	zc.Level = level
	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}
