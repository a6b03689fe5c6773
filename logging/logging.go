// Package logging builds the zap logger the jsvc command hands to every component.
package logging

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/julianpistorius/jsvcgen/config"
)

// New returns a production JSON logger, or a console logger when
// cfg.Development is set. An empty level means info.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Level != "" {
		var err error
		level, err = zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging level: %w", err)
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	// Logs go to stderr so `jsvc call` output on stdout stays machine readable.
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}
