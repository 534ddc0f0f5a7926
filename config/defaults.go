package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentgrid/bus"
	"github.com/BaSui01/agentgrid/confidence"
	"github.com/BaSui01/agentgrid/memory"
	"github.com/BaSui01/agentgrid/persistence"
	"github.com/BaSui01/agentgrid/retry"
)

// DefaultConfig returns the configuration every deployment starts
// from.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stderr"},
		},
		Bus:        bus.DefaultConfig(),
		Memory:     memory.DefaultConfig(),
		Retry:      retry.DefaultConfig(),
		Confidence: confidence.DefaultConfig(),
		Redis:      persistence.DefaultRedisConfig(),
		Archive: ArchiveConfig{
			Backend:     "memory",
			MaxPerAgent: 512,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "agentgrid",
			SampleRate:   1.0,
		},
	}
}

// BuildLogger constructs the zap logger described by the log section.
func (c LogConfig) BuildLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if c.Level != "" {
		if err := level.Set(c.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
	}

	zcfg := zap.NewProductionConfig()
	if c.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if len(c.OutputPaths) > 0 {
		zcfg.OutputPaths = c.OutputPaths
	}
	return zcfg.Build()
}
