package bootstrap

import (
	"signalbot/pkg/logging"
)

// InitLogger builds the zap logger described by the configuration, teed into
// the OpenTelemetry log bridge.
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	return logging.New(logging.Options{
		Level:      cfg.System.LogLevel,
		JSON:       cfg.System.LogJSON,
		OTelBridge: true,
	})
}
