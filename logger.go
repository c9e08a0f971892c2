package batchmast

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the subset of zap's sugared logger the client uses. Runs
// span minutes of Batch polling, so submissions, status changes and
// collection failures are logged with their job ids.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// NewStdLogger builds the default logger used when Config carries
// none: zap's production configuration with readable timestamps, the
// same encoding the CLI sets up.
func NewStdLogger() (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
