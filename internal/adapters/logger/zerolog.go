package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to ports.Logger.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger wraps l, filtering below level.
func NewZerologLogger(l zerolog.Logger, level LogLevel) *ZerologLogger {
	return &ZerologLogger{logger: l.Level(level.zerolog())}
}

// WithComponent returns a logger that tags every line with component.
func (z *ZerologLogger) WithComponent(component string) *ZerologLogger {
	return &ZerologLogger{logger: z.logger.With().Str("component", component).Logger()}
}

func (z *ZerologLogger) emit(ev *zerolog.Event, msg string, fields []map[string]interface{}) {
	for _, f := range fields {
		if len(f) > 0 {
			ev = ev.Fields(f)
		}
	}
	ev.Msg(msg)
}

// Debug logs a message at Debug level.
func (z *ZerologLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	z.emit(z.logger.Debug(), msg, fields)
}

// Info logs a message at Info level.
func (z *ZerologLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	z.emit(z.logger.Info(), msg, fields)
}

// Warn logs a message at Warning level.
func (z *ZerologLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	z.emit(z.logger.Warn(), msg, fields)
}

// Error logs an error message at Error level.
func (z *ZerologLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	z.emit(z.logger.Error().Err(err), msg, fields)
}
