package ports

import "context"

// Fields carries structured key/value pairs for a log line.
type Fields = map[string]interface{}

// Logger defines a standard interface for leveled, structured logging.
// Implementations: the std-lib text logger and the zerolog JSON logger.
type Logger interface {
	// Debug logs a message at Debug level.
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	// Info logs a message at Info level.
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	// Warn logs a message at Warning level.
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs an error message at Error level.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
