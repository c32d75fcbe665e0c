package ports

import "context"

// Logger is the structured logging contract shared by every component.
// Fields are attached as key/value pairs next to the message.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs err together with msg at Error level.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
