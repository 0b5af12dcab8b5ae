package websocket

import (
	"go.uber.org/zap"
)

// Logger tags push channel logs with the client they concern.
type Logger struct {
	logger *zap.Logger
}

func NewLogger(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.L()
	}
	return &Logger{logger: base.With(zap.String("component", "websocket"))}
}

func (l *Logger) Info(event string, c *Client, fields ...zap.Field) {
	l.logger.Info("websocket_event", append(clientFields(event, c), fields...)...)
}

func (l *Logger) Warn(event string, c *Client, fields ...zap.Field) {
	l.logger.Warn("websocket_warning", append(clientFields(event, c), fields...)...)
}

func (l *Logger) Error(event string, c *Client, err error, fields ...zap.Field) {
	l.logger.Error("websocket_error", append(clientFields(event, c), append(fields, zap.Error(err))...)...)
}

func clientFields(event string, c *Client) []zap.Field {
	fields := []zap.Field{zap.String("event", event)}
	if c != nil {
		fields = append(fields,
			zap.String("client_id", c.ID),
			zap.String("operator_id", c.OperatorID),
		)
	}
	return fields
}
