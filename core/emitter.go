package core

import (
	"log/slog"

	"redeempool/core/events"
	"redeempool/core/types"
)

type eventCarrier interface {
	Event() *types.Event
}

// eventLogger forwards engine events to the structured logger.
type eventLogger struct {
	logger *slog.Logger
}

func newEventLogger() *eventLogger {
	return &eventLogger{logger: slog.Default()}
}

func (l *eventLogger) Emit(evt events.Event) {
	if l == nil || l.logger == nil || evt == nil {
		return
	}
	args := []any{slog.String("event", evt.EventType())}
	if carrier, ok := evt.(eventCarrier); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				args = append(args, slog.String(key, value))
			}
		}
	}
	l.logger.Info("pool event", args...)
}
