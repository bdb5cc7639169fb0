package notify

import (
	"context"
	"log/slog"

	"github.com/dietbot/entitlement/pkg/logger"
)

// LogMessenger records user-facing messages in the log. The chat transport
// lives outside this service; the daemon uses LogMessenger until one is wired.
type LogMessenger struct {
	log *slog.Logger
}

func NewLogMessenger(l *slog.Logger) *LogMessenger {
	if l == nil {
		l = slog.Default()
	}
	return &LogMessenger{log: l.With(logger.Component("messenger"))}
}

func (m *LogMessenger) Send(ctx context.Context, userID, message string) error {
	m.log.InfoContext(ctx, "user message", logger.UserID(userID), slog.String("message", message))
	return nil
}
