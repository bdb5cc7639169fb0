package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/queue"
)

// Operator is told about tasks that exhausted their attempts.
type Operator interface {
	TaskDeadLettered(ctx context.Context, task queue.Task) error
}

// LogOperator reports dead-lettered tasks at error level.
type LogOperator struct {
	log *slog.Logger
}

func NewLogOperator(l *slog.Logger) *LogOperator {
	if l == nil {
		l = slog.Default()
	}
	return &LogOperator{log: l.With(logger.Component("operator"))}
}

func (o *LogOperator) TaskDeadLettered(ctx context.Context, task queue.Task) error {
	o.log.ErrorContext(ctx, "task dead-lettered",
		logger.TaskID(task.ID),
		logger.TaskType(string(task.Type)),
		logger.UserID(task.UserID),
		logger.Attempt(task.Attempts),
		slog.String("last_error", task.LastError),
	)
	return nil
}

func subject(task queue.Task) string {
	return fmt.Sprintf("Dead-lettered task: %s", task.Type)
}

func body(task queue.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:        %s\n", task.ID)
	fmt.Fprintf(&b, "Type:        %s\n", task.Type)
	fmt.Fprintf(&b, "User:        %s\n", task.UserID)
	fmt.Fprintf(&b, "Scheduled:   %s\n", task.ScheduledFor.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Attempts:    %d/%d\n", task.Attempts, task.MaxAttempts)
	fmt.Fprintf(&b, "Last error:  %s\n", task.LastError)
	if len(task.Payload) > 0 {
		fmt.Fprintf(&b, "Payload:     %s\n", task.Payload)
	}
	return b.String()
}
