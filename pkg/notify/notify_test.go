package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/notify"
	"github.com/dietbot/entitlement/pkg/queue"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []postmark.Email
	resp postmark.EmailResponse
	err  error
}

func (f *fakeSender) SendEmail(_ context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, email)
	return f.resp, f.err
}

var _ notify.EmailSender = (*postmark.Client)(nil)

func deadTask() queue.Task {
	return queue.Task{
		ID:           uuid.MustParse("7d2c1b0a-1111-4222-8333-944455556666"),
		Type:         "expire_grace",
		UserID:       "user-1",
		Payload:      json.RawMessage(`{"subscription_id":"s1"}`),
		Status:       queue.TaskStatusFailed,
		ScheduledFor: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Attempts:     5,
		MaxAttempts:  5,
		LastError:    "store unavailable",
	}
}

func validConfig() notify.Config {
	return notify.Config{
		PostmarkServerToken: "server-token",
		SenderEmail:         "alerts@example.com",
		OperatorEmail:       "ops@example.com",
		Tag:                 "dead-letter",
	}
}

func TestPostmarkOperator(t *testing.T) {
	t.Parallel()

	t.Run("sends alert to operator", func(t *testing.T) {
		t.Parallel()
		sender := &fakeSender{}
		op, err := notify.NewPostmarkOperatorWithClient(sender, validConfig())
		require.NoError(t, err)

		require.NoError(t, op.TaskDeadLettered(context.Background(), deadTask()))
		require.Len(t, sender.sent, 1)
		email := sender.sent[0]
		assert.Equal(t, "alerts@example.com", email.From)
		assert.Equal(t, "ops@example.com", email.To)
		assert.Equal(t, "dead-letter", email.Tag)
		assert.Contains(t, email.Subject, "expire_grace")
		assert.Contains(t, email.TextBody, "user-1")
		assert.Contains(t, email.TextBody, "5/5")
		assert.Contains(t, email.TextBody, "store unavailable")
		assert.Contains(t, email.TextBody, `"subscription_id":"s1"`)
	})

	t.Run("transport error", func(t *testing.T) {
		t.Parallel()
		sender := &fakeSender{err: errors.New("connection reset")}
		op, err := notify.NewPostmarkOperatorWithClient(sender, validConfig())
		require.NoError(t, err)

		err = op.TaskDeadLettered(context.Background(), deadTask())
		assert.ErrorIs(t, err, notify.ErrFailedToSend)
	})

	t.Run("postmark api error", func(t *testing.T) {
		t.Parallel()
		sender := &fakeSender{resp: postmark.EmailResponse{ErrorCode: 300, Message: "Invalid email request"}}
		op, err := notify.NewPostmarkOperatorWithClient(sender, validConfig())
		require.NoError(t, err)

		err = op.TaskDeadLettered(context.Background(), deadTask())
		require.ErrorIs(t, err, notify.ErrFailedToSend)
		assert.Contains(t, err.Error(), "Invalid email request")
	})
}

func TestNewPostmarkOperator_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*notify.Config)
	}{
		{"missing token", func(c *notify.Config) { c.PostmarkServerToken = "" }},
		{"bad sender", func(c *notify.Config) { c.SenderEmail = "not-an-address" }},
		{"missing operator", func(c *notify.Config) { c.OperatorEmail = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			_, err := notify.NewPostmarkOperator(cfg)
			assert.ErrorIs(t, err, notify.ErrInvalidConfig)
		})
	}

	_, err := notify.NewPostmarkOperatorWithClient(nil, validConfig())
	assert.ErrorIs(t, err, notify.ErrInvalidConfig)
}

func TestLogOperator(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	op := notify.NewLogOperator(logger.New(logger.WithOutput(buf)))
	require.NoError(t, op.TaskDeadLettered(context.Background(), deadTask()))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "task dead-lettered", rec["msg"])
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "expire_grace", rec["task_type"])
	assert.Equal(t, "store unavailable", rec["last_error"])
}

func TestLogMessenger(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	m := notify.NewLogMessenger(logger.New(logger.WithOutput(buf)))
	require.NoError(t, m.Send(context.Background(), "user-9", "Olá"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "user message", rec["msg"])
	assert.Equal(t, "Olá", rec["message"])
}
