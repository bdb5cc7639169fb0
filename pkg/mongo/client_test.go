package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dietbot/entitlement/pkg/mongo"
)

func TestConnect_EmptyURL(t *testing.T) {
	t.Parallel()

	_, err := mongo.Connect(context.Background(), mongo.Config{})
	assert.ErrorIs(t, err, mongo.ErrEmptyConnectionURL)
}

func TestConnect_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mongo.Connect(ctx, mongo.Config{
		ConnectionURL:  "mongodb://127.0.0.1:1",
		ConnectTimeout: 50 * time.Millisecond,
		RetryAttempts:  3,
		RetryInterval:  time.Second,
	})
	assert.ErrorIs(t, err, mongo.ErrNotReady)
}
