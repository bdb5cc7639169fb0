package usage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dietbot/entitlement/pkg/plan"
	"github.com/dietbot/entitlement/pkg/usage"
)

type recordingArchiver struct {
	days []string
	n    int
	err  error
}

func (a *recordingArchiver) ArchiveCounters(_ context.Context, day string, counters []usage.Counter) error {
	if a.err != nil {
		return a.err
	}
	a.days = append(a.days, day)
	a.n += len(counters)
	return nil
}

func seed(t *testing.T, store usage.Store, days ...string) {
	t.Helper()
	for _, d := range days {
		_, _, err := store.Reserve(context.Background(), usage.Key{UserID: "u1", Action: plan.ActionDailyAnalyses, Day: d}, 5)
		require.NoError(t, err)
	}
}

func TestPruner_PruneOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := usage.NewMemoryStore()
	seed(t, store, "2024-01-01", "2024-01-01", "2024-01-05", "2024-03-30")

	archiver := &recordingArchiver{}
	p := usage.NewPruner(store,
		usage.WithRetention(30*24*time.Hour),
		usage.WithArchiver(archiver),
		usage.WithPrunerLocation(time.UTC),
	)

	n, err := p.PruneOnce(ctx, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"2024-01-01", "2024-01-05"}, archiver.days)
	assert.Equal(t, 2, archiver.n)

	left, err := store.ListBefore(ctx, "2099-12-31")
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestPruner_ArchiveFailureKeepsCounters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := usage.NewMemoryStore()
	seed(t, store, "2023-01-01")

	p := usage.NewPruner(store,
		usage.WithRetention(24*time.Hour),
		usage.WithArchiver(&recordingArchiver{err: errors.New("s3 down")}),
	)
	_, err := p.PruneOnce(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)

	left, err := store.ListBefore(ctx, "2099-12-31")
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestPruner_WithoutArchiverSkipsListing(t *testing.T) {
	t.Parallel()
	store := &mockStore{}
	store.On("DeleteBefore", mock.Anything, "2024-03-02").Return(int64(7), nil)

	p := usage.NewPruner(store, usage.WithRetention(30*24*time.Hour))
	n, err := p.PruneOnce(context.Background(), time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	store.AssertNotCalled(t, "ListBefore", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestPruner_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	p := usage.NewPruner(usage.NewMemoryStore(), usage.WithPruneInterval(time.Hour))

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pruner did not stop")
	}
}
