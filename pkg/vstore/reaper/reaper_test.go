package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/metrics"
	memoryrepo "github.com/tendant/simple-vstore/pkg/vstore/repo/memory"
)

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo vstore.Repository, expiries ...time.Duration) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, len(expiries))
	for _, d := range expiries {
		s := &vstore.Session{
			ID:                uuid.New(),
			TemplateID:        1,
			TemplateVersionID: "v1",
			Language:          "en",
			CreatedAt:         start.Add(-24 * time.Hour),
			ExpiresAt:         start.Add(d),
		}
		require.NoError(t, repo.CreateSession(context.Background(), s))
		ids = append(ids, s.ID)
	}
	return ids
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	repo := memoryrepo.New()
	ids := seed(t, repo, -time.Hour, -time.Minute, time.Hour)

	reg := prometheus.NewRegistry()
	r := New(repo, WithMetrics(metrics.New(reg)), WithClock(func() time.Time { return start }))

	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = repo.GetSession(ctx, ids[0])
	assert.ErrorIs(t, err, vstore.ErrSessionNotFound)
	_, err = repo.GetSession(ctx, ids[2])
	assert.NoError(t, err)

	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := testutil.GatherAndCount(reg, "vstore_sessions_reaped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type failingStore struct{}

func (failingStore) DeleteExpiredSessions(context.Context, time.Time) (int, error) {
	return 0, errors.New("connection reset")
}

func TestSweepError(t *testing.T) {
	_, err := New(failingStore{}).Sweep(context.Background())
	assert.ErrorContains(t, err, "connection reset")
}

func TestRunStopsWithContext(t *testing.T) {
	repo := memoryrepo.New()
	ids := seed(t, repo, -time.Hour)
	r := New(repo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, err := repo.GetSession(context.Background(), ids[0])
		return errors.Is(err, vstore.ErrSessionNotFound)
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHandleSweep(t *testing.T) {
	repo := memoryrepo.New()
	seed(t, repo, -time.Hour, time.Hour)
	r := New(repo, WithClock(func() time.Time { return start }))

	task, err := NewSweepTask(start)
	require.NoError(t, err)
	assert.Equal(t, SweepTask, task.Type())
	require.NoError(t, r.HandleSweep(context.Background(), task))

	n, err := repo.DeleteExpiredSessions(context.Background(), start)
	require.NoError(t, err)
	assert.Zero(t, n, "handler already removed the expired session")

	err = r.HandleSweep(context.Background(), asynq.NewTask(SweepTask, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
