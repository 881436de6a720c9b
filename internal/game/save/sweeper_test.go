package save

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/trpg-master/internal/config"
	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/repository"
)

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 20, 4, 0, 0, 0, time.UTC)
	store := repository.NewMemorySaveStore()

	ages := map[string]time.Duration{
		"fresh":    time.Hour,
		"boundary": 240 * time.Hour,
		"old":      241 * time.Hour,
		"ancient":  90 * 24 * time.Hour,
	}
	for id, age := range ages {
		snap := repository.CreateTestSnapshot(id, "gm")
		snap.SavedAt = now.Add(-age)
		require.NoError(t, store.Put(ctx, id, snap))
	}

	sw := NewSweeper(store, config.RetentionConfig{Enabled: true, Horizon: 240 * time.Hour, Interval: time.Hour}, nil)
	sw.now = func() time.Time { return now }

	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"fresh", "boundary"} {
		_, err := store.Get(ctx, id)
		assert.NoError(t, err, id)
	}
	for _, id := range []string{"old", "ancient"} {
		_, err := store.Get(ctx, id)
		assert.True(t, errors.Is(err, errors.ErrNotFound), id)
	}

	n, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeperRun_StopsOnCancel(t *testing.T) {
	store := repository.NewMemorySaveStore()
	old := repository.CreateTestSnapshot("old", "gm")
	old.SavedAt = time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, store.Put(context.Background(), old.SaveID, old))

	sw := NewSweeper(store, config.RetentionConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	// 启动时立即清理一次
	assert.Eventually(t, func() bool {
		all, _ := store.ListAll(context.Background())
		return len(all) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
