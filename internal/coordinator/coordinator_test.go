package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/triage-server/internal/images"
	"github.com/edgevision/triage-server/internal/labelstudio"
	"github.com/edgevision/triage-server/internal/store"
)

func TestJitteredInterval_StaysWithinBounds(t *testing.T) {
	t.Parallel()

	base := time.Minute
	for i := 0; i < 100; i++ {
		interval := jitteredInterval(base)
		assert.GreaterOrEqual(t, interval, base-base/jitterFraction)
		assert.LessOrEqual(t, interval, base+base/jitterFraction)
	}
}

func TestJitteredInterval_TinyInterval(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(5), jitteredInterval(time.Duration(5)))
}

func TestCoordinator_RunsJobsAndStops(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	job := Job{
		Name:     "counting",
		Interval: 10 * time.Millisecond,
		Run: func(_ context.Context) error {
			runs.Add(1)
			return nil
		},
	}

	c := New(job)
	done := make(chan error, 1)
	go func() {
		done <- c.Start(context.Background())
	}()

	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}
}

func TestCoordinator_JobFailureKeepsSchedule(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	job := Job{
		Name:     "failing",
		Interval: 10 * time.Millisecond,
		Run: func(_ context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	}

	c := New(job)
	go func() { _ = c.Start(context.Background()) }()
	defer func() { _ = c.Stop() }()

	require.Eventually(t, func() bool {
		return runs.Load() >= 3
	}, 5*time.Second, 5*time.Millisecond)
}

func TestCoordinator_Stop_BeforeStart(t *testing.T) {
	t.Parallel()

	c := New()

	// Stop should not panic if called before Start.
	err := c.Stop()
	assert.NoError(t, err)
}

type stubTool struct {
	syncErr   error
	syncCalls atomic.Int64
}

func (s *stubTool) Export(_ context.Context) ([]labelstudio.ExportEntry, error) {
	return nil, nil
}

func (s *stubTool) DeleteTask(_ context.Context, _ int) error {
	return nil
}

func (s *stubTool) SyncStorage(_ context.Context) error {
	s.syncCalls.Add(1)
	return s.syncErr
}

func TestStorageSyncJob_RecordsHandover(t *testing.T) {
	t.Parallel()

	records, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	ctx := context.Background()
	require.NoError(t, records.InsertImage(ctx, &store.ImageRecord{
		Filename:   "1_alice_20240101010101.jpg",
		UserID:     "alice",
		Sequence:   1,
		CapturedAt: time.Date(2024, 1, 1, 1, 1, 1, 0, time.UTC),
		Tier:       images.TierLow,
		Status:     images.StatusLowConf,
		ObjectKey:  "uploads/alice/lowconf/1_alice_20240101010101.jpg",
	}))

	tool := &stubTool{}
	job := NewStorageSyncJob(tool, records, time.Minute)
	require.NoError(t, job.Run(ctx))
	assert.EqualValues(t, 1, tool.syncCalls.Load())

	rec, err := records.GetImage(ctx, "1_alice_20240101010101.jpg")
	require.NoError(t, err)
	assert.Equal(t, images.StatusUnderReview, rec.Status)
}

func TestStorageSyncJob_SyncFailureSkipsHandover(t *testing.T) {
	t.Parallel()

	records, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	ctx := context.Background()
	require.NoError(t, records.InsertImage(ctx, &store.ImageRecord{
		Filename:   "1_alice_20240101010101.jpg",
		UserID:     "alice",
		Sequence:   1,
		CapturedAt: time.Date(2024, 1, 1, 1, 1, 1, 0, time.UTC),
		Tier:       images.TierLow,
		Status:     images.StatusLowConf,
		ObjectKey:  "uploads/alice/lowconf/1_alice_20240101010101.jpg",
	}))

	tool := &stubTool{syncErr: errors.New("tool unavailable")}
	job := NewStorageSyncJob(tool, records, time.Minute)
	require.Error(t, job.Run(ctx))

	rec, err := records.GetImage(ctx, "1_alice_20240101010101.jpg")
	require.NoError(t, err)
	assert.Equal(t, images.StatusLowConf, rec.Status)
}
