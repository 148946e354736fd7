package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/triage-server/internal/images"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	require.Error(t, err)
}

func TestNextSequence_Increments(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := s.NextSequence(ctx, "alice", nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Independent per user.
	got, err := s.NextSequence(ctx, "bob", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestNextSequence_SeedsFromExistingCount(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	seed := func(context.Context) (int, error) { return 7, nil }

	got, err := s.NextSequence(ctx, "alice", seed)
	require.NoError(t, err)
	assert.Equal(t, 8, got)

	// Seed only applies on first sight of the user.
	got, err = s.NextSequence(ctx, "alice", seed)
	require.NoError(t, err)
	assert.Equal(t, 9, got)
}

func TestNextSequence_UniqueUnderConcurrency(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	const workers = 16
	results := make(chan int, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := s.NextSequence(ctx, "alice", nil)
			assert.NoError(t, err)
			results <- seq
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for seq := range results {
		assert.False(t, seen[seq], "sequence %d allocated twice", seq)
		seen[seq] = true
	}
	assert.Len(t, seen, workers)
}

func TestImageRecordLifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	fn := images.NewFilename(3, "alice", time.Date(2024, 1, 1, 1, 1, 1, 0, time.UTC))
	rec := &ImageRecord{
		Filename:   fn.String(),
		UserID:     "alice",
		Sequence:   3,
		CapturedAt: fn.Timestamp,
		Tier:       images.TierLow,
		Status:     images.StatusLowConf,
		ObjectKey:  images.ObjectKey("alice", images.StatusLowConf, fn.String()),
	}
	require.NoError(t, s.InsertImage(ctx, rec))

	loaded, err := s.GetImage(ctx, fn.String())
	require.NoError(t, err)
	assert.Equal(t, images.StatusLowConf, loaded.Status)
	assert.Equal(t, "uploads/alice/lowconf/3_alice_20240101010101.jpg", loaded.ObjectKey)

	require.NoError(t, s.SetStatus(ctx, fn.String(), images.StatusUnderReview))
	loaded, err = s.GetImage(ctx, fn.String())
	require.NoError(t, err)
	assert.Equal(t, images.StatusUnderReview, loaded.Status)
	assert.Equal(t, "uploads/alice/under_review/3_alice_20240101010101.jpg", loaded.ObjectKey)

	_, err = s.GetImage(ctx, "9_missing_20240101010101.jpg")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMarkVerified_CreatesMissingRecord(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	fn := images.NewFilename(5, "carol", time.Date(2024, 2, 2, 2, 2, 2, 0, time.UTC))
	require.NoError(t, s.MarkVerified(ctx, fn))

	loaded, err := s.GetImage(ctx, fn.String())
	require.NoError(t, err)
	assert.Equal(t, images.StatusVerified, loaded.Status)
	assert.Equal(t, "carol", loaded.UserID)
}

func TestMarkLowConfUnderReview(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	insert := func(seq int, user string, status images.Status) {
		fn := images.NewFilename(seq, user, time.Date(2024, 3, 3, 3, 3, 3, 0, time.UTC))
		require.NoError(t, s.InsertImage(ctx, &ImageRecord{
			Filename:   fn.String(),
			UserID:     user,
			Sequence:   seq,
			CapturedAt: fn.Timestamp,
			Tier:       images.TierLow,
			Status:     status,
			ObjectKey:  images.ObjectKey(user, status, fn.String()),
		}))
	}
	insert(1, "alice", images.StatusLowConf)
	insert(2, "alice", images.StatusHighConf)
	insert(1, "bob", images.StatusLowConf)

	moved, err := s.MarkLowConfUnderReview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	loaded, err := s.GetImage(ctx, images.NewFilename(1, "alice", time.Date(2024, 3, 3, 3, 3, 3, 0, time.UTC)).String())
	require.NoError(t, err)
	assert.Equal(t, images.StatusUnderReview, loaded.Status)
	assert.Contains(t, loaded.ObjectKey, "/under_review/")

	// Second run has nothing left to move.
	moved, err = s.MarkLowConfUnderReview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
}

func TestRetrainJobLifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	job := &RetrainJob{ID: "job-1", Phase: JobPhaseSubmitted, LabelCount: 101}
	require.NoError(t, s.CreateJob(ctx, job))

	loaded, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobPhaseSubmitted, loaded.Phase)
	assert.Equal(t, 101, loaded.LabelCount)

	require.NoError(t, s.UpdateJob(ctx, "job-1", JobPhaseComplete, "notebook finished"))
	loaded, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobPhaseComplete, loaded.Phase)
	assert.Equal(t, "notebook finished", loaded.Message)

	require.ErrorIs(t, s.UpdateJob(ctx, "job-9", JobPhaseFailed, "x"), ErrRecordNotFound)
	_, err = s.GetJob(ctx, "job-9")
	require.ErrorIs(t, err, ErrRecordNotFound)
}
