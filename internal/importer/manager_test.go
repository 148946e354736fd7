package importer

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/triage-server/internal/images"
	"github.com/edgevision/triage-server/internal/labelstudio"
	"github.com/edgevision/triage-server/internal/objstore"
	"github.com/edgevision/triage-server/internal/store"
)

type fakeTool struct {
	entries   []labelstudio.ExportEntry
	exportErr error

	deleted   []int
	deleteErr map[int]error
}

func (f *fakeTool) Export(_ context.Context) ([]labelstudio.ExportEntry, error) {
	return f.entries, f.exportErr
}

func (f *fakeTool) DeleteTask(_ context.Context, taskID int) error {
	if err := f.deleteErr[taskID]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, taskID)
	return nil
}

func (f *fakeTool) SyncStorage(_ context.Context) error {
	return nil
}

func newTestManager(t *testing.T, tool *fakeTool) (*Manager, objstore.Store, *store.Store) {
	t.Helper()

	records, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	objects := objstore.NewMemory()
	mgr := NewManager(objects, records, tool)
	mgr.retryOpts = []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(time.Millisecond)),
		backoff.WithMaxTries(2),
	}
	return mgr, objects, records
}

func putObject(t *testing.T, objects objstore.Store, key, content string) {
	t.Helper()
	err := objects.Put(context.Background(), key, strings.NewReader(content),
		int64(len(content)), "application/octet-stream", nil)
	require.NoError(t, err)
}

func objectExists(t *testing.T, objects objstore.Store, key string) bool {
	t.Helper()
	_, err := objects.Stat(context.Background(), key)
	if errors.Is(err, objstore.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestRun_ImportsEntry(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{entries: []labelstudio.ExportEntry{
		{Name: "7__1_alice_20240101010101.txt", Content: []byte("0 0.5 0.5 0.1 0.1\n")},
	}}
	mgr, objects, records := newTestManager(t, tool)
	putObject(t, objects, "uploads/alice/under_review/1_alice_20240101010101.jpg", "img")

	result, err := mgr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Zero(t, result.Failed)

	// Label staged, image promoted, review copy gone.
	assert.True(t, objectExists(t, objects, "training_data/new_data/txt_files/1_alice_20240101010101.txt"))
	assert.True(t, objectExists(t, objects, "training_data/new_data/images/1_alice_20240101010101.jpg"))
	assert.True(t, objectExists(t, objects, "uploads/alice/verified/1_alice_20240101010101.jpg"))
	assert.False(t, objectExists(t, objects, "uploads/alice/under_review/1_alice_20240101010101.jpg"))

	rc, err := objects.Get(context.Background(), "training_data/new_data/txt_files/1_alice_20240101010101.txt")
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "0 0.5 0.5 0.1 0.1\n", string(content))

	rec, err := records.GetImage(context.Background(), "1_alice_20240101010101.jpg")
	require.NoError(t, err)
	assert.Equal(t, images.StatusVerified, rec.Status)

	assert.Equal(t, []int{7}, tool.deleted)
}

func TestRun_ContinuesPastFailedEntry(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{
		entries: []labelstudio.ExportEntry{
			{Name: "7__1_alice_20240101010101.txt", Content: []byte("a")},
			{Name: "8__2_alice_20240101010102.txt", Content: []byte("b")},
		},
		deleteErr: map[int]error{7: errors.New("task gone")},
	}
	mgr, objects, _ := newTestManager(t, tool)
	putObject(t, objects, "uploads/alice/under_review/1_alice_20240101010101.jpg", "img")
	putObject(t, objects, "uploads/alice/under_review/2_alice_20240101010102.jpg", "img")

	result, err := mgr.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "7__1_alice_20240101010101.txt", result.Errors[0].Name)

	// The second entry went through in full.
	assert.True(t, objectExists(t, objects, "uploads/alice/verified/2_alice_20240101010102.jpg"))
	assert.Equal(t, []int{8}, tool.deleted)
}

func TestRun_MalformedEntryName(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{entries: []labelstudio.ExportEntry{
		{Name: "no-separator.txt", Content: []byte("a")},
		{Name: "x__not-an-image-name.txt", Content: []byte("b")},
	}}
	mgr, _, _ := newTestManager(t, tool)

	result, err := mgr.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, result.Imported)
	assert.Equal(t, 2, result.Failed)
	assert.Empty(t, tool.deleted)
}

func TestRun_AlreadyReconciled(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{entries: []labelstudio.ExportEntry{
		{Name: "9__3_bob_20240101010101.txt", Content: []byte("a")},
	}}
	mgr, objects, _ := newTestManager(t, tool)
	// A previous run finished the move but died before task retirement.
	putObject(t, objects, "uploads/bob/verified/3_bob_20240101010101.jpg", "img")
	putObject(t, objects, "training_data/new_data/images/3_bob_20240101010101.jpg", "img")

	result, err := mgr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, []int{9}, tool.deleted)
}

func TestRun_IncompleteMoveWithMissingSource(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{entries: []labelstudio.ExportEntry{
		{Name: "9__3_bob_20240101010101.txt", Content: []byte("a")},
	}}
	mgr, objects, _ := newTestManager(t, tool)
	// Review copy is gone and only one destination exists: the move can
	// never converge.
	putObject(t, objects, "uploads/bob/verified/3_bob_20240101010101.jpg", "img")

	result, err := mgr.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, tool.deleted)
}

func TestRun_ExportFailure(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{exportErr: errors.New("tool unavailable")}
	mgr, _, _ := newTestManager(t, tool)

	_, err := mgr.Run(context.Background())
	require.Error(t, err)
}
