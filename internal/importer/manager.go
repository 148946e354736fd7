// Package importer reconciles completed annotations back into the
// training corpus: it pulls the annotation tool's label export, stages
// each label alongside its image in the training pool, promotes the
// image to verified and retires the remote task.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v5"

	"github.com/edgevision/triage-server/internal/images"
	"github.com/edgevision/triage-server/internal/labelstudio"
	"github.com/edgevision/triage-server/internal/objstore"
	"github.com/edgevision/triage-server/internal/store"
)

// taskSeparator joins the task id and the canonical filename in export
// entry names ("{task_id}__{filename}.txt").
const taskSeparator = "__"

// reconcileMaxTries bounds the retry loop around one physical
// reconciliation. The steps are idempotent, so re-running a partially
// applied move is safe.
const reconcileMaxTries = 4

// EntryError records one export entry that could not be imported.
type EntryError struct {
	Name string
	Err  error
}

// Result summarizes one import run.
type Result struct {
	Imported int
	Failed   int
	Errors   []EntryError
}

// Manager is the Annotation Import Bridge.
type Manager struct {
	objects objstore.Store
	records *store.Store
	tool    labelstudio.Client

	retryOpts []backoff.RetryOption
}

// NewManager creates an import manager.
func NewManager(objects objstore.Store, records *store.Store, tool labelstudio.Client) *Manager {
	return &Manager{
		objects: objects,
		records: records,
		tool:    tool,
		retryOpts: []backoff.RetryOption{
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(reconcileMaxTries),
		},
	}
}

// Run fetches the completed-annotation export and imports every entry.
// Entries fail independently: one bad entry is recorded and the run
// continues with the rest. The returned error is non-nil when any entry
// failed, alongside the Result carrying both counts.
func (m *Manager) Run(ctx context.Context) (*Result, error) {
	entries, err := m.tool.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch annotation export: %w", err)
	}

	result := &Result{}
	for _, entry := range entries {
		if err := m.importEntry(ctx, entry); err != nil {
			slog.Error("Failed to import annotation entry", "entry", entry.Name, "error", err)
			result.Failed++
			result.Errors = append(result.Errors, EntryError{Name: entry.Name, Err: err})
			continue
		}
		result.Imported++
	}

	slog.Info("Annotation import finished", "imported", result.Imported, "failed", result.Failed)
	if result.Failed > 0 {
		return result, fmt.Errorf("%d of %d entries failed to import", result.Failed, len(entries))
	}
	return result, nil
}

// importEntry runs the full pipeline for one export entry: stage the
// label, promote the record, reconcile the physical move, retire the
// remote task.
func (m *Manager) importEntry(ctx context.Context, entry labelstudio.ExportEntry) error {
	taskPart, labelName, ok := strings.Cut(entry.Name, taskSeparator)
	if !ok {
		return fmt.Errorf("entry name %q has no task separator", entry.Name)
	}
	taskID, err := strconv.Atoi(taskPart)
	if err != nil {
		return fmt.Errorf("entry name %q has non-numeric task id: %w", entry.Name, err)
	}
	fn, err := images.ParseFilename(labelName)
	if err != nil {
		return fmt.Errorf("entry name %q: %w", entry.Name, err)
	}

	labelKey := images.TrainingLabelKey(labelName)
	err = m.objects.Put(ctx, labelKey, bytes.NewReader(entry.Content),
		int64(len(entry.Content)), "text/plain", nil)
	if err != nil {
		return fmt.Errorf("failed to stage label %s: %w", labelKey, err)
	}

	// Status first: the record is the source of truth, the physical
	// layout follows.
	if err := m.records.MarkVerified(ctx, fn); err != nil {
		return fmt.Errorf("failed to mark %s verified: %w", fn.String(), err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, m.reconcile(ctx, fn)
	}, m.retryOpts...)
	if err != nil {
		return fmt.Errorf("failed to reconcile %s: %w", fn.String(), err)
	}

	if err := m.tool.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to retire task %d: %w", taskID, err)
	}
	return nil
}

// reconcile performs the physical move for one verified image: copy to
// the training pool, copy to verified/, delete the review copy. Each
// step is idempotent, so a partially applied move converges on retry. A
// missing source means a previous run already deleted it; that is fine
// as long as both copies exist.
func (m *Manager) reconcile(ctx context.Context, fn images.Filename) error {
	imageName := fn.String()
	src := images.ObjectKey(fn.UserID, images.StatusUnderReview, imageName)
	verifiedKey := images.ObjectKey(fn.UserID, images.StatusVerified, imageName)
	trainingKey := images.TrainingImageKey(imageName)

	_, err := m.objects.Stat(ctx, src)
	if errors.Is(err, objstore.ErrNotFound) {
		if m.exists(ctx, verifiedKey) && m.exists(ctx, trainingKey) {
			return nil
		}
		return fmt.Errorf("review copy %s is gone but the move is incomplete", src)
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if err := m.objects.Copy(ctx, src, trainingKey); err != nil {
		return fmt.Errorf("failed to copy %s to training pool: %w", src, err)
	}
	if err := m.objects.Copy(ctx, src, verifiedKey); err != nil {
		return fmt.Errorf("failed to copy %s to verified: %w", src, err)
	}
	if err := m.objects.Remove(ctx, src); err != nil {
		return fmt.Errorf("failed to remove review copy %s: %w", src, err)
	}
	return nil
}

func (m *Manager) exists(ctx context.Context, key string) bool {
	_, err := m.objects.Stat(ctx, key)
	return err == nil
}
