package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgevision/triage-server/internal/importer"
	"github.com/edgevision/triage-server/internal/labelstudio"
	"github.com/edgevision/triage-server/internal/retrain"
	"github.com/edgevision/triage-server/internal/store"
)

// NewStorageSyncJob builds the job that asks the annotation tool to
// pull newly uploaded images, then records the handover by moving every
// lowconf record to under_review.
func NewStorageSyncJob(tool labelstudio.Client, records *store.Store, interval time.Duration) Job {
	return Job{
		Name:     "storage-sync",
		Interval: interval,
		Run: func(ctx context.Context) error {
			if err := tool.SyncStorage(ctx); err != nil {
				return fmt.Errorf("storage sync failed: %w", err)
			}
			moved, err := records.MarkLowConfUnderReview(ctx)
			if err != nil {
				return fmt.Errorf("failed to record review handover: %w", err)
			}
			if moved > 0 {
				slog.Info("Images handed over for review", "count", moved)
			}
			return nil
		},
	}
}

// NewImportJob builds the job running one annotation import pass.
func NewImportJob(manager *importer.Manager, interval time.Duration) Job {
	return Job{
		Name:     "annotation-import",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := manager.Run(ctx)
			return err
		},
	}
}

// NewRetrainCheckJob builds the job running one retraining-threshold
// check.
func NewRetrainCheckJob(trigger *retrain.Trigger, interval time.Duration) Job {
	return Job{
		Name:     "retrain-check",
		Interval: interval,
		Run: func(ctx context.Context) error {
			outcome, err := trigger.Run(ctx)
			if err != nil {
				return err
			}
			if !outcome.Skipped {
				slog.Info("Retraining run submitted",
					"job_id", outcome.JobID,
					"labels", outcome.LabelCount)
			}
			return nil
		},
	}
}
