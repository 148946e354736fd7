package app

import (
	"context"

	"github.com/edgevision/triage-server/internal/coordinator"
	"github.com/edgevision/triage-server/internal/retrain"
	"github.com/edgevision/triage-server/internal/store"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Coordinator manages the background jobs
	Coordinator coordinator.Coordinator

	// Records is the authoritative record store
	Records *store.Store
}

// jobService exposes retraining job records and their completion
// callbacks to the API as a single dependency.
type jobService struct {
	trigger *retrain.Trigger
	records *store.Store
}

func (j *jobService) GetJob(ctx context.Context, id string) (*store.RetrainJob, error) {
	return j.records.GetJob(ctx, id)
}

func (j *jobService) MarkComplete(ctx context.Context, jobID, message string) error {
	return j.trigger.MarkComplete(ctx, jobID, message)
}

func (j *jobService) MarkFailed(ctx context.Context, jobID, message string) error {
	return j.trigger.MarkFailed(ctx, jobID, message)
}
