package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// JobPhase represents the lifecycle phase of a retraining job record.
type JobPhase string

const (
	// JobPhaseSubmitted means the trigger command was sent to the remote
	// compute environment. The job itself runs unobserved from there.
	JobPhaseSubmitted JobPhase = "Submitted"

	// JobPhaseComplete means the remote executor reported completion via
	// the callback endpoint.
	JobPhaseComplete JobPhase = "Complete"

	// JobPhaseFailed means submission failed, or the executor reported
	// failure.
	JobPhaseFailed JobPhase = "Failed"
)

// RetrainJob is the record of one retraining kickoff.
type RetrainJob struct {
	ID          string
	Phase       JobPhase
	Message     string
	LabelCount  int
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// CreateJob inserts a new retraining job record.
func (s *Store) CreateJob(ctx context.Context, job *RetrainJob) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO retrain_jobs (id, phase, message, label_count, submitted_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Phase), job.Message, job.LabelCount,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert retrain job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJob moves a job to a new phase with a human-readable message.
func (s *Store) UpdateJob(ctx context.Context, id string, phase JobPhase, message string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE retrain_jobs SET phase = ?, message = ?, updated_at = ? WHERE id = ?`,
		string(phase), message, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update retrain job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check retrain job update: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// GetJob returns one retraining job record by id.
func (s *Store) GetJob(ctx context.Context, id string) (*RetrainJob, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, phase, message, label_count, submitted_at, updated_at
FROM retrain_jobs WHERE id = ?`, id)

	var job RetrainJob
	var phase, submittedAt, updatedAt string
	err := row.Scan(&job.ID, &phase, &job.Message, &job.LabelCount, &submittedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan retrain job: %w", err)
	}

	job.Phase = JobPhase(phase)
	if job.SubmittedAt, err = time.Parse(time.RFC3339, submittedAt); err != nil {
		return nil, fmt.Errorf("failed to parse submitted_at: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &job, nil
}
