package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/edgevision/triage-server/internal/images"
)

// ErrRecordNotFound is returned when no record exists for the lookup key.
var ErrRecordNotFound = errors.New("record not found")

// ImageRecord is the authoritative row for one uploaded image.
type ImageRecord struct {
	Filename   string
	UserID     string
	Sequence   int
	CapturedAt time.Time
	Tier       images.ConfidenceTier
	Status     images.Status
	ObjectKey  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SeedFunc supplies the starting object count for a user whose counter
// has not been seen before, so existing buckets keep their numbering.
type SeedFunc func(ctx context.Context) (int, error)

// NextSequence allocates the next per-user sequence number inside a
// transaction. Two concurrent uploads by the same user can never be
// handed the same number.
func (s *Store) NextSequence(ctx context.Context, userID string, seed SeedFunc) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin sequence transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.QueryRowContext(ctx,
		"SELECT next_seq FROM sequence_counters WHERE user_id = ?", userID).Scan(&next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		base := 0
		if seed != nil {
			base, err = seed(ctx)
			if err != nil {
				return 0, fmt.Errorf("failed to seed sequence counter for %s: %w", userID, err)
			}
		}
		next = base + 1
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO sequence_counters (user_id, next_seq) VALUES (?, ?)", userID, next); err != nil {
			return 0, fmt.Errorf("failed to create sequence counter for %s: %w", userID, err)
		}
	case err != nil:
		return 0, fmt.Errorf("failed to read sequence counter for %s: %w", userID, err)
	default:
		next++
		if _, err := tx.ExecContext(ctx,
			"UPDATE sequence_counters SET next_seq = ? WHERE user_id = ?", next, userID); err != nil {
			return 0, fmt.Errorf("failed to advance sequence counter for %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sequence transaction: %w", err)
	}
	return next, nil
}

// InsertImage creates the record for a freshly ingested image.
func (s *Store) InsertImage(ctx context.Context, rec *ImageRecord) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO image_records (filename, user_id, seq, captured_at, tier, status, object_key, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Filename, rec.UserID, rec.Sequence, rec.CapturedAt.UTC().Format(time.RFC3339),
		string(rec.Tier), string(rec.Status), rec.ObjectKey,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert image record %s: %w", rec.Filename, err)
	}
	return nil
}

// GetImage returns the record for one canonical filename.
func (s *Store) GetImage(ctx context.Context, filename string) (*ImageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT filename, user_id, seq, captured_at, tier, status, object_key, created_at, updated_at
FROM image_records WHERE filename = ?`, filename)
	return scanImage(row)
}

// SetStatus moves an image record to a new status and refreshes its
// derived object key. The caller performs the physical relocation
// separately; this update is the authoritative transition.
func (s *Store) SetStatus(ctx context.Context, filename string, status images.Status) error {
	rec, err := s.GetImage(ctx, filename)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE image_records SET status = ?, object_key = ?, updated_at = ? WHERE filename = ?`,
		string(status), images.ObjectKey(rec.UserID, status, filename),
		time.Now().UTC().Format(time.RFC3339), filename)
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", filename, err)
	}
	return nil
}

// MarkVerified records the under_review -> verified transition for an
// imported image. Records absent from the store (uploads that predate
// it) are created on the fly so that the import still commits.
func (s *Store) MarkVerified(ctx context.Context, fn images.Filename) error {
	err := s.SetStatus(ctx, fn.String(), images.StatusVerified)
	if !errors.Is(err, ErrRecordNotFound) {
		return err
	}
	return s.InsertImage(ctx, &ImageRecord{
		Filename:   fn.String(),
		UserID:     fn.UserID,
		Sequence:   fn.Sequence,
		CapturedAt: fn.Timestamp,
		Tier:       images.TierLow,
		Status:     images.StatusVerified,
		ObjectKey:  images.ObjectKey(fn.UserID, images.StatusVerified, fn.String()),
	})
}

// MarkLowConfUnderReview bulk-transitions every lowconf record to
// under_review, returning the number of records moved. Invoked after a
// successful annotation-tool storage sync, when the tool takes
// ownership of the pending images.
func (s *Store) MarkLowConfUnderReview(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE image_records
SET status = ?, object_key = replace(object_key, '/lowconf/', '/under_review/'), updated_at = ?
WHERE status = ?`,
		string(images.StatusUnderReview), time.Now().UTC().Format(time.RFC3339), string(images.StatusLowConf))
	if err != nil {
		return 0, fmt.Errorf("failed to mark lowconf records under review: %w", err)
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count moved records: %w", err)
	}
	return int(moved), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*ImageRecord, error) {
	var rec ImageRecord
	var capturedAt, tier, status, createdAt, updatedAt string
	err := row.Scan(&rec.Filename, &rec.UserID, &rec.Sequence, &capturedAt,
		&tier, &status, &rec.ObjectKey, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan image record: %w", err)
	}

	rec.Tier = images.ConfidenceTier(tier)
	rec.Status = images.Status(status)
	if rec.CapturedAt, err = time.Parse(time.RFC3339, capturedAt); err != nil {
		return nil, fmt.Errorf("failed to parse captured_at: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &rec, nil
}
