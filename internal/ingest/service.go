// Package ingest accepts new patient images, allocates their per-user
// sequence numbers and writes them to the confidence-appropriate
// storage location.
package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edgevision/triage-server/internal/images"
	"github.com/edgevision/triage-server/internal/objstore"
	"github.com/edgevision/triage-server/internal/store"
)

const bytesPerMB = 1024 * 1024

// UploadRequest is one new image upload.
type UploadRequest struct {
	// UserID identifies the uploading patient.
	UserID string

	// ImageData is the base64-encoded payload, optionally carrying a
	// data-URI prefix ("data:image/jpeg;base64,...").
	ImageData string

	// Confidence is the raw confidence value chosen by the uploader.
	Confidence string
}

// UploadResult reports where the image was stored and whether it was
// queued for human review.
type UploadResult struct {
	Path           string `json:"path"`
	RequiresReview bool   `json:"requires_review"`
}

// Service is the Ingestion Gateway.
type Service struct {
	objects       objstore.Store
	records       *store.Store
	maxImageBytes int64

	// now is swappable for tests.
	now func() time.Time
}

// NewService creates an ingestion service. maxImageSizeMB bounds the
// decoded payload size.
func NewService(objects objstore.Store, records *store.Store, maxImageSizeMB int) *Service {
	return &Service{
		objects:       objects,
		records:       records,
		maxImageBytes: int64(maxImageSizeMB) * bytesPerMB,
		now:           time.Now,
	}
}

// Upload validates and stores one image. Validation failures return a
// *images.ValidationError before any write; storage failures fail the
// whole request.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := images.ValidateUserID(req.UserID); err != nil {
		return nil, err
	}
	payload, err := s.decodeImage(req.ImageData)
	if err != nil {
		return nil, err
	}

	tier := images.ParseTier(req.Confidence)
	capturedAt := s.now()

	seq, err := s.records.NextSequence(ctx, req.UserID, func(ctx context.Context) (int, error) {
		// First sight of this user: seed the counter from the objects
		// already present so existing namespaces keep their numbering.
		return s.objects.Count(ctx, images.UserPrefix(req.UserID))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate sequence number: %w", err)
	}

	filename := images.NewFilename(seq, req.UserID, capturedAt)
	status := images.InitialStatus(tier)
	key := images.ObjectKey(req.UserID, status, filename.String())

	metadata := map[string]string{
		"user_id":    req.UserID,
		"timestamp":  capturedAt.Format(images.TimestampLayout),
		"confidence": req.Confidence,
	}
	if err := s.objects.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), "image/jpeg", metadata); err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	if err := s.records.InsertImage(ctx, &store.ImageRecord{
		Filename:   filename.String(),
		UserID:     req.UserID,
		Sequence:   seq,
		CapturedAt: capturedAt,
		Tier:       tier,
		Status:     status,
		ObjectKey:  key,
	}); err != nil {
		return nil, fmt.Errorf("failed to record image: %w", err)
	}

	slog.Info("Stored patient image",
		"user_id", req.UserID,
		"key", key,
		"tier", string(tier))

	return &UploadResult{
		Path:           key,
		RequiresReview: tier == images.TierLow,
	}, nil
}

// decodeImage strips an optional data-URI prefix, decodes the base64
// payload and enforces the configured size bound.
func (s *Service) decodeImage(data string) ([]byte, error) {
	if data == "" {
		return nil, images.NewValidationError("missing image_data")
	}
	if idx := strings.Index(data, ","); idx >= 0 {
		data = data[idx+1:]
	}

	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, images.NewValidationError("invalid base64 image data: %v", err)
	}
	if int64(len(payload)) > s.maxImageBytes {
		return nil, images.NewValidationError("image size exceeds maximum allowed (%dMB)", s.maxImageBytes/bytesPerMB)
	}
	return payload, nil
}
