// Package triage provides the read paths over stored images: a
// per-user listing classified by current location, and the cross-user
// aggregation of images awaiting human review.
package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgevision/triage-server/internal/images"
	"github.com/edgevision/triage-server/internal/objstore"
)

const (
	// linkTTL bounds every read link handed out by the listings.
	linkTTL = time.Hour

	// listConcurrency caps the per-user listings running in parallel
	// during the review aggregation.
	listConcurrency = 8
)

// ImageEntry is one image in a per-user listing.
type ImageEntry struct {
	URL string `json:"url"`

	// Annotations is the companion annotation record content. It is
	// always present, degrading to an empty list when the record is
	// missing or unreadable.
	Annotations []any `json:"annotations"`
}

// UserListing groups a user's images by their current classification.
type UserListing struct {
	HighConf map[string]ImageEntry `json:"highconf"`
	LowConf  map[string]ImageEntry `json:"lowconf"`
	Verified map[string]ImageEntry `json:"verified"`
}

// ReviewQueue maps user id to (filename -> read link) for every image
// awaiting review. Users with no eligible images are absent.
type ReviewQueue map[string]map[string]string

// Service is the Triage Query Service.
type Service struct {
	objects objstore.Store
}

// NewService creates a triage query service.
func NewService(objects objstore.Store) *Service {
	return &Service{objects: objects}
}

// ListForUser returns every image under the user's namespace, grouped
// by classification, each with a time-limited read link. Annotation
// lookups and link generation are non-critical: their failures degrade
// per object instead of failing the request.
func (s *Service) ListForUser(ctx context.Context, userID string) (*UserListing, error) {
	objects, err := s.objects.List(ctx, images.UserPrefix(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list images for %s: %w", userID, err)
	}

	listing := &UserListing{
		HighConf: map[string]ImageEntry{},
		LowConf:  map[string]ImageEntry{},
		Verified: map[string]ImageEntry{},
	}

	for _, obj := range objects {
		if obj.IsDir() {
			continue
		}
		status, ok := images.ClassifyKey(obj.Key)
		if !ok {
			continue
		}

		url, err := s.objects.PresignedGet(ctx, obj.Key, linkTTL)
		if err != nil {
			// Non-critical: omit this object rather than fail the listing.
			slog.Warn("Failed to generate read link", "key", obj.Key, "error", err)
			continue
		}

		filename := path.Base(obj.Key)
		entry := ImageEntry{URL: url, Annotations: []any{}}
		if status == images.StatusHighConf || status == images.StatusVerified {
			entry.Annotations = s.annotationsFor(ctx, userID, filename)
		}

		switch status {
		case images.StatusHighConf:
			listing.HighConf[filename] = entry
		case images.StatusLowConf:
			listing.LowConf[filename] = entry
		case images.StatusVerified:
			listing.Verified[filename] = entry
		}
	}

	return listing, nil
}

// annotationsFor loads the companion annotation record. Missing
// objects, unreadable content and unparseable JSON all degrade to an
// empty list; annotations are not critical to the listing.
func (s *Service) annotationsFor(ctx context.Context, userID, filename string) []any {
	key := images.AnnotationKey(userID, filename)

	rc, err := s.objects.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, objstore.ErrNotFound) {
			slog.Warn("Failed to fetch annotation record", "key", key, "error", err)
		}
		return []any{}
	}
	defer func() {
		_ = rc.Close()
	}()

	data, err := io.ReadAll(rc)
	if err != nil {
		slog.Warn("Failed to read annotation record", "key", key, "error", err)
		return []any{}
	}

	var annotations []any
	if err := json.Unmarshal(data, &annotations); err != nil {
		slog.Warn("Failed to parse annotation record", "key", key, "error", err)
		return []any{}
	}
	return annotations
}

// ListAwaitingReview aggregates every user's low-confidence images. A
// user whose listing fails is logged and skipped; the aggregation
// continues over the remaining users. Users are listed concurrently
// since each namespace is independent.
func (s *Service) ListAwaitingReview(ctx context.Context) (ReviewQueue, error) {
	prefixes, err := s.objects.ListPrefixes(ctx, images.UploadRootPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate user namespaces: %w", err)
	}

	var mu sync.Mutex
	queue := ReviewQueue{}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for _, prefix := range prefixes {
		userID := images.UserIDFromPrefix(prefix)
		if userID == "" {
			continue
		}

		g.Go(func() error {
			links := s.reviewLinksFor(gCtx, userID)
			if len(links) > 0 {
				mu.Lock()
				queue[userID] = links
				mu.Unlock()
			}
			return nil
		})
	}
	// Per-user failures are absorbed inside reviewLinksFor; the group
	// only propagates context cancellation.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return queue, nil
}

// reviewLinksFor lists one user's low-confidence images and generates
// their read links. Any failure degrades to an empty result for that
// user.
func (s *Service) reviewLinksFor(ctx context.Context, userID string) map[string]string {
	objects, err := s.objects.List(ctx, images.StatusPrefix(userID, images.StatusLowConf))
	if err != nil {
		slog.Warn("Failed to list low-confidence images, skipping user",
			"user_id", userID, "error", err)
		return nil
	}

	links := map[string]string{}
	for _, obj := range objects {
		if obj.IsDir() {
			continue
		}
		url, err := s.objects.PresignedGet(ctx, obj.Key, linkTTL)
		if err != nil {
			slog.Warn("Failed to generate read link", "key", obj.Key, "error", err)
			continue
		}
		links[path.Base(obj.Key)] = url
	}
	return links
}
