// Package v0 provides the REST API handlers for the image triage service.
package v0

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edgevision/triage-server/internal/images"
	"github.com/edgevision/triage-server/internal/ingest"
	"github.com/edgevision/triage-server/internal/store"
	"github.com/edgevision/triage-server/internal/triage"
	"github.com/edgevision/triage-server/internal/versions"
)

const (
	rolePatient = "patient"
	roleDoctor  = "doctor"
)

// UploadService accepts new patient images.
type UploadService interface {
	Upload(ctx context.Context, req ingest.UploadRequest) (*ingest.UploadResult, error)
}

// ListingService serves the read paths over stored images.
type ListingService interface {
	ListForUser(ctx context.Context, userID string) (*triage.UserListing, error)
	ListAwaitingReview(ctx context.Context) (triage.ReviewQueue, error)
}

// JobService exposes retraining job records and their completion
// callbacks.
type JobService interface {
	GetJob(ctx context.Context, id string) (*store.RetrainJob, error)
	MarkComplete(ctx context.Context, jobID, message string) error
	MarkFailed(ctx context.Context, jobID, message string) error
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Message string `json:"message"`
}

// UploadRequestBody is the POST /images request payload.
type UploadRequestBody struct {
	User       string `json:"user"`
	UserID     string `json:"user_id"`
	ImageData  string `json:"image_data"`
	Confidence string `json:"confidence"`
}

// UploadResponse is the POST /images response payload.
type UploadResponse struct {
	User           string `json:"user"`
	Message        string `json:"message"`
	Path           string `json:"path"`
	RequiresReview bool   `json:"requires_review"`
}

// ListingResponse is the GET /images response payload.
type ListingResponse struct {
	User    string `json:"user"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// JobCompletionBody is the POST /jobs/{id}/complete request payload.
type JobCompletionBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JobResponse is the GET /jobs/{id} response payload.
type JobResponse struct {
	ID          string `json:"id"`
	Phase       string `json:"phase"`
	Message     string `json:"message,omitempty"`
	LabelCount  int    `json:"label_count"`
	SubmittedAt string `json:"submitted_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Routes defines the routes for the triage API with dependency injection
type Routes struct {
	uploads  UploadService
	listings ListingService
	jobs     JobService
}

// NewRoutes creates a new Routes instance with the provided services
func NewRoutes(uploads UploadService, listings ListingService, jobs JobService) *Routes {
	return &Routes{
		uploads:  uploads,
		listings: listings,
		jobs:     jobs,
	}
}

// Router creates a new router for the triage API
func Router(uploads UploadService, listings ListingService, jobs JobService) http.Handler {
	routes := NewRoutes(uploads, listings, jobs)

	r := chi.NewRouter()

	r.Post("/images", routes.uploadImage)
	r.Get("/images", routes.listImages)
	r.Post("/jobs/{id}/complete", routes.completeJob)
	r.Get("/jobs/{id}", routes.getJob)

	return r
}

// uploadImage handles POST /api/v0/images
func (rr *Routes) uploadImage(w http.ResponseWriter, r *http.Request) {
	var body UploadRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.User != "" && body.User != rolePatient {
		rr.writeErrorResponse(w, "Unsupported user role for upload", http.StatusBadRequest)
		return
	}

	result, err := rr.uploads.Upload(r.Context(), ingest.UploadRequest{
		UserID:     body.UserID,
		ImageData:  body.ImageData,
		Confidence: body.Confidence,
	})
	if err != nil {
		var vErr *images.ValidationError
		if errors.As(err, &vErr) {
			rr.writeErrorResponse(w, vErr.Message, http.StatusBadRequest)
			return
		}
		slog.Error("Failed to store upload", "user_id", body.UserID, "error", err)
		rr.writeErrorResponse(w, "Failed to store image", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, UploadResponse{
		User:           rolePatient,
		Message:        "Image uploaded successfully",
		Path:           result.Path,
		RequiresReview: result.RequiresReview,
	})
}

// listImages handles GET /api/v0/images for both the per-patient and
// the aggregate doctor views.
func (rr *Routes) listImages(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("user")

	switch {
	case role == rolePatient:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			rr.writeErrorResponse(w, "Missing user_id", http.StatusBadRequest)
			return
		}
		listing, err := rr.listings.ListForUser(r.Context(), userID)
		if err != nil {
			slog.Error("Failed to list images", "user_id", userID, "error", err)
			rr.writeErrorResponse(w, "Failed to list images", http.StatusInternalServerError)
			return
		}
		rr.writeJSONResponse(w, ListingResponse{
			User:    rolePatient,
			Message: "Images retrieved successfully",
			Data:    listing,
		})

	case role == roleDoctor && r.URL.Query().Get("all") == "true":
		queue, err := rr.listings.ListAwaitingReview(r.Context())
		if err != nil {
			slog.Error("Failed to list review queue", "error", err)
			rr.writeErrorResponse(w, "Failed to list images", http.StatusInternalServerError)
			return
		}
		rr.writeJSONResponse(w, ListingResponse{
			User:    roleDoctor,
			Message: "Images retrieved successfully",
			Data:    queue,
		})

	default:
		rr.writeErrorResponse(w, "Unsupported user role", http.StatusBadRequest)
	}
}

// completeJob handles POST /api/v0/jobs/{id}/complete, the callback the
// retraining environment fires when a run finishes.
func (rr *Routes) completeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	var body JobCompletionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch body.Status {
	case "failed":
		err = rr.jobs.MarkFailed(r.Context(), jobID, body.Message)
	case "", "complete", "success":
		err = rr.jobs.MarkComplete(r.Context(), jobID, body.Message)
	default:
		rr.writeErrorResponse(w, "Unknown completion status", http.StatusBadRequest)
		return
	}
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			rr.writeErrorResponse(w, "Job not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to record job completion", "job_id", jobID, "error", err)
		rr.writeErrorResponse(w, "Failed to record job completion", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, map[string]string{"status": "recorded"})
}

// getJob handles GET /api/v0/jobs/{id}
func (rr *Routes) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := rr.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			rr.writeErrorResponse(w, "Job not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to load job record", "job_id", jobID, "error", err)
		rr.writeErrorResponse(w, "Failed to load job record", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, JobResponse{
		ID:          job.ID,
		Phase:       string(job.Phase),
		Message:     job.Message,
		LabelCount:  job.LabelCount,
		SubmittedAt: job.SubmittedAt.Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.Format(time.RFC3339),
	})
}

// HealthRouter creates a router for health check endpoints
func HealthRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler)

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	response := map[string]string{
		"version":    info.Version,
		"commit":     info.Commit,
		"build_date": info.BuildDate,
		"go_version": info.GoVersion,
		"platform":   info.Platform,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode version info", "error", err)
	}
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (*Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	errorResp := ErrorResponse{
		Message: message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errorResp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
