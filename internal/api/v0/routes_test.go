package v0

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/triage-server/internal/images"
	"github.com/edgevision/triage-server/internal/ingest"
	"github.com/edgevision/triage-server/internal/store"
	"github.com/edgevision/triage-server/internal/triage"
)

type fakeUploads struct {
	result *ingest.UploadResult
	err    error

	gotReq ingest.UploadRequest
}

func (f *fakeUploads) Upload(_ context.Context, req ingest.UploadRequest) (*ingest.UploadResult, error) {
	f.gotReq = req
	return f.result, f.err
}

type fakeListings struct {
	listing *triage.UserListing
	queue   triage.ReviewQueue
	err     error
}

func (f *fakeListings) ListForUser(_ context.Context, _ string) (*triage.UserListing, error) {
	return f.listing, f.err
}

func (f *fakeListings) ListAwaitingReview(_ context.Context) (triage.ReviewQueue, error) {
	return f.queue, f.err
}

type fakeJobs struct {
	job *store.RetrainJob
	err error

	completed map[string]string
	failed    map[string]string
}

func (f *fakeJobs) GetJob(_ context.Context, _ string) (*store.RetrainJob, error) {
	return f.job, f.err
}

func (f *fakeJobs) MarkComplete(_ context.Context, jobID, message string) error {
	if f.err != nil {
		return f.err
	}
	if f.completed == nil {
		f.completed = map[string]string{}
	}
	f.completed[jobID] = message
	return nil
}

func (f *fakeJobs) MarkFailed(_ context.Context, jobID, message string) error {
	if f.err != nil {
		return f.err
	}
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[jobID] = message
	return nil
}

func newTestRouter(uploads UploadService, listings ListingService, jobs JobService) http.Handler {
	if uploads == nil {
		uploads = &fakeUploads{}
	}
	if listings == nil {
		listings = &fakeListings{}
	}
	if jobs == nil {
		jobs = &fakeJobs{}
	}
	return Router(uploads, listings, jobs)
}

func TestUploadImage_Success(t *testing.T) {
	t.Parallel()

	uploads := &fakeUploads{result: &ingest.UploadResult{
		Path:           "uploads/alice/lowconf/1_alice_20240101010101.jpg",
		RequiresReview: true,
	}}
	router := newTestRouter(uploads, nil, nil)

	body, err := json.Marshal(UploadRequestBody{
		User:       "patient",
		UserID:     "alice",
		ImageData:  "aW1n",
		Confidence: "low",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/images", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "patient", resp.User)
	assert.Equal(t, "uploads/alice/lowconf/1_alice_20240101010101.jpg", resp.Path)
	assert.True(t, resp.RequiresReview)

	assert.Equal(t, "alice", uploads.gotReq.UserID)
	assert.Equal(t, "low", uploads.gotReq.Confidence)
}

func TestUploadImage_ValidationError(t *testing.T) {
	t.Parallel()

	uploads := &fakeUploads{err: images.NewValidationError("missing user_id parameter")}
	router := newTestRouter(uploads, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/images",
		bytes.NewReader([]byte(`{"user":"patient","image_data":"aW1n"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "missing user_id parameter", resp.Message)
}

func TestUploadImage_StorageError(t *testing.T) {
	t.Parallel()

	uploads := &fakeUploads{err: errors.New("store unavailable")}
	router := newTestRouter(uploads, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/images",
		bytes.NewReader([]byte(`{"user":"patient","user_id":"alice","image_data":"aW1n"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUploadImage_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed JSON", body: `{"user":`},
		{name: "wrong role", body: `{"user":"doctor","user_id":"alice","image_data":"aW1n"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := newTestRouter(nil, nil, nil)
			req := httptest.NewRequest(http.MethodPost, "/images", bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListImages_Patient(t *testing.T) {
	t.Parallel()

	listings := &fakeListings{listing: &triage.UserListing{
		HighConf: map[string]triage.ImageEntry{
			"1_alice_20240101010101.jpg": {URL: "https://store.local/x", Annotations: []any{}},
		},
		LowConf:  map[string]triage.ImageEntry{},
		Verified: map[string]triage.ImageEntry{},
	}}
	router := newTestRouter(nil, listings, nil)

	req := httptest.NewRequest(http.MethodGet, "/images?user=patient&user_id=alice", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		User string             `json:"user"`
		Data triage.UserListing `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "patient", resp.User)
	assert.Contains(t, resp.Data.HighConf, "1_alice_20240101010101.jpg")
}

func TestListImages_Doctor(t *testing.T) {
	t.Parallel()

	listings := &fakeListings{queue: triage.ReviewQueue{
		"alice": {"2_alice_20240101010102.jpg": "https://store.local/y"},
	}}
	router := newTestRouter(nil, listings, nil)

	req := httptest.NewRequest(http.MethodGet, "/images?user=doctor&all=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		User string             `json:"user"`
		Data triage.ReviewQueue `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "doctor", resp.User)
	assert.Contains(t, resp.Data, "alice")
}

func TestListImages_BadQueries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
	}{
		{name: "missing role", target: "/images"},
		{name: "patient without user_id", target: "/images?user=patient"},
		{name: "doctor without all", target: "/images?user=doctor"},
		{name: "unknown role", target: "/images?user=admin&all=true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := newTestRouter(nil, nil, nil)
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListImages_ListingError(t *testing.T) {
	t.Parallel()

	listings := &fakeListings{err: errors.New("store unavailable")}
	router := newTestRouter(nil, listings, nil)

	req := httptest.NewRequest(http.MethodGet, "/images?user=patient&user_id=alice", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCompleteJob(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{}
	router := newTestRouter(nil, nil, jobs)

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/complete",
		bytes.NewReader([]byte(`{"status":"success","message":"metrics improved"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "metrics improved", jobs.completed["job-1"])
}

func TestCompleteJob_Failed(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{}
	router := newTestRouter(nil, nil, jobs)

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/complete",
		bytes.NewReader([]byte(`{"status":"failed","message":"kernel died"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "kernel died", jobs.failed["job-1"])
}

func TestCompleteJob_UnknownStatus(t *testing.T) {
	t.Parallel()

	router := newTestRouter(nil, nil, &fakeJobs{})

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/complete",
		bytes.NewReader([]byte(`{"status":"parked"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteJob_NotFound(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{err: store.ErrRecordNotFound}
	router := newTestRouter(nil, nil, jobs)

	req := httptest.NewRequest(http.MethodPost, "/jobs/missing/complete",
		bytes.NewReader([]byte(`{"status":"success"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	submitted := time.Date(2024, 1, 1, 1, 1, 1, 0, time.UTC)
	jobs := &fakeJobs{job: &store.RetrainJob{
		ID:          "job-1",
		Phase:       store.JobPhaseSubmitted,
		LabelCount:  120,
		SubmittedAt: submitted,
		UpdatedAt:   submitted,
	}}
	router := newTestRouter(nil, nil, jobs)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.ID)
	assert.Equal(t, "Submitted", resp.Phase)
	assert.Equal(t, 120, resp.LabelCount)
	assert.Equal(t, "2024-01-01T01:01:01Z", resp.SubmittedAt)
}

func TestGetJob_NotFound(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{err: store.ErrRecordNotFound}
	router := newTestRouter(nil, nil, jobs)

	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthRouter(t *testing.T) {
	t.Parallel()

	router := HealthRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/version", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var version map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))
	assert.Contains(t, version, "version")
	assert.Contains(t, version, "go_version")
}
