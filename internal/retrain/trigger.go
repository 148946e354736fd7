// Package retrain decides when the training pool is large enough to
// retrain the model and kicks the run off in the remote notebook
// environment over its terminal websocket.
package retrain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/edgevision/triage-server/internal/images"
	"github.com/edgevision/triage-server/internal/objstore"
	"github.com/edgevision/triage-server/internal/store"
)

const (
	// terminalPath is the remote environment's first terminal, the one
	// the non-interactive execution command is typed into.
	terminalPath = "/terminals/websocket/1"

	dialTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
)

// Outcome summarizes one trigger run.
type Outcome struct {
	// Skipped is true when the pool had not grown past the threshold.
	Skipped bool

	// LabelCount is the label-file count observed during the check.
	LabelCount int

	// JobID identifies the submitted job record. Empty when skipped.
	JobID string
}

// Trigger is the Retraining Trigger.
type Trigger struct {
	objects objstore.Store
	records *store.Store
	session SessionProvider

	threshold        int
	notebookPath     string
	kernelName       string
	executionTimeout int
}

// NewTrigger creates a retraining trigger.
func NewTrigger(objects objstore.Store, records *store.Store, session SessionProvider,
	threshold int, notebookPath, kernelName string, executionTimeout int) *Trigger {
	return &Trigger{
		objects:          objects,
		records:          records,
		session:          session,
		threshold:        threshold,
		notebookPath:     notebookPath,
		kernelName:       kernelName,
		executionTimeout: executionTimeout,
	}
}

// Run checks the training pool against the threshold and, when
// exceeded, records a job and submits the notebook execution. A
// submission failure flips the job record to failed and is returned.
func (t *Trigger) Run(ctx context.Context) (*Outcome, error) {
	count, err := t.objects.Count(ctx, images.TrainingLabelPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to count training labels: %w", err)
	}
	if count <= t.threshold {
		slog.Debug("Training pool below retraining threshold",
			"labels", count, "threshold", t.threshold)
		return &Outcome{Skipped: true, LabelCount: count}, nil
	}

	jobID := uuid.NewString()
	err = t.records.CreateJob(ctx, &store.RetrainJob{
		ID:         jobID,
		Phase:      store.JobPhaseSubmitted,
		LabelCount: count,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record retraining job: %w", err)
	}

	slog.Info("Submitting retraining run", "job_id", jobID, "labels", count)
	if err := t.submit(ctx); err != nil {
		if updateErr := t.records.UpdateJob(ctx, jobID, store.JobPhaseFailed, err.Error()); updateErr != nil {
			slog.Error("Failed to record job failure", "job_id", jobID, "error", updateErr)
		}
		return &Outcome{LabelCount: count, JobID: jobID},
			fmt.Errorf("failed to submit retraining run: %w", err)
	}

	return &Outcome{LabelCount: count, JobID: jobID}, nil
}

// submit opens the remote terminal websocket inside an authenticated
// session and types the execution command.
func (t *Trigger) submit(ctx context.Context) error {
	session, err := t.session.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start notebook session: %w", err)
	}

	conn, err := t.dialTerminal(ctx, session)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	command := fmt.Sprintf(
		"jupyter nbconvert --execute --to notebook --inplace %s --ExecutePreprocessor.kernel_name=%s --ExecutePreprocessor.timeout=%d",
		t.notebookPath, t.kernelName, t.executionTimeout)
	frame, err := json.Marshal([]string{"stdin", command + "\r"})
	if err != nil {
		return fmt.Errorf("failed to encode terminal command: %w", err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to send terminal command: %w", err)
	}

	closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, closeFrame, time.Now().Add(writeTimeout))
	return nil
}

func (t *Trigger) dialTerminal(ctx context.Context, session *Session) (*websocket.Conn, error) {
	wsURL := terminalURL(session.URL)

	header := http.Header{}
	for _, cookie := range session.Cookies {
		header.Add("Cookie", cookie.String())
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to open terminal websocket (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to open terminal websocket: %w", err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, nil
}

// terminalURL maps the authorized notebook URL to its terminal
// websocket endpoint on the same host.
func terminalURL(authorized *url.URL) string {
	scheme := "wss"
	if authorized.Scheme == "http" || authorized.Scheme == "ws" {
		scheme = "ws"
	}
	ws := url.URL{Scheme: scheme, Host: authorized.Host, Path: terminalPath}
	return ws.String()
}

// MarkComplete records the external completion callback for a job.
func (t *Trigger) MarkComplete(ctx context.Context, jobID, message string) error {
	return t.records.UpdateJob(ctx, jobID, store.JobPhaseComplete, message)
}

// MarkFailed records an external failure callback for a job.
func (t *Trigger) MarkFailed(ctx context.Context, jobID, message string) error {
	return t.records.UpdateJob(ctx, jobID, store.JobPhaseFailed, message)
}
