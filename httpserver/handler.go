package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jellydator/ttlcache/v3"
	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/ruteri/blob-publisher/upload"
)

const (
	// DefaultMaxBodySize bounds the blob accepted by the publish endpoint (10MiB).
	DefaultMaxBodySize = 10 << 20
	DefaultRunTTL      = time.Hour
	DefaultMaxRuns     = 4096
)

// RequestError provides structured error information for HTTP responses.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Publisher starts uploads and retries certification.
type Publisher interface {
	Start(ctx context.Context, req upload.UploadRequest) *upload.Run
	ResumeCertification(ctx context.Context, cp upload.Checkpoint) (*upload.Result, error)
}

// CheckpointArchive persists checkpoints of resumable failures and receipts
// of certified uploads.
type CheckpointArchive interface {
	SaveCheckpoint(ctx context.Context, cp *upload.Checkpoint) (interfaces.ContentID, error)
	LoadCheckpoint(ctx context.Context, id interfaces.ContentID) (*upload.Checkpoint, error)
	SaveReceipt(ctx context.Context, result *upload.Result) (interfaces.ContentID, error)
}

type HandlerConfig struct {
	// Owner is the account uploads are registered for.
	Owner         interfaces.Address
	DefaultEpochs uint32
	MaxBodySize   int64
	// RunTTL is how long a run stays queryable after it was started.
	RunTTL  time.Duration
	MaxRuns uint64
}

// UploadStatus is the body of the upload status and resume responses.
type UploadStatus struct {
	RunID        string         `json:"run_id"`
	Phase        upload.Phase   `json:"phase"`
	Status       string         `json:"status"`
	BlobID       string         `json:"blob_id,omitempty"`
	ObjectID     string         `json:"object_id,omitempty"`
	Result       *upload.Result `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	Resumable    bool           `json:"resumable"`
	CheckpointID string         `json:"checkpoint_id,omitempty"`
	ReceiptID    string         `json:"receipt_id,omitempty"`
}

// trackedRun is the registry view of one run. The tracking goroutine and
// resume requests update it under mu.
type trackedRun struct {
	run     *upload.Run
	settled chan struct{}

	mu           sync.Mutex
	last         upload.Event
	result       *upload.Result
	err          error
	checkpoint   *upload.Checkpoint
	checkpointID *interfaces.ContentID
	receiptID    *interfaces.ContentID
	resuming     bool
}

func (tr *trackedRun) status() UploadStatus {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	phase := tr.run.Phase()
	if tr.result != nil {
		phase = upload.PhaseSucceeded
	}

	st := UploadStatus{
		RunID:     tr.run.ID(),
		Phase:     phase,
		Status:    phase.Status(),
		Result:    tr.result,
		Resumable: tr.checkpoint != nil,
	}
	if !tr.last.BlobID.IsZero() {
		st.BlobID = tr.last.BlobID.String()
	}
	if tr.last.ObjectID != (interfaces.ObjectID{}) {
		st.ObjectID = tr.last.ObjectID.Hex()
	}
	if tr.err != nil && tr.result == nil {
		st.Error = tr.err.Error()
	}
	if tr.checkpointID != nil {
		st.CheckpointID = tr.checkpointID.String()
	}
	if tr.receiptID != nil {
		st.ReceiptID = tr.receiptID.String()
	}
	return st
}

// Handler serves the publisher API. Runs outlive the request that started
// them and are kept in a TTL-bounded registry.
type Handler struct {
	publisher Publisher
	archive   CheckpointArchive
	cfg       HandlerConfig
	runs      *ttlcache.Cache[string, *trackedRun]
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHandler creates a handler. archive may be nil, in which case
// checkpoints only live as long as the run registry entry.
func NewHandler(publisher Publisher, archive CheckpointArchive, cfg HandlerConfig, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DefaultEpochs == 0 {
		cfg.DefaultEpochs = upload.DefaultEpochs
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = DefaultRunTTL
	}
	if cfg.MaxRuns == 0 {
		cfg.MaxRuns = DefaultMaxRuns
	}

	runs := ttlcache.New[string, *trackedRun](
		ttlcache.WithTTL[string, *trackedRun](cfg.RunTTL),
		ttlcache.WithCapacity[string, *trackedRun](cfg.MaxRuns),
		ttlcache.WithDisableTouchOnHit[string, *trackedRun](),
	)
	runs.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *trackedRun]) {
		log.Debug("run evicted from registry", "runId", item.Key(), "reason", reason)
	})
	go runs.Start()

	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		publisher: publisher,
		archive:   archive,
		cfg:       cfg,
		runs:      runs,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close cancels runs still in flight, waits for their tracking to finish
// and stops the registry.
func (h *Handler) Close() {
	h.cancel()
	h.wg.Wait()
	h.runs.Stop()
}

// HandlePublish handles POST /api/v1/blobs. The body is the raw blob;
// query parameters: epochs, deletable, wait.
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	req, wait, err := h.parsePublishRequest(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	run := h.publisher.Start(h.ctx, req)
	tr := &trackedRun{run: run, settled: make(chan struct{})}
	h.runs.Set(run.ID(), tr, ttlcache.DefaultTTL)

	h.wg.Add(1)
	go h.track(tr)

	h.log.Info("upload started",
		slog.String("runId", run.ID()),
		slog.Int("size", len(req.Data)),
		slog.Bool("deletable", req.Deletable),
		slog.Uint64("epochs", uint64(req.Epochs)))

	if !wait {
		w.Header().Set("Location", "/api/v1/uploads/"+run.ID())
		writeJSON(w, http.StatusAccepted, tr.status())
		return
	}

	select {
	case <-tr.settled:
	case <-r.Context().Done():
		return
	}

	st := tr.status()
	code := http.StatusOK
	if st.Result == nil {
		code = statusFor(tr.err)
	}
	writeJSON(w, code, st)
}

func (h *Handler) parsePublishRequest(w http.ResponseWriter, r *http.Request) (upload.UploadRequest, bool, error) {
	query := r.URL.Query()
	req := upload.UploadRequest{Owner: h.cfg.Owner, Epochs: h.cfg.DefaultEpochs}

	if v := query.Get("epochs"); v != "" {
		epochs, err := strconv.ParseUint(v, 10, 32)
		if err != nil || epochs == 0 {
			return req, false, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid epochs %q", v)}
		}
		req.Epochs = uint32(epochs)
	}

	var err error
	if v := query.Get("deletable"); v != "" {
		if req.Deletable, err = strconv.ParseBool(v); err != nil {
			return req, false, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid deletable %q", v)}
		}
	}

	wait := false
	if v := query.Get("wait"); v != "" {
		if wait, err = strconv.ParseBool(v); err != nil {
			return req, false, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid wait %q", v)}
		}
	}

	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, false, &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: fmt.Errorf("blob exceeds %d bytes", tooLarge.Limit)}
		}
		return req, false, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if len(data) == 0 {
		return req, false, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("empty blob")}
	}
	req.Data = data

	return req, wait, nil
}

// HandleStatus handles GET /api/v1/uploads/{id}.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	tr, err := h.lookup(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tr.status())
}

// HandleResume handles POST /api/v1/uploads/{id}/resume. It retries the
// certification of a run that failed with a checkpoint.
func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request) {
	tr, err := h.lookup(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	cp, err := tr.beginResume()
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.publisher.ResumeCertification(r.Context(), *cp)
	h.finishResume(tr, result, err)

	st := tr.status()
	if err != nil {
		writeJSON(w, statusFor(err), st)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleResumeCheckpoint handles POST /api/v1/checkpoints/{id}/resume for
// checkpoints whose run already left the registry.
func (h *Handler) HandleResumeCheckpoint(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: errors.New("no checkpoint archive configured")})
		return
	}

	id, err := interfaces.ParseContentID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid checkpoint id: %w", err)})
		return
	}

	cp, err := h.archive.LoadCheckpoint(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrContentNotFound) {
			h.writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: err})
			return
		}
		h.writeError(w, &RequestError{StatusCode: http.StatusBadGateway, Err: err})
		return
	}

	result, err := h.publisher.ResumeCertification(r.Context(), *cp)
	if err != nil {
		h.writeError(w, &RequestError{StatusCode: statusFor(err), Err: err})
		return
	}

	h.saveReceipt(r.Context(), result)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) lookup(id string) (*trackedRun, error) {
	item := h.runs.Get(id)
	if item == nil {
		return nil, &RequestError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("unknown upload %q", id)}
	}
	return item.Value(), nil
}

// track follows a run to its end and archives its outcome.
func (h *Handler) track(tr *trackedRun) {
	defer h.wg.Done()
	defer close(tr.settled)

	for ev := range tr.run.Events() {
		tr.mu.Lock()
		tr.last = ev
		tr.mu.Unlock()
	}

	result, err := tr.run.Wait()

	var checkpoint *upload.Checkpoint
	var uploadErr *upload.UploadError
	if errors.As(err, &uploadErr) && uploadErr.Resumable() {
		checkpoint = uploadErr.Checkpoint
	}

	tr.mu.Lock()
	tr.result = result
	tr.err = err
	tr.checkpoint = checkpoint
	tr.mu.Unlock()

	if err != nil {
		h.log.Warn("upload failed", "runId", tr.run.ID(), "err", err, "resumable", checkpoint != nil)
	} else {
		h.log.Info("upload certified", "runId", tr.run.ID(), "blobId", result.BlobID.String())
	}

	// Archiving is not tied to the handler lifetime so that a checkpoint
	// of a run cancelled by Close is still persisted.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case result != nil:
		if id := h.saveReceipt(ctx, result); id != nil {
			tr.mu.Lock()
			tr.receiptID = id
			tr.mu.Unlock()
		}
	case checkpoint != nil && h.archive != nil:
		id, err := h.archive.SaveCheckpoint(ctx, checkpoint)
		if err != nil {
			h.log.Error("could not archive checkpoint", "runId", tr.run.ID(), "err", err)
			return
		}
		tr.mu.Lock()
		tr.checkpointID = &id
		tr.mu.Unlock()
	}
}

func (h *Handler) saveReceipt(ctx context.Context, result *upload.Result) *interfaces.ContentID {
	if h.archive == nil {
		return nil
	}
	id, err := h.archive.SaveReceipt(ctx, result)
	if err != nil {
		h.log.Error("could not archive receipt", "blobId", result.BlobID.String(), "err", err)
		return nil
	}
	return &id
}

func (tr *trackedRun) beginResume() (*upload.Checkpoint, error) {
	select {
	case <-tr.settled:
	default:
		return nil, &RequestError{StatusCode: http.StatusConflict, Err: errors.New("upload still running")}
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	switch {
	case tr.result != nil:
		return nil, &RequestError{StatusCode: http.StatusConflict, Err: errors.New("upload already certified")}
	case tr.checkpoint == nil:
		return nil, &RequestError{StatusCode: http.StatusConflict, Err: errors.New("upload cannot be resumed")}
	case tr.resuming:
		return nil, &RequestError{StatusCode: http.StatusConflict, Err: errors.New("resume already in progress")}
	}

	tr.resuming = true
	cp := *tr.checkpoint
	return &cp, nil
}

func (h *Handler) finishResume(tr *trackedRun, result *upload.Result, err error) {
	var receipt *interfaces.ContentID
	if err == nil {
		receipt = h.saveReceipt(h.ctx, result)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.resuming = false
	if err != nil {
		tr.err = err
		h.log.Warn("resume failed", "runId", tr.run.ID(), "err", err)
		return
	}

	tr.result = result
	tr.err = nil
	tr.checkpoint = nil
	tr.receiptID = receipt
	h.log.Info("upload certified on resume", "runId", tr.run.ID(), "blobId", result.BlobID.String())
}

// statusFor maps an upload failure to an HTTP status.
func statusFor(err error) int {
	var reqErr *RequestError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.Is(err, upload.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, upload.ErrDistributionTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", "err", err, "status", code)
	} else {
		h.log.Debug("request rejected", "err", err, "status", code)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
