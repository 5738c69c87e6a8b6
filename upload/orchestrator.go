package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ruteri/blob-publisher/interfaces"
	"go.uber.org/atomic"
)

// eventBuffer holds every event a run can emit, so a run never blocks on a
// slow or absent reader.
const eventBuffer = 8

// FundsProvisioner tops up the uploading account before encoding starts.
type FundsProvisioner interface {
	EnsureFunds(ctx context.Context, account interfaces.Address) error
}

// UploadRequest describes one blob upload.
type UploadRequest struct {
	Data      []byte
	Owner     interfaces.Address
	Epochs    uint32
	Deletable bool
}

// Result is the outcome of a successful upload.
type Result struct {
	BlobID         interfaces.BlobID            `json:"blob_id"`
	ObjectID       interfaces.ObjectID          `json:"object_id"`
	Owner          interfaces.Address           `json:"owner"`
	Size           uint64                       `json:"size"`
	Deletable      bool                         `json:"deletable"`
	Status         interfaces.BlobStatus        `json:"status"`
	RegisterDigest interfaces.TransactionDigest `json:"register_digest"`
	CertifyDigest  interfaces.TransactionDigest `json:"certify_digest"`
	Confirmations  *ConfirmationSet             `json:"confirmations,omitempty"`
}

// Record returns the ledger record of the uploaded blob.
func (r *Result) Record() *interfaces.BlobObjectRecord {
	return &interfaces.BlobObjectRecord{
		ObjectID:       r.ObjectID,
		BlobID:         r.BlobID,
		Owner:          r.Owner,
		Status:         r.Status,
		RegisterDigest: r.RegisterDigest,
		CertifyDigest:  r.CertifyDigest,
	}
}

// Checkpoint is the state needed to retry certification of a registered and
// confirmed blob.
type Checkpoint struct {
	BlobID         interfaces.BlobID            `json:"blob_id"`
	ObjectID       interfaces.ObjectID          `json:"object_id"`
	Owner          interfaces.Address           `json:"owner"`
	Size           uint64                       `json:"size"`
	Deletable      bool                         `json:"deletable"`
	RegisterDigest interfaces.TransactionDigest `json:"register_digest"`
	Confirmations  *ConfirmationSet             `json:"confirmations"`
}

// Event is emitted on every phase transition of a run.
type Event struct {
	RunID    string              `json:"run_id"`
	Phase    Phase               `json:"phase"`
	Status   string              `json:"status"`
	BlobID   interfaces.BlobID   `json:"blob_id"`
	ObjectID interfaces.ObjectID `json:"object_id"`
	Err      error               `json:"-"`
	Time     time.Time           `json:"time"`
}

// Run is one upload in progress.
type Run struct {
	id     string
	phase  *atomic.Int32
	events chan Event
	done   chan struct{}

	result *Result
	err    error
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.id
}

// Phase returns the current phase.
func (r *Run) Phase() Phase {
	return Phase(r.phase.Load())
}

// Events yields one event per transition and is closed after the terminal event.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Done is closed once the run reached a terminal phase.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run terminates and returns its outcome.
func (r *Run) Wait() (*Result, error) {
	<-r.done
	return r.result, r.err
}

// workflowState is owned by a single run goroutine.
type workflowState struct {
	run       *Run
	req       UploadRequest
	blobID    interfaces.BlobID
	objectID  interfaces.ObjectID
	encoded   *interfaces.EncodedBlob
	record    *interfaces.BlobObjectRecord
	confirmed *ConfirmationSet
	lastErr   error
	started   time.Time
}

// Orchestrator sequences provisioning, encoding, registration, distribution
// and certification of blobs. It holds no per-upload state; every Run is
// independent.
type Orchestrator struct {
	cfg         Config
	ledger      interfaces.LedgerClient
	funds       FundsProvisioner
	encoder     interfaces.Encoder
	registrar   *Registrar
	distributor *Distributor
	certifier   *Certifier
	log         *slog.Logger
	metrics     Metrics
}

// NewOrchestrator wires the workflow steps. funds may be nil when accounts
// are funded out of band.
func NewOrchestrator(
	cfg Config,
	committee *interfaces.Committee,
	ledger interfaces.LedgerClient,
	encoder interfaces.Encoder,
	nodes interfaces.StorageNodeClient,
	funds FundsProvisioner,
	log *slog.Logger,
) (*Orchestrator, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(committee); err != nil {
		return nil, err
	}
	if ledger == nil || encoder == nil || nodes == nil {
		return nil, errors.New("ledger, encoder and storage node client are required")
	}

	return &Orchestrator{
		cfg:         cfg,
		ledger:      ledger,
		funds:       funds,
		encoder:     encoder,
		registrar:   NewRegistrar(ledger, cfg, log),
		distributor: NewDistributor(committee, nodes, cfg, log),
		certifier:   NewCertifier(ledger, committee, cfg, log),
		log:         log,
		metrics:     nopMetrics{},
	}, nil
}

// SetMetrics installs a metrics sink.
func (o *Orchestrator) SetMetrics(m Metrics) {
	if m == nil {
		return
	}
	o.metrics = m
	o.distributor.SetMetrics(m)
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Upload runs the workflow to completion.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (*Result, error) {
	return o.Start(ctx, req).Wait()
}

// Start launches the workflow in the background.
func (o *Orchestrator) Start(ctx context.Context, req UploadRequest) *Run {
	run := &Run{
		id:     uuid.New().String(),
		phase:  atomic.NewInt32(int32(PhaseIdle)),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}

	go o.execute(ctx, run, req)
	return run
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, req UploadRequest) {
	st := &workflowState{run: run, req: req, started: time.Now()}
	log := o.log.With(slog.String("runId", run.id))

	defer func() {
		close(run.events)
		close(run.done)
	}()

	if err := o.validate(req); err != nil {
		o.fail(st, err)
		return
	}

	steps := []struct {
		phase Phase
		do    func(context.Context, *workflowState) error
	}{
		{PhaseProvisioning, o.provision},
		{PhaseEncoding, o.encode},
		{PhaseRegistering, o.register},
		{PhaseDistributing, o.distribute},
		{PhaseCertifying, o.certify},
	}

	for _, step := range steps {
		if err := o.transition(st, step.phase); err != nil {
			o.fail(st, err)
			return
		}

		phaseStart := time.Now()
		if err := step.do(ctx, st); err != nil {
			log.Error("upload step failed", slog.String("phase", step.phase.String()), "err", err)
			o.fail(st, err)
			return
		}
		o.metrics.PhaseCompleted(step.phase, time.Since(phaseStart))
	}

	if err := o.transition(st, PhaseSucceeded); err != nil {
		o.fail(st, err)
		return
	}

	run.result = &Result{
		BlobID:         st.blobID,
		ObjectID:       st.objectID,
		Owner:          req.Owner,
		Size:           uint64(len(req.Data)),
		Deletable:      req.Deletable,
		Status:         interfaces.BlobCertified,
		RegisterDigest: st.record.RegisterDigest,
		CertifyDigest:  st.record.CertifyDigest,
		Confirmations:  st.confirmed,
	}
	o.metrics.UploadFinished(PhaseSucceeded, PhaseCertifying)

	log.Info("upload succeeded",
		slog.String("blobId", st.blobID.String()),
		slog.String("objectId", st.objectID.Hex()),
		slog.Duration("duration", time.Since(st.started)))
}

func (o *Orchestrator) validate(req UploadRequest) error {
	switch {
	case len(req.Data) == 0:
		return fmt.Errorf("%w: empty payload", ErrInvalidRequest)
	case req.Owner == (common.Address{}):
		return fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	case req.Epochs == 0 || req.Epochs > o.cfg.MaxEpochs:
		return fmt.Errorf("%w: epochs must be between 1 and %d, got %d", ErrInvalidRequest, o.cfg.MaxEpochs, req.Epochs)
	}
	return nil
}

func (o *Orchestrator) provision(ctx context.Context, st *workflowState) error {
	if o.funds == nil {
		return nil
	}
	return o.funds.EnsureFunds(ctx, st.req.Owner)
}

func (o *Orchestrator) encode(ctx context.Context, st *workflowState) error {
	encoded, err := o.encoder.Encode(ctx, st.req.Data)
	if err != nil {
		return fmt.Errorf("could not encode blob: %w", err)
	}
	st.encoded = encoded
	st.blobID = encoded.BlobID
	return nil
}

func (o *Orchestrator) register(ctx context.Context, st *workflowState) error {
	record, err := o.registrar.Register(ctx, st.encoded, RegisterOptions{
		Owner:     st.req.Owner,
		Size:      uint64(len(st.req.Data)),
		Deletable: st.req.Deletable,
		Epochs:    st.req.Epochs,
	})
	if err != nil {
		return err
	}
	st.record = record
	st.objectID = record.ObjectID
	return nil
}

func (o *Orchestrator) distribute(ctx context.Context, st *workflowState) error {
	if st.record == nil || st.record.Status != interfaces.BlobRegistered {
		return fmt.Errorf("%w: distribution requires a registered blob object", ErrIllegalTransition)
	}

	set, err := o.distributor.Distribute(ctx, DistributeRequest{
		BlobID:        st.encoded.BlobID,
		Metadata:      st.encoded.Metadata,
		SliversByNode: st.encoded.SliversByNode,
		ObjectID:      st.record.ObjectID,
		Deletable:     st.req.Deletable,
	})
	// The encoded blob is consumed by distribution.
	st.encoded = nil
	if err != nil {
		return err
	}
	st.confirmed = set
	return nil
}

func (o *Orchestrator) certify(ctx context.Context, st *workflowState) error {
	if !st.confirmed.HasQuorum() {
		return fmt.Errorf("%w: certification requires a quorum of confirmations", ErrQuorumNotReached)
	}

	digest, err := o.certifier.Certify(ctx, CertifyRequest{
		BlobID:        st.blobID,
		ObjectID:      st.objectID,
		Deletable:     st.req.Deletable,
		Sender:        st.req.Owner,
		Confirmations: st.confirmed,
	})
	if err != nil {
		return err
	}
	st.record.CertifyDigest = digest
	st.record.Status = interfaces.BlobCertified
	return nil
}

func (o *Orchestrator) transition(st *workflowState, to Phase) error {
	from := st.run.Phase()
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	st.run.phase.Store(int32(to))

	st.run.events <- Event{
		RunID:    st.run.id,
		Phase:    to,
		Status:   o.status(st, to),
		BlobID:   st.blobID,
		ObjectID: st.objectID,
		Err:      st.lastErr,
		Time:     time.Now(),
	}
	return nil
}

func (o *Orchestrator) status(st *workflowState, phase Phase) string {
	switch phase {
	case PhaseSucceeded:
		return fmt.Sprintf("Blob uploaded as %s", st.blobID)
	case PhaseFailed:
		return fmt.Sprintf("Upload failed: %v", st.lastErr)
	default:
		return phase.Status()
	}
}

// fail moves the run to Failed and records the wrapped error.
func (o *Orchestrator) fail(st *workflowState, err error) {
	failedIn := st.run.Phase()
	uerr := &UploadError{
		Phase:    failedIn,
		Err:      err,
		BlobID:   st.blobID,
		ObjectID: st.objectID,
	}
	if failedIn == PhaseCertifying && st.confirmed.HasQuorum() {
		uerr.Checkpoint = &Checkpoint{
			BlobID:         st.blobID,
			ObjectID:       st.objectID,
			Owner:          st.req.Owner,
			Size:           uint64(len(st.req.Data)),
			Deletable:      st.req.Deletable,
			RegisterDigest: st.record.RegisterDigest,
			Confirmations:  st.confirmed,
		}
	}

	st.lastErr = uerr
	st.run.err = uerr
	if CanTransition(failedIn, PhaseFailed) {
		_ = o.transition(st, PhaseFailed)
	}
	o.metrics.UploadFinished(PhaseFailed, failedIn)
}

// ResumeCertification retries only the certification of a blob that was
// registered and confirmed by a quorum in an earlier run. A blob object
// that is already certified is reported as success without a transaction.
func (o *Orchestrator) ResumeCertification(ctx context.Context, cp Checkpoint) (*Result, error) {
	fail := func(err error) (*Result, error) {
		return nil, &UploadError{Phase: PhaseCertifying, Err: err, BlobID: cp.BlobID, ObjectID: cp.ObjectID, Checkpoint: &cp}
	}

	if cp.BlobID.IsZero() || cp.ObjectID == (common.Hash{}) || cp.Owner == (common.Address{}) {
		return nil, &UploadError{Phase: PhaseCertifying, Err: fmt.Errorf("%w: incomplete checkpoint", ErrInvalidRequest)}
	}

	result := &Result{
		BlobID:         cp.BlobID,
		ObjectID:       cp.ObjectID,
		Owner:          cp.Owner,
		Size:           cp.Size,
		Deletable:      cp.Deletable,
		Status:         interfaces.BlobCertified,
		RegisterDigest: cp.RegisterDigest,
		Confirmations:  cp.Confirmations,
	}

	obj, err := o.ledger.Object(ctx, cp.ObjectID)
	if err != nil {
		if errors.Is(err, interfaces.ErrObjectNotFound) {
			return fail(fmt.Errorf("%w: %w", ErrObjectNotFound, err))
		}
		return fail(err)
	}
	blob, err := decodeBlobObject(obj, o.cfg.BlobObjectType)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrObjectNotFound, err))
	}
	if blob.BlobID != cp.BlobID {
		return fail(fmt.Errorf("%w: object %s holds blob %s", ErrInvalidRequest, cp.ObjectID.Hex(), blob.BlobID))
	}
	if blob.Certified {
		o.log.Info("blob already certified", slog.String("blobId", cp.BlobID.String()))
		return result, nil
	}

	digest, err := o.certifier.Certify(ctx, CertifyRequest{
		BlobID:        cp.BlobID,
		ObjectID:      cp.ObjectID,
		Deletable:     cp.Deletable,
		Sender:        cp.Owner,
		Confirmations: cp.Confirmations,
	})
	if err != nil {
		return fail(err)
	}

	result.CertifyDigest = digest
	return result, nil
}
