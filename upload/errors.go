package upload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ruteri/blob-publisher/interfaces"
)

var (
	// ErrInvalidRequest is returned for malformed upload or resume requests.
	ErrInvalidRequest = errors.New("invalid upload request")

	// ErrExecutionFailed is returned when a register or certify transaction
	// executed with a non-success status.
	ErrExecutionFailed = errors.New("transaction execution failed")

	// ErrObjectNotFound is returned when a registration created no blob object
	// of the expected type.
	ErrObjectNotFound = errors.New("blob object not found")

	// ErrQuorumNotReached is returned when fewer than a quorum of storage nodes confirmed.
	ErrQuorumNotReached = errors.New("quorum not reached")

	// ErrDistributionTimeout is returned when the distribution deadline fired
	// before a quorum confirmed.
	ErrDistributionTimeout = errors.New("distribution deadline exceeded")

	// ErrNotCertified is returned when the blob object does not read back as certified.
	ErrNotCertified = errors.New("blob object not certified")
)

// NodeFailure records why a storage node did not contribute a confirmation.
type NodeFailure struct {
	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

// QuorumError describes a distribution that ended without enough confirmed weight.
type QuorumError struct {
	Required  uint64
	Confirmed uint64
	Failures  []NodeFailure
	// TimedOut is set when the distribution deadline ended collection.
	TimedOut bool
}

func (e *QuorumError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: confirmed weight %d of required %d", ErrQuorumNotReached, e.Confirmed, e.Required)
	if e.TimedOut {
		b.WriteString(" (deadline exceeded)")
	}
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, ", %d node failures", len(e.Failures))
	}
	return b.String()
}

// Is matches ErrQuorumNotReached, and ErrDistributionTimeout when the deadline fired.
func (e *QuorumError) Is(target error) bool {
	return target == ErrQuorumNotReached || (e.TimedOut && target == ErrDistributionTimeout)
}

// UploadError is the terminal error of an upload run. It names the phase the
// run failed in and keeps whatever identifiers were already known.
type UploadError struct {
	Phase    Phase
	Err      error
	BlobID   interfaces.BlobID
	ObjectID interfaces.ObjectID
	// Checkpoint is set when the blob is registered and confirmed but not
	// certified; pass it to ResumeCertification to finish the upload.
	Checkpoint *Checkpoint
}

func (e *UploadError) Error() string {
	if e.BlobID.IsZero() {
		return fmt.Sprintf("upload failed while %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("upload of blob %s failed while %s: %v", e.BlobID, e.Phase, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Resumable reports whether certification can be retried from the checkpoint.
func (e *UploadError) Resumable() bool {
	return e.Checkpoint != nil
}
