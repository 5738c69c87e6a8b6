package upload

import (
	"errors"
	"fmt"
)

// Phase is a state of the upload workflow.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseProvisioning
	PhaseEncoding
	PhaseRegistering
	PhaseDistributing
	PhaseCertifying
	PhaseSucceeded
	PhaseFailed
)

// ErrIllegalTransition is returned when the workflow tries to skip or reorder phases.
var ErrIllegalTransition = errors.New("illegal phase transition")

var phaseNames = map[Phase]string{
	PhaseIdle:         "idle",
	PhaseProvisioning: "provisioning",
	PhaseEncoding:     "encoding",
	PhaseRegistering:  "registering",
	PhaseDistributing: "distributing",
	PhaseCertifying:   "certifying",
	PhaseSucceeded:    "succeeded",
	PhaseFailed:       "failed",
}

var phaseStatus = map[Phase]string{
	PhaseIdle:         "Waiting to start...",
	PhaseProvisioning: "Acquiring storage tokens...",
	PhaseEncoding:     "Encoding file...",
	PhaseRegistering:  "Registering blob...",
	PhaseDistributing: "Writing blob to nodes...",
	PhaseCertifying:   "Certifying blob...",
	PhaseSucceeded:    "Blob uploaded",
	PhaseFailed:       "Upload failed",
}

// transitions lists the phases reachable from each phase. Failed is
// reachable from every non-terminal phase and added by CanTransition.
var transitions = map[Phase][]Phase{
	PhaseIdle:         {PhaseProvisioning},
	PhaseProvisioning: {PhaseEncoding},
	PhaseEncoding:     {PhaseRegistering},
	PhaseRegistering:  {PhaseDistributing},
	PhaseDistributing: {PhaseCertifying},
	PhaseCertifying:   {PhaseSucceeded},
	PhaseSucceeded:    nil,
	PhaseFailed:       nil,
}

// String returns the phase name.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// Status returns a human readable progress line.
func (p Phase) Status() string {
	return phaseStatus[p]
}

// Terminal reports whether no transition leaves the phase.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// CanTransition reports whether the workflow may move from one phase to another.
func CanTransition(from, to Phase) bool {
	if to == PhaseFailed {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
