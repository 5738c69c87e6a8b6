package upload

import "time"

// Metrics receives workflow measurements.
type Metrics interface {
	// PhaseCompleted is called when a phase finished successfully.
	PhaseCompleted(phase Phase, duration time.Duration)
	// UploadFinished is called once per run with its terminal phase and the
	// phase it ended in.
	UploadFinished(terminal Phase, last Phase)
	// NodeResult is called once per storage node request.
	NodeResult(nodeID string, ok bool, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) PhaseCompleted(Phase, time.Duration)    {}
func (nopMetrics) UploadFinished(Phase, Phase)            {}
func (nopMetrics) NodeResult(string, bool, time.Duration) {}
