// Package metrics exports upload workflow measurements to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/blob-publisher/upload"
)

// Recorder implements upload.Metrics.
type Recorder struct {
	phaseDuration *prometheus.HistogramVec
	uploads       *prometheus.CounterVec
	nodeRequests  *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec
}

// NewRecorder creates the upload collectors and registers them with reg.
func NewRecorder(namespace string, reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_phase_duration_seconds",
			Help:      "Duration of successfully completed upload phases.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"phase"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Finished uploads by outcome and the phase they ended in.",
		}, []string{"outcome", "phase"}),
		nodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_node_requests_total",
			Help:      "Sliver uploads per storage node by result.",
		}, []string{"node", "result"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_node_request_duration_seconds",
			Help:      "Duration of sliver uploads per storage node.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
	}

	for _, c := range []prometheus.Collector{r.phaseDuration, r.uploads, r.nodeRequests, r.nodeDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) PhaseCompleted(phase upload.Phase, duration time.Duration) {
	r.phaseDuration.WithLabelValues(phase.String()).Observe(duration.Seconds())
}

func (r *Recorder) UploadFinished(terminal upload.Phase, last upload.Phase) {
	r.uploads.WithLabelValues(terminal.String(), last.String()).Inc()
}

func (r *Recorder) NodeResult(nodeID string, ok bool, duration time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.nodeRequests.WithLabelValues(nodeID, result).Inc()
	r.nodeDuration.WithLabelValues(nodeID).Observe(duration.Seconds())
}
