package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ruteri/blob-publisher/cryptoutils"
	"github.com/ruteri/blob-publisher/interfaces"
	"golang.org/x/sync/errgroup"
)

// DistributeRequest is everything distribution needs for one blob.
type DistributeRequest struct {
	BlobID        interfaces.BlobID
	Metadata      interfaces.BlobMetadata
	SliversByNode map[string][]interfaces.SliverPair
	ObjectID      interfaces.ObjectID
	Deletable     bool
}

// ConfirmationSet aggregates the confirmations collected for one blob.
type ConfirmationSet struct {
	BlobID        interfaces.BlobID             `json:"blob_id"`
	ObjectID      interfaces.ObjectID           `json:"object_id"`
	Deletable     bool                          `json:"deletable"`
	Confirmations []interfaces.NodeConfirmation `json:"confirmations"`
	Weight        uint64                        `json:"weight"`
	Quorum        uint64                        `json:"quorum"`
	Failures      []NodeFailure                 `json:"failures,omitempty"`
}

// HasQuorum reports whether the confirmed weight reaches the quorum.
func (s *ConfirmationSet) HasQuorum() bool {
	return s != nil && s.Quorum > 0 && s.Weight >= s.Quorum
}

func (s *ConfirmationSet) add(conf interfaces.NodeConfirmation) {
	s.Confirmations = append(s.Confirmations, conf)
	s.Weight += conf.Weight
}

func (s *ConfirmationSet) fail(nodeID string, err error) {
	s.Failures = append(s.Failures, NodeFailure{NodeID: nodeID, Error: err.Error()})
}

type nodeResult struct {
	index    int
	conf     *interfaces.NodeConfirmation
	err      error
	duration time.Duration
}

// Distributor sends slivers to the committee and collects confirmations.
// It never touches the ledger.
type Distributor struct {
	committee *interfaces.Committee
	client    interfaces.StorageNodeClient
	cfg       Config
	log       *slog.Logger
	metrics   Metrics
}

// NewDistributor creates a distribution step for the committee.
func NewDistributor(committee *interfaces.Committee, client interfaces.StorageNodeClient, cfg Config, log *slog.Logger) *Distributor {
	if log == nil {
		log = slog.Default()
	}
	return &Distributor{
		committee: committee,
		client:    client,
		cfg:       cfg.WithDefaults(),
		log:       log,
		metrics:   nopMetrics{},
	}
}

// SetMetrics installs a metrics sink.
func (d *Distributor) SetMetrics(m Metrics) {
	if m != nil {
		d.metrics = m
	}
}

// Distribute uploads every node's slivers in parallel. Each node request runs
// under the node timeout and the whole step under the distribution deadline.
// Once the quorum is reached, stragglers get QuorumGrace before outstanding
// requests are cancelled. Fewer than quorum weight yields a *QuorumError.
func (d *Distributor) Distribute(ctx context.Context, req DistributeRequest) (*ConfirmationSet, error) {
	start := time.Now()
	quorum := d.cfg.Quorum(d.committee)
	if quorum == 0 || quorum > d.committee.TotalWeight() {
		return nil, fmt.Errorf("%w: quorum %d for committee weight %d", ErrInvalidRequest, quorum, d.committee.TotalWeight())
	}

	set := &ConfirmationSet{
		BlobID:    req.BlobID,
		ObjectID:  req.ObjectID,
		Deletable: req.Deletable,
		Quorum:    quorum,
	}

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.DistributionDeadline)
	defer cancel()

	nodes := d.committee.Nodes
	results := make(chan nodeResult, len(nodes))

	var g errgroup.Group
	if d.cfg.MaxConcurrentNodes > 0 {
		g.SetLimit(d.cfg.MaxConcurrentNodes)
	}

	go func() {
		for i := range nodes {
			g.Go(func() error {
				results <- d.send(runCtx, i, req)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	var grace <-chan time.Time

collect:
	for {
		select {
		case res, ok := <-results:
			if !ok {
				break collect
			}
			d.record(set, res)
			if set.HasQuorum() && grace == nil && d.cfg.QuorumGrace > 0 {
				timer := time.NewTimer(d.cfg.QuorumGrace)
				defer timer.Stop()
				grace = timer.C
			}
		case <-grace:
			d.log.Debug("quorum grace elapsed, cancelling outstanding node requests",
				slog.String("blobId", req.BlobID.String()))
			break collect
		case <-runCtx.Done():
			break collect
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("distribution cancelled: %w", err)
	}
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	// Results delivered before the deadline may still be buffered.
	d.drain(set, results)
	cancel()

	sort.Slice(set.Confirmations, func(i, j int) bool {
		return set.Confirmations[i].NodeIndex < set.Confirmations[j].NodeIndex
	})

	if !set.HasQuorum() {
		return nil, &QuorumError{
			Required:  quorum,
			Confirmed: set.Weight,
			Failures:  set.Failures,
			TimedOut:  timedOut,
		}
	}

	d.log.Info("blob distributed",
		slog.String("blobId", req.BlobID.String()),
		slog.Uint64("weight", set.Weight),
		slog.Uint64("quorum", quorum),
		slog.Int("confirmations", len(set.Confirmations)),
		slog.Int("failures", len(set.Failures)),
		slog.Duration("duration", time.Since(start)))

	return set, nil
}

// drain records the results already buffered without waiting for more.
func (d *Distributor) drain(set *ConfirmationSet, results <-chan nodeResult) {
	for {
		select {
		case res, ok := <-results:
			if !ok {
				return
			}
			d.record(set, res)
		default:
			return
		}
	}
}

func (d *Distributor) send(ctx context.Context, index int, req DistributeRequest) nodeResult {
	node := d.committee.Nodes[index]
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nodeResult{index: index, err: err}
	}

	slivers, ok := req.SliversByNode[node.ID]
	if !ok || len(slivers) == 0 {
		return nodeResult{index: index, err: errors.New("no slivers assigned to node")}
	}

	nodeCtx, cancel := context.WithTimeout(ctx, d.cfg.NodeTimeout)
	defer cancel()

	conf, err := d.client.StoreSlivers(nodeCtx, node, interfaces.SliverUpload{
		BlobID:    req.BlobID,
		ObjectID:  req.ObjectID,
		Deletable: req.Deletable,
		Metadata:  req.Metadata,
		Slivers:   slivers,
	})
	return nodeResult{index: index, conf: conf, err: err, duration: time.Since(start)}
}

func (d *Distributor) record(set *ConfirmationSet, res nodeResult) {
	node := d.committee.Nodes[res.index]

	err := res.err
	if err == nil {
		err = d.check(node, set, res.conf)
	}
	d.metrics.NodeResult(node.ID, err == nil, res.duration)

	if err != nil {
		d.log.Warn("storage node did not confirm",
			slog.String("node", node.ID),
			slog.String("blobId", set.BlobID.String()),
			"err", err)
		set.fail(node.ID, err)
		return
	}

	conf := *res.conf
	conf.NodeID = node.ID
	conf.NodeIndex = uint16(res.index)
	conf.Weight = node.Weight
	set.add(conf)
}

func (d *Distributor) check(node interfaces.StorageNode, set *ConfirmationSet, conf *interfaces.NodeConfirmation) error {
	if conf == nil {
		return errors.New("empty confirmation")
	}
	if conf.BlobID != set.BlobID {
		return fmt.Errorf("confirmation for blob %s, expected %s", conf.BlobID, set.BlobID)
	}
	if conf.Deletable != set.Deletable {
		return errors.New("confirmation persistence mismatch")
	}
	if conf.Deletable && conf.ObjectID != set.ObjectID {
		return fmt.Errorf("confirmation for object %s, expected %s", conf.ObjectID.Hex(), set.ObjectID.Hex())
	}
	return cryptoutils.VerifyConfirmation(node, conf)
}
