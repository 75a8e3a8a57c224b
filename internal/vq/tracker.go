package vq

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// EpochStats summarizes codebook utilization at the end of an epoch.
type EpochStats struct {
	Epoch int
	// Active is the number of embeddings ever assigned at least once.
	Active int
	// Dead is NumEmbeddings - Active.
	Dead int
	// Entropy of the epoch's assignment distribution, in nats.
	Entropy float64
	// Perplexity is exp(Entropy): the effective number of embeddings in use.
	Perplexity float64
}

// UtilizationSink receives the per-epoch summary, typically a metrics exporter.
type UtilizationSink interface {
	ObserveUtilization(EpochStats)
}

// Tracker accumulates assignment counts over an epoch and records
// utilization statistics. It is pure observability and never feeds back into
// training.
type Tracker struct {
	k           int
	epochCounts []float64
	history     []EpochStats
	sink        UtilizationSink
}

// NewTracker creates a tracker for a codebook of k embeddings. sink may be nil.
func NewTracker(k int, sink UtilizationSink) (*Tracker, error) {
	if k <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "num embeddings must be positive, got %d", k)
	}
	return &Tracker{
		k:           k,
		epochCounts: make([]float64, k),
		sink:        sink,
	}, nil
}

// Observe adds one step's per-embedding counts to the current epoch.
func (t *Tracker) Observe(counts []float64) error {
	if len(counts) != t.k {
		return errors.Wrapf(ErrShapeMismatch, "got %d counts, tracker has %d embeddings", len(counts), t.k)
	}
	floats.Add(t.epochCounts, counts)
	return nil
}

// EndEpoch closes the epoch. accumulative is the quantizer's all-time usage
// counter. dist, when non-nil, is the assignment histogram the entropy is
// computed over (for example on validation data); otherwise the counts
// observed during the epoch are used.
func (t *Tracker) EndEpoch(epoch int, accumulative, dist []float64) (EpochStats, error) {
	if len(accumulative) != t.k {
		return EpochStats{}, errors.Wrapf(ErrShapeMismatch, "got %d accumulative counts, tracker has %d embeddings", len(accumulative), t.k)
	}
	if dist == nil {
		dist = t.epochCounts
	}
	if len(dist) != t.k {
		return EpochStats{}, errors.Wrapf(ErrShapeMismatch, "got %d distribution entries, tracker has %d embeddings", len(dist), t.k)
	}

	active := ActiveEmbeddings(accumulative)
	h := UsageEntropy(dist)
	s := EpochStats{
		Epoch:      epoch,
		Active:     active,
		Dead:       t.k - active,
		Entropy:    h,
		Perplexity: math.Exp(h),
	}
	t.history = append(t.history, s)
	for i := range t.epochCounts {
		t.epochCounts[i] = 0
	}
	if t.sink != nil {
		t.sink.ObserveUtilization(s)
	}
	return s, nil
}

// History returns the statistics of every finished epoch in order.
func (t *Tracker) History() []EpochStats {
	return append([]EpochStats(nil), t.history...)
}

// ActiveEmbeddings counts the embeddings with a nonzero count.
func ActiveEmbeddings(counts []float64) int {
	active := 0
	for _, c := range counts {
		if c != 0 {
			active++
		}
	}
	return active
}

// DeadEmbeddings returns the indices of the embeddings with a zero count.
func DeadEmbeddings(counts []float64) []int {
	var dead []int
	for i, c := range counts {
		if c == 0 {
			dead = append(dead, i)
		}
	}
	return dead
}

// UsageEntropy returns the Shannon entropy, in nats, of counts normalized to
// a distribution. A distribution with no mass has zero entropy.
func UsageEntropy(counts []float64) float64 {
	total := floats.Sum(counts)
	if total <= 0 {
		return 0
	}
	p := make([]float64, len(counts))
	floats.ScaleTo(p, 1/total, counts)
	return stat.Entropy(p)
}
