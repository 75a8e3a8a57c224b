package vq

import (
	"math"
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/vqlink/internal/layer"
)

const (
	// DefaultDecay is the EMA decay used when none is configured.
	DefaultDecay = 0.99

	// DefaultEpsilon floors ema_count when normalizing embedding sums.
	DefaultEpsilon = 1e-5
)

// EMAConfig configures an EMAQuantizer.
type EMAConfig struct {
	NumEmbeddings int
	EmbeddingDim  int
	// Beta weights the commitment loss. Zero means DefaultBeta.
	Beta float64
	// Decay must lie in (0, 1). Zero means DefaultDecay.
	Decay float64
	// Epsilon must be positive. Zero means DefaultEpsilon.
	Epsilon float64
	// Src seeds the uniform [0, 1) codebook initialization.
	Src rand.Source
}

// EMAQuantizer is a vector-quantization layer whose codebook follows
// exponential moving averages of the encoder outputs assigned to each
// embedding. The codebook never receives gradients.
type EMAQuantizer struct {
	codebook *Codebook
	beta     float64
	decay    float64
	epsilon  float64
	training bool

	last   forwardCache
	losses Losses

	emaCount      []float64  // K
	embeddingsSum *mat.Dense // D×K

	count        []float64
	accumulative []float64
}

// NewEMAQuantizer validates cfg and creates a quantizer with a codebook drawn
// uniformly from [0, 1) and zeroed EMA statistics.
func NewEMAQuantizer(cfg EMAConfig) (*EMAQuantizer, error) {
	beta, err := resolveBeta(cfg.Beta)
	if err != nil {
		return nil, err
	}
	decay := cfg.Decay
	if decay == 0 {
		decay = DefaultDecay
	}
	if !(decay > 0 && decay < 1) {
		return nil, errors.Wrapf(ErrInvalidConfig, "decay must be in (0, 1), got %g", decay)
	}
	epsilon := cfg.Epsilon
	if epsilon == 0 {
		epsilon = DefaultEpsilon
	}
	if !(epsilon > 0) {
		return nil, errors.Wrapf(ErrInvalidConfig, "epsilon must be positive, got %g", epsilon)
	}

	cb, err := NewCodebook(cfg.EmbeddingDim, cfg.NumEmbeddings, 0, 1, cfg.Src)
	if err != nil {
		return nil, err
	}
	k := cb.Size()
	return &EMAQuantizer{
		codebook:      cb,
		beta:          beta,
		decay:         decay,
		epsilon:       epsilon,
		training:      true,
		emaCount:      make([]float64, k),
		embeddingsSum: mat.NewDense(cb.Dim(), k, nil),
		count:         make([]float64, k),
		accumulative:  make([]float64, k),
	}, nil
}

// Forward quantizes x (N×D) and returns the straight-through output.
// Only the commitment loss is recorded; there is no codebook loss.
func (q *EMAQuantizer) Forward(x mat.Matrix) (*mat.Dense, error) {
	cache, mse, err := quantize(q.codebook, x)
	if err != nil {
		return nil, err
	}
	q.last = cache
	q.losses = Losses{Commitment: q.beta * mse}
	return straightThrough(cache), nil
}

// Backward passes grad through unchanged plus the commitment gradient.
func (q *EMAQuantizer) Backward(grad *mat.Dense) *mat.Dense {
	n, d := q.last.input.Dims()
	var diff mat.Dense
	diff.Sub(q.last.quantized, q.last.input)
	return withCommitmentGrad(grad, &diff, q.beta*2/float64(n*d))
}

// Params is always empty: the codebook is maintained by UpdateEMA.
func (q *EMAQuantizer) Params() []layer.Param {
	return nil
}

// Losses returns the loss terms of the last forward pass.
func (q *EMAQuantizer) Losses() Losses {
	return q.losses
}

// UpdateEMA folds the batch x (N×D) into the moving averages and rewrites
// every embedding as embeddings_sum / max(ema_count, epsilon). Nothing is
// changed when training is disabled or when the update would produce
// non-finite values.
func (q *EMAQuantizer) UpdateEMA(x mat.Matrix) error {
	if !q.training {
		return nil
	}
	idx, err := q.codebook.Nearest(x)
	if err != nil {
		return err
	}
	if len(idx) == 0 {
		return errors.Wrap(ErrShapeMismatch, "empty batch")
	}
	oneHot := q.codebook.OneHot(idx)
	k := q.codebook.Size()
	d := q.decay

	// count = column sums of the one-hot selection
	count := columnSums(oneHot, k)

	// ema_count <- d·ema_count + (1-d)·count
	emaCount := make([]float64, k)
	for i := range emaCount {
		emaCount[i] = d*q.emaCount[i] + (1-d)*count[i]
	}

	// embeddings_sum <- d·embeddings_sum + (1-d)·xᵀ·onehot
	var batchSum mat.Dense
	batchSum.Mul(x.T(), oneHot)
	var sum mat.Dense
	sum.Scale(d, q.embeddingsSum)
	batchSum.Scale(1-d, &batchSum)
	sum.Add(&sum, &batchSum)

	// codebook[:, i] <- embeddings_sum[:, i] / max(ema_count[i], epsilon)
	var normalized mat.Dense
	normalized.Apply(func(_, j int, v float64) float64 {
		return v / math.Max(emaCount[j], q.epsilon)
	}, &sum)
	if !isFinite(&normalized) {
		return errors.Wrap(ErrNonFinite, "ema codebook update")
	}

	// Commit only once everything is known to be finite.
	if err := q.codebook.Replace(&normalized); err != nil {
		return err
	}
	q.emaCount = emaCount
	q.embeddingsSum.Copy(&sum)
	q.count = count
	for i, c := range count {
		q.accumulative[i] += c
	}
	return nil
}

// Update is the per-step statistics hook; for this variant it is UpdateEMA.
func (q *EMAQuantizer) Update(x mat.Matrix) error {
	return q.UpdateEMA(x)
}

// Reinitialize replaces the codebook with m (D×K) and rescales
// embeddings_sum so that embeddings_sum / max(ema_count, epsilon) keeps
// reproducing the new codebook.
func (q *EMAQuantizer) Reinitialize(m mat.Matrix) error {
	if err := q.codebook.Replace(m); err != nil {
		return err
	}
	q.embeddingsSum.Apply(func(_, j int, v float64) float64 {
		return v * math.Max(q.emaCount[j], q.epsilon)
	}, q.codebook.Raw())
	return nil
}

// SetTraining enables or disables EMA updates. Forward is unaffected.
func (q *EMAQuantizer) SetTraining(training bool) {
	q.training = training
}

// Training reports whether EMA updates are enabled.
func (q *EMAQuantizer) Training() bool {
	return q.training
}

// EffectiveRates returns, per embedding, (1-decay)·count / (2·ema_count + 1e-5):
// how far the last update moved each embedding toward its batch mean.
func (q *EMAQuantizer) EffectiveRates() []float64 {
	rates := make([]float64, len(q.count))
	for i := range rates {
		rates[i] = (1 - q.decay) * q.count[i] / (2*q.emaCount[i] + 1e-5)
	}
	return rates
}

// Codebook returns the embedding table.
func (q *EMAQuantizer) Codebook() *Codebook {
	return q.codebook
}

// Beta returns the commitment loss weight.
func (q *EMAQuantizer) Beta() float64 {
	return q.beta
}

// Decay returns the EMA decay factor.
func (q *EMAQuantizer) Decay() float64 {
	return q.decay
}

// Epsilon returns the normalization floor.
func (q *EMAQuantizer) Epsilon() float64 {
	return q.epsilon
}

// EMACount returns a copy of the decayed per-embedding counts.
func (q *EMAQuantizer) EMACount() []float64 {
	return append([]float64(nil), q.emaCount...)
}

// EmbeddingsSum returns a copy of the decayed D×K sums.
func (q *EMAQuantizer) EmbeddingsSum() *mat.Dense {
	return mat.DenseCopyOf(q.embeddingsSum)
}

// Indices returns the assignments of the last forward pass.
func (q *EMAQuantizer) Indices() []int {
	return append([]int(nil), q.last.indices...)
}

// Counts returns the per-embedding counts of the last update.
func (q *EMAQuantizer) Counts() []float64 {
	return append([]float64(nil), q.count...)
}

// AccumulativeCounts returns the per-embedding counts over the whole run.
func (q *EMAQuantizer) AccumulativeCounts() []float64 {
	return append([]float64(nil), q.accumulative...)
}
