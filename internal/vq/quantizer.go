package vq

import (
	"math"
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/vqlink/internal/layer"
)

// DefaultBeta is the commitment weight used when none is configured.
// Values in [0.25, 2] work well in practice.
const DefaultBeta = 0.25

// Losses are the auxiliary loss terms produced by the last forward pass.
type Losses struct {
	Codebook   float64
	Commitment float64
}

// Total returns the sum of both terms.
func (l Losses) Total() float64 {
	return l.Codebook + l.Commitment
}

// QuantizerConfig configures a gradient-trained Quantizer.
type QuantizerConfig struct {
	NumEmbeddings int
	EmbeddingDim  int
	// Beta weights the commitment loss. Zero means DefaultBeta.
	Beta float64
	// Src seeds the uniform [-1, 1) codebook initialization.
	Src rand.Source
}

// forwardCache holds what Backward needs from the last Forward.
type forwardCache struct {
	input     *mat.Dense
	quantized *mat.Dense
	oneHot    *mat.Dense
	indices   []int
}

// Quantizer is a vector-quantization layer whose codebook is trained by
// gradient descent on the codebook loss.
type Quantizer struct {
	codebook *Codebook
	beta     float64
	training bool

	last   forwardCache
	losses Losses

	// D×K gradient of the codebook loss, exposed through Params
	codebookGrad *mat.Dense

	count        []float64
	accumulative []float64
}

// NewQuantizer validates cfg and creates a quantizer with a codebook drawn
// uniformly from [-1, 1).
func NewQuantizer(cfg QuantizerConfig) (*Quantizer, error) {
	beta, err := resolveBeta(cfg.Beta)
	if err != nil {
		return nil, err
	}
	cb, err := NewCodebook(cfg.EmbeddingDim, cfg.NumEmbeddings, -1, 1, cfg.Src)
	if err != nil {
		return nil, err
	}
	return &Quantizer{
		codebook:     cb,
		beta:         beta,
		training:     true,
		codebookGrad: mat.NewDense(cb.Dim(), cb.Size(), nil),
		count:        make([]float64, cb.Size()),
		accumulative: make([]float64, cb.Size()),
	}, nil
}

func resolveBeta(beta float64) (float64, error) {
	switch {
	case beta < 0:
		return 0, errors.Wrapf(ErrInvalidConfig, "beta must not be negative, got %g", beta)
	case beta == 0:
		return DefaultBeta, nil
	default:
		return beta, nil
	}
}

// Forward quantizes x (N×D) and returns the straight-through output
// x + (quantized - x), which equals the quantized vectors.
//
// The codebook and commitment losses are recorded as a side effect and are
// available from Losses until the next call.
func (q *Quantizer) Forward(x mat.Matrix) (*mat.Dense, error) {
	cache, mse, err := quantize(q.codebook, x)
	if err != nil {
		return nil, err
	}
	q.last = cache
	q.losses = Losses{
		Codebook:   mse,
		Commitment: q.beta * mse,
	}
	return straightThrough(cache), nil
}

// Backward passes grad through the quantization step unchanged and adds the
// gradient of the commitment loss with respect to the input. The gradient of
// the codebook loss with respect to the embeddings is stored for Params.
//
// Backward must follow a successful Forward.
func (q *Quantizer) Backward(grad *mat.Dense) *mat.Dense {
	n, d := q.last.input.Dims()
	scale := 2 / float64(n*d)

	// quantized - input, N×D
	var diff mat.Dense
	diff.Sub(q.last.quantized, q.last.input)

	// codebook_loss = mean((q - sg(x))²): dL/dq = scale·(q - x), dq/dE via onehot
	var dq mat.Dense
	dq.Scale(scale, &diff)
	q.codebookGrad.Mul(dq.T(), q.last.oneHot)

	return withCommitmentGrad(grad, &diff, q.beta*scale)
}

// Params exposes the codebook as the only trainable parameter. Usage counters
// are plain state and never appear here.
func (q *Quantizer) Params() []layer.Param {
	return []layer.Param{{
		Name:  "quantizer.codebook",
		Value: q.codebook.Raw().RawMatrix().Data,
		Grad:  q.codebookGrad.RawMatrix().Data,
	}}
}

// Losses returns the loss terms of the last forward pass.
func (q *Quantizer) Losses() Losses {
	return q.losses
}

// TrackEmbeddingSpace recomputes the assignment of x from scratch and records
// how many rows went to each embedding, both for this batch and cumulatively.
// It does nothing while the quantizer is not in training mode.
//
// TODO: reuse the indices from Forward once callers guarantee the encoder has
// not been stepped in between; today the trainer re-encodes after the
// optimizer step so the assignment can differ.
func (q *Quantizer) TrackEmbeddingSpace(x mat.Matrix) error {
	if !q.training {
		return nil
	}
	count, err := assignmentCounts(q.codebook, x)
	if err != nil {
		return err
	}
	q.count = count
	for i, c := range count {
		q.accumulative[i] += c
	}
	return nil
}

// Update is the per-step statistics hook. For the gradient variant it only
// tracks usage.
func (q *Quantizer) Update(x mat.Matrix) error {
	return q.TrackEmbeddingSpace(x)
}

// Reinitialize replaces the whole codebook with m, which must be D×K.
// It must only be called between training steps.
func (q *Quantizer) Reinitialize(m mat.Matrix) error {
	return q.codebook.Replace(m)
}

// SetTraining toggles usage tracking.
func (q *Quantizer) SetTraining(training bool) {
	q.training = training
}

// Training reports whether usage tracking is enabled.
func (q *Quantizer) Training() bool {
	return q.training
}

// Codebook returns the embedding table.
func (q *Quantizer) Codebook() *Codebook {
	return q.codebook
}

// Beta returns the commitment loss weight.
func (q *Quantizer) Beta() float64 {
	return q.beta
}

// Indices returns the assignments of the last forward pass.
func (q *Quantizer) Indices() []int {
	return append([]int(nil), q.last.indices...)
}

// Counts returns the per-embedding counts of the last tracked batch.
func (q *Quantizer) Counts() []float64 {
	return append([]float64(nil), q.count...)
}

// AccumulativeCounts returns the per-embedding counts over the whole run.
func (q *Quantizer) AccumulativeCounts() []float64 {
	return append([]float64(nil), q.accumulative...)
}

// quantize runs the lookup shared by both quantizer variants and returns the
// cache together with mean((quantized - x)²).
func quantize(cb *Codebook, x mat.Matrix) (forwardCache, float64, error) {
	n, d := x.Dims()
	if n == 0 {
		return forwardCache{}, 0, errors.Wrap(ErrShapeMismatch, "empty batch")
	}
	idx, err := cb.Nearest(x)
	if err != nil {
		return forwardCache{}, 0, err
	}
	oneHot := cb.OneHot(idx)
	quantized := cb.Select(oneHot)

	input := mat.DenseCopyOf(x)
	var diff mat.Dense
	diff.Sub(quantized, input)
	var sq mat.Dense
	sq.MulElem(&diff, &diff)
	mse := mat.Sum(&sq) / float64(n*d)
	if !isFinite(quantized) || math.IsNaN(mse) || math.IsInf(mse, 0) {
		return forwardCache{}, 0, errors.Wrap(ErrNonFinite, "quantization loss")
	}

	return forwardCache{
		input:     input,
		quantized: quantized,
		oneHot:    oneHot,
		indices:   idx,
	}, mse, nil
}

// straightThrough returns input + (quantized - input). The difference is a
// constant to the autodiff graph, so Backward treats this as identity on input.
func straightThrough(c forwardCache) *mat.Dense {
	var out mat.Dense
	out.Sub(c.quantized, c.input)
	out.Add(c.input, &out)
	return &out
}

// withCommitmentGrad returns grad + scale·(input - quantized), where diff is
// quantized - input. This is the straight-through gradient plus the gradient
// of beta·mean((sg(quantized) - input)²).
func withCommitmentGrad(grad, diff *mat.Dense, scale float64) *mat.Dense {
	var out mat.Dense
	out.Scale(-scale, diff)
	out.Add(grad, &out)
	return &out
}

// assignmentCounts returns the column sums of the one-hot assignment of x.
func assignmentCounts(cb *Codebook, x mat.Matrix) ([]float64, error) {
	idx, err := cb.Nearest(x)
	if err != nil {
		return nil, err
	}
	return cb.Counts(idx), nil
}
