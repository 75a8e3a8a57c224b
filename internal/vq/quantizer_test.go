package vq

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// newScalarQuantizer returns a D=1, K=2 quantizer with embeddings [0, 10].
func newScalarQuantizer(t *testing.T, beta float64) *Quantizer {
	t.Helper()
	q, err := NewQuantizer(QuantizerConfig{NumEmbeddings: 2, EmbeddingDim: 1, Beta: beta, Src: rand.NewPCG(1, 1)})
	require.NoError(t, err)
	require.NoError(t, q.Reinitialize(mat.NewDense(1, 2, []float64{0, 10})))
	return q
}

func TestQuantizerConfigValidation(t *testing.T) {
	_, err := NewQuantizer(QuantizerConfig{NumEmbeddings: 0, EmbeddingDim: 4})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewQuantizer(QuantizerConfig{NumEmbeddings: 8, EmbeddingDim: 0})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewQuantizer(QuantizerConfig{NumEmbeddings: 8, EmbeddingDim: 4, Beta: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	q, err := NewQuantizer(QuantizerConfig{NumEmbeddings: 8, EmbeddingDim: 4})
	require.NoError(t, err)
	assert.Equal(t, DefaultBeta, q.Beta())
}

func TestQuantizerForwardEqualsQuantized(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	q, err := NewQuantizer(QuantizerConfig{NumEmbeddings: 12, EmbeddingDim: 3, Src: rand.NewPCG(2, 3)})
	require.NoError(t, err)

	x := mat.NewDense(64, 3, nil)
	x.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, x)

	out, err := q.Forward(x)
	require.NoError(t, err)

	cb := q.Codebook()
	idx, err := cb.Nearest(x)
	require.NoError(t, err)
	assert.Equal(t, idx, q.Indices())
	assert.True(t, mat.EqualApprox(cb.Select(cb.OneHot(idx)), out, 1e-12))
}

func TestQuantizerLosses(t *testing.T) {
	q := newScalarQuantizer(t, 0.5)

	_, err := q.Forward(column(1, 9, -5))
	require.NoError(t, err)

	// quantized = [0, 10, 0], squared errors = [1, 1, 25]
	l := q.Losses()
	assert.InDelta(t, 9.0, l.Codebook, 1e-12)
	assert.InDelta(t, 4.5, l.Commitment, 1e-12)
	assert.InDelta(t, 13.5, l.Total(), 1e-12)
}

func TestQuantizerBackwardStraightThrough(t *testing.T) {
	q := newScalarQuantizer(t, 0.5)
	_, err := q.Forward(column(1, 9, -5))
	require.NoError(t, err)

	gradIn := q.Backward(column(1, 1, 1))

	// grad + beta·2/N·(x - q) with x - q = [1, -1, -5]
	want := column(1+1.0/3, 1-1.0/3, 1-5.0/3)
	assert.True(t, mat.EqualApprox(want, gradIn, 1e-12), "got %v", mat.Formatted(gradIn))

	// dL/dE: embedding 0 gets rows 0 and 2, embedding 1 gets row 1
	params := q.Params()
	require.Len(t, params, 1)
	assert.InDeltaSlice(t, []float64{8.0 / 3, 2.0 / 3}, params[0].Grad, 1e-12)
}

func TestQuantizerBackwardWithZeroBetaIsIdentity(t *testing.T) {
	q := newScalarQuantizer(t, 0.5)
	q.beta = 0
	_, err := q.Forward(column(1, 9, -5))
	require.NoError(t, err)

	grad := column(0.3, -0.7, 2)
	assert.True(t, mat.Equal(grad, q.Backward(grad)))
}

func TestQuantizerCodebookDescentReducesLoss(t *testing.T) {
	q := newScalarQuantizer(t, 0.25)
	x := column(1, 9, -5)

	_, err := q.Forward(x)
	require.NoError(t, err)
	before := q.Losses().Codebook

	q.Backward(column(0, 0, 0))
	for _, p := range q.Params() {
		for i := range p.Value {
			p.Value[i] -= 0.1 * p.Grad[i]
		}
	}

	_, err = q.Forward(x)
	require.NoError(t, err)
	assert.Less(t, q.Losses().Codebook, before)
}

func TestQuantizerTrackEmbeddingSpace(t *testing.T) {
	q := newScalarQuantizer(t, 0)
	x := column(1, 9, -5)

	require.NoError(t, q.TrackEmbeddingSpace(x))
	assert.Equal(t, []float64{2, 1}, q.Counts())
	assert.Equal(t, []float64{2, 1}, q.AccumulativeCounts())

	require.NoError(t, q.Update(column(8)))
	assert.Equal(t, []float64{0, 1}, q.Counts())
	assert.Equal(t, []float64{2, 2}, q.AccumulativeCounts())

	q.SetTraining(false)
	require.NoError(t, q.TrackEmbeddingSpace(x))
	assert.Equal(t, []float64{2, 2}, q.AccumulativeCounts())
}

func TestQuantizerReinitializeOverwrites(t *testing.T) {
	q, err := NewQuantizer(QuantizerConfig{NumEmbeddings: 4, EmbeddingDim: 2, Src: rand.NewPCG(8, 8)})
	require.NoError(t, err)

	fresh := mat.NewDense(2, 4, []float64{
		-3, 0, 3, 6,
		1, 1, -1, -1,
	})
	require.NoError(t, q.Reinitialize(fresh))
	assert.True(t, mat.Equal(fresh, q.Codebook().Raw()))

	// A lookup against the new matrix alone agrees with the live codebook.
	standalone := newTestCodebook(t, mat.Col(nil, 0, fresh), mat.Col(nil, 1, fresh), mat.Col(nil, 2, fresh), mat.Col(nil, 3, fresh))
	x := mat.NewDense(5, 2, []float64{-2.9, 1, 0.2, 0.8, 2.5, -2, 7, -1, 1.4, 0})
	want, err := standalone.Nearest(x)
	require.NoError(t, err)
	_, err = q.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, want, q.Indices())
}

func TestQuantizerReinitializeRejectsWrongShape(t *testing.T) {
	q := newScalarQuantizer(t, 0)
	before := q.Codebook().Vectors()

	err := q.Reinitialize(mat.NewDense(2, 1, []float64{1, 2}))
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.True(t, mat.Equal(before, q.Codebook().Raw()))
}

func TestQuantizerForwardErrors(t *testing.T) {
	q := newScalarQuantizer(t, 0)

	_, err := q.Forward(mat.NewDense(2, 2, nil))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	x := column(1, 2)
	x.Set(0, 0, nan())
	_, err = q.Forward(x)
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestQuantizerParamsExcludeCounters(t *testing.T) {
	q, err := NewQuantizer(QuantizerConfig{NumEmbeddings: 6, EmbeddingDim: 4})
	require.NoError(t, err)

	params := q.Params()
	require.Len(t, params, 1)
	assert.Equal(t, "quantizer.codebook", params[0].Name)
	assert.Len(t, params[0].Value, 24)
	assert.Len(t, params[0].Grad, 24)
}
