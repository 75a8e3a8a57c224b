package layer

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/vqlink/internal/activations"
)

func newRNG() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func identityDense(act activations.Activation) *Dense {
	d := NewDense(2, 2, act, newRNG())
	d.SetParams([]float64{1, 0, 0, 1, 0, 0})
	return d
}

func TestDenseForward(t *testing.T) {
	d := identityDense(activations.Tanh{})

	out := d.Forward(mat.NewDense(2, 2, []float64{1, 2, -1, 0}))

	// With identity weights and zero biases the output is tanh of the input.
	want := []float64{math.Tanh(1), math.Tanh(2), math.Tanh(-1), 0}
	assert.InDeltaSlice(t, want, out.RawMatrix().Data, 1e-12)
}

func TestDenseForwardAddsBias(t *testing.T) {
	d := NewDense(2, 1, nil, newRNG())
	d.SetParams([]float64{2, -1, 0.5})

	out := d.Forward(mat.NewDense(2, 2, []float64{1, 1, 3, 2}))
	assert.InDeltaSlice(t, []float64{1.5, 4.5}, out.RawMatrix().Data, 1e-12)
	assert.IsType(t, activations.Linear{}, d.Activation())
}

func TestDenseBackwardMatchesFiniteDifferences(t *testing.T) {
	rng := newRNG()
	d := NewDense(3, 2, activations.Tanh{}, rng)
	x := mat.NewDense(4, 3, nil)
	x.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, x)

	// L = sum(y) so dL/dy = 1
	sumOut := func() float64 { return mat.Sum(d.Forward(x)) }
	d.Forward(x)
	ones := mat.NewDense(4, 2, nil)
	ones.Apply(func(_, _ int, _ float64) float64 { return 1 }, ones)
	gradIn := d.Backward(ones)

	const h = 1e-6
	for _, p := range d.Params() {
		grad := append([]float64(nil), p.Grad...)
		for i := range p.Value {
			v := p.Value[i]
			p.Value[i] = v + h
			up := sumOut()
			p.Value[i] = v - h
			down := sumOut()
			p.Value[i] = v
			assert.InDelta(t, (up-down)/(2*h), grad[i], 1e-6, "%s[%d]", p.Name, i)
		}
	}

	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			v := x.At(i, j)
			x.Set(i, j, v+h)
			up := sumOut()
			x.Set(i, j, v-h)
			down := sumOut()
			x.Set(i, j, v)
			assert.InDelta(t, (up-down)/(2*h), gradIn.At(i, j), 1e-6)
		}
	}
}

func TestDenseParamsAliasStorage(t *testing.T) {
	d := identityDense(activations.Linear{})
	params := d.Params()
	require.Len(t, params, 2)
	assert.Equal(t, "weights", params[0].Name)
	assert.Equal(t, "biases", params[1].Name)

	params[0].Value[1] = 5
	params[1].Value[0] = -1
	assert.Equal(t, 5.0, d.GetWeight(0, 1))
	assert.Equal(t, -1.0, d.GetBias(0))
	assert.Equal(t, []float64{1, 5, 0, 1, -1, 0}, d.Flat())
}

func TestDenseXavierInit(t *testing.T) {
	d := NewDense(30, 20, nil, newRNG())
	limit := math.Sqrt(2.0 / 50)
	for i := 0; i < 20; i++ {
		for j := 0; j < 30; j++ {
			assert.LessOrEqual(t, math.Abs(d.GetWeight(i, j)), limit)
		}
		assert.LessOrEqual(t, math.Abs(d.GetBias(i)), 0.1)
	}
	assert.Equal(t, 30, d.InSize())
	assert.Equal(t, 20, d.OutSize())
}

func TestStack(t *testing.T) {
	rng := newRNG()
	s := NewStack("encoder",
		NewDense(4, 3, activations.ReLU{}, rng),
		NewDense(3, 2, activations.Tanh{}, rng),
	)
	assert.Equal(t, 4, s.InSize())
	assert.Equal(t, 2, s.OutSize())
	assert.Equal(t, "encoder", s.Name())

	x := mat.NewDense(5, 4, nil)
	x.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, x)
	out := s.Forward(x)
	r, c := out.Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, 2, c)

	gradIn := s.Backward(mat.NewDense(5, 2, nil))
	r, c = gradIn.Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, 4, c)

	var names []string
	for _, p := range s.Params() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"encoder.0.weights", "encoder.0.biases", "encoder.1.weights", "encoder.1.biases"}, names)

	empty := NewStack("empty")
	assert.Equal(t, 0, empty.InSize())
	assert.Equal(t, 0, empty.OutSize())
}
