// Package layer provides the dense building blocks used for VQ-VAE encoders
// and decoders.
//
// Layers are batch-first: every Forward takes an N×in matrix and returns an
// N×out matrix, and Backward consumes the gradient of a batch-mean loss.
package layer

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/vqlink/internal/activations"
)

// Layer is a neural network layer.
type Layer interface {
	Forward(x *mat.Dense) *mat.Dense
	Backward(grad *mat.Dense) *mat.Dense
	Params() []Param
	InSize() int
	OutSize() int
}

// Param is a trainable tensor exposed to the optimizer.
// Value and Grad alias the layer's own storage, so optimizers update in place.
type Param struct {
	Name  string
	Value []float64
	Grad  []float64
}

// Dense is a fully connected layer.
type Dense struct {
	// Shape: [out, in], weight for output i, input j is at (i, j)
	weights *mat.Dense
	biases  []float64
	act     activations.Activation
	outSize int
	inSize  int

	gradW *mat.Dense
	gradB []float64

	// Saved by Forward for Backward
	input  *mat.Dense
	preAct *mat.Dense
}

// NewDense creates a new dense layer with Xavier/Glorot initialization.
// A nil rng uses the global random source.
func NewDense(in, out int, act activations.Activation, rng *rand.Rand) *Dense {
	if act == nil {
		act = activations.Linear{}
	}
	uniform := rand.Float64
	if rng != nil {
		uniform = rng.Float64
	}

	weights := make([]float64, out*in)
	biases := make([]float64, out)

	scale := math.Sqrt(2.0 / (float64(in) + float64(out)))
	for i := range weights {
		weights[i] = uniform()*2*scale - scale
	}
	for i := range biases {
		biases[i] = uniform()*0.2 - 0.1
	}

	return &Dense{
		weights: mat.NewDense(out, in, weights),
		biases:  biases,
		act:     act,
		outSize: out,
		inSize:  in,
		gradW:   mat.NewDense(out, in, nil),
		gradB:   make([]float64, out),
	}
}

// Forward computes act(x·Wᵀ + b) for every row of x.
func (d *Dense) Forward(x *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	d.input = mat.DenseCopyOf(x)

	var z mat.Dense
	z.Mul(x, d.weights.T())
	for i := 0; i < n; i++ {
		row := z.RawRowView(i)
		floats.Add(row, d.biases)
	}
	d.preAct = &z

	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 {
		return d.act.Activate(v)
	}, &z)
	return &out
}

// Backward computes weight, bias and input gradients for the last Forward batch.
// The incoming gradient is already scaled for the batch mean, so gradients are
// plain sums over rows.
func (d *Dense) Backward(grad *mat.Dense) *mat.Dense {
	// dz = dL/dy * act'(z)
	var dz mat.Dense
	dz.Apply(func(i, j int, z float64) float64 {
		return grad.At(i, j) * d.act.Derivative(z)
	}, d.preAct)

	// dL/dW = dzᵀ·x
	d.gradW.Mul(dz.T(), d.input)

	// dL/db = column sums of dz
	for o := 0; o < d.outSize; o++ {
		d.gradB[o] = floats.Sum(mat.Col(nil, o, &dz))
	}

	// dL/dx = dz·W
	var gradIn mat.Dense
	gradIn.Mul(&dz, d.weights)
	return &gradIn
}

// Params returns the weights and biases with their gradients.
func (d *Dense) Params() []Param {
	return []Param{
		{Name: "weights", Value: d.weights.RawMatrix().Data, Grad: d.gradW.RawMatrix().Data},
		{Name: "biases", Value: d.biases, Grad: d.gradB},
	}
}

// SetParams overwrites weights and biases from a flattened slice laid out as
// weights (row-major) followed by biases.
func (d *Dense) SetParams(params []float64) {
	w := d.weights.RawMatrix().Data
	copy(w, params[:len(w)])
	copy(d.biases, params[len(w):])
}

// Flat returns weights and biases flattened in the SetParams layout.
func (d *Dense) Flat() []float64 {
	w := d.weights.RawMatrix().Data
	params := make([]float64, 0, len(w)+len(d.biases))
	params = append(params, w...)
	params = append(params, d.biases...)
	return params
}

// SetWeight sets a single weight at (row, col).
func (d *Dense) SetWeight(row, col int, val float64) {
	d.weights.Set(row, col, val)
}

// GetWeight gets a single weight at (row, col).
func (d *Dense) GetWeight(row, col int) float64 {
	return d.weights.At(row, col)
}

// SetBias sets a single bias.
func (d *Dense) SetBias(idx int, val float64) {
	d.biases[idx] = val
}

// GetBias gets a single bias.
func (d *Dense) GetBias(idx int) float64 {
	return d.biases[idx]
}

// InSize returns the input size of the layer.
func (d *Dense) InSize() int {
	return d.inSize
}

// OutSize returns the output size of the layer.
func (d *Dense) OutSize() int {
	return d.outSize
}

// Activation returns the activation function used by this layer.
func (d *Dense) Activation() activations.Activation {
	return d.act
}
