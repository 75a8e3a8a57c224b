package layer

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/vqlink/internal/activations"
)

// LSTM is a Long Short-Term Memory layer over fixed-length sequences.
//
// Each input row holds a whole sequence, time-major: step t occupies columns
// [t·features, (t+1)·features). The output row is the last hidden state, or
// every hidden state in the same time-major layout when ReturnSequences is
// set. Backward runs full backpropagation through time.
type LSTM struct {
	steps    int
	features int
	hidden   int
	seq      bool

	// Gate layout along the 4·hidden axis: [input, forget, cell, output]
	inputWeights     *mat.Dense // 4H×F
	recurrentWeights *mat.Dense // 4H×H
	biases           []float64  // 4H

	gradInputWeights     *mat.Dense
	gradRecurrentWeights *mat.Dense
	gradBiases           []float64

	// Saved by Forward, one entry per time step
	inputs  []*mat.Dense // N×F
	hiddens []*mat.Dense // N×H, hiddens[t] is h_t; index 0 is h_{-1} = 0
	cells   []*mat.Dense // N×H, same layout as hiddens
	gates   []*mat.Dense // N×4H activated gates
}

// NewLSTM creates an LSTM reading steps×features inputs into hidden units.
// Weights use Xavier/Glorot initialization and the forget gate bias starts
// at 1. A nil rng uses the global random source.
func NewLSTM(steps, features, hidden int, returnSequences bool, rng *rand.Rand) *LSTM {
	uniform := rand.Float64
	if rng != nil {
		uniform = rng.Float64
	}

	inputScale := math.Sqrt(2.0 / float64(features+4*hidden))
	recurrentScale := math.Sqrt(2.0 / float64(hidden+4*hidden))

	wx := make([]float64, 4*hidden*features)
	for i := range wx {
		wx[i] = uniform()*2*inputScale - inputScale
	}
	wh := make([]float64, 4*hidden*hidden)
	for i := range wh {
		wh[i] = uniform()*2*recurrentScale - recurrentScale
	}
	biases := make([]float64, 4*hidden)
	for i := hidden; i < 2*hidden; i++ {
		biases[i] = 1
	}

	return &LSTM{
		steps:                steps,
		features:             features,
		hidden:               hidden,
		seq:                  returnSequences,
		inputWeights:         mat.NewDense(4*hidden, features, wx),
		recurrentWeights:     mat.NewDense(4*hidden, hidden, wh),
		biases:               biases,
		gradInputWeights:     mat.NewDense(4*hidden, features, nil),
		gradRecurrentWeights: mat.NewDense(4*hidden, hidden, nil),
		gradBiases:           make([]float64, 4*hidden),
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Forward runs every row's sequence from a zero state.
func (l *LSTM) Forward(x *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	h := l.hidden

	l.inputs = l.inputs[:0]
	l.gates = l.gates[:0]
	l.hiddens = append(l.hiddens[:0], mat.NewDense(n, h, nil))
	l.cells = append(l.cells[:0], mat.NewDense(n, h, nil))

	for t := 0; t < l.steps; t++ {
		xt := mat.DenseCopyOf(x.Slice(0, n, t*l.features, (t+1)*l.features))
		hPrev, cPrev := l.hiddens[t], l.cells[t]

		// z = x_t·Wxᵀ + h_{t-1}·Whᵀ + b
		var z, rec mat.Dense
		z.Mul(xt, l.inputWeights.T())
		rec.Mul(hPrev, l.recurrentWeights.T())
		z.Add(&z, &rec)

		c := mat.NewDense(n, h, nil)
		hNext := mat.NewDense(n, h, nil)
		for r := 0; r < n; r++ {
			row := z.RawRowView(r)
			floats.Add(row, l.biases)
			for j := 0; j < h; j++ {
				row[j] = sigmoid(row[j])
				row[h+j] = sigmoid(row[h+j])
				row[2*h+j] = math.Tanh(row[2*h+j])
				row[3*h+j] = sigmoid(row[3*h+j])

				// c_t = f·c_{t-1} + i·g, h_t = o·tanh(c_t)
				ct := row[h+j]*cPrev.At(r, j) + row[j]*row[2*h+j]
				c.Set(r, j, ct)
				hNext.Set(r, j, row[3*h+j]*math.Tanh(ct))
			}
		}

		l.inputs = append(l.inputs, xt)
		l.gates = append(l.gates, &z)
		l.hiddens = append(l.hiddens, hNext)
		l.cells = append(l.cells, c)
	}

	if !l.seq {
		return mat.DenseCopyOf(l.hiddens[l.steps])
	}
	out := mat.NewDense(n, l.steps*h, nil)
	for t := 0; t < l.steps; t++ {
		out.Slice(0, n, t*h, (t+1)*h).(*mat.Dense).Copy(l.hiddens[t+1])
	}
	return out
}

// Backward propagates grad through time and returns the gradient with respect
// to the input sequence. Weight gradients are sums over rows and steps.
func (l *LSTM) Backward(grad *mat.Dense) *mat.Dense {
	n, _ := grad.Dims()
	h := l.hidden

	l.gradInputWeights.Zero()
	l.gradRecurrentWeights.Zero()
	for i := range l.gradBiases {
		l.gradBiases[i] = 0
	}

	gradIn := mat.NewDense(n, l.steps*l.features, nil)
	dhNext := mat.NewDense(n, h, nil)
	dcNext := mat.NewDense(n, h, nil)

	for t := l.steps - 1; t >= 0; t-- {
		// dL/dh_t from the output plus from step t+1
		dh := mat.DenseCopyOf(dhNext)
		switch {
		case l.seq:
			dh.Add(dh, grad.Slice(0, n, t*h, (t+1)*h))
		case t == l.steps-1:
			dh.Add(dh, grad)
		}

		gates := l.gates[t]
		cPrev, c := l.cells[t], l.cells[t+1]
		dz := mat.NewDense(n, 4*h, nil)
		for r := 0; r < n; r++ {
			g := gates.RawRowView(r)
			d := dz.RawRowView(r)
			for j := 0; j < h; j++ {
				i, f, cand, o := g[j], g[h+j], g[2*h+j], g[3*h+j]
				tc := math.Tanh(c.At(r, j))
				dhj := dh.At(r, j)

				dc := dcNext.At(r, j) + dhj*o*(1-tc*tc)
				d[j] = dc * cand * i * (1 - i)
				d[h+j] = dc * cPrev.At(r, j) * f * (1 - f)
				d[2*h+j] = dc * i * (1 - cand*cand)
				d[3*h+j] = dhj * tc * o * (1 - o)
				dcNext.Set(r, j, dc*f)
			}
		}

		var gw mat.Dense
		gw.Mul(dz.T(), l.inputs[t])
		l.gradInputWeights.Add(l.gradInputWeights, &gw)
		gw.Reset()
		gw.Mul(dz.T(), l.hiddens[t])
		l.gradRecurrentWeights.Add(l.gradRecurrentWeights, &gw)
		for r := 0; r < n; r++ {
			floats.Add(l.gradBiases, dz.RawRowView(r))
		}

		gradIn.Slice(0, n, t*l.features, (t+1)*l.features).(*mat.Dense).Mul(dz, l.inputWeights)
		dhNext.Mul(dz, l.recurrentWeights)
	}
	return gradIn
}

// Params returns input weights, recurrent weights and biases.
func (l *LSTM) Params() []Param {
	return []Param{
		{Name: "input_weights", Value: l.inputWeights.RawMatrix().Data, Grad: l.gradInputWeights.RawMatrix().Data},
		{Name: "recurrent_weights", Value: l.recurrentWeights.RawMatrix().Data, Grad: l.gradRecurrentWeights.RawMatrix().Data},
		{Name: "biases", Value: l.biases, Grad: l.gradBiases},
	}
}

// InSize returns steps·features.
func (l *LSTM) InSize() int {
	return l.steps * l.features
}

// OutSize returns hidden, or steps·hidden when returning sequences.
func (l *LSTM) OutSize() int {
	if l.seq {
		return l.steps * l.hidden
	}
	return l.hidden
}

// Steps returns the sequence length.
func (l *LSTM) Steps() int {
	return l.steps
}

// Hidden returns the number of hidden units.
func (l *LSTM) Hidden() int {
	return l.hidden
}

// RepeatVector feeds the same row to every step of a sequence: N×width in,
// N×(steps·width) out.
type RepeatVector struct {
	steps int
	width int
}

func NewRepeatVector(steps, width int) *RepeatVector {
	return &RepeatVector{steps: steps, width: width}
}

func (r *RepeatVector) Forward(x *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	out := mat.NewDense(n, r.steps*r.width, nil)
	for t := 0; t < r.steps; t++ {
		out.Slice(0, n, t*r.width, (t+1)*r.width).(*mat.Dense).Copy(x)
	}
	return out
}

// Backward sums the per-step gradients.
func (r *RepeatVector) Backward(grad *mat.Dense) *mat.Dense {
	n, _ := grad.Dims()
	out := mat.NewDense(n, r.width, nil)
	for t := 0; t < r.steps; t++ {
		out.Add(out, grad.Slice(0, n, t*r.width, (t+1)*r.width))
	}
	return out
}

func (r *RepeatVector) Params() []Param { return nil }
func (r *RepeatVector) InSize() int     { return r.width }
func (r *RepeatVector) OutSize() int    { return r.steps * r.width }

// TimeDistributed applies the same Dense layer to every step of a
// time-major sequence.
type TimeDistributed struct {
	steps int
	inner *Dense
}

func NewTimeDistributed(steps int, inner *Dense) *TimeDistributed {
	return &TimeDistributed{steps: steps, inner: inner}
}

// Forward treats the N×(steps·in) input as (N·steps)×in.
func (d *TimeDistributed) Forward(x *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	flat := mat.DenseCopyOf(x).RawMatrix().Data
	out := d.inner.Forward(mat.NewDense(n*d.steps, d.inner.InSize(), flat))
	return mat.NewDense(n, d.steps*d.inner.OutSize(), mat.DenseCopyOf(out).RawMatrix().Data)
}

func (d *TimeDistributed) Backward(grad *mat.Dense) *mat.Dense {
	n, _ := grad.Dims()
	flat := mat.DenseCopyOf(grad).RawMatrix().Data
	g := d.inner.Backward(mat.NewDense(n*d.steps, d.inner.OutSize(), flat))
	return mat.NewDense(n, d.steps*d.inner.InSize(), mat.DenseCopyOf(g).RawMatrix().Data)
}

func (d *TimeDistributed) Params() []Param { return d.inner.Params() }
func (d *TimeDistributed) InSize() int     { return d.steps * d.inner.InSize() }
func (d *TimeDistributed) OutSize() int    { return d.steps * d.inner.OutSize() }

// Inner returns the wrapped layer.
func (d *TimeDistributed) Inner() *Dense {
	return d.inner
}

// Activation returns the wrapped layer's activation.
func (d *TimeDistributed) Activation() activations.Activation {
	return d.inner.Activation()
}
