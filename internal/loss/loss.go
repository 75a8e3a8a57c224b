// Package loss provides reconstruction losses over batch matrices.
//
// Every loss averages over all N×D elements, and Backward returns the
// gradient of that mean with respect to the prediction.
package loss

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"
)

// Loss is a loss function with derivative.
type Loss interface {
	// Forward computes the loss between predicted and true values.
	Forward(pred, target mat.Matrix) float64

	// Backward computes the gradient of the loss w.r.t. prediction.
	Backward(pred, target mat.Matrix) *mat.Dense
}

// ByName returns the loss registered under name: "mse", "huber" or "l1".
func ByName(name string) (Loss, error) {
	switch name {
	case "", "mse":
		return MSE{}, nil
	case "huber":
		return NewHuber(1), nil
	case "l1", "mae":
		return L1{}, nil
	default:
		return nil, errors.Newf("unknown loss %q", name)
	}
}

func residual(pred, target mat.Matrix) (*mat.Dense, int) {
	pr, pc := pred.Dims()
	tr, tc := target.Dims()
	if pr != tr || pc != tc {
		panic(errors.AssertionFailedf("loss: prediction is %d×%d, target is %d×%d", pr, pc, tr, tc))
	}
	var diff mat.Dense
	diff.Sub(pred, target)
	return &diff, pr * pc
}

// MSE (Mean Squared Error) loss.
type MSE struct{}

// Forward computes mean squared error: (1/n) * sum((pred - target)^2)
func (MSE) Forward(pred, target mat.Matrix) float64 {
	diff, n := residual(pred, target)
	var sq mat.Dense
	sq.MulElem(diff, diff)
	return mat.Sum(&sq) / float64(n)
}

// Backward computes gradient: dL/dpred = (2/n) * (pred - target)
func (MSE) Backward(pred, target mat.Matrix) *mat.Dense {
	diff, n := residual(pred, target)
	diff.Scale(2/float64(n), diff)
	return diff
}

// Huber loss for robust regression.
type Huber struct {
	Delta float64 // Threshold for quadratic/linear transition
}

// NewHuber creates a Huber loss with the given delta.
func NewHuber(delta float64) *Huber {
	return &Huber{Delta: delta}
}

// Forward computes Huber loss.
func (h Huber) Forward(pred, target mat.Matrix) float64 {
	diff, n := residual(pred, target)
	var sum float64
	for _, d := range diff.RawMatrix().Data {
		d = math.Abs(d)
		if d <= h.Delta {
			sum += 0.5 * d * d
		} else {
			sum += h.Delta * (d - 0.5*h.Delta)
		}
	}
	return sum / float64(n)
}

// Backward computes gradient for Huber loss.
func (h Huber) Backward(pred, target mat.Matrix) *mat.Dense {
	diff, n := residual(pred, target)
	diff.Apply(func(_, _ int, d float64) float64 {
		if math.Abs(d) > h.Delta {
			d = h.Delta * math.Copysign(1, d)
		}
		return d / float64(n)
	}, diff)
	return diff
}

// L1 (Mean Absolute Error) loss.
type L1 struct{}

// Forward computes mean absolute error: (1/n) * sum(|pred - target|)
func (L1) Forward(pred, target mat.Matrix) float64 {
	diff, n := residual(pred, target)
	var sum float64
	for _, d := range diff.RawMatrix().Data {
		sum += math.Abs(d)
	}
	return sum / float64(n)
}

// Backward computes gradient for L1 loss: dL/dpred = (1/n) * sign(pred - target)
func (L1) Backward(pred, target mat.Matrix) *mat.Dense {
	diff, n := residual(pred, target)
	factor := 1 / float64(n)
	diff.Apply(func(_, _ int, d float64) float64 {
		switch {
		case d > 0:
			return factor
		case d < 0:
			return -factor
		default:
			return 0
		}
	}, diff)
	return diff
}

// Normalized divides another loss by a fixed scale, typically the variance
// of the training targets, so that a constant predictor scores about 1.
type Normalized struct {
	Loss  Loss
	Scale float64
}

// NewNormalized wraps l. A non-positive scale is treated as 1.
func NewNormalized(l Loss, scale float64) Normalized {
	if !(scale > 0) {
		scale = 1
	}
	return Normalized{Loss: l, Scale: scale}
}

// Forward returns l(pred, target) / scale.
func (n Normalized) Forward(pred, target mat.Matrix) float64 {
	return n.Loss.Forward(pred, target) / n.Scale
}

// Backward returns the wrapped gradient divided by scale.
func (n Normalized) Backward(pred, target mat.Matrix) *mat.Dense {
	g := n.Loss.Backward(pred, target)
	g.Scale(1/n.Scale, g)
	return g
}
