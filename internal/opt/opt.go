// Package opt provides optimization algorithms.
package opt

import (
	"math"

	"github.com/cockroachdb/errors"

	"github.com/FlavioCFOliveira/vqlink/internal/layer"
)

// Optimizer updates network parameters in place from their gradients.
type Optimizer interface {
	// Step applies one update to every parameter. Per-parameter state such as
	// moment estimates is keyed by Param.Name.
	Step(params []layer.Param)

	LearningRate() float64
	SetLearningRate(lr float64)
}

// ByName builds the optimizer registered under name: "sgd", "adam" or
// "rmsprop", with default hyperparameters.
func ByName(name string, learningRate float64) (Optimizer, error) {
	if !(learningRate > 0) {
		return nil, errors.Newf("learning rate must be positive, got %g", learningRate)
	}
	switch name {
	case "sgd":
		return NewSGD(learningRate), nil
	case "", "adam":
		return NewAdam(learningRate), nil
	case "rmsprop":
		return NewRMSprop(learningRate), nil
	default:
		return nil, errors.Newf("unknown optimizer %q", name)
	}
}

// SGD (Stochastic Gradient Descent) optimizer with optional momentum.
type SGD struct {
	lr       float64
	Momentum float64

	velocity map[string][]float64
}

// NewSGD creates a plain SGD optimizer.
func NewSGD(learningRate float64) *SGD {
	return &SGD{lr: learningRate, velocity: make(map[string][]float64)}
}

// Step updates params: v = momentum*v + g; p = p - lr*v
func (s *SGD) Step(params []layer.Param) {
	for _, p := range params {
		if s.Momentum == 0 {
			for i := range p.Value {
				p.Value[i] -= s.lr * p.Grad[i]
			}
			continue
		}
		v := state(s.velocity, p)
		for i := range p.Value {
			v[i] = s.Momentum*v[i] + p.Grad[i]
			p.Value[i] -= s.lr * v[i]
		}
	}
}

// LearningRate returns the current learning rate.
func (s *SGD) LearningRate() float64 { return s.lr }

// SetLearningRate changes the learning rate.
func (s *SGD) SetLearningRate(lr float64) { s.lr = lr }

// Adam optimizer for faster convergence.
type Adam struct {
	lr      float64
	Beta1   float64 // Exponential decay rate for first moment
	Beta2   float64 // Exponential decay rate for second moment
	Epsilon float64 // Small constant for numerical stability

	m, v map[string][]float64
	t    map[string]int
}

// NewAdam creates a new Adam optimizer with default values.
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		lr:      learningRate,
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
		m:       make(map[string][]float64),
		v:       make(map[string][]float64),
		t:       make(map[string]int),
	}
}

// Step applies a bias-corrected Adam update to every parameter.
func (a *Adam) Step(params []layer.Param) {
	for _, p := range params {
		m := state(a.m, p)
		v := state(a.v, p)
		a.t[p.Name]++
		t := float64(a.t[p.Name])
		c1 := 1 - math.Pow(a.Beta1, t)
		c2 := 1 - math.Pow(a.Beta2, t)

		for i, g := range p.Grad {
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
			mHat := m[i] / c1
			vHat := v[i] / c2
			p.Value[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float64 { return a.lr }

// SetLearningRate changes the learning rate.
func (a *Adam) SetLearningRate(lr float64) { a.lr = lr }

// RMSprop divides the gradient by a running root mean square.
type RMSprop struct {
	lr      float64
	Rho     float64
	Epsilon float64

	sq map[string][]float64
}

// NewRMSprop creates an RMSprop optimizer with rho 0.9.
func NewRMSprop(learningRate float64) *RMSprop {
	return &RMSprop{
		lr:      learningRate,
		Rho:     0.9,
		Epsilon: 1e-7,
		sq:      make(map[string][]float64),
	}
}

// Step updates params: s = rho*s + (1-rho)*g²; p = p - lr*g/(sqrt(s)+eps)
func (r *RMSprop) Step(params []layer.Param) {
	for _, p := range params {
		s := state(r.sq, p)
		for i, g := range p.Grad {
			s[i] = r.Rho*s[i] + (1-r.Rho)*g*g
			p.Value[i] -= r.lr * g / (math.Sqrt(s[i]) + r.Epsilon)
		}
	}
}

// LearningRate returns the current learning rate.
func (r *RMSprop) LearningRate() float64 { return r.lr }

// SetLearningRate changes the learning rate.
func (r *RMSprop) SetLearningRate(lr float64) { r.lr = lr }

// state returns the buffer for p, allocating it on first use or when the
// parameter changed size.
func state(buffers map[string][]float64, p layer.Param) []float64 {
	buf, ok := buffers[p.Name]
	if !ok || len(buf) != len(p.Value) {
		buf = make([]float64, len(p.Value))
		buffers[p.Name] = buf
	}
	return buf
}
