// Package activations provides activation functions for encoder and decoder layers.
package activations

import (
	"fmt"
	"math"
)

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64

	// Derivative computes f'(x) given the pre-activation x
	Derivative(x float64) float64
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// Sigmoid activation function.
type Sigmoid struct{}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Activate computes sigmoid(x)
func (s Sigmoid) Activate(x float64) float64 {
	return sigmoid(x)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (s Sigmoid) Derivative(x float64) float64 {
	sigma := sigmoid(x)
	return sigma * (1 - sigma)
}

// LeakyReLU keeps a small slope for negative inputs so encoder units cannot die.
type LeakyReLU struct {
	Alpha float64 // Slope for x <= 0
}

// NewLeakyReLU creates a LeakyReLU with the given alpha value.
func NewLeakyReLU(alpha float64) *LeakyReLU {
	return &LeakyReLU{Alpha: alpha}
}

// Activate computes x if x > 0, else alpha*x
func (l *LeakyReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return l.Alpha * x
}

// Derivative returns 1 if x > 0, else alpha
func (l *LeakyReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return l.Alpha
}

// Tanh activation function.
type Tanh struct{}

// Activate computes tanh(x)
func (t Tanh) Activate(x float64) float64 {
	return math.Tanh(x)
}

// Derivative computes 1 - tanh(x)^2
func (t Tanh) Derivative(x float64) float64 {
	tanhX := math.Tanh(x)
	return 1 - tanhX*tanhX
}

// Linear is the identity activation, used on decoder outputs.
type Linear struct{}

// Activate returns x unchanged.
func (Linear) Activate(x float64) float64 {
	return x
}

// Derivative is always 1.
func (Linear) Derivative(float64) float64 {
	return 1
}

// ByName returns the activation registered under name.
// Names match the ones written into model files and YAML configs.
func ByName(name string) (Activation, error) {
	switch name {
	case "relu", "ReLU":
		return ReLU{}, nil
	case "leaky_relu", "LeakyReLU":
		return NewLeakyReLU(0.01), nil
	case "sigmoid", "Sigmoid":
		return Sigmoid{}, nil
	case "tanh", "Tanh":
		return Tanh{}, nil
	case "linear", "Linear", "":
		return Linear{}, nil
	default:
		return nil, fmt.Errorf("unknown activation %q", name)
	}
}

// Name returns the canonical name of act, the inverse of ByName.
func Name(act Activation) string {
	switch act.(type) {
	case ReLU:
		return "relu"
	case *LeakyReLU:
		return "leaky_relu"
	case Sigmoid:
		return "sigmoid"
	case Tanh:
		return "tanh"
	default:
		return "linear"
	}
}
