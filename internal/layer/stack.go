package layer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Stack chains layers so that each layer's output feeds the next.
// It is used for the encoder and decoder halves of the autoencoder.
type Stack struct {
	name   string
	layers []Layer
}

// NewStack creates a named stack of layers.
func NewStack(name string, layers ...Layer) *Stack {
	return &Stack{name: name, layers: layers}
}

// Forward runs x through every layer in order.
func (s *Stack) Forward(x *mat.Dense) *mat.Dense {
	curr := x
	for _, l := range s.layers {
		curr = l.Forward(curr)
	}
	return curr
}

// Backward runs grad through every layer in reverse order.
func (s *Stack) Backward(grad *mat.Dense) *mat.Dense {
	curr := grad
	for i := len(s.layers) - 1; i >= 0; i-- {
		curr = s.layers[i].Backward(curr)
	}
	return curr
}

// Params returns the parameters of every layer, named "<stack>.<index>.<param>".
func (s *Stack) Params() []Param {
	var params []Param
	for i, l := range s.layers {
		for _, p := range l.Params() {
			p.Name = fmt.Sprintf("%s.%d.%s", s.name, i, p.Name)
			params = append(params, p)
		}
	}
	return params
}

// InSize returns the input size of the first layer.
func (s *Stack) InSize() int {
	if len(s.layers) == 0 {
		return 0
	}
	return s.layers[0].InSize()
}

// OutSize returns the output size of the last layer.
func (s *Stack) OutSize() int {
	if len(s.layers) == 0 {
		return 0
	}
	return s.layers[len(s.layers)-1].OutSize()
}

// Name returns the stack name.
func (s *Stack) Name() string {
	return s.name
}

// Layers returns the stacked layers.
func (s *Stack) Layers() []Layer {
	return s.layers
}
