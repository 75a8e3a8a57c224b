package activations

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReLU(t *testing.T) {
	relu := ReLU{}

	tests := []struct {
		input    float64
		expected float64
		deriv    float64
	}{
		{-1.0, 0.0, 0.0},
		{0.0, 0.0, 0.0},
		{1.0, 1.0, 1.0},
		{2.5, 2.5, 1.0},
		{-0.1, 0.0, 0.0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.expected, relu.Activate(tt.input), 1e-12, "ReLU(%v)", tt.input)
		assert.InDelta(t, tt.deriv, relu.Derivative(tt.input), 1e-12, "ReLU'(%v)", tt.input)
	}
}

func TestLeakyReLU(t *testing.T) {
	l := NewLeakyReLU(0.1)
	assert.InDelta(t, -0.2, l.Activate(-2), 1e-12)
	assert.InDelta(t, 3.0, l.Activate(3), 1e-12)
	assert.InDelta(t, 0.1, l.Derivative(-2), 1e-12)
	assert.InDelta(t, 1.0, l.Derivative(3), 1e-12)
}

func TestSigmoidAndTanh(t *testing.T) {
	assert.InDelta(t, 0.5, Sigmoid{}.Activate(0), 1e-12)
	assert.InDelta(t, 0.25, Sigmoid{}.Derivative(0), 1e-12)
	assert.InDelta(t, math.Tanh(0.7), Tanh{}.Activate(0.7), 1e-12)
	assert.InDelta(t, 1.0, Tanh{}.Derivative(0), 1e-12)
}

// Derivatives are checked against central differences away from kinks.
func TestDerivativesMatchFiniteDifferences(t *testing.T) {
	const h = 1e-6
	for _, act := range []Activation{ReLU{}, NewLeakyReLU(0.01), Sigmoid{}, Tanh{}, Linear{}} {
		for _, x := range []float64{-1.3, -0.4, 0.3, 1.7} {
			numeric := (act.Activate(x+h) - act.Activate(x-h)) / (2 * h)
			assert.InDelta(t, numeric, act.Derivative(x), 1e-5, "%s at %v", Name(act), x)
		}
	}
}

func TestByNameRoundTrip(t *testing.T) {
	for _, name := range []string{"relu", "leaky_relu", "sigmoid", "tanh", "linear"} {
		act, err := ByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, Name(act))
	}

	_, err := ByName("softplus")
	assert.Error(t, err)
}
