package loss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMSEForward(t *testing.T) {
	tests := []struct {
		name     string
		pred     []float64
		target   []float64
		expected float64
	}{
		{"Perfect prediction", []float64{1, 2, 3, 4}, []float64{1, 2, 3, 4}, 0},
		{"Single error", []float64{1, 2, 0, 0}, []float64{1.5, 2, 0, 0}, 0.0625},
		{"Multiple errors", []float64{1, 2, 3, 4}, []float64{0, 1, 2, 3}, 1},
		{"Large errors", []float64{10, 0, 0, 0}, []float64{0, 0, 0, 0}, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := mat.NewDense(2, 2, tt.pred)
			target := mat.NewDense(2, 2, tt.target)
			assert.InDelta(t, tt.expected, MSE{}.Forward(pred, target), 1e-12)
		})
	}
}

func TestMSEBackward(t *testing.T) {
	pred := mat.NewDense(2, 1, []float64{1, 2})
	target := mat.NewDense(2, 1, []float64{1.5, 2})

	grad := MSE{}.Backward(pred, target)
	assert.InDeltaSlice(t, []float64{-0.5, 0}, grad.RawMatrix().Data, 1e-12)
}

func TestMSEShapeMismatchPanics(t *testing.T) {
	assert.Panics(t, func() {
		MSE{}.Forward(mat.NewDense(2, 2, nil), mat.NewDense(2, 1, nil))
	})
}

func TestHuber(t *testing.T) {
	h := NewHuber(1)
	pred := mat.NewDense(1, 2, []float64{0.5, 3})
	target := mat.NewDense(1, 2, []float64{0, 0})

	// 0.5·0.25 and 1·(3 - 0.5)
	assert.InDelta(t, (0.125+2.5)/2, h.Forward(pred, target), 1e-12)
	assert.InDeltaSlice(t, []float64{0.25, 0.5}, h.Backward(pred, target).RawMatrix().Data, 1e-12)
}

func TestL1(t *testing.T) {
	pred := mat.NewDense(1, 3, []float64{1, -2, 0})
	target := mat.NewDense(1, 3, []float64{0, 0, 0})

	assert.InDelta(t, 1.0, L1{}.Forward(pred, target), 1e-12)
	assert.InDeltaSlice(t, []float64{1.0 / 3, -1.0 / 3, 0}, L1{}.Backward(pred, target).RawMatrix().Data, 1e-12)
}

// TestGradientsMatchFiniteDifferences checks every loss against a central
// difference of its own Forward.
func TestGradientsMatchFiniteDifferences(t *testing.T) {
	pred := mat.NewDense(2, 3, []float64{0.3, -1.2, 2.5, 0.1, 0.7, -3})
	target := mat.NewDense(2, 3, []float64{0, 0.4, 1, -0.2, 0.6, 0.5})
	const h = 1e-6

	for _, l := range []Loss{MSE{}, NewHuber(1), NewNormalized(MSE{}, 4)} {
		grad := l.Backward(pred, target)
		for i := 0; i < 2; i++ {
			for j := 0; j < 3; j++ {
				p := mat.DenseCopyOf(pred)
				v := p.At(i, j)
				p.Set(i, j, v+h)
				up := l.Forward(p, target)
				p.Set(i, j, v-h)
				down := l.Forward(p, target)
				assert.InDelta(t, (up-down)/(2*h), grad.At(i, j), 1e-6, "%T at (%d, %d)", l, i, j)
			}
		}
	}
}

func TestNormalized(t *testing.T) {
	pred := mat.NewDense(1, 2, []float64{2, 0})
	target := mat.NewDense(1, 2, []float64{0, 0})

	n := NewNormalized(MSE{}, 4)
	assert.InDelta(t, 0.5, n.Forward(pred, target), 1e-12)

	assert.Equal(t, 1.0, NewNormalized(MSE{}, 0).Scale)
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "mse", "huber", "l1", "mae"} {
		l, err := ByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, l)
	}
	_, err := ByName("hinge")
	assert.Error(t, err)
}
