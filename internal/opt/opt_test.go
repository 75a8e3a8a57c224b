package opt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/vqlink/internal/layer"
)

func param(name string, value, grad []float64) layer.Param {
	return layer.Param{Name: name, Value: value, Grad: grad}
}

func TestSGDStep(t *testing.T) {
	sgd := NewSGD(0.1)

	p := param("w", []float64{1.0, 2.0, 3.0}, []float64{0.1, 0.2, 0.3})
	sgd.Step([]layer.Param{p})

	// Expected: params - lr * gradients
	assert.InDeltaSlice(t, []float64{0.99, 1.98, 2.97}, p.Value, 1e-12)
}

func TestSGDZeroLearningRate(t *testing.T) {
	sgd := NewSGD(0)
	p := param("w", []float64{1, 2}, []float64{5, 5})
	sgd.Step([]layer.Param{p})
	assert.Equal(t, []float64{1, 2}, p.Value)
}

func TestSGDMomentum(t *testing.T) {
	sgd := NewSGD(0.1)
	sgd.Momentum = 0.5
	p := param("w", []float64{0}, []float64{1})

	sgd.Step([]layer.Param{p}) // v = 1
	sgd.Step([]layer.Param{p}) // v = 1.5
	assert.InDelta(t, -0.25, p.Value[0], 1e-12)
}

func TestSGDConvergence(t *testing.T) {
	// Minimize (x - 3)²
	sgd := NewSGD(0.1)
	p := param("x", []float64{0}, []float64{0})
	for i := 0; i < 200; i++ {
		p.Grad[0] = 2 * (p.Value[0] - 3)
		sgd.Step([]layer.Param{p})
	}
	assert.InDelta(t, 3, p.Value[0], 1e-6)
}

func TestAdamNewAdam(t *testing.T) {
	adam := NewAdam(0.001)
	assert.Equal(t, 0.001, adam.LearningRate())
	assert.Equal(t, 0.9, adam.Beta1)
	assert.Equal(t, 0.999, adam.Beta2)
	assert.Equal(t, 1e-8, adam.Epsilon)
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	adam := NewAdam(0.01)
	p := param("w", []float64{1, 1, 1}, []float64{0.5, -3, 0})
	adam.Step([]layer.Param{p})

	// With bias correction the first step is lr·sign(g).
	assert.InDelta(t, 0.99, p.Value[0], 1e-6)
	assert.InDelta(t, 1.01, p.Value[1], 1e-6)
	assert.Equal(t, 1.0, p.Value[2])
}

func TestAdamKeepsStatePerParameter(t *testing.T) {
	adam := NewAdam(0.01)
	a := param("a", []float64{0}, []float64{1})
	b := param("b", []float64{0}, []float64{1})

	adam.Step([]layer.Param{a})
	adam.Step([]layer.Param{a})
	adam.Step([]layer.Param{b})

	assert.Equal(t, 2, adam.t["a"])
	assert.Equal(t, 1, adam.t["b"])
	assert.InDelta(t, -0.01, b.Value[0], 1e-6)
}

func TestAdamConvergence(t *testing.T) {
	adam := NewAdam(0.01)
	p := param("x", []float64{-2, 5}, []float64{0, 0})
	for i := 0; i < 3000; i++ {
		p.Grad[0] = 2 * (p.Value[0] - 1)
		p.Grad[1] = 2 * (p.Value[1] + 1)
		adam.Step([]layer.Param{p})
	}
	assert.InDelta(t, 1, p.Value[0], 0.05)
	assert.InDelta(t, -1, p.Value[1], 0.05)
}

func TestRMSpropStep(t *testing.T) {
	r := NewRMSprop(0.01)
	p := param("w", []float64{1}, []float64{2})
	r.Step([]layer.Param{p})

	// s = 0.1·4, step = lr·2/sqrt(0.4)
	want := 1 - 0.01*2/(math.Sqrt(0.4)+1e-7)
	assert.InDelta(t, want, p.Value[0], 1e-12)
}

func TestByName(t *testing.T) {
	for name, want := range map[string]Optimizer{
		"sgd":     &SGD{},
		"adam":    &Adam{},
		"":        &Adam{},
		"rmsprop": &RMSprop{},
	} {
		o, err := ByName(name, 0.01)
		require.NoError(t, err, name)
		assert.IsType(t, want, o)
		assert.Equal(t, 0.01, o.LearningRate())
	}

	_, err := ByName("lbfgs", 0.01)
	assert.Error(t, err)
	_, err = ByName("sgd", 0)
	assert.Error(t, err)
}

func TestStepLR(t *testing.T) {
	o := NewSGD(1)
	s := NewStepLR(o, 2, 0.5)
	s.Step()
	assert.Equal(t, 1.0, s.GetLR())
	s.Step()
	assert.Equal(t, 0.5, s.GetLR())
	s.Step()
	s.Step()
	assert.Equal(t, 0.25, o.LearningRate())
}

func TestExponentialLR(t *testing.T) {
	o := NewAdam(1)
	s := NewExponentialLR(o, 0.9)
	s.Step()
	s.Step()
	assert.InDelta(t, 0.81, s.GetLR(), 1e-12)
}

func TestReduceLROnPlateau(t *testing.T) {
	o := NewSGD(1)
	s := NewReduceLROnPlateau(o, 0.1, 2, 0, 0.005)

	s.StepWithLoss(1)
	s.StepWithLoss(1)
	assert.Equal(t, 1.0, s.GetLR())
	s.StepWithLoss(1)
	assert.InDelta(t, 0.1, s.GetLR(), 1e-12)

	s.StepWithLoss(2)
	s.StepWithLoss(2)
	assert.InDelta(t, 0.01, s.GetLR(), 1e-12)

	s.StepWithLoss(2)
	s.StepWithLoss(2)
	assert.Equal(t, 0.005, s.GetLR())
}

func TestSchedulerByName(t *testing.T) {
	o := NewSGD(1)
	for name, want := range map[string]Scheduler{
		"step":        &StepLR{},
		"exponential": &ExponentialLR{},
		"plateau":     &ReduceLROnPlateau{},
	} {
		s, err := SchedulerByName(o, SchedulerConfig{Name: name, StepSize: 3, Gamma: 0.5, MinLR: 1e-4})
		require.NoError(t, err, name)
		assert.IsType(t, want, s)
	}

	for _, name := range []string{"", "none"} {
		s, err := SchedulerByName(o, SchedulerConfig{Name: name})
		require.NoError(t, err)
		assert.Nil(t, s)
	}

	_, err := SchedulerByName(o, SchedulerConfig{Name: "cosine", StepSize: 1, Gamma: 0.5})
	assert.Error(t, err)
	_, err = SchedulerByName(o, SchedulerConfig{Name: "step", Gamma: 0.5})
	assert.Error(t, err)
	_, err = SchedulerByName(o, SchedulerConfig{Name: "exponential", Gamma: 1})
	assert.Error(t, err)
}

func TestSchedulerByNamePlateauFloor(t *testing.T) {
	o := NewSGD(1)
	s, err := SchedulerByName(o, SchedulerConfig{Name: "plateau", StepSize: 1, Gamma: 0.1, MinLR: 0.05})
	require.NoError(t, err)

	s.StepWithLoss(1)
	s.StepWithLoss(1)
	assert.InDelta(t, 0.1, o.LearningRate(), 1e-12)
	s.StepWithLoss(1)
	assert.Equal(t, 0.05, o.LearningRate())
}
