package opt

import (
	"math"

	"github.com/cockroachdb/errors"
)

// Scheduler defines the interface for learning rate schedulers.
type Scheduler interface {
	Step()
	StepWithLoss(loss float64)
	GetLR() float64
}

// BaseScheduler provides default implementations for Scheduler.
type BaseScheduler struct{}

func (s BaseScheduler) Step()                     {}
func (s BaseScheduler) StepWithLoss(loss float64) {}

// SchedulerConfig selects a learning rate schedule by name.
type SchedulerConfig struct {
	// Name is one of none, step, exponential or plateau. Empty means none.
	Name string
	// StepSize is the decay period of step, and the patience of plateau.
	StepSize int
	Gamma    float64
	// MinLR floors the learning rate of plateau.
	MinLR float64
}

// SchedulerByName builds the schedule described by cfg for optimizer. It
// returns nil for none.
func SchedulerByName(optimizer Optimizer, cfg SchedulerConfig) (Scheduler, error) {
	switch cfg.Name {
	case "", "none":
		return nil, nil
	}
	if !(cfg.Gamma > 0 && cfg.Gamma < 1) {
		return nil, errors.Newf("scheduler gamma must be in (0, 1), got %g", cfg.Gamma)
	}
	switch cfg.Name {
	case "step":
		if cfg.StepSize <= 0 {
			return nil, errors.Newf("scheduler step must be positive, got %d", cfg.StepSize)
		}
		return NewStepLR(optimizer, cfg.StepSize, cfg.Gamma), nil
	case "exponential":
		return NewExponentialLR(optimizer, cfg.Gamma), nil
	case "plateau":
		if cfg.StepSize <= 0 {
			return nil, errors.Newf("scheduler step must be positive, got %d", cfg.StepSize)
		}
		return NewReduceLROnPlateau(optimizer, cfg.Gamma, cfg.StepSize, 0, cfg.MinLR), nil
	default:
		return nil, errors.Newf("unknown scheduler %q", cfg.Name)
	}
}

// StepLR decays the learning rate by gamma every stepSize epochs.
type StepLR struct {
	BaseScheduler
	optimizer Optimizer
	stepSize  int
	gamma     float64
	lastEpoch int
}

func NewStepLR(optimizer Optimizer, stepSize int, gamma float64) *StepLR {
	return &StepLR{
		optimizer: optimizer,
		stepSize:  stepSize,
		gamma:     gamma,
	}
}

func (s *StepLR) Step() {
	s.lastEpoch++
	if s.stepSize > 0 && s.lastEpoch%s.stepSize == 0 {
		s.optimizer.SetLearningRate(s.optimizer.LearningRate() * s.gamma)
	}
}

func (s *StepLR) GetLR() float64 {
	return s.optimizer.LearningRate()
}

// ExponentialLR decays the learning rate by gamma every epoch.
type ExponentialLR struct {
	BaseScheduler
	optimizer Optimizer
	gamma     float64
}

func NewExponentialLR(optimizer Optimizer, gamma float64) *ExponentialLR {
	return &ExponentialLR{
		optimizer: optimizer,
		gamma:     gamma,
	}
}

func (s *ExponentialLR) Step() {
	s.optimizer.SetLearningRate(s.optimizer.LearningRate() * s.gamma)
}

func (s *ExponentialLR) GetLR() float64 {
	return s.optimizer.LearningRate()
}

// ReduceLROnPlateau reduces learning rate when a metric has stopped improving.
type ReduceLROnPlateau struct {
	BaseScheduler
	optimizer Optimizer
	factor    float64
	patience  int
	threshold float64
	cooldown  int
	minLR     float64

	bestLoss        float64
	numBadEpochs    int
	cooldownCounter int
}

func NewReduceLROnPlateau(optimizer Optimizer, factor float64, patience int, threshold float64, minLR float64) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		optimizer: optimizer,
		factor:    factor,
		patience:  patience,
		threshold: threshold,
		minLR:     minLR,
		bestLoss:  math.Inf(1),
	}
}

func (s *ReduceLROnPlateau) StepWithLoss(currentLoss float64) {
	if s.cooldownCounter > 0 {
		s.cooldownCounter--
		return
	}

	if currentLoss < s.bestLoss-s.threshold {
		s.bestLoss = currentLoss
		s.numBadEpochs = 0
	} else {
		s.numBadEpochs++
	}

	if s.numBadEpochs >= s.patience {
		newLR := s.optimizer.LearningRate() * s.factor
		if newLR < s.minLR {
			newLR = s.minLR
		}
		s.optimizer.SetLearningRate(newLR)
		s.numBadEpochs = 0
		s.cooldownCounter = s.cooldown
	}
}

func (s *ReduceLROnPlateau) GetLR() float64 {
	return s.optimizer.LearningRate()
}
