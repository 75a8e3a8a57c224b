// Package vqlink is the public entry point for building, training and
// inspecting VQ-VAE models of link-quality traces.
package vqlink

import (
	"math/rand/v2"

	"github.com/FlavioCFOliveira/vqlink/internal/activations"
	"github.com/FlavioCFOliveira/vqlink/internal/config"
	"github.com/FlavioCFOliveira/vqlink/internal/loss"
	"github.com/FlavioCFOliveira/vqlink/internal/net"
	"github.com/FlavioCFOliveira/vqlink/internal/opt"
	"github.com/FlavioCFOliveira/vqlink/internal/vq"
)

// Re-export common types for easier access
type (
	Model         = net.Model
	ModelConfig   = net.ModelConfig
	Trainer       = net.Trainer
	TrainerConfig = net.TrainerConfig
	EpochRecord   = net.EpochRecord
	Evaluation    = net.Evaluation
	Callback      = net.Callback
	Option        = net.Option
	Checkpoint    = net.Checkpoint
	Metadata      = net.Metadata
	Dataset       = net.Dataset
	SINRConfig    = net.SINRConfig
	Optimizer     = opt.Optimizer
	Scheduler     = opt.Scheduler
	Loss          = loss.Loss
	Config        = config.Config

	Codebook       = vq.Codebook
	Reinitializer  = vq.Reinitializer
	ReinitSchedule = vq.ReinitSchedule
	EpochStats     = vq.EpochStats
	Kind           = vq.Kind
)

// Architectures
const (
	Dense = net.TypeDense
	LSTM  = net.TypeLSTM
)

// Quantizer variants
const (
	Gradient = vq.KindGradient
	EMA      = vq.KindEMA
)

// Errors
var (
	ErrInvalidConfig = vq.ErrInvalidConfig
	ErrShapeMismatch = vq.ErrShapeMismatch
	ErrNonFinite     = vq.ErrNonFinite
)

// Activations
var (
	ReLU    = activations.ReLU{}
	Sigmoid = activations.Sigmoid{}
	Tanh    = activations.Tanh{}
	Linear  = activations.Linear{}
)

// Model creation
func NewModel(cfg ModelConfig) (*Model, error) {
	return net.NewModel(cfg)
}

func NewTrainer(m *Model, o Optimizer, cfg TrainerConfig, opts ...Option) (*Trainer, error) {
	return net.NewTrainer(m, o, cfg, opts...)
}

// Trainer options
var (
	WithLogger          = net.WithLogger
	WithCallbacks       = net.WithCallbacks
	WithUtilizationSink = net.WithUtilizationSink
	WithRunID           = net.WithRunID
	WithNormalization   = net.WithNormalization
)

// Callbacks
func EarlyStopping(patience int) Callback {
	return net.NewEarlyStopping(patience, 0)
}

func ModelCheckpoint(filename string) Callback {
	return net.NewModelCheckpoint(filename)
}

func CSVLogger(filename string) Callback {
	return net.NewCSVLogger(filename, false)
}

// LRScheduler steps s at the end of every epoch.
func LRScheduler(s Scheduler) Callback {
	return net.NewSchedulerCallback(s)
}

// Optimizers
func Adam(lr float64) Optimizer {
	return opt.NewAdam(lr)
}

func SGD(lr float64) Optimizer {
	return opt.NewSGD(lr)
}

func RMSprop(lr float64) Optimizer {
	return opt.NewRMSprop(lr)
}

// Reinitialization strategies
func KMeansPlusPlus(seed uint64) Reinitializer {
	return vq.KMeansPlusPlus{Src: rand.NewPCG(seed, seed^0x5851f42d4c957f2d)}
}

func PCASplit() Reinitializer {
	return vq.PCASplit{}
}

// Data
func LoadCSV(filename string, hasHeader bool) (*Dataset, error) {
	return net.LoadCSV(filename, hasHeader)
}

func Windows(trace []float64, size, stride int) (*Dataset, error) {
	return net.Windows(trace, size, stride)
}

func SyntheticSINR(cfg SINRConfig) ([]float64, error) {
	return net.SyntheticSINR(cfg)
}

func DefaultSINRConfig() SINRConfig {
	return net.DefaultSINRConfig()
}

// Persistence
func Save(filename string, m *Model, meta Metadata) error {
	return net.Save(filename, m, meta)
}

func Load(filename string) (*Model, *Checkpoint, error) {
	return net.Load(filename)
}

// Configuration
func DefaultConfig() *Config {
	return config.Default()
}

func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Setup is everything needed to start training from a Config.
type Setup struct {
	Model     *Model
	Optimizer Optimizer
	// Scheduler is nil unless training.scheduler names one.
	Scheduler Scheduler
	Trainer   TrainerConfig
}

// FromConfig builds the model, optimizer and trainer settings described by
// cfg. The model input width is taken from cfg.Model.InputDim.
func FromConfig(cfg *Config) (*Setup, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Training.Seed
	m, err := net.NewModel(ModelConfig{
		Type:          cfg.Model.Type,
		InputDim:      cfg.Model.InputDim,
		LatentDim:     cfg.Model.LatentDim,
		HiddenDims:    cfg.Model.HiddenDims,
		Activation:    cfg.Model.Activation,
		Quantizer:     Kind(cfg.Quantizer.Kind),
		NumEmbeddings: cfg.Quantizer.NumEmbeddings,
		Beta:          cfg.Quantizer.Beta,
		Decay:         cfg.Quantizer.Decay,
		Epsilon:       cfg.Quantizer.Epsilon,
		Seed:          seed,
	})
	if err != nil {
		return nil, err
	}
	o, err := opt.ByName(cfg.Training.Optimizer, cfg.Training.LearningRate)
	if err != nil {
		return nil, err
	}
	sched, err := opt.SchedulerByName(o, opt.SchedulerConfig{
		Name:     cfg.Training.Scheduler,
		StepSize: cfg.Training.SchedulerStep,
		Gamma:    cfg.Training.SchedulerGamma,
		MinLR:    cfg.Training.MinLearningRate,
	})
	if err != nil {
		return nil, err
	}
	l, err := loss.ByName(cfg.Training.Loss)
	if err != nil {
		return nil, err
	}
	strategy, err := vq.StrategyByName(cfg.Reinit.Strategy, rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
	if err != nil {
		return nil, err
	}
	tc := TrainerConfig{
		Epochs:          cfg.Training.Epochs,
		BatchSize:       cfg.Training.BatchSize,
		ValidationSplit: cfg.Training.ValidationSplit,
		Loss:            l,
		Strategy:        strategy,
		Seed:            seed,
	}
	if strategy != nil {
		tc.StrategyName = cfg.Reinit.Strategy
		tc.Schedule = ReinitSchedule{InitEpochs: cfg.Reinit.InitEpochs, Interval: cfg.Reinit.Interval}
	}
	return &Setup{Model: m, Optimizer: o, Scheduler: sched, Trainer: tc}, nil
}
