// Package config loads the YAML training configuration.
package config

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for out-of-range settings.
var ErrInvalid = errors.New("invalid config")

// Config is the full training configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Quantizer QuantizerConfig `yaml:"quantizer"`
	Reinit    ReinitConfig    `yaml:"reinit"`
	Training  TrainingConfig  `yaml:"training"`
	Output    OutputConfig    `yaml:"output"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type ModelConfig struct {
	Type       string `yaml:"type"`
	InputDim   int    `yaml:"input_dim"`
	LatentDim  int    `yaml:"latent_dim"`
	HiddenDims []int  `yaml:"hidden_dims"`
	Activation string `yaml:"activation"`
}

type QuantizerConfig struct {
	Kind          string  `yaml:"kind"`
	NumEmbeddings int     `yaml:"num_embeddings"`
	Beta          float64 `yaml:"beta"`
	Decay         float64 `yaml:"decay"`
	Epsilon       float64 `yaml:"epsilon"`
}

type ReinitConfig struct {
	Strategy   string `yaml:"strategy"`
	InitEpochs int    `yaml:"init_epochs"`
	Interval   int    `yaml:"interval"`
}

type TrainingConfig struct {
	Epochs          int     `yaml:"epochs"`
	BatchSize       int     `yaml:"batch_size"`
	Optimizer       string  `yaml:"optimizer"`
	LearningRate    float64 `yaml:"learning_rate"`
	Loss            string  `yaml:"loss"`
	ValidationSplit float64 `yaml:"validation_split"`
	Patience        int     `yaml:"patience"`
	Seed            uint64  `yaml:"seed"`
	Normalize       bool    `yaml:"normalize"`

	Scheduler       string  `yaml:"scheduler"`
	SchedulerStep   int     `yaml:"scheduler_step"`
	SchedulerGamma  float64 `yaml:"scheduler_gamma"`
	MinLearningRate float64 `yaml:"min_learning_rate"`
}

type OutputConfig struct {
	ModelPath   string `yaml:"model_path"`
	HistoryPath string `yaml:"history_path"`
}

// Default returns the configuration used for 40-step SINR windows.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Type:       "dense",
			InputDim:   40,
			LatentDim:  10,
			Activation: "relu",
		},
		Quantizer: QuantizerConfig{
			Kind:          "gradient",
			NumEmbeddings: 128,
			Beta:          0.25,
			Decay:         0.99,
			Epsilon:       1e-5,
		},
		Reinit: ReinitConfig{
			Strategy:   "random",
			InitEpochs: 100,
			Interval:   20,
		},
		Training: TrainingConfig{
			Epochs:          300,
			BatchSize:       64,
			Optimizer:       "adam",
			LearningRate:    0.001,
			Loss:            "mse",
			ValidationSplit: 0.2,
			Patience:        20,
			Seed:            1,
			Scheduler:       "none",
			SchedulerStep:   10,
			SchedulerGamma:  0.5,
			MinLearningRate: 1e-6,
		},
		Output: OutputConfig{
			ModelPath:   "vqvae.model",
			HistoryPath: "history.csv",
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults, applies VQLINK_* environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	cfg.applyEnvironment()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encoding config")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing config %s", path)
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv("VQLINK_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("VQLINK_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("VQLINK_EPOCHS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Training.Epochs = n
		}
	}
	if v := os.Getenv("VQLINK_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Training.Seed = n
		}
	}
}

// Validate checks every setting and reports the first problem found.
func (c *Config) Validate() error {
	m := c.Model
	switch m.Type {
	case "dense", "lstm":
	default:
		return errors.Wrapf(ErrInvalid, "model type %q", m.Type)
	}
	if m.InputDim <= 0 || m.LatentDim <= 0 {
		return errors.Wrapf(ErrInvalid, "model dims must be positive, got input %d latent %d", m.InputDim, m.LatentDim)
	}
	for _, h := range m.HiddenDims {
		if h <= 0 {
			return errors.Wrapf(ErrInvalid, "hidden dims must be positive, got %v", m.HiddenDims)
		}
	}

	q := c.Quantizer
	switch q.Kind {
	case "gradient", "ema":
	default:
		return errors.Wrapf(ErrInvalid, "quantizer kind %q", q.Kind)
	}
	if q.NumEmbeddings <= 0 {
		return errors.Wrapf(ErrInvalid, "num_embeddings must be positive, got %d", q.NumEmbeddings)
	}
	if q.Beta < 0 {
		return errors.Wrapf(ErrInvalid, "beta must not be negative, got %g", q.Beta)
	}
	if q.Kind == "ema" {
		if q.Decay <= 0 || q.Decay >= 1 {
			return errors.Wrapf(ErrInvalid, "decay must be in (0, 1), got %g", q.Decay)
		}
		if q.Epsilon <= 0 {
			return errors.Wrapf(ErrInvalid, "epsilon must be positive, got %g", q.Epsilon)
		}
	}

	r := c.Reinit
	switch r.Strategy {
	case "random", "kmpp", "pca":
	default:
		return errors.Wrapf(ErrInvalid, "reinit strategy %q", r.Strategy)
	}
	if r.Strategy != "random" && r.Interval <= 0 {
		return errors.Wrapf(ErrInvalid, "reinit interval must be positive for %s, got %d", r.Strategy, r.Interval)
	}

	t := c.Training
	if t.Epochs <= 0 || t.BatchSize <= 0 {
		return errors.Wrapf(ErrInvalid, "epochs and batch_size must be positive, got %d and %d", t.Epochs, t.BatchSize)
	}
	switch t.Optimizer {
	case "sgd", "adam", "rmsprop":
	default:
		return errors.Wrapf(ErrInvalid, "optimizer %q", t.Optimizer)
	}
	if !(t.LearningRate > 0) {
		return errors.Wrapf(ErrInvalid, "learning_rate must be positive, got %g", t.LearningRate)
	}
	switch t.Loss {
	case "mse", "huber", "l1":
	default:
		return errors.Wrapf(ErrInvalid, "loss %q", t.Loss)
	}
	if t.ValidationSplit < 0 || t.ValidationSplit >= 1 {
		return errors.Wrapf(ErrInvalid, "validation_split must be in [0, 1), got %g", t.ValidationSplit)
	}
	switch t.Scheduler {
	case "none":
	case "step", "exponential", "plateau":
		if t.SchedulerGamma <= 0 || t.SchedulerGamma >= 1 {
			return errors.Wrapf(ErrInvalid, "scheduler_gamma must be in (0, 1), got %g", t.SchedulerGamma)
		}
		if t.Scheduler != "exponential" && t.SchedulerStep <= 0 {
			return errors.Wrapf(ErrInvalid, "scheduler_step must be positive, got %d", t.SchedulerStep)
		}
		if t.MinLearningRate < 0 {
			return errors.Wrapf(ErrInvalid, "min_learning_rate must not be negative, got %g", t.MinLearningRate)
		}
	default:
		return errors.Wrapf(ErrInvalid, "scheduler %q", t.Scheduler)
	}
	if t.Patience < 0 {
		return errors.Wrapf(ErrInvalid, "patience must not be negative, got %d", t.Patience)
	}
	return nil
}
