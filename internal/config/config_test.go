package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
model:
  input_dim: 20
  hidden_dims: [16, 12]
quantizer:
  kind: ema
  num_embeddings: 64
reinit:
  strategy: kmpp
  interval: 5
training:
  optimizer: rmsprop
  epochs: 7
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Model.InputDim)
	assert.Equal(t, 10, cfg.Model.LatentDim)
	assert.Equal(t, []int{16, 12}, cfg.Model.HiddenDims)
	assert.Equal(t, "ema", cfg.Quantizer.Kind)
	assert.Equal(t, 64, cfg.Quantizer.NumEmbeddings)
	assert.Equal(t, 0.99, cfg.Quantizer.Decay)
	assert.Equal(t, "kmpp", cfg.Reinit.Strategy)
	assert.Equal(t, 5, cfg.Reinit.Interval)
	assert.Equal(t, 100, cfg.Reinit.InitEpochs)
	assert.Equal(t, "rmsprop", cfg.Training.Optimizer)
	assert.Equal(t, 7, cfg.Training.Epochs)
	assert.Equal(t, 64, cfg.Training.BatchSize)
}

func TestLoadModelTypeAndScheduler(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
model:
  type: lstm
  hidden_dims: [16]
training:
  scheduler: plateau
  scheduler_step: 4
  scheduler_gamma: 0.2
`))
	require.NoError(t, err)
	assert.Equal(t, "lstm", cfg.Model.Type)
	assert.Equal(t, "plateau", cfg.Training.Scheduler)
	assert.Equal(t, 4, cfg.Training.SchedulerStep)
	assert.Equal(t, 0.2, cfg.Training.SchedulerGamma)
	assert.Equal(t, 1e-6, cfg.Training.MinLearningRate)

	defaults, err := Load(writeConfig(t, "log_level: warn\n"))
	require.NoError(t, err)
	assert.Equal(t, "dense", defaults.Model.Type)
	assert.Equal(t, "none", defaults.Training.Scheduler)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("VQLINK_EPOCHS", "3")
	t.Setenv("VQLINK_LOG_LEVEL", "debug")
	t.Setenv("VQLINK_SEED", "42")

	cfg, err := Load(writeConfig(t, "training:\n  epochs: 50\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Training.Epochs)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint64(42), cfg.Training.Seed)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "model: [1, 2"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "quantizer:\n  kind: lattice\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero input", func(c *Config) { c.Model.InputDim = 0 }},
		{"negative hidden", func(c *Config) { c.Model.HiddenDims = []int{8, -1} }},
		{"zero embeddings", func(c *Config) { c.Quantizer.NumEmbeddings = 0 }},
		{"negative beta", func(c *Config) { c.Quantizer.Beta = -0.1 }},
		{"ema decay one", func(c *Config) { c.Quantizer.Kind = "ema"; c.Quantizer.Decay = 1 }},
		{"ema epsilon zero", func(c *Config) { c.Quantizer.Kind = "ema"; c.Quantizer.Epsilon = 0 }},
		{"unknown strategy", func(c *Config) { c.Reinit.Strategy = "faiss" }},
		{"pca without interval", func(c *Config) { c.Reinit.Strategy = "pca"; c.Reinit.Interval = 0 }},
		{"zero batch", func(c *Config) { c.Training.BatchSize = 0 }},
		{"unknown optimizer", func(c *Config) { c.Training.Optimizer = "lion" }},
		{"zero learning rate", func(c *Config) { c.Training.LearningRate = 0 }},
		{"unknown loss", func(c *Config) { c.Training.Loss = "hinge" }},
		{"validation split one", func(c *Config) { c.Training.ValidationSplit = 1 }},
		{"unknown model type", func(c *Config) { c.Model.Type = "gru" }},
		{"unknown scheduler", func(c *Config) { c.Training.Scheduler = "cosine" }},
		{"scheduler gamma one", func(c *Config) { c.Training.Scheduler = "exponential"; c.Training.SchedulerGamma = 1 }},
		{"step scheduler without step", func(c *Config) { c.Training.Scheduler = "step"; c.Training.SchedulerStep = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	// Decay is only checked for the EMA variant.
	cfg := Default()
	cfg.Quantizer.Decay = 0
	assert.NoError(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Model.HiddenDims = []int{32}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
