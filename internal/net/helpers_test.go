package net

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/vqlink/internal/opt"
	"github.com/FlavioCFOliveira/vqlink/internal/vq"
)

// prototypeData returns n rows of width d drawn around a few fixed patterns,
// which a small VQ-VAE can learn to reconstruct.
func prototypeData(n, d int, seed uint64) *mat.Dense {
	rng := rand.New(rand.NewPCG(seed, seed))
	protos := make([][]float64, 4)
	for p := range protos {
		protos[p] = make([]float64, d)
		for j := range protos[p] {
			protos[p][j] = rng.Float64()
		}
	}
	m := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		proto := protos[i%len(protos)]
		row := m.RawRowView(i)
		for j := range row {
			row[j] = proto[j] + 0.02*rng.NormFloat64()
		}
	}
	return m
}

func newTestModel(t *testing.T, kind vq.Kind) *Model {
	t.Helper()
	m, err := NewModel(ModelConfig{
		InputDim:      8,
		LatentDim:     2,
		Quantizer:     kind,
		NumEmbeddings: 6,
		Seed:          7,
	})
	require.NoError(t, err)
	return m
}

func newTestTrainer(t *testing.T, m *Model, cfg TrainerConfig, opts ...Option) *Trainer {
	t.Helper()
	if cfg.Epochs == 0 {
		cfg.Epochs = 3
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 16
	}
	tr, err := NewTrainer(m, opt.NewAdam(0.01), cfg, opts...)
	require.NoError(t, err)
	return tr
}
