package net

import (
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/stat/distuv"
)

// SINRConfig describes a synthetic SINR trace: a Markov chain over mean
// levels (dB) with AR(1) fading around the current level.
type SINRConfig struct {
	Steps int
	// Levels are the regime means in dB. Empty means DefaultSINRLevels.
	Levels []float64
	// SwitchProb is the per-step probability of jumping to another regime.
	SwitchProb float64
	// Phi is the AR(1) coefficient of the fading term, in [0, 1).
	Phi float64
	// NoiseStd is the standard deviation of the AR(1) innovation in dB.
	NoiseStd float64
	Seed     uint64
}

// DefaultSINRLevels roughly span cell-edge to line-of-sight conditions.
var DefaultSINRLevels = []float64{-5, 5, 15, 25}

// DefaultSINRConfig returns the generator settings used by the CLI.
func DefaultSINRConfig() SINRConfig {
	return SINRConfig{
		Steps:      10000,
		SwitchProb: 0.01,
		Phi:        0.9,
		NoiseStd:   1.5,
		Seed:       1,
	}
}

// SyntheticSINR generates a trace of cfg.Steps SINR samples.
// The same config always yields the same trace.
func SyntheticSINR(cfg SINRConfig) ([]float64, error) {
	if cfg.Steps <= 0 {
		return nil, errors.Newf("steps must be positive, got %d", cfg.Steps)
	}
	if cfg.SwitchProb < 0 || cfg.SwitchProb > 1 {
		return nil, errors.Newf("switch probability must be in [0, 1], got %g", cfg.SwitchProb)
	}
	if cfg.Phi < 0 || cfg.Phi >= 1 {
		return nil, errors.Newf("phi must be in [0, 1), got %g", cfg.Phi)
	}
	if cfg.NoiseStd < 0 {
		return nil, errors.Newf("noise std must not be negative, got %g", cfg.NoiseStd)
	}
	levels := cfg.Levels
	if len(levels) == 0 {
		levels = DefaultSINRLevels
	}

	src := rand.NewPCG(cfg.Seed, cfg.Seed^0xda3e39cb94b95bdb)
	rng := rand.New(src)
	noise := distuv.Normal{Mu: 0, Sigma: cfg.NoiseStd, Src: src}

	trace := make([]float64, cfg.Steps)
	regime := rng.IntN(len(levels))
	var fading float64
	for i := range trace {
		if len(levels) > 1 && rng.Float64() < cfg.SwitchProb {
			// Jump to any other regime
			next := rng.IntN(len(levels) - 1)
			if next >= regime {
				next++
			}
			regime = next
		}
		if cfg.NoiseStd > 0 {
			fading = cfg.Phi*fading + noise.Rand()
		}
		trace[i] = levels[regime] + fading
	}
	return trace, nil
}
