package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/FlavioCFOliveira/vqlink/vqlink"
)

var (
	synthOut    string
	synthWindow int
	synthStride int
	synthCfg    = vqlink.DefaultSINRConfig()
)

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Generate synthetic SINR windows",
	Long: `Generate a regime-switching SINR trace and write it as CSV, one
window of --window consecutive samples per row.`,
	Args: cobra.NoArgs,
	RunE: runSynth,
}

func init() {
	f := synthCmd.Flags()
	f.StringVar(&synthOut, "out", "", "output CSV file (required)")
	f.IntVar(&synthWindow, "window", 40, "samples per window")
	f.IntVar(&synthStride, "stride", 1, "samples between window starts")
	f.IntVar(&synthCfg.Steps, "steps", synthCfg.Steps, "trace length in samples")
	f.Float64Var(&synthCfg.SwitchProb, "switch-prob", synthCfg.SwitchProb, "per-step regime switch probability")
	f.Float64Var(&synthCfg.Phi, "phi", synthCfg.Phi, "AR(1) fading coefficient")
	f.Float64Var(&synthCfg.NoiseStd, "noise", synthCfg.NoiseStd, "fading innovation std in dB")
	f.Float64SliceVar(&synthCfg.Levels, "levels", nil, "regime mean levels in dB")
	f.Uint64Var(&synthCfg.Seed, "seed", synthCfg.Seed, "random seed")
	_ = synthCmd.MarkFlagRequired("out")
}

func runSynth(cmd *cobra.Command, args []string) error {
	trace, err := vqlink.SyntheticSINR(synthCfg)
	if err != nil {
		return err
	}
	ds, err := vqlink.Windows(trace, synthWindow, synthStride)
	if err != nil {
		return err
	}

	f, err := os.Create(synthOut)
	if err != nil {
		return errors.Wrapf(err, "creating %s", synthOut)
	}
	if err := ds.WriteCSV(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", synthOut)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", synthOut)
	}

	logger.Info("synthetic trace written",
		zap.String("path", synthOut),
		zap.Int("steps", synthCfg.Steps),
		zap.Int("windows", ds.Len()),
		zap.Int("window", synthWindow))
	return nil
}
