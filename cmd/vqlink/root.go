package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/FlavioCFOliveira/vqlink/internal/obs"
)

var (
	logLevel string
	logger   = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "vqlink",
	Short: "Train and inspect VQ-VAE models of link-quality traces",
	Long: `vqlink learns a discrete codebook of SINR trace windows with a
vector-quantized autoencoder.

Examples:
  vqlink synth --out traces.csv
  vqlink train --config train.yaml --data traces.csv
  vqlink eval --model vqvae.model --data test.csv
  vqlink codebook --model vqvae.model`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setLogger(logLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(trainCmd, evalCmd, codebookCmd, synthCmd)
}

func setLogger(level string) error {
	l, err := obs.NewLogger(level)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
