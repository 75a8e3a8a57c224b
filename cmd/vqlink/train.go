package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/FlavioCFOliveira/vqlink/internal/net"
	"github.com/FlavioCFOliveira/vqlink/internal/obs"
	"github.com/FlavioCFOliveira/vqlink/vqlink"
)

var (
	trainConfig  string
	trainData    string
	trainHeader  bool
	trainModel   string
	trainHistory string
	trainLogEach int
	trainTest    float64
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a VQ-VAE on CSV windows",
	Long: `Train a VQ-VAE on the rows of a CSV file.

Settings come from --config (YAML) over the built-in defaults. The best model
by validation loss is written to output.model_path and the per-epoch history
to output.history_path. SIGINT stops training after the current batch.

--test-split holds out the last fraction of rows before training. The saved
model is scored on them once training ends.`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.StringVar(&trainConfig, "config", "", "YAML training config")
	f.StringVar(&trainData, "data", "", "CSV training data, one window per row (required)")
	f.BoolVar(&trainHeader, "header", true, "data has a header row")
	f.StringVar(&trainModel, "model", "", "override output.model_path")
	f.StringVar(&trainHistory, "history", "", "override output.history_path")
	f.IntVar(&trainLogEach, "log-every", 10, "log a summary every N epochs")
	f.Float64Var(&trainTest, "test-split", 0, "fraction of rows, from the end, held out for a final test")
	_ = trainCmd.MarkFlagRequired("data")
}

func loadTrainConfig(cmd *cobra.Command) (*vqlink.Config, error) {
	cfg := vqlink.DefaultConfig()
	if trainConfig != "" {
		var err error
		if cfg, err = vqlink.LoadConfig(trainConfig); err != nil {
			return nil, err
		}
	}
	if trainModel != "" {
		cfg.Output.ModelPath = trainModel
	}
	if trainHistory != "" {
		cfg.Output.HistoryPath = trainHistory
	}
	// The config's level applies unless set on the command line.
	if !cmd.Flags().Changed("log-level") && cfg.LogLevel != "" && cfg.LogLevel != logLevel {
		if err := setLogger(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadTrainConfig(cmd)
	if err != nil {
		return err
	}

	ds, err := vqlink.LoadCSV(trainData, trainHeader)
	if err != nil {
		return err
	}
	if ds.Dim() != cfg.Model.InputDim {
		return errors.Wrapf(vqlink.ErrInvalidConfig, "%s has %d columns, model.input_dim is %d", trainData, ds.Dim(), cfg.Model.InputDim)
	}
	if trainTest < 0 || trainTest >= 1 {
		return errors.Wrapf(vqlink.ErrInvalidConfig, "test split must be in [0, 1), got %g", trainTest)
	}
	ds, test := ds.Split(1 - trainTest)
	var opts []vqlink.Option
	if cfg.Training.Normalize {
		ds.Normalize()
		opts = append(opts, vqlink.WithNormalization(ds.Bounds()))
	}

	setup, err := vqlink.FromConfig(cfg)
	if err != nil {
		return err
	}

	metrics := obs.NewMetrics()
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, metrics)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	checkpoint := net.NewModelCheckpoint(cfg.Output.ModelPath)
	callbacks := []net.Callback{
		net.Logger{Interval: trainLogEach},
		net.NewCSVLogger(cfg.Output.HistoryPath, false),
		checkpoint,
		net.MetricsCallback{Sink: metrics},
	}
	if setup.Scheduler != nil {
		callbacks = append(callbacks, net.NewSchedulerCallback(setup.Scheduler))
	}
	if cfg.Training.Patience > 0 {
		callbacks = append(callbacks, net.NewEarlyStopping(cfg.Training.Patience, 0))
	}

	opts = append(opts,
		vqlink.WithLogger(logger),
		vqlink.WithCallbacks(callbacks...),
		vqlink.WithUtilizationSink(metrics))
	trainer, err := vqlink.NewTrainer(setup.Model, setup.Optimizer, setup.Trainer, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("training started",
		zap.String("run_id", trainer.RunID()),
		zap.String("data", trainData),
		zap.Int("rows", ds.Len()),
		zap.Int("test_rows", test.Len()),
		zap.String("model", cfg.Model.Type),
		zap.String("quantizer", cfg.Quantizer.Kind),
		zap.Int("num_embeddings", cfg.Quantizer.NumEmbeddings),
		zap.String("reinit", cfg.Reinit.Strategy))

	history, err := trainer.Fit(ctx, ds.Matrix())
	if err != nil {
		return err
	}
	if checkpoint.Err != nil {
		return errors.Wrap(checkpoint.Err, "saving model")
	}
	if len(history) == 0 {
		return errors.New("training produced no epochs")
	}

	last := history[len(history)-1]
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %d epochs\n", trainer.RunID(), len(history))
	fmt.Fprintf(out, "  loss %.6f (reconstruction %.6f, codebook %.6f, commitment %.6f)\n",
		last.Train.Total, last.Train.Reconstruction, last.Train.Codebook, last.Train.Commitment)
	if last.HasVal {
		fmt.Fprintf(out, "  validation loss %.6f\n", last.Val.Total)
	}
	fmt.Fprintf(out, "  active embeddings %d/%d, perplexity %.2f\n",
		last.Active, cfg.Quantizer.NumEmbeddings, last.Perplexity)
	fmt.Fprintf(out, "  model %s, history %s\n", cfg.Output.ModelPath, cfg.Output.HistoryPath)

	if test.Len() > 0 {
		ev, err := testBest(cfg.Output.ModelPath, test, cfg.Training.BatchSize)
		if err != nil {
			return errors.Wrap(err, "testing saved model")
		}
		fmt.Fprintf(out, "  test %d rows: loss %.6f, mse %.6f, perplexity %.2f\n",
			test.Len(), ev.Total, ev.MSE, ev.Perplexity)
	}
	return nil
}

// testBest scores the checkpoint at path on the held-out rows.
func testBest(path string, test *vqlink.Dataset, batchSize int) (vqlink.Evaluation, error) {
	m, cp, err := vqlink.Load(path)
	if err != nil {
		return vqlink.Evaluation{}, err
	}
	evaluator, err := prepareEval(m, cp, test, batchSize)
	if err != nil {
		return vqlink.Evaluation{}, err
	}
	return evaluator.Evaluate(test.Matrix())
}

func serveMetrics(addr string, m *obs.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}
