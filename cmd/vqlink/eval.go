package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/vqlink/internal/net"
	"github.com/FlavioCFOliveira/vqlink/vqlink"
)

var (
	evalModel           string
	evalData            string
	evalHeader          bool
	evalBatchSize       int
	evalReconstructions string
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a trained model on CSV windows",
	Long: `Run the rows of a CSV file through a saved model in evaluation mode and
report the loss terms, the reconstruction MSE and codebook usage.

Rows are normalized with the bounds stored at training time, and the
reconstruction loss is scaled by the training-set variance. With
--reconstructions the decoded rows are written back in the original scale.`,
	Args: cobra.NoArgs,
	RunE: runEval,
}

func init() {
	f := evalCmd.Flags()
	f.StringVar(&evalModel, "model", "", "saved model (required)")
	f.StringVar(&evalData, "data", "", "CSV data, one window per row (required)")
	f.BoolVar(&evalHeader, "header", true, "data has a header row")
	f.IntVar(&evalBatchSize, "batch-size", 256, "rows per forward pass")
	f.StringVar(&evalReconstructions, "reconstructions", "", "write decoded rows to this CSV file")
	_ = evalCmd.MarkFlagRequired("model")
	_ = evalCmd.MarkFlagRequired("data")
}

// prepareEval applies the checkpoint's normalization to ds and returns a
// trainer that scores the model the way training did.
func prepareEval(m *vqlink.Model, cp *vqlink.Checkpoint, ds *vqlink.Dataset, batchSize int) (*vqlink.Trainer, error) {
	if ds.Dim() != m.Config().InputDim {
		return nil, errors.Wrapf(vqlink.ErrShapeMismatch, "data has %d columns, model expects %d", ds.Dim(), m.Config().InputDim)
	}
	if len(cp.Min) > 0 {
		if err := ds.NormalizeWith(cp.Min, cp.Max); err != nil {
			return nil, errors.Wrap(err, "normalizing with training bounds")
		}
	}

	// Evaluate never steps the optimizer.
	trainer, err := vqlink.NewTrainer(m, vqlink.Adam(1e-3),
		vqlink.TrainerConfig{Epochs: 1, BatchSize: batchSize},
		vqlink.WithLogger(logger), vqlink.WithRunID(cp.RunID))
	if err != nil {
		return nil, err
	}
	variance := cp.Variance
	if variance <= 0 {
		variance = net.Variance(ds.Matrix())
		logger.Warn("checkpoint has no training variance, using the data's own", zap.Float64("variance", variance))
	}
	trainer.SetVarianceScale(variance)
	return trainer, nil
}

func runEval(cmd *cobra.Command, args []string) error {
	m, cp, err := vqlink.Load(evalModel)
	if err != nil {
		return err
	}
	ds, err := vqlink.LoadCSV(evalData, evalHeader)
	if err != nil {
		return err
	}
	trainer, err := prepareEval(m, cp, ds, evalBatchSize)
	if err != nil {
		return errors.Wrap(err, evalData)
	}
	x := ds.Matrix()
	ev, err := trainer.Evaluate(x)
	if err != nil {
		return err
	}

	k := m.Quantizer().Codebook().Size()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "model %s (run %s), %d rows\n", evalModel, cp.RunID, ds.Len())
	fmt.Fprintf(out, "  loss %.6f (reconstruction %.6f, codebook %.6f, commitment %.6f)\n",
		ev.Total, ev.Reconstruction, ev.Codebook, ev.Commitment)
	fmt.Fprintf(out, "  mse %.6f\n", ev.MSE)
	fmt.Fprintf(out, "  active embeddings %d/%d, entropy %.4f nats, perplexity %.2f\n",
		ev.Active, k, ev.Entropy, ev.Perplexity)

	if evalReconstructions != "" {
		if err := writeReconstructions(evalReconstructions, m, ds, x); err != nil {
			return err
		}
		fmt.Fprintf(out, "  reconstructions %s\n", evalReconstructions)
	}
	return nil
}

// writeReconstructions decodes x and writes it in ds's original scale.
func writeReconstructions(path string, m *vqlink.Model, ds *vqlink.Dataset, x *mat.Dense) error {
	prev := m.Quantizer().Training()
	m.SetTraining(false)
	defer m.SetTraining(prev)

	rec, err := m.Forward(x)
	if err != nil {
		return err
	}
	ds.Denormalize(rec)

	r, _ := rec.Dims()
	decoded := &vqlink.Dataset{Samples: make([][]float64, r)}
	for i := range decoded.Samples {
		decoded.Samples[i] = mat.Row(nil, i, rec)
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating reconstructions file")
	}
	if err := decoded.WriteCSV(file); err != nil {
		file.Close()
		return err
	}
	return errors.Wrap(file.Close(), "closing reconstructions file")
}
