package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/FlavioCFOliveira/vqlink/internal/vq"
	"github.com/FlavioCFOliveira/vqlink/vqlink"
)

var (
	codebookModel   string
	codebookVectors string
)

var codebookCmd = &cobra.Command{
	Use:   "codebook",
	Short: "Summarize the codebook of a trained model",
	Long: `Print codebook usage of a saved model: embeddings used at least once
over the whole training run, the dead ones, and the usage entropy.
With --vectors the embeddings are also written as CSV, one per row.`,
	Args: cobra.NoArgs,
	RunE: runCodebook,
}

func init() {
	f := codebookCmd.Flags()
	f.StringVar(&codebookModel, "model", "", "saved model (required)")
	f.StringVar(&codebookVectors, "vectors", "", "write embeddings to this CSV file")
	_ = codebookCmd.MarkFlagRequired("model")
}

func runCodebook(cmd *cobra.Command, args []string) error {
	m, cp, err := vqlink.Load(codebookModel)
	if err != nil {
		return err
	}
	q := m.Quantizer()
	cb := q.Codebook()
	usage := q.AccumulativeCounts()
	entropy := vq.UsageEntropy(usage)
	dead := vq.DeadEmbeddings(usage)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "model %s (run %s, saved %s)\n", codebookModel, cp.RunID, cp.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "  quantizer %s, %d embeddings of dim %d\n", cp.Quantizer.Kind, cb.Size(), cb.Dim())
	fmt.Fprintf(out, "  active %d, dead %d\n", vq.ActiveEmbeddings(usage), len(dead))
	fmt.Fprintf(out, "  usage entropy %.4f nats, perplexity %.2f\n", entropy, math.Exp(entropy))
	if len(dead) > 0 {
		fmt.Fprintf(out, "  dead embeddings: %v\n", dead)
	}

	if codebookVectors != "" {
		if err := writeVectors(codebookVectors, cb, usage); err != nil {
			return err
		}
		fmt.Fprintf(out, "  vectors written to %s\n", codebookVectors)
	}
	return nil
}

func writeVectors(path string, cb *vq.Codebook, usage []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"index", "usage"}
	for j := 0; j < cb.Dim(); j++ {
		header = append(header, "z"+strconv.Itoa(j))
	}
	if err := w.Write(header); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	for i := 0; i < cb.Size(); i++ {
		row := []string{strconv.Itoa(i), strconv.FormatFloat(usage[i], 'g', -1, 64)}
		for _, v := range cb.Embedding(i) {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return errors.Wrapf(err, "writing %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}
