package vq

import (
	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"
)

// Kind names a quantizer variant in configs and model files.
type Kind string

const (
	KindGradient Kind = "gradient"
	KindEMA      Kind = "ema"
)

// State is the serializable state of a quantizer. It is the boundary between
// the numeric layer and whatever persistence format stores it: counters are
// plain values here and never become trainable parameters.
type State struct {
	Kind          Kind
	Dim           int
	NumEmbeddings int
	Beta          float64
	Decay         float64
	Epsilon       float64

	// Codebook is D×K, row-major.
	Codebook []float64

	Count        []float64
	Accumulative []float64

	// EMA variant only.
	EMACount      []float64
	EmbeddingsSum []float64
}

// State snapshots the quantizer.
func (q *Quantizer) State() State {
	return State{
		Kind:          KindGradient,
		Dim:           q.codebook.Dim(),
		NumEmbeddings: q.codebook.Size(),
		Beta:          q.beta,
		Codebook:      flatten(q.codebook.Raw()),
		Count:         q.Counts(),
		Accumulative:  q.AccumulativeCounts(),
	}
}

// SetState restores a snapshot taken from a quantizer of the same shape.
func (q *Quantizer) SetState(s State) error {
	if err := checkState(s, KindGradient, q.codebook); err != nil {
		return err
	}
	if err := q.codebook.Replace(mat.NewDense(s.Dim, s.NumEmbeddings, append([]float64(nil), s.Codebook...))); err != nil {
		return err
	}
	q.beta = s.Beta
	restoreCounts(q.count, s.Count)
	restoreCounts(q.accumulative, s.Accumulative)
	return nil
}

// State snapshots the quantizer, including its EMA statistics.
func (q *EMAQuantizer) State() State {
	return State{
		Kind:          KindEMA,
		Dim:           q.codebook.Dim(),
		NumEmbeddings: q.codebook.Size(),
		Beta:          q.beta,
		Decay:         q.decay,
		Epsilon:       q.epsilon,
		Codebook:      flatten(q.codebook.Raw()),
		Count:         q.Counts(),
		Accumulative:  q.AccumulativeCounts(),
		EMACount:      q.EMACount(),
		EmbeddingsSum: flatten(q.embeddingsSum),
	}
}

// SetState restores a snapshot taken from an EMA quantizer of the same shape.
func (q *EMAQuantizer) SetState(s State) error {
	if err := checkState(s, KindEMA, q.codebook); err != nil {
		return err
	}
	if s.Decay <= 0 || s.Decay >= 1 || s.Epsilon <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "decay %g, epsilon %g", s.Decay, s.Epsilon)
	}
	if len(s.EmbeddingsSum) != 0 && len(s.EmbeddingsSum) != s.Dim*s.NumEmbeddings {
		return errors.Wrapf(ErrShapeMismatch, "embeddings sum has %d values", len(s.EmbeddingsSum))
	}
	if err := q.codebook.Replace(mat.NewDense(s.Dim, s.NumEmbeddings, append([]float64(nil), s.Codebook...))); err != nil {
		return err
	}
	q.beta = s.Beta
	q.decay = s.Decay
	q.epsilon = s.Epsilon
	restoreCounts(q.count, s.Count)
	restoreCounts(q.accumulative, s.Accumulative)
	restoreCounts(q.emaCount, s.EMACount)
	if len(s.EmbeddingsSum) != 0 {
		q.embeddingsSum.Copy(mat.NewDense(s.Dim, s.NumEmbeddings, append([]float64(nil), s.EmbeddingsSum...)))
	}
	return nil
}

func checkState(s State, kind Kind, cb *Codebook) error {
	if s.Kind != kind {
		return errors.Wrapf(ErrInvalidConfig, "state is for a %q quantizer, not %q", s.Kind, kind)
	}
	if s.Dim != cb.Dim() || s.NumEmbeddings != cb.Size() {
		return errors.Wrapf(ErrShapeMismatch, "state is %d×%d, codebook is %d×%d",
			s.Dim, s.NumEmbeddings, cb.Dim(), cb.Size())
	}
	if len(s.Codebook) != s.Dim*s.NumEmbeddings {
		return errors.Wrapf(ErrShapeMismatch, "codebook has %d values, want %d", len(s.Codebook), s.Dim*s.NumEmbeddings)
	}
	for _, c := range [][]float64{s.Count, s.Accumulative, s.EMACount} {
		if len(c) != 0 && len(c) != s.NumEmbeddings {
			return errors.Wrapf(ErrShapeMismatch, "counter has %d entries, want %d", len(c), s.NumEmbeddings)
		}
	}
	if s.Beta < 0 {
		return errors.Wrapf(ErrInvalidConfig, "beta %g", s.Beta)
	}
	return nil
}

// restoreCounts copies src into dst, or zeroes dst when src was not saved.
func restoreCounts(dst, src []float64) {
	if len(src) == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	copy(dst, src)
}

func flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}
