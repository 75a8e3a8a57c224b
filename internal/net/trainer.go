package net

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/FlavioCFOliveira/vqlink/internal/loss"
	"github.com/FlavioCFOliveira/vqlink/internal/opt"
	"github.com/FlavioCFOliveira/vqlink/internal/vq"
)

// Losses are the mean loss terms of a step, an epoch or an evaluation.
// Reconstruction is normalized by the training-set variance.
type Losses struct {
	Total          float64
	Reconstruction float64
	Codebook       float64
	Commitment     float64
}

func (l *Losses) add(o Losses, w float64) {
	l.Total += w * o.Total
	l.Reconstruction += w * o.Reconstruction
	l.Codebook += w * o.Codebook
	l.Commitment += w * o.Commitment
}

// EpochRecord is one line of the training history.
type EpochRecord struct {
	Epoch int
	Train Losses
	// Val is only meaningful when HasVal is set.
	Val          Losses
	HasVal       bool
	LearningRate float64

	Active     int
	Entropy    float64
	Perplexity float64
	// EMARates holds each embedding's effective update rate at the end of
	// the epoch. Nil for gradient-trained codebooks.
	EMARates []float64

	// Reinit names the strategy that replaces the codebook once this epoch's
	// callbacks have run, empty if it is left alone.
	Reinit   string
	Duration time.Duration
}

// MeanEMARate averages EMARates, or returns 0 when there are none.
func (r EpochRecord) MeanEMARate() float64 {
	if len(r.EMARates) == 0 {
		return 0
	}
	return stat.Mean(r.EMARates, nil)
}

type rateReporter interface {
	EffectiveRates() []float64
}

// Monitored returns the validation total loss, or the training total when
// there is no validation split.
func (r EpochRecord) Monitored() float64 {
	if r.HasVal {
		return r.Val.Total
	}
	return r.Train.Total
}

// TrainerConfig controls Fit.
type TrainerConfig struct {
	Epochs    int
	BatchSize int
	// ValidationSplit is the fraction of rows, taken from the end, held out
	// for validation.
	ValidationSplit float64
	// Loss is the reconstruction loss before variance normalization.
	// Nil means MSE.
	Loss loss.Loss

	// Strategy re-seeds the codebook from encoder outputs at the epochs
	// Schedule selects. Nil keeps the random initialization.
	Strategy     vq.Reinitializer
	StrategyName string
	Schedule     vq.ReinitSchedule

	Seed uint64
}

// Option configures optional Trainer collaborators.
type Option func(*Trainer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// WithCallbacks appends training callbacks.
func WithCallbacks(cbs ...Callback) Option {
	return func(t *Trainer) { t.callbacks = append(t.callbacks, cbs...) }
}

// WithUtilizationSink forwards per-epoch codebook statistics to sink.
func WithUtilizationSink(sink vq.UtilizationSink) Option {
	return func(t *Trainer) { t.sink = sink }
}

// WithNormalization records the min-max bounds the training data was
// normalized with, so checkpoints can normalize new data the same way.
func WithNormalization(lo, hi []float64) Option {
	return func(t *Trainer) { t.normMin, t.normMax = lo, hi }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(t *Trainer) { t.runID = id }
}

// Trainer runs the VQ-VAE training loop.
type Trainer struct {
	model     *Model
	opt       opt.Optimizer
	cfg       TrainerConfig
	base      loss.Loss
	recon     loss.Loss
	logger    *zap.Logger
	callbacks []Callback
	sink      vq.UtilizationSink
	tracker   *vq.Tracker
	rng       *rand.Rand
	runID     string
	variance  float64
	normMin   []float64
	normMax   []float64

	history []EpochRecord
	stop    bool
}

// NewTrainer validates cfg and creates a trainer for m.
func NewTrainer(m *Model, o opt.Optimizer, cfg TrainerConfig, opts ...Option) (*Trainer, error) {
	if cfg.Epochs <= 0 || cfg.BatchSize <= 0 {
		return nil, errors.Wrapf(vq.ErrInvalidConfig, "epochs %d and batch size %d must be positive", cfg.Epochs, cfg.BatchSize)
	}
	if cfg.ValidationSplit < 0 || cfg.ValidationSplit >= 1 {
		return nil, errors.Wrapf(vq.ErrInvalidConfig, "validation split must be in [0, 1), got %g", cfg.ValidationSplit)
	}
	if cfg.Loss == nil {
		cfg.Loss = loss.MSE{}
	}
	if cfg.Strategy != nil && cfg.StrategyName == "" {
		cfg.StrategyName = "custom"
	}

	t := &Trainer{
		model:    m,
		opt:      o,
		cfg:      cfg,
		base:     cfg.Loss,
		recon:    loss.NewNormalized(cfg.Loss, 1),
		variance: 1,
		logger:   zap.NewNop(),
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
		runID:    uuid.NewString(),
	}
	for _, apply := range opts {
		apply(t)
	}
	tracker, err := vq.NewTracker(m.Quantizer().Codebook().Size(), t.sink)
	if err != nil {
		return nil, err
	}
	t.tracker = tracker
	return t, nil
}

// SetVarianceScale sets the divisor of the reconstruction loss. Fit sets it
// to the variance of the training rows.
func (t *Trainer) SetVarianceScale(v float64) {
	t.variance = v
	t.recon = loss.NewNormalized(t.base, v)
}

// Metadata describes the data this trainer was fitted on.
func (t *Trainer) Metadata() Metadata {
	return Metadata{RunID: t.runID, Variance: t.variance, Min: t.normMin, Max: t.normMax}
}

// TrainStep performs one optimization step on the batch x:
// forward, backward, optimizer step, then re-encode x with the updated
// encoder and feed the quantizer's statistics hook.
func (t *Trainer) TrainStep(x *mat.Dense) (Losses, error) {
	out, err := t.model.Forward(x)
	if err != nil {
		return Losses{}, err
	}
	l := t.losses(out, x)
	if math.IsNaN(l.Total) || math.IsInf(l.Total, 0) {
		return Losses{}, errors.Wrapf(vq.ErrNonFinite, "training loss %g", l.Total)
	}

	t.model.Backward(t.recon.Backward(out, x))
	t.opt.Step(t.model.Params())

	q := t.model.Quantizer()
	if err := q.Update(t.model.Encode(x)); err != nil {
		return Losses{}, errors.Wrap(err, "updating codebook statistics")
	}
	if q.Training() {
		if err := t.tracker.Observe(q.Counts()); err != nil {
			return Losses{}, err
		}
	}
	return l, nil
}

func (t *Trainer) losses(out, x *mat.Dense) Losses {
	ql := t.model.Quantizer().Losses()
	l := Losses{
		Reconstruction: t.recon.Forward(out, x),
		Codebook:       ql.Codebook,
		Commitment:     ql.Commitment,
	}
	l.Total = l.Reconstruction + l.Codebook + l.Commitment
	return l
}

// Fit trains on the rows of data for the configured number of epochs or
// until a callback stops it, and returns the history. Scheduled codebook
// re-initializations run after the epoch's callbacks and encode every row of
// data, validation rows included.
func (t *Trainer) Fit(ctx context.Context, data *mat.Dense) ([]EpochRecord, error) {
	if data.IsEmpty() {
		return nil, errors.Wrap(vq.ErrShapeMismatch, "no training data")
	}
	n, _ := data.Dims()
	splitAt := int(float64(n) * (1 - t.cfg.ValidationSplit))
	if splitAt <= 0 {
		return nil, errors.Wrapf(vq.ErrShapeMismatch, "validation split %g leaves no training rows out of %d", t.cfg.ValidationSplit, n)
	}
	train := rowRange(data, 0, splitAt)
	var val *mat.Dense
	if splitAt < n {
		val = rowRange(data, splitAt, n)
	}
	t.SetVarianceScale(Variance(train))

	t.stop = false
	for _, cb := range t.callbacks {
		cb.OnTrainBegin(t)
	}
	defer func() {
		for _, cb := range t.callbacks {
			cb.OnTrainEnd(t)
		}
	}()

	order := make([]int, splitAt)
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < t.cfg.Epochs && !t.stop; epoch++ {
		start := time.Now()
		for _, cb := range t.callbacks {
			cb.OnEpochBegin(epoch, t)
		}

		t.model.SetTraining(true)
		t.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var sum Losses
		for b, lo := 0, 0; lo < splitAt; b, lo = b+1, lo+t.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return t.History(), errors.Wrapf(err, "epoch %d", epoch)
			}
			hi := min(lo+t.cfg.BatchSize, splitAt)
			for _, cb := range t.callbacks {
				cb.OnBatchBegin(b, t)
			}
			l, err := t.TrainStep(gatherRows(train, order[lo:hi]))
			if err != nil {
				return t.History(), errors.Wrapf(err, "epoch %d batch %d", epoch, b)
			}
			sum.add(l, float64(hi-lo)/float64(splitAt))
			for _, cb := range t.callbacks {
				cb.OnBatchEnd(b, l, t)
			}
		}

		rec := EpochRecord{
			Epoch:        epoch,
			Train:        sum,
			LearningRate: t.opt.LearningRate(),
		}

		var dist []float64
		if val != nil {
			ev, err := t.Evaluate(val)
			if err != nil {
				return t.History(), errors.Wrapf(err, "validating epoch %d", epoch)
			}
			rec.Val, rec.HasVal = ev.Losses, true
			dist = ev.Counts
		}

		stats, err := t.tracker.EndEpoch(epoch, t.model.Quantizer().AccumulativeCounts(), dist)
		if err != nil {
			return t.History(), err
		}
		rec.Active, rec.Entropy, rec.Perplexity = stats.Active, stats.Entropy, stats.Perplexity

		if r, ok := t.model.Quantizer().(rateReporter); ok {
			rec.EMARates = r.EffectiveRates()
		}

		due := t.cfg.Strategy != nil && t.cfg.Schedule.Due(epoch)
		if due {
			rec.Reinit = t.cfg.StrategyName
		}

		rec.Duration = time.Since(start)
		t.history = append(t.history, rec)
		for _, cb := range t.callbacks {
			cb.OnEpochEnd(epoch, rec, t)
		}

		if !due {
			continue
		}
		if t.stop {
			t.history[len(t.history)-1].Reinit = ""
			continue
		}
		if err := t.reinitialize(data); err != nil {
			return t.History(), errors.Wrapf(err, "re-initializing codebook after epoch %d", epoch)
		}
		t.logger.Info("codebook re-initialized",
			zap.Int("epoch", epoch),
			zap.String("strategy", t.cfg.StrategyName))
	}

	return t.History(), nil
}

func (t *Trainer) reinitialize(x *mat.Dense) error {
	q := t.model.Quantizer()
	return vq.Reinitialize(q, t.cfg.Strategy, t.model.Encode(x), q.Codebook().Size())
}

// Evaluation is the result of Evaluate.
type Evaluation struct {
	Losses
	// MSE is the plain mean squared reconstruction error.
	MSE float64
	// Counts is the code assignment histogram of the evaluated rows.
	Counts     []float64
	Active     int
	Entropy    float64
	Perplexity float64
}

// Evaluate runs x through the model in evaluation mode, batch by batch, and
// restores the previous mode afterwards.
func (t *Trainer) Evaluate(x *mat.Dense) (Evaluation, error) {
	if x.IsEmpty() {
		return Evaluation{}, errors.Wrap(vq.ErrShapeMismatch, "no evaluation data")
	}
	q := t.model.Quantizer()
	prev := q.Training()
	t.model.SetTraining(false)
	defer t.model.SetTraining(prev)

	n, _ := x.Dims()
	cb := q.Codebook()
	ev := Evaluation{Counts: make([]float64, cb.Size())}
	for lo := 0; lo < n; lo += t.cfg.BatchSize {
		hi := min(lo+t.cfg.BatchSize, n)
		batch := rowRange(x, lo, hi)
		out, err := t.model.Forward(batch)
		if err != nil {
			return Evaluation{}, err
		}
		w := float64(hi-lo) / float64(n)
		ev.Losses.add(t.losses(out, batch), w)
		ev.MSE += w * loss.MSE{}.Forward(out, batch)

		idx, err := cb.Nearest(t.model.Encode(batch))
		if err != nil {
			return Evaluation{}, err
		}
		for i, c := range cb.Counts(idx) {
			ev.Counts[i] += c
		}
	}
	ev.Active = vq.ActiveEmbeddings(ev.Counts)
	ev.Entropy = vq.UsageEntropy(ev.Counts)
	ev.Perplexity = math.Exp(ev.Entropy)
	return ev, nil
}

// Stop makes Fit return after the current epoch.
func (t *Trainer) Stop() {
	t.stop = true
}

// History returns the records of every finished epoch.
func (t *Trainer) History() []EpochRecord {
	return append([]EpochRecord(nil), t.history...)
}

// Model returns the model being trained.
func (t *Trainer) Model() *Model {
	return t.model
}

// Optimizer returns the optimizer.
func (t *Trainer) Optimizer() opt.Optimizer {
	return t.opt
}

// Logger returns the trainer's logger.
func (t *Trainer) Logger() *zap.Logger {
	return t.logger
}

// Tracker returns the utilization tracker.
func (t *Trainer) Tracker() *vq.Tracker {
	return t.tracker
}

// RunID identifies this training run in checkpoints and history files.
func (t *Trainer) RunID() string {
	return t.runID
}

// rowRange copies rows [lo, hi) of m.
func rowRange(m *mat.Dense, lo, hi int) *mat.Dense {
	_, c := m.Dims()
	return mat.DenseCopyOf(m.Slice(lo, hi, 0, c))
}

// gatherRows copies the listed rows of m into a new matrix.
func gatherRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}
