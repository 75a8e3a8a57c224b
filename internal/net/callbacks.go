package net

import (
	"math"

	"go.uber.org/zap"

	"github.com/FlavioCFOliveira/vqlink/internal/opt"
)

// Callback defines the interface for training callbacks.
type Callback interface {
	OnTrainBegin(t *Trainer)
	OnTrainEnd(t *Trainer)
	OnEpochBegin(epoch int, t *Trainer)
	OnEpochEnd(epoch int, rec EpochRecord, t *Trainer)
	OnBatchBegin(batch int, t *Trainer)
	OnBatchEnd(batch int, l Losses, t *Trainer)
}

// SchedulerCallback is a callback that wraps a learning rate scheduler.
type SchedulerCallback struct {
	BaseCallback
	scheduler opt.Scheduler
}

func NewSchedulerCallback(scheduler opt.Scheduler) *SchedulerCallback {
	return &SchedulerCallback{scheduler: scheduler}
}

func (c *SchedulerCallback) OnEpochEnd(epoch int, rec EpochRecord, t *Trainer) {
	c.scheduler.Step()
	c.scheduler.StepWithLoss(rec.Monitored())
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (c BaseCallback) OnTrainBegin(t *Trainer)                           {}
func (c BaseCallback) OnTrainEnd(t *Trainer)                             {}
func (c BaseCallback) OnEpochBegin(epoch int, t *Trainer)                {}
func (c BaseCallback) OnEpochEnd(epoch int, rec EpochRecord, t *Trainer) {}
func (c BaseCallback) OnBatchBegin(batch int, t *Trainer)                {}
func (c BaseCallback) OnBatchEnd(batch int, l Losses, t *Trainer)        {}

// EarlyStopping stops training when the monitored loss (validation total,
// or training total without a validation split) has stopped improving.
type EarlyStopping struct {
	BaseCallback
	Patience  int
	Threshold float64

	bestLoss     float64
	numBadEpochs int
	Stopped      bool
}

func NewEarlyStopping(patience int, threshold float64) *EarlyStopping {
	return &EarlyStopping{
		Patience:  patience,
		Threshold: threshold,
		bestLoss:  math.Inf(1),
	}
}

func (c *EarlyStopping) OnTrainBegin(t *Trainer) {
	c.bestLoss = math.Inf(1)
	c.numBadEpochs = 0
	c.Stopped = false
}

func (c *EarlyStopping) OnEpochEnd(epoch int, rec EpochRecord, t *Trainer) {
	loss := rec.Monitored()
	if loss < c.bestLoss-c.Threshold {
		c.bestLoss = loss
		c.numBadEpochs = 0
	} else {
		c.numBadEpochs++
	}

	if c.Patience > 0 && c.numBadEpochs >= c.Patience {
		t.Logger().Info("early stopping",
			zap.Int("epoch", epoch),
			zap.Float64("loss", loss),
			zap.Int("patience", c.Patience))
		c.Stopped = true
		t.Stop()
	}
}

// ModelCheckpoint saves the model after every epoch if it's the best so far.
type ModelCheckpoint struct {
	BaseCallback
	Filename string

	bestLoss float64
	// Err holds the last save error, if any.
	Err error
}

func NewModelCheckpoint(filename string) *ModelCheckpoint {
	return &ModelCheckpoint{
		Filename: filename,
		bestLoss: math.Inf(1),
	}
}

func (c *ModelCheckpoint) OnEpochEnd(epoch int, rec EpochRecord, t *Trainer) {
	loss := rec.Monitored()
	if loss >= c.bestLoss {
		return
	}
	c.bestLoss = loss
	if err := Save(c.Filename, t.Model(), t.Metadata()); err != nil {
		c.Err = err
		t.Logger().Error("saving checkpoint", zap.String("path", c.Filename), zap.Error(err))
		return
	}
	t.Logger().Info("checkpoint saved",
		zap.String("path", c.Filename),
		zap.Int("epoch", epoch),
		zap.Float64("loss", loss))
}

// Logger logs an epoch summary every Interval epochs.
type Logger struct {
	BaseCallback
	Interval int
}

func (c Logger) OnEpochEnd(epoch int, rec EpochRecord, t *Trainer) {
	if c.Interval <= 0 || epoch%c.Interval != 0 {
		return
	}
	fields := []zap.Field{
		zap.Int("epoch", epoch),
		zap.Float64("total_loss", rec.Train.Total),
		zap.Float64("reconstruction_loss", rec.Train.Reconstruction),
		zap.Float64("codebook_loss", rec.Train.Codebook),
		zap.Float64("commitment_loss", rec.Train.Commitment),
		zap.Int("active_embeddings", rec.Active),
		zap.Float64("latent_entropy", rec.Entropy),
		zap.Float64("learning_rate", rec.LearningRate),
		zap.Duration("took", rec.Duration),
	}
	if rec.HasVal {
		fields = append(fields, zap.Float64("val_total_loss", rec.Val.Total))
	}
	if len(rec.EMARates) > 0 {
		fields = append(fields, zap.Float64("ema_rate", rec.MeanEMARate()))
	}
	t.Logger().Info("epoch finished", fields...)
}

// MetricsSink receives per-epoch training metrics.
type MetricsSink interface {
	ObserveEpoch(losses map[string]float64, lr float64)
	ObserveReinit(strategy string)
	ObserveEMARate(rate float64)
}

// MetricsCallback publishes every epoch record to a MetricsSink.
type MetricsCallback struct {
	BaseCallback
	Sink MetricsSink
}

func (c MetricsCallback) OnEpochEnd(epoch int, rec EpochRecord, t *Trainer) {
	losses := map[string]float64{
		"total":          rec.Train.Total,
		"reconstruction": rec.Train.Reconstruction,
		"codebook":       rec.Train.Codebook,
		"commitment":     rec.Train.Commitment,
	}
	if rec.HasVal {
		losses["val_total"] = rec.Val.Total
	}
	c.Sink.ObserveEpoch(losses, rec.LearningRate)
	if len(rec.EMARates) > 0 {
		c.Sink.ObserveEMARate(rec.MeanEMARate())
	}
	if rec.Reinit != "" {
		c.Sink.ObserveReinit(rec.Reinit)
	}
}
