package net

import (
	"encoding/csv"
	"os"
	"strconv"

	"go.uber.org/zap"
)

// CSVLogger writes one history line per epoch to a CSV file.
type CSVLogger struct {
	BaseCallback
	Filename string
	Append   bool

	file   *os.File
	writer *csv.Writer
}

var csvHeader = []string{
	"run_id", "epoch",
	"total_loss", "reconstruction_loss", "codebook_loss", "commitment_loss",
	"val_total_loss", "val_reconstruction_loss",
	"learning_rate", "active_embeddings", "latent_entropy", "perplexity", "ema_rate",
	"reinit", "time_seconds",
}

// NewCSVLogger creates a new CSVLogger.
func NewCSVLogger(filename string, append bool) *CSVLogger {
	return &CSVLogger{
		Filename: filename,
		Append:   append,
	}
}

func (c *CSVLogger) OnTrainBegin(t *Trainer) {
	mode := os.O_CREATE | os.O_WRONLY
	if c.Append {
		mode |= os.O_APPEND
	} else {
		mode |= os.O_TRUNC
	}

	file, err := os.OpenFile(c.Filename, mode, 0644)
	if err != nil {
		t.Logger().Error("opening history file", zap.String("path", c.Filename), zap.Error(err))
		return
	}
	c.file = file
	c.writer = csv.NewWriter(file)

	// Write header if not appending or if file is empty
	info, err := file.Stat()
	if err == nil && (info.Size() == 0 || !c.Append) {
		c.writer.Write(csvHeader)
		c.writer.Flush()
	}
}

func (c *CSVLogger) OnEpochEnd(epoch int, rec EpochRecord, t *Trainer) {
	if c.writer == nil {
		return
	}

	val, valRecon, rate := "", "", ""
	if rec.HasVal {
		val, valRecon = formatFloat(rec.Val.Total), formatFloat(rec.Val.Reconstruction)
	}
	if len(rec.EMARates) > 0 {
		rate = formatFloat(rec.MeanEMARate())
	}
	record := []string{
		t.RunID(),
		strconv.Itoa(epoch),
		formatFloat(rec.Train.Total),
		formatFloat(rec.Train.Reconstruction),
		formatFloat(rec.Train.Codebook),
		formatFloat(rec.Train.Commitment),
		val,
		valRecon,
		formatFloat(rec.LearningRate),
		strconv.Itoa(rec.Active),
		formatFloat(rec.Entropy),
		formatFloat(rec.Perplexity),
		rate,
		rec.Reinit,
		strconv.FormatFloat(rec.Duration.Seconds(), 'f', 2, 64),
	}

	if err := c.writer.Write(record); err != nil {
		t.Logger().Error("writing history record", zap.Error(err))
	}
	c.writer.Flush()
}

func (c *CSVLogger) OnTrainEnd(t *Trainer) {
	if c.file != nil {
		c.writer.Flush()
		c.file.Close()
		c.file = nil
		c.writer = nil
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
