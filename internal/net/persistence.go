package net

import (
	"encoding/gob"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"

	"github.com/FlavioCFOliveira/vqlink/internal/activations"
	"github.com/FlavioCFOliveira/vqlink/internal/layer"
	"github.com/FlavioCFOliveira/vqlink/internal/vq"
)

// checkpointVersion is bumped whenever Checkpoint changes incompatibly.
const checkpointVersion = 2

// Metadata describes the data a model was trained on.
type Metadata struct {
	RunID string
	// Variance of the training inputs after normalization; zero if unknown.
	Variance float64
	// Per-column min-max bounds used to normalize the training inputs.
	// Empty when the data was used as is.
	Min, Max []float64
}

// Checkpoint is everything needed to rebuild a trained Model. Usage counters
// and EMA statistics travel inside Quantizer and are never trainable.
type Checkpoint struct {
	Version   int
	CreatedAt time.Time
	Metadata

	Model     ModelConfig
	Encoder   []LayerConfig
	Decoder   []LayerConfig
	Quantizer vq.State
}

// LayerConfig holds the configuration needed to reconstruct a layer.
type LayerConfig struct {
	Type    string
	InSize  int
	OutSize int
	// Params concatenates every Param value in Params() order
	Params []float64
	// Activation type for layers that have one
	Activation string
}

type activated interface {
	Activation() activations.Activation
}

func layerType(l layer.Layer) (string, error) {
	switch l.(type) {
	case *layer.Dense:
		return "Dense", nil
	case *layer.LSTM:
		return "LSTM", nil
	case *layer.RepeatVector:
		return "RepeatVector", nil
	case *layer.TimeDistributed:
		return "TimeDistributed", nil
	default:
		return "", errors.Newf("unsupported layer type %T", l)
	}
}

func activationName(l layer.Layer) string {
	if a, ok := l.(activated); ok {
		return activations.Name(a.Activation())
	}
	return ""
}

// ExtractLayerConfig extracts the configuration from a layer.
func ExtractLayerConfig(l layer.Layer) (LayerConfig, error) {
	typ, err := layerType(l)
	if err != nil {
		return LayerConfig{}, err
	}
	var params []float64
	for _, p := range l.Params() {
		params = append(params, p.Value...)
	}
	return LayerConfig{
		Type:       typ,
		InSize:     l.InSize(),
		OutSize:    l.OutSize(),
		Activation: activationName(l),
		Params:     params,
	}, nil
}

// Apply loads the configuration's parameters into l after checking that l
// has the same type and shape.
func (c *LayerConfig) Apply(l layer.Layer) error {
	typ, err := layerType(l)
	if err != nil {
		return err
	}
	if c.Type != typ {
		return errors.Newf("cannot load %s config into %T", c.Type, l)
	}
	if c.InSize != l.InSize() || c.OutSize != l.OutSize() || c.Activation != activationName(l) {
		return errors.Wrapf(vq.ErrShapeMismatch, "saved %s %s %d→%d, model %s %d→%d",
			c.Type, c.Activation, c.InSize, c.OutSize,
			activationName(l), l.InSize(), l.OutSize())
	}
	params := l.Params()
	total := 0
	for _, p := range params {
		total += len(p.Value)
	}
	if len(c.Params) != total {
		return errors.Wrapf(vq.ErrShapeMismatch, "saved %s has %d params, model has %d", c.Type, len(c.Params), total)
	}
	rest := c.Params
	for _, p := range params {
		copy(p.Value, rest[:len(p.Value)])
		rest = rest[len(p.Value):]
	}
	return nil
}

// NewCheckpoint snapshots m.
func NewCheckpoint(m *Model, meta Metadata) (*Checkpoint, error) {
	cp := &Checkpoint{
		Version:   checkpointVersion,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
		Model:     m.Config(),
		Quantizer: m.Quantizer().State(),
	}
	for _, l := range m.Encoder().Layers() {
		cfg, err := ExtractLayerConfig(l)
		if err != nil {
			return nil, err
		}
		cp.Encoder = append(cp.Encoder, cfg)
	}
	for _, l := range m.Decoder().Layers() {
		cfg, err := ExtractLayerConfig(l)
		if err != nil {
			return nil, err
		}
		cp.Decoder = append(cp.Decoder, cfg)
	}
	return cp, nil
}

// Restore rebuilds the model described by the checkpoint.
func (cp *Checkpoint) Restore() (*Model, error) {
	if cp.Version != checkpointVersion {
		return nil, errors.Newf("unsupported checkpoint version %d", cp.Version)
	}
	m, err := NewModel(cp.Model)
	if err != nil {
		return nil, errors.Wrap(err, "rebuilding model")
	}
	if err := applyLayers(m.Encoder(), cp.Encoder); err != nil {
		return nil, err
	}
	if err := applyLayers(m.Decoder(), cp.Decoder); err != nil {
		return nil, err
	}
	if err := m.Quantizer().SetState(cp.Quantizer); err != nil {
		return nil, errors.Wrap(err, "restoring quantizer")
	}
	return m, nil
}

func applyLayers(s *layer.Stack, cfgs []LayerConfig) error {
	layers := s.Layers()
	if len(layers) != len(cfgs) {
		return errors.Wrapf(vq.ErrShapeMismatch, "%s has %d layers, checkpoint has %d", s.Name(), len(layers), len(cfgs))
	}
	for i := range cfgs {
		if err := cfgs[i].Apply(layers[i]); err != nil {
			return errors.Wrapf(err, "%s layer %d", s.Name(), i)
		}
	}
	return nil
}

// Encode writes the checkpoint to w as a zstd-compressed gob stream.
func (cp *Checkpoint) Encode(w io.Writer) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return errors.Wrap(err, "creating compressor")
	}
	if err := gob.NewEncoder(zw).Encode(cp); err != nil {
		zw.Close()
		return errors.Wrap(err, "encoding checkpoint")
	}
	return errors.Wrap(zw.Close(), "flushing compressor")
}

// DecodeCheckpoint reads a checkpoint written by Encode.
func DecodeCheckpoint(r io.Reader) (*Checkpoint, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "creating decompressor")
	}
	defer zr.Close()

	var cp Checkpoint
	if err := gob.NewDecoder(zr).Decode(&cp); err != nil {
		return nil, errors.Wrap(err, "decoding checkpoint")
	}
	return &cp, nil
}

// Save writes m and the metadata of its training data to filename.
func Save(filename string, m *Model, meta Metadata) error {
	cp, err := NewCheckpoint(m, meta)
	if err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	if err := cp.Encode(file); err != nil {
		file.Close()
		return err
	}
	return errors.Wrap(file.Close(), "closing checkpoint")
}

// Load reads a model saved with Save. The checkpoint is returned alongside
// for its metadata.
func Load(filename string) (*Model, *Checkpoint, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	cp, err := DecodeCheckpoint(file)
	if err != nil {
		return nil, nil, err
	}
	m, err := cp.Restore()
	if err != nil {
		return nil, nil, err
	}
	return m, cp, nil
}
