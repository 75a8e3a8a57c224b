// Package net assembles encoder, vector quantizer and decoder into a VQ-VAE
// and trains it.
package net

import (
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/vqlink/internal/activations"
	"github.com/FlavioCFOliveira/vqlink/internal/layer"
	"github.com/FlavioCFOliveira/vqlink/internal/vq"
)

// Quantizer is the bottleneck layer of a Model. Both vq.Quantizer and
// vq.EMAQuantizer implement it.
type Quantizer interface {
	Forward(x mat.Matrix) (*mat.Dense, error)
	Backward(grad *mat.Dense) *mat.Dense
	Params() []layer.Param
	Losses() vq.Losses

	// Update runs the per-step statistics hook on fresh encoder outputs.
	Update(x mat.Matrix) error
	Reinitialize(m mat.Matrix) error
	SetTraining(training bool)
	Training() bool

	Codebook() *vq.Codebook
	Counts() []float64
	AccumulativeCounts() []float64

	State() vq.State
	SetState(s vq.State) error
}

var (
	_ Quantizer = (*vq.Quantizer)(nil)
	_ Quantizer = (*vq.EMAQuantizer)(nil)
)

// Architectures accepted by ModelConfig.Type.
const (
	TypeDense = "dense"
	TypeLSTM  = "lstm"
)

// ModelConfig describes the architecture of a Model.
type ModelConfig struct {
	// Type selects dense or recurrent encoder and decoder stacks.
	// Empty means TypeDense.
	Type      string
	InputDim  int
	LatentDim int
	// HiddenDims are the encoder's hidden widths; the decoder mirrors them.
	// Empty means a single hidden layer of InputDim/2.
	HiddenDims []int
	Activation string

	Quantizer     vq.Kind
	NumEmbeddings int
	Beta          float64
	Decay         float64
	Epsilon       float64

	Seed uint64
}

// Model is a VQ-VAE: encoder, vector quantizer, decoder.
type Model struct {
	cfg       ModelConfig
	encoder   *layer.Stack
	quantizer Quantizer
	decoder   *layer.Stack
}

// NewModel builds the encoder input → hidden... → latent, all with the
// configured activation, and the decoder latent → reversed hidden... → input
// with a linear output layer. TypeLSTM swaps the hidden layers for LSTMs.
func NewModel(cfg ModelConfig) (*Model, error) {
	if cfg.InputDim <= 0 || cfg.LatentDim <= 0 {
		return nil, errors.Wrapf(vq.ErrInvalidConfig, "input %d and latent %d dims must be positive", cfg.InputDim, cfg.LatentDim)
	}
	if cfg.Activation == "" {
		cfg.Activation = "relu"
	}
	act, err := activations.ByName(cfg.Activation)
	if err != nil {
		return nil, errors.Mark(err, vq.ErrInvalidConfig)
	}
	if len(cfg.HiddenDims) == 0 {
		cfg.HiddenDims = []int{max(cfg.InputDim/2, 1)}
	}
	if cfg.Quantizer == "" {
		cfg.Quantizer = vq.KindGradient
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	var enc, dec []layer.Layer
	switch cfg.Type {
	case "", TypeDense:
		cfg.Type = TypeDense
		enc, dec = denseStacks(cfg, act, rng)
	case TypeLSTM:
		enc, dec = lstmStacks(cfg, act, rng)
	default:
		return nil, errors.Wrapf(vq.ErrInvalidConfig, "unknown model type %q", cfg.Type)
	}

	q, err := newQuantizer(cfg, rand.NewPCG(rng.Uint64(), rng.Uint64()))
	if err != nil {
		return nil, err
	}

	return &Model{
		cfg:       cfg,
		encoder:   layer.NewStack("encoder", enc...),
		quantizer: q,
		decoder:   layer.NewStack("decoder", dec...),
	}, nil
}

func denseStacks(cfg ModelConfig, act activations.Activation, rng *rand.Rand) (enc, dec []layer.Layer) {
	encDims := append(append([]int{cfg.InputDim}, cfg.HiddenDims...), cfg.LatentDim)
	for i := 0; i+1 < len(encDims); i++ {
		enc = append(enc, layer.NewDense(encDims[i], encDims[i+1], act, rng))
	}

	decDims := []int{cfg.LatentDim}
	for i := len(cfg.HiddenDims) - 1; i >= 0; i-- {
		decDims = append(decDims, cfg.HiddenDims[i])
	}
	decDims = append(decDims, cfg.InputDim)
	for i := 0; i+1 < len(decDims); i++ {
		var a activations.Activation = act
		if i+2 == len(decDims) {
			a = activations.Linear{}
		}
		dec = append(dec, layer.NewDense(decDims[i], decDims[i+1], a, rng))
	}
	return enc, dec
}

// lstmStacks treats each input row as a univariate sequence of InputDim
// steps. The encoder stacks one LSTM per hidden width, keeping only the last
// state of the final one, then projects to the latent. The decoder repeats the
// latent across every step, runs the mirrored LSTMs and maps each step's
// state back to one value.
func lstmStacks(cfg ModelConfig, act activations.Activation, rng *rand.Rand) (enc, dec []layer.Layer) {
	steps := cfg.InputDim
	features := 1
	for i, h := range cfg.HiddenDims {
		enc = append(enc, layer.NewLSTM(steps, features, h, i+1 < len(cfg.HiddenDims), rng))
		features = h
	}
	enc = append(enc, layer.NewDense(features, cfg.LatentDim, act, rng))

	dec = append(dec, layer.NewRepeatVector(steps, cfg.LatentDim))
	features = cfg.LatentDim
	for i := len(cfg.HiddenDims) - 1; i >= 0; i-- {
		dec = append(dec, layer.NewLSTM(steps, features, cfg.HiddenDims[i], true, rng))
		features = cfg.HiddenDims[i]
	}
	dec = append(dec, layer.NewTimeDistributed(steps, layer.NewDense(features, 1, activations.Linear{}, rng)))
	return enc, dec
}

func newQuantizer(cfg ModelConfig, src rand.Source) (Quantizer, error) {
	switch cfg.Quantizer {
	case vq.KindGradient:
		return vq.NewQuantizer(vq.QuantizerConfig{
			NumEmbeddings: cfg.NumEmbeddings,
			EmbeddingDim:  cfg.LatentDim,
			Beta:          cfg.Beta,
			Src:           src,
		})
	case vq.KindEMA:
		return vq.NewEMAQuantizer(vq.EMAConfig{
			NumEmbeddings: cfg.NumEmbeddings,
			EmbeddingDim:  cfg.LatentDim,
			Beta:          cfg.Beta,
			Decay:         cfg.Decay,
			Epsilon:       cfg.Epsilon,
			Src:           src,
		})
	default:
		return nil, errors.Wrapf(vq.ErrInvalidConfig, "unknown quantizer kind %q", cfg.Quantizer)
	}
}

// Forward encodes, quantizes and decodes x (N×InputDim).
func (m *Model) Forward(x *mat.Dense) (*mat.Dense, error) {
	if _, c := x.Dims(); c != m.cfg.InputDim {
		return nil, errors.Wrapf(vq.ErrShapeMismatch, "input has %d columns, model expects %d", c, m.cfg.InputDim)
	}
	z := m.encoder.Forward(x)
	q, err := m.quantizer.Forward(z)
	if err != nil {
		return nil, errors.Wrap(err, "quantizing latents")
	}
	return m.decoder.Forward(q), nil
}

// Backward propagates the reconstruction gradient through decoder, quantizer
// and encoder, leaving every parameter gradient in place for the optimizer.
func (m *Model) Backward(grad *mat.Dense) {
	g := m.decoder.Backward(grad)
	g = m.quantizer.Backward(g)
	m.encoder.Backward(g)
}

// Encode returns the continuous latents of x.
func (m *Model) Encode(x *mat.Dense) *mat.Dense {
	return m.encoder.Forward(x)
}

// Codes returns the codebook index assigned to each row of x.
func (m *Model) Codes(x *mat.Dense) ([]int, error) {
	return m.quantizer.Codebook().Nearest(m.Encode(x))
}

// Decode reconstructs inputs from codebook indices.
func (m *Model) Decode(codes []int) *mat.Dense {
	cb := m.quantizer.Codebook()
	return m.decoder.Forward(cb.Select(cb.OneHot(codes)))
}

// Params returns encoder, quantizer and decoder parameters.
func (m *Model) Params() []layer.Param {
	params := m.encoder.Params()
	params = append(params, m.quantizer.Params()...)
	return append(params, m.decoder.Params()...)
}

// SetTraining switches the quantizer between training and evaluation mode.
func (m *Model) SetTraining(training bool) {
	m.quantizer.SetTraining(training)
}

// Config returns the architecture the model was built with.
func (m *Model) Config() ModelConfig {
	return m.cfg
}

// Encoder returns the encoder stack.
func (m *Model) Encoder() *layer.Stack {
	return m.encoder
}

// Decoder returns the decoder stack.
func (m *Model) Decoder() *layer.Stack {
	return m.decoder
}

// Quantizer returns the bottleneck.
func (m *Model) Quantizer() Quantizer {
	return m.quantizer
}
