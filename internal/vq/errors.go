// Package vq implements vector quantization layers for VQ-VAE models.
//
// A Codebook holds K embedding vectors of dimension D as the columns of a
// D×K matrix. Quantizer trains the codebook by gradient descent on the
// codebook loss, EMAQuantizer maintains it with exponential moving averages.
// Both pass gradients through the discrete lookup with the straight-through
// estimator.
package vq

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidConfig is returned when a quantizer or codebook is constructed
	// with parameters that can never work (non-positive sizes, decay outside
	// (0,1), and so on).
	ErrInvalidConfig = errors.New("vq: invalid configuration")

	// ErrShapeMismatch is returned when a matrix handed to the quantizer does
	// not have the shape the codebook expects.
	ErrShapeMismatch = errors.New("vq: shape mismatch")

	// ErrNonFinite is returned when a forward pass or update produces NaN or Inf.
	ErrNonFinite = errors.New("vq: non-finite value")
)
