package vq

import (
	"math"
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Codebook is the embedding table of a quantizer.
// Embeddings are stored as the columns of a D×K matrix. The shape is fixed at
// construction; only the values change.
type Codebook struct {
	dim int
	k   int

	// w is D×K, column i is embedding i
	w *mat.Dense
}

// NewCodebook creates a codebook of k embeddings of size dim, drawn uniformly
// from [low, high). A nil src uses the global random source.
func NewCodebook(dim, k int, low, high float64, src rand.Source) (*Codebook, error) {
	if dim <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "embedding dim must be positive, got %d", dim)
	}
	if k <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "num embeddings must be positive, got %d", k)
	}
	if !(low < high) {
		return nil, errors.Wrapf(ErrInvalidConfig, "init range [%g, %g) is empty", low, high)
	}

	u := distuv.Uniform{Min: low, Max: high, Src: src}
	data := make([]float64, dim*k)
	for i := range data {
		data[i] = u.Rand()
	}

	return &Codebook{
		dim: dim,
		k:   k,
		w:   mat.NewDense(dim, k, data),
	}, nil
}

// Dim returns the embedding dimension D.
func (c *Codebook) Dim() int {
	return c.dim
}

// Size returns the number of embeddings K.
func (c *Codebook) Size() int {
	return c.k
}

// Nearest returns, for every row of x (N×D), the index of the closest
// embedding under squared Euclidean distance.
//
// Distances are expanded as |x|² + |e|² - 2·x·e so that the cross term is a
// single N×K matrix product. Ties go to the lowest index.
func (c *Codebook) Nearest(x mat.Matrix) ([]int, error) {
	n, d := x.Dims()
	if d != c.dim {
		return nil, errors.Wrapf(ErrShapeMismatch, "input has %d columns, codebook dim is %d", d, c.dim)
	}
	if n == 0 {
		return []int{}, nil
	}

	// Cross term: N×K
	var sim mat.Dense
	sim.Mul(x, c.w)

	// |e|² per column
	embNorms := make([]float64, c.k)
	col := make([]float64, c.dim)
	for j := 0; j < c.k; j++ {
		mat.Col(col, j, c.w)
		embNorms[j] = floats.Dot(col, col)
	}

	idx := make([]int, n)
	row := make([]float64, c.dim)
	for i := 0; i < n; i++ {
		mat.Row(row, i, x)
		xNorm := floats.Dot(row, row)

		best := 0
		bestDist := math.Inf(1)
		for j := 0; j < c.k; j++ {
			dist := xNorm + embNorms[j] - 2*sim.At(i, j)
			// Strict comparison keeps the first (lowest) index on ties.
			if dist < bestDist {
				bestDist = dist
				best = j
			}
		}
		if math.IsInf(bestDist, 1) {
			return nil, errors.Wrapf(ErrNonFinite, "distance for row %d", i)
		}
		idx[i] = best
	}
	return idx, nil
}

// OneHot builds the N×K selection matrix for the given assignments.
func (c *Codebook) OneHot(idx []int) *mat.Dense {
	if len(idx) == 0 {
		return &mat.Dense{}
	}
	oh := mat.NewDense(len(idx), c.k, nil)
	for i, j := range idx {
		oh.Set(i, j, 1)
	}
	return oh
}

// Select returns the N×D matrix of assigned embeddings, computed as
// onehot · codebookᵀ.
func (c *Codebook) Select(oneHot mat.Matrix) *mat.Dense {
	var q mat.Dense
	q.Mul(oneHot, c.w.T())
	return &q
}

// Counts returns how many of the assignments went to each embedding.
func (c *Codebook) Counts(idx []int) []float64 {
	return columnSums(c.OneHot(idx), c.k)
}

// Replace overwrites every embedding with the columns of m, which must be
// exactly D×K. Nothing is written when the shape or values are invalid.
func (c *Codebook) Replace(m mat.Matrix) error {
	r, k := m.Dims()
	if r != c.dim || k != c.k {
		return errors.Wrapf(ErrShapeMismatch, "replacement is %d×%d, codebook is %d×%d", r, k, c.dim, c.k)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < k; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Wrapf(ErrNonFinite, "replacement value at (%d, %d)", i, j)
			}
		}
	}
	c.w.Copy(m)
	return nil
}

// Vectors returns a copy of the D×K embedding matrix.
func (c *Codebook) Vectors() *mat.Dense {
	return mat.DenseCopyOf(c.w)
}

// Embedding returns a copy of embedding i.
func (c *Codebook) Embedding(i int) []float64 {
	return mat.Col(nil, i, c.w)
}

// Raw gives direct access to the underlying matrix, used by the optimizer to
// update the embeddings in place.
func (c *Codebook) Raw() *mat.Dense {
	return c.w
}

// columnSums returns the per-column sum of m, which has k columns.
func columnSums(m *mat.Dense, k int) []float64 {
	sums := make([]float64, k)
	if m.IsEmpty() {
		return sums
	}
	for j := 0; j < k; j++ {
		sums[j] = floats.Sum(mat.Col(nil, j, m))
	}
	return sums
}

// isFinite reports whether every element of m is a finite number.
func isFinite(m *mat.Dense) bool {
	if m.IsEmpty() {
		return true
	}
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
